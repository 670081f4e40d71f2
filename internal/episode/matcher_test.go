// Package episode tests for time/location episode matching.
package episode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewfinderco/viewfinder/internal/logging"
	"github.com/viewfinderco/viewfinder/internal/models"
	"github.com/viewfinderco/viewfinder/internal/store"
)

func newTestMatcher(t *testing.T) (*Matcher, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewMatcher(st, logging.Nop()), st
}

func addPhoto(t *testing.T, st *store.Store, ts int64, loc *models.Location) *models.Photo {
	t.Helper()
	p := st.NewPhoto()
	p.Timestamp = ts
	p.AspectRatio = 1.5
	if loc != nil {
		p.Location = st.Places().InternLocation(*loc)
	}
	require.NoError(t, st.PutPhoto(p))
	return p
}

// TestShouldAttach verifies the attachment preconditions.
func TestShouldAttach(t *testing.T) {
	m, st := newTestMatcher(t)

	ready := addPhoto(t, st, 1000, nil)
	assert.True(t, m.ShouldAttach(ready))

	noAspect := st.NewPhoto()
	noAspect.Timestamp = 1000
	assert.False(t, m.ShouldAttach(noAspect), "missing aspect ratio defers attachment")

	noTime := st.NewPhoto()
	noTime.AspectRatio = 1.5
	assert.False(t, m.ShouldAttach(noTime), "missing timestamp defers attachment")

	quarantined := addPhoto(t, st, 1000, nil)
	quarantined.Labels.Error = true
	assert.False(t, m.ShouldAttach(quarantined))

	placeholder := addPhoto(t, st, 1000, nil)
	placeholder.NeedsFetch = true
	assert.False(t, m.ShouldAttach(placeholder))
}

// TestAttachGroupsByTime verifies photos within the time window share
// an episode and distant ones do not.
func TestAttachGroupsByTime(t *testing.T) {
	m, st := newTestMatcher(t)
	base := int64(100_000)

	a := addPhoto(t, st, base, nil)
	_, err := m.Attach(a)
	require.NoError(t, err)

	b := addPhoto(t, st, base+int64(MaxTimeDist.Seconds())-1, nil)
	epB, err := m.Attach(b)
	require.NoError(t, err)
	assert.Equal(t, a.Episode, b.Episode, "photos an hour apart share an episode")
	assert.True(t, epB.Contains(a.ID) && epB.Contains(b.ID))

	far := addPhoto(t, st, base+10*int64(time.Hour.Seconds()), nil)
	_, err = m.Attach(far)
	require.NoError(t, err)
	assert.NotEqual(t, a.Episode, far.Episode, "distant photos get their own episode")
}

// TestAttachLocationPredicate verifies nearby coordinates group and far
// ones split, while missing coordinates skip the check.
func TestAttachLocationPredicate(t *testing.T) {
	m, st := newTestMatcher(t)
	base := int64(100_000)
	seattle := models.Location{Latitude: 47.6062, Longitude: -122.3321}
	nearby := models.Location{Latitude: 47.6205, Longitude: -122.3493} // ~2 km
	tokyo := models.Location{Latitude: 35.6762, Longitude: 139.6503}

	a := addPhoto(t, st, base, &seattle)
	_, err := m.Attach(a)
	require.NoError(t, err)

	b := addPhoto(t, st, base+60, &nearby)
	_, err = m.Attach(b)
	require.NoError(t, err)
	assert.Equal(t, a.Episode, b.Episode, "2 km apart groups")

	c := addPhoto(t, st, base+120, &tokyo)
	_, err = m.Attach(c)
	require.NoError(t, err)
	assert.NotEqual(t, a.Episode, c.Episode, "another continent splits")

	d := addPhoto(t, st, base+180, nil)
	_, err = m.Attach(d)
	require.NoError(t, err)
	assert.Equal(t, a.Episode, d.Episode, "missing coordinates skip the location predicate")
}

// TestAttachIdempotent verifies re-attaching a photo already in its
// episode changes nothing.
func TestAttachIdempotent(t *testing.T) {
	m, st := newTestMatcher(t)

	p := addPhoto(t, st, 5000, nil)
	ep1, err := m.Attach(p)
	require.NoError(t, err)

	ep2, err := m.Attach(p)
	require.NoError(t, err)
	assert.Equal(t, ep1.ID, ep2.ID)
	assert.Len(t, ep2.Photos, 1, "no duplicate membership")
	assert.Len(t, st.Episodes(), 1)
}

// TestEpisodeMinTimestamp verifies each attach keeps the episode at the
// minimum photo timestamp and detach recomputes it.
func TestEpisodeMinTimestamp(t *testing.T) {
	m, st := newTestMatcher(t)
	base := int64(100_000)

	late := addPhoto(t, st, base+600, nil)
	_, err := m.Attach(late)
	require.NoError(t, err)

	early := addPhoto(t, st, base, nil)
	ep, err := m.Attach(early)
	require.NoError(t, err)
	assert.Equal(t, base, ep.Timestamp, "attach lowers episode timestamp to the minimum")

	require.NoError(t, m.Detach(early))
	ep2, ok := st.Episode(late.Episode)
	require.True(t, ok)
	assert.Equal(t, base+600, ep2.Timestamp, "detach recomputes the minimum")
}

// TestDetachDeletesEmptyEpisode verifies episodes with zero photos do
// not exist.
func TestDetachDeletesEmptyEpisode(t *testing.T) {
	m, st := newTestMatcher(t)

	p := addPhoto(t, st, 5000, nil)
	ep, err := m.Attach(p)
	require.NoError(t, err)

	require.NoError(t, m.Detach(p))
	assert.Equal(t, models.EpisodeID(0), p.Episode)
	_, ok := st.Episode(ep.ID)
	assert.False(t, ok, "empty episode must be deleted")

	// Detaching an unattached photo is a no-op.
	require.NoError(t, m.Detach(p))
}

// TestAttachToMoves verifies a server-directed move detaches from the
// old episode first.
func TestAttachToMoves(t *testing.T) {
	m, st := newTestMatcher(t)

	p := addPhoto(t, st, 5000, nil)
	oldEp, err := m.Attach(p)
	require.NoError(t, err)

	newEp := st.NewEpisode()
	newEp.ServerID = "ep-srv"
	require.NoError(t, st.PutEpisode(newEp))

	require.NoError(t, m.AttachTo(p, newEp))
	assert.Equal(t, newEp.ID, p.Episode)
	assert.True(t, newEp.Contains(p.ID))

	_, ok := st.Episode(oldEp.ID)
	assert.False(t, ok, "old episode emptied by the move is deleted")
}
