// Package episode groups photos into episodes by time and location
// proximity.
package episode

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/viewfinderco/viewfinder/internal/models"
	"github.com/viewfinderco/viewfinder/internal/place"
	"github.com/viewfinderco/viewfinder/internal/store"
)

const (
	// MaxTimeDist is the maximum photo-to-photo time distance for two
	// photos to share an episode.
	MaxTimeDist = time.Hour
	// MaxLocDistMeters is the maximum photo-to-photo location distance
	// for two photos to share an episode.
	MaxLocDistMeters = 10_000.0
)

// Matcher attaches photos to episodes.
type Matcher struct {
	store  *store.Store
	places *place.Index
	log    zerolog.Logger
}

// NewMatcher creates a Matcher over the given store.
func NewMatcher(st *store.Store, log zerolog.Logger) *Matcher {
	return &Matcher{store: st, places: st.Places(), log: log}
}

// ShouldAttach reports whether a photo is ready for episode matching.
// Attachment is deferred, not dropped, while the photo lacks an aspect
// ratio or timestamp, carries the error label, or is still awaiting its
// server metadata fetch.
func (m *Matcher) ShouldAttach(p *models.Photo) bool {
	if p.AspectRatio == 0 || p.Timestamp == 0 {
		return false
	}
	if p.Labels.Error || p.NeedsFetch {
		return false
	}
	return true
}

// Match scans for an existing episode the photo belongs in. Candidate
// episodes are those whose recorded timestamp is within twice
// MaxTimeDist of the photo; within a candidate, the first photo that is
// simultaneously within MaxTimeDist of time and MaxLocDistMeters of
// location matches. A missing coordinate on either side skips the
// location predicate. First match wins.
func (m *Matcher) Match(p *models.Photo) (*models.Episode, bool) {
	window := int64((2 * MaxTimeDist).Seconds())

	for _, e := range m.store.Episodes() {
		if e.Timestamp == 0 {
			continue
		}
		if absInt64(e.Timestamp-p.Timestamp) > window {
			continue
		}
		for _, pid := range e.Photos {
			other, ok := m.store.Photo(pid)
			if !ok || other.ID == p.ID {
				continue
			}
			if m.close(p, other) {
				return e, true
			}
		}
	}
	return nil, false
}

func (m *Matcher) close(a, b *models.Photo) bool {
	if absInt64(a.Timestamp-b.Timestamp) > int64(MaxTimeDist.Seconds()) {
		return false
	}
	locA, okA := m.places.Location(a.Location)
	locB, okB := m.places.Location(b.Location)
	if !okA || !okB {
		// Missing coordinates skip the location predicate.
		return true
	}
	return locA.DistanceTo(locB) <= MaxLocDistMeters
}

// Attach places the photo in a matching episode, creating a new one
// when nothing matches. Attaching a photo already in its matching
// episode is a no-op. Returns the episode the photo ended up in.
func (m *Matcher) Attach(p *models.Photo) (*models.Episode, error) {
	e, ok := m.Match(p)
	if !ok {
		e = m.store.NewEpisode()
		e.Timestamp = p.Timestamp
		e.Labels.Owned = p.Labels.Owned
		m.log.Debug().
			Int64("episode", int64(e.ID)).
			Int64("photo", int64(p.ID)).
			Msg("created episode")
	}
	return e, m.AttachTo(p, e)
}

// AttachTo places the photo in a specific episode, detaching it from
// its previous one first. The episode timestamp is the minimum of its
// photos, so every attach may lower it. Idempotent.
func (m *Matcher) AttachTo(p *models.Photo, e *models.Episode) error {
	if p.Episode == e.ID && e.Contains(p.ID) {
		return nil
	}
	if p.Episode != 0 && p.Episode != e.ID {
		if err := m.Detach(p); err != nil {
			return err
		}
	}

	changed := e.Add(p.ID)
	if e.Timestamp == 0 || p.Timestamp < e.Timestamp {
		e.Timestamp = p.Timestamp
		changed = true
	}
	if !e.Location.Valid() && p.Location.Valid() {
		e.Location = p.Location
		e.Placemark = p.Placemark
		changed = true
	}
	if changed {
		if err := m.store.PutEpisode(e); err != nil {
			return err
		}
	}

	p.Episode = e.ID
	p.SetLocal(models.FieldEpisode)
	return m.store.PutPhoto(p)
}

// Detach removes the photo from its episode. Detaching the last photo
// deletes the episode; episodes with zero photos do not exist.
func (m *Matcher) Detach(p *models.Photo) error {
	if p.Episode == 0 {
		return nil
	}
	e, ok := m.store.Episode(p.Episode)
	p.Episode = 0
	if !ok {
		return m.store.PutPhoto(p)
	}

	e.Remove(p.ID)
	if len(e.Photos) == 0 {
		if err := m.store.DeleteEpisode(e.ID); err != nil {
			return err
		}
		return m.store.PutPhoto(p)
	}

	// Recompute the minimum timestamp; the detached photo may have
	// been the earliest.
	min := int64(0)
	for _, pid := range e.Photos {
		if other, ok := m.store.Photo(pid); ok {
			if min == 0 || other.Timestamp < min {
				min = other.Timestamp
			}
		}
	}
	e.Timestamp = min
	if err := m.store.PutEpisode(e); err != nil {
		return err
	}
	return m.store.PutPhoto(p)
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
