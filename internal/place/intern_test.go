// Package place tests for the content-addressed interning arena.
package place

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewfinderco/viewfinder/internal/models"
)

// TestInternLocationDedup verifies structurally equal locations share
// one ref.
func TestInternLocationDedup(t *testing.T) {
	ix := NewIndex()

	loc := models.Location{Latitude: 47.6, Longitude: -122.3, Accuracy: 10}
	ref1 := ix.InternLocation(loc)
	ref2 := ix.InternLocation(models.Location{Latitude: 47.6, Longitude: -122.3, Accuracy: 10})

	require.True(t, ref1.Valid())
	assert.Equal(t, ref1, ref2, "equal locations should intern to one ref")

	other := ix.InternLocation(models.Location{Latitude: 35.7, Longitude: 139.7})
	assert.NotEqual(t, ref1, other, "different locations get different refs")

	locs, _ := ix.Len()
	assert.Equal(t, 2, locs)
}

// TestResolveRefs verifies ref resolution and the zero-ref case.
func TestResolveRefs(t *testing.T) {
	ix := NewIndex()
	loc := models.Location{Latitude: 1, Longitude: 2}
	ref := ix.InternLocation(loc)

	got, ok := ix.Location(ref)
	require.True(t, ok)
	assert.Equal(t, loc, got)

	_, ok = ix.Location(0)
	assert.False(t, ok, "zero ref resolves to nothing")
	_, ok = ix.Location(99)
	assert.False(t, ok, "out of range ref resolves to nothing")
}

// TestTopPlacemarks verifies the most-visited histogram and its tie
// break.
func TestTopPlacemarks(t *testing.T) {
	ix := NewIndex()
	home := models.Placemark{Locality: "Seattle", Country: "United States"}
	trip := models.Placemark{Locality: "Kyoto", Country: "Japan"}

	for i := 0; i < 3; i++ {
		ix.InternPlacemark(home)
	}
	ix.InternPlacemark(trip)

	top := ix.TopPlacemarks(10)
	require.Len(t, top, 2)
	assert.Equal(t, "Seattle", top[0].Placemark.Locality)
	assert.Equal(t, int64(3), top[0].Count)
	assert.Equal(t, "Kyoto", top[1].Placemark.Locality)

	assert.Len(t, ix.TopPlacemarks(1), 1, "n truncates the histogram")
}

// TestSnapshotRestore verifies refs stay valid across a persistence
// round trip.
func TestSnapshotRestore(t *testing.T) {
	ix := NewIndex()
	locRef := ix.InternLocation(models.Location{Latitude: 9, Longitude: 9})
	pmRef := ix.InternPlacemark(models.Placemark{Locality: "Oslo"})
	ix.InternPlacemark(models.Placemark{Locality: "Oslo"})

	restored := NewIndex()
	restored.Restore(ix.Snapshot())

	loc, ok := restored.Location(locRef)
	require.True(t, ok, "location ref survives restore")
	assert.Equal(t, 9.0, loc.Latitude)

	pm, ok := restored.Placemark(pmRef)
	require.True(t, ok, "placemark ref survives restore")
	assert.Equal(t, "Oslo", pm.Locality)

	// Interning an already-known value after restore reuses its ref.
	assert.Equal(t, pmRef, restored.InternPlacemark(models.Placemark{Locality: "Oslo"}))

	top := restored.TopPlacemarks(1)
	require.Len(t, top, 1)
	assert.Equal(t, int64(3), top[0].Count, "ref counts survive restore plus the new intern")
}
