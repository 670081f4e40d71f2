// Package place provides content-addressed interning of locations and
// placemarks. Structurally equal values share one stored instance, so a
// catalog with thousands of photos taken at a handful of places holds
// each place once and everything else references it by handle.
package place

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/viewfinderco/viewfinder/internal/models"
)

// Index interns Location and Placemark values. Refs handed out are
// stable for the lifetime of the index and equal refs imply structural
// equality, which is what place histograms aggregate on.
type Index struct {
	mu sync.RWMutex

	locations  []models.Location
	locByHash  map[string]models.PlaceRef
	locRefs    []int64 // reference counts, parallel to locations

	placemarks []models.Placemark
	pmByHash   map[string]models.PlaceRef
	pmRefs     []int64
}

// NewIndex creates an empty interning index.
func NewIndex() *Index {
	return &Index{
		locByHash: make(map[string]models.PlaceRef),
		pmByHash:  make(map[string]models.PlaceRef),
	}
}

// contentHash hashes the canonical JSON encoding of a value. Values are
// flat structs, so field order is fixed by the encoder and the encoding
// is canonical.
func contentHash(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Location and Placemark cannot fail to encode.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// InternLocation returns the ref for the location, adding it to the
// arena on first sight.
func (ix *Index) InternLocation(loc models.Location) models.PlaceRef {
	key := contentHash(loc)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ref, ok := ix.locByHash[key]; ok {
		ix.locRefs[ref-1]++
		return ref
	}
	ix.locations = append(ix.locations, loc)
	ix.locRefs = append(ix.locRefs, 1)
	ref := models.PlaceRef(len(ix.locations))
	ix.locByHash[key] = ref
	return ref
}

// InternPlacemark returns the ref for the placemark, adding it to the
// arena on first sight.
func (ix *Index) InternPlacemark(pm models.Placemark) models.PlaceRef {
	key := contentHash(pm)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ref, ok := ix.pmByHash[key]; ok {
		ix.pmRefs[ref-1]++
		return ref
	}
	ix.placemarks = append(ix.placemarks, pm)
	ix.pmRefs = append(ix.pmRefs, 1)
	ref := models.PlaceRef(len(ix.placemarks))
	ix.pmByHash[key] = ref
	return ref
}

// Location resolves a ref to its location value.
func (ix *Index) Location(ref models.PlaceRef) (models.Location, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ref.Valid() || int(ref) > len(ix.locations) {
		return models.Location{}, false
	}
	return ix.locations[ref-1], true
}

// Placemark resolves a ref to its placemark value.
func (ix *Index) Placemark(ref models.PlaceRef) (models.Placemark, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ref.Valid() || int(ref) > len(ix.placemarks) {
		return models.Placemark{}, false
	}
	return ix.placemarks[ref-1], true
}

// PlacemarkCount is one entry of the most-visited-places histogram.
type PlacemarkCount struct {
	Ref       models.PlaceRef
	Placemark models.Placemark
	Count     int64
}

// TopPlacemarks returns the n most-referenced placemarks, most visited
// first. Ties break by ascending ref for deterministic output.
func (ix *Index) TopPlacemarks(n int) []PlacemarkCount {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	counts := make([]PlacemarkCount, len(ix.placemarks))
	for i := range ix.placemarks {
		counts[i] = PlacemarkCount{
			Ref:       models.PlaceRef(i + 1),
			Placemark: ix.placemarks[i],
			Count:     ix.pmRefs[i],
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Ref < counts[j].Ref
	})
	if n < len(counts) {
		counts = counts[:n]
	}
	return counts
}

// Snapshot is the persisted form of the index. Refs are positions in
// the arrays plus one, so restoring a snapshot keeps every ref held by
// a stored record valid.
type Snapshot struct {
	Locations      []models.Location  `json:"locations"`
	LocationRefs   []int64            `json:"location_refs"`
	Placemarks     []models.Placemark `json:"placemarks"`
	PlacemarkRefs  []int64            `json:"placemark_refs"`
}

// Snapshot returns a copy of the arena suitable for persistence.
func (ix *Index) Snapshot() Snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	snap := Snapshot{
		Locations:     append([]models.Location(nil), ix.locations...),
		LocationRefs:  append([]int64(nil), ix.locRefs...),
		Placemarks:    append([]models.Placemark(nil), ix.placemarks...),
		PlacemarkRefs: append([]int64(nil), ix.pmRefs...),
	}
	return snap
}

// Restore replaces the arena contents from a snapshot, rebuilding the
// hash lookup tables.
func (ix *Index) Restore(snap Snapshot) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.locations = append([]models.Location(nil), snap.Locations...)
	ix.locRefs = append([]int64(nil), snap.LocationRefs...)
	ix.placemarks = append([]models.Placemark(nil), snap.Placemarks...)
	ix.pmRefs = append([]int64(nil), snap.PlacemarkRefs...)

	ix.locByHash = make(map[string]models.PlaceRef, len(ix.locations))
	for i, loc := range ix.locations {
		ix.locByHash[contentHash(loc)] = models.PlaceRef(i + 1)
	}
	ix.pmByHash = make(map[string]models.PlaceRef, len(ix.placemarks))
	for i, pm := range ix.placemarks {
		ix.pmByHash[contentHash(pm)] = models.PlaceRef(i + 1)
	}
	if len(ix.locRefs) != len(ix.locations) {
		ix.locRefs = make([]int64, len(ix.locations))
	}
	if len(ix.pmRefs) != len(ix.placemarks) {
		ix.pmRefs = make([]int64, len(ix.placemarks))
	}
}

// Len returns the number of distinct interned locations and placemarks.
func (ix *Index) Len() (locations, placemarks int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.locations), len(ix.placemarks)
}
