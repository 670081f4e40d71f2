package engine

import (
	"github.com/viewfinderco/viewfinder/internal/models"
)

// geocodeTable dedups reverse-geocode requests by interned location.
// Many photos captured at the same spot share one location ref and so
// one outstanding request; the result fans out to all of them. Accessed
// only from the scheduling goroutine.
type geocodeTable struct {
	geocoder Geocoder
	inflight map[models.PlaceRef][]models.PhotoID
}

func newGeocodeTable(g Geocoder) *geocodeTable {
	return &geocodeTable{
		geocoder: g,
		inflight: make(map[models.PlaceRef][]models.PhotoID),
	}
}

// requestGeocode queues a reverse-geocode for the photo's location
// unless one is already in flight for the same ref.
func (e *Engine) requestGeocode(p *models.Photo) {
	if e.geo.geocoder == nil || !p.Location.Valid() || p.Placemark.Valid() {
		return
	}
	ref := p.Location
	if ids, ok := e.geo.inflight[ref]; ok {
		e.geo.inflight[ref] = append(ids, p.ID)
		return
	}
	e.geo.inflight[ref] = []models.PhotoID{p.ID}

	loc, ok := e.st.Places().Location(ref)
	if !ok {
		delete(e.geo.inflight, ref)
		return
	}
	e.pool.submit(func() {
		pm, err := e.geo.geocoder.ReverseGeocode(loc)
		e.Post(func() { e.finishGeocode(ref, pm, err) })
	})
}

// finishGeocode applies a completed reverse-geocode to every photo that
// was waiting on the location ref. Photos deleted in the meantime are
// skipped; a failed lookup is logged and dropped, the raw location
// stays usable.
func (e *Engine) finishGeocode(ref models.PlaceRef, pm models.Placemark, err error) {
	ids := e.geo.inflight[ref]
	delete(e.geo.inflight, ref)

	if err != nil {
		e.log.Warn().Err(err).Int("waiters", len(ids)).Msg("reverse geocode failed")
		return
	}

	pmRef := e.st.Places().InternPlacemark(pm)
	changed := 0
	for _, id := range ids {
		p, ok := e.st.Photo(id)
		if !ok || p.Placemark.Valid() {
			continue
		}
		p.Placemark = pmRef
		p.SetLocal(models.FieldPlacemark)
		if err := e.st.PutPhoto(p); err != nil {
			e.log.Error().Err(err).Int64("photo", int64(id)).Msg("persist placemark")
			continue
		}
		changed++
		for _, fn := range e.onGeocodeDone {
			fn(id)
		}
	}
	if changed > 0 {
		e.notifyCatalog()
		e.maybeQueueNetwork()
	}
}
