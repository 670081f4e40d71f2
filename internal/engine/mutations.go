package engine

import (
	"github.com/viewfinderco/viewfinder/internal/apperr"
	"github.com/viewfinderco/viewfinder/internal/assets"
	"github.com/viewfinderco/viewfinder/internal/merge"
	"github.com/viewfinderco/viewfinder/internal/models"
	"github.com/viewfinderco/viewfinder/internal/state"
)

// AddLocalPhoto registers a photo captured on this device. The asset
// key dedups repeat registrations of the same capture.
func (e *Engine) AddLocalPhoto(assetKey string, timestamp int64, loc *models.Location) {
	e.Post(func() { e.addLocalPhoto(assetKey, timestamp, loc) })
}

func (e *Engine) addLocalPhoto(assetKey string, timestamp int64, loc *models.Location) {
	p, created, err := e.resolver.ResolveLocal(assetKey)
	if err != nil {
		e.log.Error().Err(err).Str("asset", assetKey).Msg("register local photo")
		return
	}
	if !created {
		return
	}

	p.Timestamp = timestamp
	state.MarkLocalCapture(p)
	p.SetLocal(models.FieldTimestamp)

	if ratio, err := assets.AspectRatio(e.lib, assetKey); err == nil {
		p.AspectRatio = ratio
		p.SetLocal(models.FieldAspectRatio)
	} else {
		e.log.Warn().Err(err).Str("asset", assetKey).Msg("read aspect ratio")
	}

	if loc != nil {
		p.Location = e.st.Places().InternLocation(*loc)
		p.SetLocal(models.FieldLocation)
	}

	if e.matcher.ShouldAttach(p) {
		if _, err := e.matcher.Attach(p); err != nil {
			e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("attach episode")
		}
	}

	if err := e.st.PutPhoto(p); err != nil {
		e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("persist local photo")
		return
	}
	e.requestGeocode(p)
	e.notifyCatalog()
	e.maybeQueueNetwork()
}

// SharePhotos marks photos for sharing with the given recipients.
func (e *Engine) SharePhotos(ids []models.PhotoID, recipients []string) {
	e.Post(func() {
		sorted := sortedStrings(recipients)
		now := e.now().Unix()
		for _, id := range ids {
			p, ok := e.st.Photo(id)
			if !ok || p.Quarantined() {
				continue
			}
			p.Share = &models.ShareInfo{Timestamp: now, Recipients: sorted}
			p.ServerFields &^= models.FieldShare
			p.SetLocal(models.FieldShare)
			p.Labels.Shared = true
			p.SetLocal(models.FieldLabels)
			e.persist(p)
		}
		e.notifyCatalog()
		e.maybeQueueNetwork()
	})
}

// UnsharePhotos retracts a previous share.
func (e *Engine) UnsharePhotos(ids []models.PhotoID) {
	e.Post(func() {
		now := e.now().Unix()
		for _, id := range ids {
			p, ok := e.st.Photo(id)
			if !ok || p.Quarantined() {
				continue
			}
			p.UnshareTime = now
			p.ServerFields &^= models.FieldUnshare
			p.SetLocal(models.FieldUnshare)
			e.persist(p)
		}
		e.notifyCatalog()
		e.maybeQueueNetwork()
	})
}

// DeletePhotos marks photos for deletion. A photo the server never saw
// is removed immediately; one with a server id waits for the delete
// upload to commit.
func (e *Engine) DeletePhotos(ids []models.PhotoID) {
	e.Post(func() {
		now := e.now().Unix()
		for _, id := range ids {
			p, ok := e.st.Photo(id)
			if !ok {
				continue
			}
			if p.ServerID == "" {
				e.removePhoto(p)
				continue
			}
			p.DeleteTime = now
			p.SetLocal(models.FieldDelete)
			e.persist(p)
		}
		e.notifyCatalog()
		e.maybeQueueNetwork()
	})
}

// SetCaption edits a photo caption locally; the edit uploads with the
// next metadata operation.
func (e *Engine) SetCaption(id models.PhotoID, caption string) {
	e.Post(func() {
		p, ok := e.st.Photo(id)
		if !ok || p.Quarantined() {
			return
		}
		p.Caption = caption
		p.ServerFields &^= models.FieldCaption
		p.SetLocal(models.FieldCaption)
		e.persist(p)
		e.notifyCatalog()
		e.maybeQueueNetwork()
	})
}

// MarkViewed sets the viewed label locally.
func (e *Engine) MarkViewed(id models.PhotoID) {
	e.Post(func() {
		p, ok := e.st.Photo(id)
		if !ok || p.Labels.Viewed {
			return
		}
		p.Labels.Viewed = true
		p.ServerFields &^= models.FieldLabels
		p.SetLocal(models.FieldLabels)
		e.persist(p)
		e.maybeQueueNetwork()
	})
}

// ApplyServerUpdates merges one page of incremental server updates into
// the catalog. Placeholder records created from bare ids are handed to
// the metadata fetcher.
func (e *Engine) ApplyServerUpdates(b *merge.Batch) {
	e.Post(func() { e.applyServerUpdates(b) })
}

func (e *Engine) applyServerUpdates(b *merge.Batch) {
	applied, rejected, err := e.merger.ApplyBatch(b)
	if err != nil {
		e.log.Error().Err(err).Msg("apply server updates")
	}
	e.metrics.MergesApplied.Add(float64(applied))
	e.metrics.MergesRejected.Add(float64(rejected))

	var fetch []string
	for _, p := range e.st.Photos() {
		if p.NeedsFetch {
			fetch = append(fetch, p.ServerID)
		}
	}
	if len(fetch) > 0 && e.fetcher != nil {
		e.fetcher.FetchMetadata(fetch)
	}

	e.notifyCatalog()
	e.maybeQueueNetwork()
}

// ApplyFetchResult merges the response of a placeholder metadata fetch.
func (e *Engine) ApplyFetchResult(updates []merge.PhotoUpdate) {
	e.Post(func() {
		for i := range updates {
			if _, err := e.merger.ApplyFetched(&updates[i]); err != nil {
				e.log.Warn().Err(err).Str("server_id", updates[i].ServerID).Msg("apply fetched metadata")
				e.metrics.MergesRejected.Inc()
			}
		}
		e.notifyCatalog()
		e.maybeQueueNetwork()
	})
}

// removePhoto detaches and drops a record, failing any waiters on it.
func (e *Engine) removePhoto(p *models.Photo) {
	if err := e.matcher.Detach(p); err != nil {
		e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("detach photo")
	}
	if err := e.st.DeletePhoto(p.ID); err != nil {
		e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("delete photo")
	}
	e.dropObservers(p.ID, apperr.New(apperr.ErrCancelled, "photo removed"))
}

func (e *Engine) persist(p *models.Photo) {
	if err := e.st.PutPhoto(p); err != nil {
		e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("persist photo")
	}
}
