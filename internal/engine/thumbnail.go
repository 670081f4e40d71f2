package engine

import (
	"github.com/viewfinderco/viewfinder/internal/apperr"
	"github.com/viewfinderco/viewfinder/internal/models"
)

// Thumbnail returns thumbnail bytes for UI display. Safe to call from
// any goroutine. When the bytes are not cached yet, a load is kicked
// off and the caller blocks for the configured bounded wait; a miss
// after the wait returns false and the UI should rely on the download
// observer instead.
func (e *Engine) Thumbnail(id models.PhotoID) ([]byte, bool) {
	if data, ok := e.cache.Get(id, models.SizeThumbnail); ok {
		return data, true
	}
	if e.thumbs.begin(id) {
		e.Post(func() { e.loadThumbnail(id) })
	}
	e.thumbs.wait(id, e.cfg.ThumbnailWait)
	return e.cache.Get(id, models.SizeThumbnail)
}

// loadThumbnail resolves thumbnail bytes on the engine goroutine: from
// the blob store, else rendered from the device asset on the worker
// pool, else by boosting a pending download. The thumbnail-waiter mark
// stays set until bytes land or the load definitively fails.
func (e *Engine) loadThumbnail(id models.PhotoID) {
	e.lastLoad = e.now()

	p, ok := e.st.Photo(id)
	if !ok {
		e.thumbs.finish(id)
		return
	}

	if e.st.HasImage(id, models.SizeThumbnail) {
		data, err := e.st.Image(id, models.SizeThumbnail)
		if err == nil {
			e.cache.Set(id, models.SizeThumbnail, data)
		} else {
			e.log.Error().Err(err).Int64("photo", int64(id)).Msg("read stored thumbnail")
		}
		e.thumbs.finish(id)
		return
	}

	if p.AssetKey != "" && e.lib != nil && e.lib.Exists(p.AssetKey) {
		assetKey := p.AssetKey
		e.pool.submit(func() {
			data, err := e.lib.Read(assetKey, models.SizeThumbnail)
			e.Post(func() {
				if err != nil {
					e.log.Warn().Err(err).Int64("photo", int64(id)).Msg("render thumbnail")
				} else {
					e.cache.Set(id, models.SizeThumbnail, data)
				}
				e.thumbs.finish(id)
			})
		})
		return
	}

	if p.Transfers[models.SizeThumbnail].Downloading() && !p.Quarantined() {
		// Leave the waiter mark set; the download commit clears it.
		e.uiWanted[id] = true
		e.maybeQueueNetwork()
		return
	}

	e.thumbs.finish(id)
}

// RequestImage asks for image bytes of one size. The callback fires on
// the engine goroutine: immediately when the bytes are local, after the
// download otherwise.
func (e *Engine) RequestImage(id models.PhotoID, size models.SizeClass, fn DownloadCallback) {
	e.Post(func() {
		if data, ok := e.cache.Get(id, size); ok {
			fn(id, size, data, nil)
			return
		}
		p, ok := e.st.Photo(id)
		if !ok {
			fn(id, size, nil, apperr.New(apperr.ErrNotFound, "no such photo"))
			return
		}
		if e.st.HasImage(id, size) {
			data, err := e.st.Image(id, size)
			if err == nil {
				e.cache.Set(id, size, data)
			}
			fn(id, size, data, err)
			return
		}
		if p.Quarantined() || !p.Transfers[size].Downloading() {
			fn(id, size, nil, apperr.New(apperr.ErrNotFound, "image not available"))
			return
		}
		e.downloadObs[id] = append(e.downloadObs[id], downloadObserver{size: size, sized: true, fn: fn})
		if size == models.SizeThumbnail || size == models.SizeFull {
			e.uiWanted[id] = true
		}
		e.maybeQueueNetwork()
	})
}
