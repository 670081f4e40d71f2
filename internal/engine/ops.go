package engine

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/viewfinderco/viewfinder/internal/apperr"
	"github.com/viewfinderco/viewfinder/internal/models"
	"github.com/viewfinderco/viewfinder/internal/sched"
	"github.com/viewfinderco/viewfinder/internal/state"
	"github.com/viewfinderco/viewfinder/internal/store"
)

// Operation is one ready network operation. At most one exists at a
// time; the dispatcher owns it until CompleteOperation is called with
// its id.
type Operation struct {
	ID     string
	Kind   sched.OpKind
	Photos []models.PhotoID

	// ServerIDs parallels Photos for server-side batch operations.
	ServerIDs []string

	// Image transfer fields.
	Size  models.SizeClass
	Bytes []byte
	Hash  string

	// Share fields.
	Recipients []string
	Timestamp  int64

	// Metadata upload payloads, one per photo.
	Metadata []MetadataEntry

	// sent records the dirty field set carried per photo so the commit
	// acknowledges exactly what was uploaded.
	sent map[models.PhotoID]models.FieldBits
}

// MetadataEntry is the outbound metadata payload for one photo.
type MetadataEntry struct {
	PhotoID models.PhotoID
	Payload []byte
}

// photoMetadata is the wire form of a metadata upload.
type photoMetadata struct {
	AssetKey        string            `json:"asset_key,omitempty"`
	DeviceID        string            `json:"device_id"`
	Timestamp       int64             `json:"timestamp,omitempty"`
	AspectRatio     float64           `json:"aspect_ratio,omitempty"`
	Location        *models.Location  `json:"location,omitempty"`
	Placemark       *models.Placemark `json:"placemark,omitempty"`
	EpisodeServerID string            `json:"episode_server_id,omitempty"`
	EpisodeLocalID  models.EpisodeID  `json:"episode_local_id,omitempty"`
	Caption         string            `json:"caption,omitempty"`
	Link            string            `json:"link,omitempty"`
	Labels          []string          `json:"labels,omitempty"`
	Hashes          map[string]string `json:"hashes,omitempty"`
}

// Result is the dispatcher's completion report for an operation.
type Result struct {
	OpID string
	Err  error

	// ServerIDs carries newly assigned photo server ids keyed by local
	// id, from metadata uploads.
	ServerIDs map[models.PhotoID]string

	// EpisodeServerIDs carries newly assigned episode server ids keyed
	// by local episode id.
	EpisodeServerIDs map[models.EpisodeID]string

	// Bytes carries downloaded image data.
	Bytes []byte
}

// CompleteOperation reports the outcome of a dispatched operation.
func (e *Engine) CompleteOperation(res *Result) {
	e.Post(func() { e.commitResult(res) })
}

// maybeQueueNetwork advances the operation builder when it is idle and
// the environment permits network work. One operation is in flight at a
// time; the next selection happens only after the previous commit.
func (e *Engine) maybeQueueNetwork() {
	if e.bstate != stateIdle || e.pending != nil {
		return
	}
	if !e.online || !e.authed || e.disp == nil {
		return
	}
	if !e.lastLoad.IsZero() {
		if wait := e.cfg.LoadCooldown - e.now().Sub(e.lastLoad); wait > 0 {
			if !e.cooldownArmed {
				e.cooldownArmed = true
				time.AfterFunc(wait, func() {
					e.Post(func() {
						e.cooldownArmed = false
						e.maybeQueueNetwork()
					})
				})
			}
			return
		}
	}

	e.bstate = stateSelecting
	p := sched.Pick(e.st.Photos(), e.env())
	if p == nil {
		e.bstate = stateIdle
		return
	}
	op, ok := sched.Choose(p, e.env())
	if !ok {
		e.bstate = stateIdle
		return
	}

	e.bstate = stateBuilding
	switch op.Kind {
	case sched.OpDeleteUpload:
		e.buildDelete(p)
	case sched.OpUnshareUpload:
		e.buildUnshare(p)
	case sched.OpShareUpload:
		e.buildShare(p)
	case sched.OpMetadataUpload:
		e.buildMetadata(p)
	case sched.OpImageUpload:
		e.buildImageUpload(p, op.Size)
	case sched.OpImageDownload:
		e.buildImageDownload(p, op.Size)
	default:
		e.bstate = stateIdle
	}
}

// dispatch hands a built operation to the dispatcher and parks the
// builder until the completion comes back.
func (e *Engine) dispatch(op *Operation) {
	op.ID = uuid.NewString()
	e.pending = op
	e.bstate = stateAwaiting
	e.metrics.OpsDispatched.WithLabelValues(op.Kind.String()).Inc()
	for _, fn := range e.onOperationReady {
		fn(op)
	}
	e.disp.Dispatch(op)
}

// abandonBuild returns the builder to idle and looks for other work.
func (e *Engine) abandonBuild() {
	e.bstate = stateIdle
	e.maybeQueueNetwork()
}

// batchPeers collects up to the batch limit of photos from the selected
// photo's episode that satisfy want, the selected photo included.
func (e *Engine) batchPeers(p *models.Photo, want func(*models.Photo) bool) []*models.Photo {
	limit := e.cfg.BatchLimit
	if limit < 1 {
		limit = 1
	}
	batch := []*models.Photo{p}
	for _, q := range e.st.Photos() {
		if len(batch) >= limit {
			break
		}
		if q.ID == p.ID || q.Episode != p.Episode {
			continue
		}
		if want(q) {
			batch = append(batch, q)
		}
	}
	return batch
}

func (e *Engine) buildDelete(p *models.Photo) {
	batch := e.batchPeers(p, func(q *models.Photo) bool {
		return q.DeletePending()
	})
	op := &Operation{Kind: sched.OpDeleteUpload, Timestamp: p.DeleteTime}
	for _, q := range batch {
		if q.ServerID == "" {
			// Never acknowledged by the server, nothing to delete there.
			e.removePhoto(q)
			continue
		}
		op.Photos = append(op.Photos, q.ID)
		op.ServerIDs = append(op.ServerIDs, q.ServerID)
	}
	if len(op.Photos) == 0 {
		e.notifyCatalog()
		e.abandonBuild()
		return
	}
	e.dispatch(op)
}

func (e *Engine) buildUnshare(p *models.Photo) {
	batch := e.batchPeers(p, func(q *models.Photo) bool {
		return q.UnsharePending() && q.ServerID != ""
	})
	op := &Operation{Kind: sched.OpUnshareUpload, Timestamp: p.UnshareTime}
	for _, q := range batch {
		if q.ServerID == "" {
			continue
		}
		op.Photos = append(op.Photos, q.ID)
		op.ServerIDs = append(op.ServerIDs, q.ServerID)
	}
	if len(op.Photos) == 0 {
		// Nothing addressable; park until the next event rather than
		// re-running the same selection.
		e.bstate = stateIdle
		return
	}
	e.dispatch(op)
}

// buildShare batches shares from the same episode, but only over
// byte-identical recipient lists so one server call covers them all.
func (e *Engine) buildShare(p *models.Photo) {
	batch := e.batchPeers(p, func(q *models.Photo) bool {
		return q.SharePending() && q.ServerID != "" && q.Share.SameRecipients(p.Share)
	})
	op := &Operation{
		Kind:       sched.OpShareUpload,
		Recipients: p.Share.Recipients,
		Timestamp:  p.Share.Timestamp,
	}
	for _, q := range batch {
		if q.ServerID == "" {
			continue
		}
		op.Photos = append(op.Photos, q.ID)
		op.ServerIDs = append(op.ServerIDs, q.ServerID)
	}
	if len(op.Photos) == 0 {
		e.bstate = stateIdle
		return
	}
	e.dispatch(op)
}

func (e *Engine) buildImageDownload(p *models.Photo, size models.SizeClass) {
	p.Transfers[size] = models.TransferDownloading
	e.persist(p)
	e.dispatch(&Operation{
		Kind:      sched.OpImageDownload,
		Photos:    []models.PhotoID{p.ID},
		ServerIDs: []string{p.ServerID},
		Size:      size,
	})
}

func (e *Engine) buildImageUpload(p *models.Photo, size models.SizeClass) {
	p.Transfers[size] = models.TransferUploading
	e.persist(p)

	id, assetKey := p.ID, p.AssetKey
	e.pool.submit(func() {
		data, err := e.lib.Read(assetKey, size)
		e.Post(func() { e.finishImageUpload(id, size, data, err) })
	})
}

func (e *Engine) finishImageUpload(id models.PhotoID, size models.SizeClass, data []byte, err error) {
	p, ok := e.st.Photo(id)
	if !ok {
		e.abandonBuild()
		return
	}
	if err != nil {
		e.log.Warn().Err(err).Int64("photo", int64(id)).Stringer("size", size).Msg("load asset for upload")
		state.ApplyAssetError(p, size)
		e.persist(p)
		e.abandonBuild()
		return
	}

	hash, err := e.st.PutImage(id, size, data)
	if err != nil {
		e.log.Error().Err(err).Int64("photo", int64(id)).Msg("stage upload bytes")
		e.abandonBuild()
		return
	}
	e.dispatch(&Operation{
		Kind:      sched.OpImageUpload,
		Photos:    []models.PhotoID{id},
		ServerIDs: []string{p.ServerID},
		Size:      size,
		Bytes:     data,
		Hash:      hash,
	})
}

// metadataSizeOrder is the load/hash order for a metadata upload. The
// thumbnail goes first so the cheapest rendition is staged soonest, the
// original next while the source file is still warm in the page cache.
var metadataSizeOrder = [models.NumSizes]models.SizeClass{
	models.SizeThumbnail, models.SizeOriginal, models.SizeFull, models.SizeMedium,
}

type metadataLoad struct {
	id     models.PhotoID
	hashes map[string]string
	err    error
}

// buildMetadata batches pending metadata uploads from the selected
// photo's episode and stages content hashes for every size off the
// scheduling goroutine.
func (e *Engine) buildMetadata(p *models.Photo) {
	batch := e.batchPeers(p, func(q *models.Photo) bool {
		return q.MetadataUpload && q.DirtyFields()&models.MetadataFields != 0 &&
			!q.Quarantined() && !q.NeedsFetch
	})

	type loadReq struct {
		id       models.PhotoID
		assetKey string
	}
	reqs := make([]loadReq, 0, len(batch))
	for _, q := range batch {
		reqs = append(reqs, loadReq{q.ID, q.AssetKey})
	}

	e.pool.submit(func() {
		results := make([]metadataLoad, 0, len(reqs))
		for _, req := range reqs {
			res := metadataLoad{id: req.id, hashes: make(map[string]string)}
			if req.assetKey != "" {
				for _, size := range metadataSizeOrder {
					data, err := e.lib.Read(req.assetKey, size)
					if err != nil {
						res.err = err
						break
					}
					res.hashes[size.String()] = store.HashBytes(data)
				}
			}
			results = append(results, res)
		}
		e.Post(func() { e.finishMetadataBuild(results) })
	})
}

// finishMetadataBuild assembles the metadata operation from staged
// hashes. A photo whose bytes could not be loaded is dropped from the
// batch and quarantined; it cannot complete an upload cycle.
func (e *Engine) finishMetadataBuild(results []metadataLoad) {
	op := &Operation{
		Kind: sched.OpMetadataUpload,
		sent: make(map[models.PhotoID]models.FieldBits),
	}
	changed := false
	for _, res := range results {
		p, ok := e.st.Photo(res.id)
		if !ok {
			continue
		}
		if res.err != nil {
			e.log.Warn().Err(res.err).Int64("photo", int64(p.ID)).Msg("unloadable asset, quarantining")
			state.Quarantine(p)
			e.persist(p)
			e.metrics.Quarantines.Inc()
			e.dropObservers(p.ID, apperr.Wrap(apperr.ErrQuarantined, "asset unloadable", res.err))
			changed = true
			continue
		}
		payload, err := e.encodeMetadata(p, res.hashes)
		if err != nil {
			e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("encode metadata")
			continue
		}
		op.Photos = append(op.Photos, p.ID)
		op.ServerIDs = append(op.ServerIDs, p.ServerID)
		op.Metadata = append(op.Metadata, MetadataEntry{PhotoID: p.ID, Payload: payload})
		op.sent[p.ID] = p.DirtyFields() & models.MetadataFields
	}
	if changed {
		e.notifyCatalog()
	}
	if len(op.Photos) == 0 {
		e.abandonBuild()
		return
	}
	e.dispatch(op)
}

func (e *Engine) encodeMetadata(p *models.Photo, hashes map[string]string) ([]byte, error) {
	md := photoMetadata{
		AssetKey:    p.AssetKey,
		DeviceID:    e.st.DeviceID(),
		Timestamp:   p.Timestamp,
		AspectRatio: p.AspectRatio,
		Caption:     p.Caption,
		Link:        p.Link,
		Labels:      p.Labels.Tokens(),
		Hashes:      hashes,
	}
	if loc, ok := e.st.Places().Location(p.Location); ok {
		md.Location = &loc
	}
	if pm, ok := e.st.Places().Placemark(p.Placemark); ok {
		md.Placemark = &pm
	}
	if ep, ok := e.st.Episode(p.Episode); ok {
		md.EpisodeServerID = ep.ServerID
		md.EpisodeLocalID = ep.ID
	}
	return json.Marshal(md)
}

// commitResult applies a completion to the catalog and frees the
// builder for the next selection.
func (e *Engine) commitResult(res *Result) {
	if e.pending == nil || res.OpID != e.pending.ID {
		e.log.Warn().Str("op", res.OpID).Msg("completion for unknown operation")
		return
	}
	op := e.pending
	e.pending = nil
	e.bstate = stateCommitting

	if res.Err != nil {
		e.commitFailure(op, res.Err)
	} else {
		e.commitSuccess(op, res)
		e.metrics.OpsCompleted.WithLabelValues(op.Kind.String()).Inc()
	}

	e.bstate = stateIdle
	e.notifyCatalog()
	e.maybeQueueNetwork()
}

func errorKindFor(kind sched.OpKind) models.ErrorKind {
	switch kind {
	case sched.OpMetadataUpload:
		return models.ErrKindMetadata
	case sched.OpImageUpload:
		return models.ErrKindUpload
	case sched.OpImageDownload:
		return models.ErrKindDownload
	case sched.OpShareUpload:
		return models.ErrKindShare
	case sched.OpUnshareUpload:
		return models.ErrKindUnshare
	default:
		return models.ErrKindDelete
	}
}

// commitFailure applies an operation failure. Transient failures revert
// in-flight markers and retry later; hard failures go through the
// one-shot error accounting, quarantining on the second strike.
func (e *Engine) commitFailure(op *Operation, err error) {
	e.metrics.OpsFailed.WithLabelValues(op.Kind.String()).Inc()
	e.log.Warn().Err(err).Str("kind", op.Kind.String()).Int("photos", len(op.Photos)).Msg("operation failed")

	transient := apperr.Transient(err)
	kind := errorKindFor(op.Kind)
	for _, id := range op.Photos {
		p, ok := e.st.Photo(id)
		if !ok {
			continue
		}
		if transient {
			switch p.Transfers[op.Size] {
			case models.TransferUploading:
				p.Transfers[op.Size] = models.TransferPendingUpload
			case models.TransferDownloading:
				p.Transfers[op.Size] = models.TransferPendingDownload
			}
		} else if state.ApplyFailure(p, kind) {
			e.metrics.Quarantines.Inc()
			e.dropObservers(id, apperr.Wrap(apperr.ErrQuarantined, "repeated failure", err))
		}
		e.persist(p)
		if kind == models.ErrKindDownload && op.Size == models.SizeThumbnail {
			e.thumbs.finish(id)
		}
	}
}

func (e *Engine) commitSuccess(op *Operation, res *Result) {
	switch op.Kind {
	case sched.OpMetadataUpload:
		e.commitMetadata(op, res)
	case sched.OpImageUpload:
		e.commitImageUpload(op)
	case sched.OpImageDownload:
		e.commitImageDownload(op, res)
	case sched.OpShareUpload:
		e.commitShare(op)
	case sched.OpUnshareUpload:
		e.commitUnshare(op)
	case sched.OpDeleteUpload:
		e.commitDelete(op)
	}
}

func (e *Engine) commitMetadata(op *Operation, res *Result) {
	for _, id := range op.Photos {
		p, ok := e.st.Photo(id)
		if !ok {
			continue
		}
		if sid, ok := res.ServerIDs[id]; ok && sid != "" && p.ServerID == "" {
			p.ServerID = sid
		}
		p.ServerFields |= op.sent[id]
		p.MetadataUpload = p.DirtyFields()&models.MetadataFields != 0
		state.ApplySuccess(p, models.ErrKindMetadata)
		e.persist(p)
	}
	for epID, sid := range res.EpisodeServerIDs {
		ep, ok := e.st.Episode(epID)
		if !ok || ep.ServerID != "" || sid == "" {
			continue
		}
		ep.ServerID = sid
		if err := e.st.PutEpisode(ep); err != nil {
			e.log.Error().Err(err).Int64("episode", int64(epID)).Msg("persist episode server id")
		}
	}
}

func (e *Engine) commitImageUpload(op *Operation) {
	for _, id := range op.Photos {
		p, ok := e.st.Photo(id)
		if !ok {
			continue
		}
		if p.Transfers[op.Size] == models.TransferUploading {
			p.Transfers[op.Size] = models.TransferIdle
		}
		state.ApplySuccess(p, models.ErrKindUpload)
		e.persist(p)
	}
}

func (e *Engine) commitImageDownload(op *Operation, res *Result) {
	for _, id := range op.Photos {
		p, ok := e.st.Photo(id)
		if !ok {
			continue
		}
		if _, err := e.st.PutImage(id, op.Size, res.Bytes); err != nil {
			e.log.Error().Err(err).Int64("photo", int64(id)).Msg("store downloaded image")
		}
		if p.Transfers[op.Size] == models.TransferDownloading {
			p.Transfers[op.Size] = models.TransferIdle
		}
		state.ApplySuccess(p, models.ErrKindDownload)
		e.persist(p)

		e.cache.Set(id, op.Size, res.Bytes)
		e.fireDownload(id, op.Size, res.Bytes, nil)
		if op.Size == models.SizeThumbnail {
			e.thumbs.finish(id)
		}
		if !p.Transfers.AnyDownload() {
			delete(e.uiWanted, id)
		}
	}
}

func (e *Engine) commitShare(op *Operation) {
	for _, id := range op.Photos {
		p, ok := e.st.Photo(id)
		if !ok {
			continue
		}
		p.ServerFields |= models.FieldShare
		state.ApplySuccess(p, models.ErrKindShare)
		e.persist(p)
	}
}

func (e *Engine) commitUnshare(op *Operation) {
	for _, id := range op.Photos {
		p, ok := e.st.Photo(id)
		if !ok {
			continue
		}
		p.ServerFields |= models.FieldUnshare
		p.Labels.Shared = false
		state.ApplySuccess(p, models.ErrKindUnshare)
		e.persist(p)
	}
}

func (e *Engine) commitDelete(op *Operation) {
	for _, id := range op.Photos {
		p, ok := e.st.Photo(id)
		if !ok {
			continue
		}
		e.removePhoto(p)
	}
}
