// Package engine is the client-side synchronization engine: it owns the
// record store, reconciles local mutations with inbound server updates,
// and drives at most one network operation at a time.
//
// All record mutation happens on one scheduling goroutine; every public
// entry point posts onto it. Image loading and hashing run on a bounded
// worker pool that reports back via completions posted to the same
// goroutine, so the store itself needs no locks.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/viewfinderco/viewfinder/internal/assets"
	"github.com/viewfinderco/viewfinder/internal/cache"
	"github.com/viewfinderco/viewfinder/internal/config"
	"github.com/viewfinderco/viewfinder/internal/episode"
	"github.com/viewfinderco/viewfinder/internal/identity"
	"github.com/viewfinderco/viewfinder/internal/merge"
	"github.com/viewfinderco/viewfinder/internal/models"
	"github.com/viewfinderco/viewfinder/internal/sched"
	"github.com/viewfinderco/viewfinder/internal/state"
	"github.com/viewfinderco/viewfinder/internal/store"
	"github.com/viewfinderco/viewfinder/internal/telemetry"
)

// Dispatcher consumes ready network operations. Dispatch must not
// block; the completion comes back through Engine.CompleteOperation.
type Dispatcher interface {
	Dispatch(op *Operation)
}

// Fetcher retrieves full metadata for placeholder records. The response
// comes back through Engine.ApplyFetchResult.
type Fetcher interface {
	FetchMetadata(serverIDs []string)
}

// Geocoder resolves a location to a placemark. Called on the worker
// pool; it may block.
type Geocoder interface {
	ReverseGeocode(loc models.Location) (models.Placemark, error)
}

// DownloadCallback observes download progress for one photo. data is
// nil when the download failed or was cancelled.
type DownloadCallback func(id models.PhotoID, size models.SizeClass, data []byte, err error)

// downloadObserver is a registered download callback. A sized observer
// fires once, for its size only; an unsized one sees every completion
// and stays registered.
type downloadObserver struct {
	size  models.SizeClass
	sized bool
	fn    DownloadCallback
}

// builderState is the queue/operation builder state machine.
type builderState int

const (
	stateIdle builderState = iota
	stateSelecting
	stateBuilding
	stateAwaiting
	stateCommitting
)

// Options wires an Engine.
type Options struct {
	Store      *store.Store
	Assets     assets.Library
	Dispatcher Dispatcher
	Fetcher    Fetcher
	Geocoder   Geocoder
	Cache      cache.Cache
	Metrics    *telemetry.Metrics
	Log        zerolog.Logger
	Sync       config.SyncConfig
}

// Engine is the synchronization engine.
type Engine struct {
	st      *store.Store
	lib     assets.Library
	disp    Dispatcher
	fetcher Fetcher
	cache   cache.Cache
	metrics *telemetry.Metrics
	log     zerolog.Logger
	cfg     config.SyncConfig

	resolver *identity.Resolver
	matcher  *episode.Matcher
	merger   *merge.Merger

	cmds chan func()
	pool *workerPool

	// Everything below is owned by the scheduling goroutine.
	bstate        builderState
	pending       *Operation
	online        bool
	wifi          bool
	authed        bool
	lastLoad      time.Time
	cooldownArmed bool
	uiWanted      map[models.PhotoID]bool

	onCatalogChanged []func()
	onQueueChanged   []func(queued int)
	onOperationReady []func(op *Operation)
	onGeocodeDone    []func(id models.PhotoID)
	downloadObs      map[models.PhotoID][]downloadObserver

	geo *geocodeTable

	thumbs *thumbWaiters

	now func() time.Time
}

// New creates an Engine over its collaborators. Run must be called for
// the public entry points to make progress.
func New(opts Options) *Engine {
	if opts.Cache == nil {
		opts.Cache = cache.New(false, 0)
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNop()
	}
	workers := opts.Sync.Workers
	if workers < 1 {
		workers = 1
	}

	e := &Engine{
		st:          opts.Store,
		lib:         opts.Assets,
		disp:        opts.Dispatcher,
		fetcher:     opts.Fetcher,
		cache:       opts.Cache,
		metrics:     opts.Metrics,
		log:         opts.Log,
		cfg:         opts.Sync,
		cmds:        make(chan func(), 1024),
		pool:        newWorkerPool(workers),
		uiWanted:    make(map[models.PhotoID]bool),
		downloadObs: make(map[models.PhotoID][]downloadObserver),
		online:      true,
		authed:      true,
		now:         time.Now,
	}
	e.resolver = identity.NewResolver(opts.Store, opts.Log)
	e.matcher = episode.NewMatcher(opts.Store, opts.Log)
	e.merger = merge.NewMerger(opts.Store, e.resolver, e.matcher, opts.Log)
	e.geo = newGeocodeTable(opts.Geocoder)
	e.thumbs = newThumbWaiters()

	e.applyResetEpoch(opts.Sync.ResetErrorsEpoch)
	return e
}

// Run processes engine commands until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer e.pool.close()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.cmds:
			fn()
		}
	}
}

// Post schedules fn onto the engine goroutine.
func (e *Engine) Post(fn func()) {
	e.cmds <- fn
}

// drain runs queued commands on the caller's goroutine. Test hook for
// driving the engine without Run.
func (e *Engine) drain() {
	for {
		select {
		case fn := <-e.cmds:
			fn()
		default:
			return
		}
	}
}

func (e *Engine) env() sched.Env {
	return sched.Env{
		OnWifi:   e.wifi || !e.cfg.WifiOnlyOriginals,
		UIWanted: e.uiWanted,
	}
}

// OnCatalogChanged registers a catalog-change observer for the UI
// layer. Must be called before Run.
func (e *Engine) OnCatalogChanged(fn func()) {
	e.onCatalogChanged = append(e.onCatalogChanged, fn)
}

// OnQueueChanged registers an observer of the outstanding-work count.
// Must be called before Run.
func (e *Engine) OnQueueChanged(fn func(queued int)) {
	e.onQueueChanged = append(e.onQueueChanged, fn)
}

// OnOperationReady registers an observer notified when an operation is
// handed to the dispatcher. Must be called before Run.
func (e *Engine) OnOperationReady(fn func(op *Operation)) {
	e.onOperationReady = append(e.onOperationReady, fn)
}

// OnGeocodeDone registers an observer of completed reverse-geocodes.
// Must be called before Run.
func (e *Engine) OnGeocodeDone(fn func(id models.PhotoID)) {
	e.onGeocodeDone = append(e.onGeocodeDone, fn)
}

// ObserveDownloads registers a per-photo download observer covering
// every size class.
func (e *Engine) ObserveDownloads(id models.PhotoID, fn DownloadCallback) {
	e.Post(func() {
		e.downloadObs[id] = append(e.downloadObs[id], downloadObserver{fn: fn})
	})
}

func (e *Engine) notifyCatalog() {
	for _, fn := range e.onCatalogChanged {
		fn()
	}
	e.updateGauges()
}

func (e *Engine) updateGauges() {
	photos := e.st.Photos()
	queued := 0
	for _, p := range photos {
		if p.NeedsNetwork() {
			queued++
		}
	}
	e.metrics.PhotosTotal.Set(float64(len(photos)))
	e.metrics.EpisodesTotal.Set(float64(len(e.st.Episodes())))
	e.metrics.QueuedRecords.Set(float64(queued))
	for _, fn := range e.onQueueChanged {
		fn(queued)
	}
}

func (e *Engine) fireDownload(id models.PhotoID, size models.SizeClass, data []byte, err error) {
	var kept []downloadObserver
	for _, o := range e.downloadObs[id] {
		if o.sized && o.size != size {
			kept = append(kept, o)
			continue
		}
		o.fn(id, size, data, err)
		if !o.sized {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		delete(e.downloadObs, id)
	} else {
		e.downloadObs[id] = kept
	}
}

// dropObservers invokes and removes pending callback sets for a record
// that is going away, so waiters are not left hanging. Each sized
// observer fails with the size it asked for.
func (e *Engine) dropObservers(id models.PhotoID, err error) {
	for _, o := range e.downloadObs[id] {
		size := models.SizeThumbnail
		if o.sized {
			size = o.size
		}
		o.fn(id, size, nil, err)
	}
	delete(e.downloadObs, id)
	delete(e.uiWanted, id)
	e.thumbs.finish(id)
}

// SetNetworkState records connectivity. Going online re-triggers
// scheduling; original-size transfers stay off metered connections.
func (e *Engine) SetNetworkState(online, wifi bool) {
	e.Post(func() {
		e.online = online
		e.wifi = wifi
		if online {
			e.maybeQueueNetwork()
		}
	})
}

// SetAuthenticated records auth state. Operations do not dispatch while
// logged out.
func (e *Engine) SetAuthenticated(authed bool) {
	e.Post(func() {
		e.authed = authed
		if authed {
			e.maybeQueueNetwork()
		}
	})
}

// NotePhotoLoad records an interactive photo load; network operations
// hold off for the configured cool-down afterwards to avoid contending
// with UI image loads.
func (e *Engine) NotePhotoLoad() {
	e.Post(func() {
		e.lastLoad = e.now()
	})
}

// sortedStrings returns a sorted copy of a recipient list.
func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// applyResetEpoch clears all error labels app-wide when the configured
// epoch has moved past the stored sentinel. A reset record with a
// server id re-marks its sizes for download; one with a live asset
// re-marks for upload; one with neither is removed, since nothing is
// recoverable on either side.
func (e *Engine) applyResetEpoch(epoch int64) {
	if epoch <= e.st.ResetEpoch() {
		return
	}
	resetCount := 0
	for _, p := range e.st.Photos() {
		if !p.Quarantined() {
			continue
		}
		state.ResetErrors(p)
		switch {
		case p.ServerID != "":
			p.Transfers.MarkAllDownload()
		case p.AssetKey != "" && e.lib != nil && e.lib.Exists(p.AssetKey):
			p.Transfers.MarkAllUpload()
			p.MetadataUpload = true
		default:
			if err := e.matcher.Detach(p); err != nil {
				e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("detach during error reset")
			}
			if err := e.st.DeletePhoto(p.ID); err != nil {
				e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("remove during error reset")
			}
			resetCount++
			continue
		}
		if err := e.st.PutPhoto(p); err != nil {
			e.log.Error().Err(err).Int64("photo", int64(p.ID)).Msg("persist during error reset")
		}
		resetCount++
	}
	if err := e.st.SetResetEpoch(epoch); err != nil {
		e.log.Error().Err(err).Msg("persist reset epoch")
	}
	if resetCount > 0 {
		e.log.Info().Int("records", resetCount).Int64("epoch", epoch).Msg("error labels reset")
	}
}
