// Package merge applies inbound server updates to local records without
// clobbering pending local changes. Merges are field-wise, additive on
// bits, and idempotent: re-applying the same update is a no-op.
package merge

import (
	"github.com/rs/zerolog"

	"github.com/viewfinderco/viewfinder/internal/episode"
	"github.com/viewfinderco/viewfinder/internal/identity"
	"github.com/viewfinderco/viewfinder/internal/models"
	"github.com/viewfinderco/viewfinder/internal/place"
	"github.com/viewfinderco/viewfinder/internal/state"
	"github.com/viewfinderco/viewfinder/internal/store"
)

// PhotoUpdate is one inbound photo delta. Nil pointer fields are not
// carried; only carried fields are merged.
type PhotoUpdate struct {
	ServerID string `json:"server_id"`
	AssetKey string `json:"asset_key,omitempty"`

	Timestamp   *int64   `json:"timestamp,omitempty"`
	AspectRatio *float64 `json:"aspect_ratio,omitempty"`

	Location  *models.Location  `json:"location,omitempty"`
	Placemark *models.Placemark `json:"placemark,omitempty"`

	EpisodeServerID *string `json:"episode_server_id,omitempty"`

	Caption *string `json:"caption,omitempty"`
	Link    *string `json:"link,omitempty"`

	// Labels carries "+name"/"-name" tokens, unknown names included.
	Labels []string `json:"labels,omitempty"`

	Share       *models.ShareInfo `json:"share,omitempty"`
	UnshareTime *int64            `json:"unshare_time,omitempty"`
	DeleteTime  *int64            `json:"delete_time,omitempty"`

	// Available lists size classes retrievable from the server.
	Available []models.SizeClass `json:"available,omitempty"`
}

// EpisodeUpdate is one inbound episode delta.
type EpisodeUpdate struct {
	ServerID  string            `json:"server_id"`
	Timestamp *int64            `json:"timestamp,omitempty"`
	Location  *models.Location  `json:"location,omitempty"`
	Placemark *models.Placemark `json:"placemark,omitempty"`
	Labels    []string          `json:"labels,omitempty"`
}

// Batch is one page of incremental updates with a resumable cursor.
type Batch struct {
	Photos   []PhotoUpdate   `json:"photos,omitempty"`
	Episodes []EpisodeUpdate `json:"episodes,omitempty"`
	Cursor   string          `json:"cursor,omitempty"`
}

// Result summarizes one applied update.
type Result struct {
	Photo   *models.Photo
	Created bool
	Removed bool
}

// Merger merges inbound updates into the catalog.
type Merger struct {
	store    *store.Store
	places   *place.Index
	resolver *identity.Resolver
	matcher  *episode.Matcher
	log      zerolog.Logger
}

// NewMerger creates a Merger over the given collaborators.
func NewMerger(st *store.Store, resolver *identity.Resolver, matcher *episode.Matcher, log zerolog.Logger) *Merger {
	return &Merger{
		store:    st,
		places:   st.Places(),
		resolver: resolver,
		matcher:  matcher,
		log:      log,
	}
}

// ApplyPhoto merges one inbound photo update. A consistency failure
// rejects the update without mutation.
func (m *Merger) ApplyPhoto(u *PhotoUpdate) (Result, error) {
	p, created, err := m.resolver.Resolve(u.ServerID, u.AssetKey)
	if err != nil {
		return Result{}, err
	}

	// A server-confirmed delete commits the removal: detach and drop
	// the record.
	if u.DeleteTime != nil && *u.DeleteTime != 0 {
		if err := m.matcher.Detach(p); err != nil {
			return Result{}, err
		}
		if err := m.store.DeletePhoto(p.ID); err != nil {
			return Result{}, err
		}
		return Result{Photo: p, Created: created, Removed: true}, nil
	}

	m.mergeFields(p, u)

	if u.Labels != nil {
		p.Labels.Merge(u.Labels)
		p.LocalFields |= models.FieldLabels
		p.ServerFields |= models.FieldLabels
	}

	if len(u.Available) > 0 {
		state.MarkRemoteNew(p, u.Available)
	}

	if u.EpisodeServerID != nil && !p.NeedsFetch {
		if err := m.applyEpisodeChange(p, *u.EpisodeServerID); err != nil {
			return Result{}, err
		}
	} else if p.Episode == 0 && m.matcher.ShouldAttach(p) {
		// An update that names no episode still has to land the photo
		// somewhere; match locally once enough metadata arrived.
		if _, err := m.matcher.Attach(p); err != nil {
			return Result{}, err
		}
	}

	if err := m.store.PutPhoto(p); err != nil {
		return Result{}, err
	}
	return Result{Photo: p, Created: created}, nil
}

// ApplyFetched merges the response of a full metadata fetch for a
// placeholder record. The placeholder flag clears first so the photo
// becomes eligible for episode attachment and scheduling.
func (m *Merger) ApplyFetched(u *PhotoUpdate) (Result, error) {
	p, created, err := m.resolver.Resolve(u.ServerID, u.AssetKey)
	if err != nil {
		return Result{}, err
	}
	if p.NeedsFetch {
		p.NeedsFetch = false
		if err := m.store.PutPhoto(p); err != nil {
			return Result{}, err
		}
	}
	res, err := m.ApplyPhoto(u)
	if err == nil && created {
		res.Created = true
	}
	return res, err
}

// mergeFields overwrites each field the update carries and records the
// server acknowledgement bit. A field with a pending local edit keeps
// its local value and stays dirty, so the edit uploads later instead of
// being clobbered.
func (m *Merger) mergeFields(p *models.Photo, u *PhotoUpdate) {
	set := func(bit models.FieldBits, apply func()) {
		if p.DirtyFields().Has(bit) {
			return
		}
		apply()
		p.LocalFields |= bit
		p.ServerFields |= bit
	}

	if u.Timestamp != nil {
		set(models.FieldTimestamp, func() { p.Timestamp = *u.Timestamp })
	}
	if u.AspectRatio != nil {
		set(models.FieldAspectRatio, func() { p.AspectRatio = *u.AspectRatio })
	}
	if u.Location != nil {
		set(models.FieldLocation, func() { p.Location = m.places.InternLocation(*u.Location) })
	}
	if u.Placemark != nil {
		set(models.FieldPlacemark, func() { p.Placemark = m.places.InternPlacemark(*u.Placemark) })
	}
	if u.Caption != nil {
		set(models.FieldCaption, func() { p.Caption = *u.Caption })
	}
	if u.Link != nil {
		set(models.FieldLink, func() { p.Link = *u.Link })
	}
	if u.Share != nil {
		set(models.FieldShare, func() { p.Share = u.Share })
	}
	if u.UnshareTime != nil {
		set(models.FieldUnshare, func() { p.UnshareTime = *u.UnshareTime })
	}
}

// applyEpisodeChange moves the photo between episodes via detach then
// attach rather than an in-place write, preserving the one-episode
// invariant.
func (m *Merger) applyEpisodeChange(p *models.Photo, episodeServerID string) error {
	if episodeServerID == "" {
		return m.matcher.Detach(p)
	}
	e, _, err := m.resolver.ResolveEpisode(episodeServerID)
	if err != nil {
		return err
	}
	if p.Episode == e.ID {
		return nil
	}
	if err := m.matcher.AttachTo(p, e); err != nil {
		return err
	}
	p.ServerFields |= models.FieldEpisode
	return nil
}

// ApplyEpisode merges one inbound episode update.
func (m *Merger) ApplyEpisode(u *EpisodeUpdate) (*models.Episode, error) {
	e, _, err := m.resolver.ResolveEpisode(u.ServerID)
	if err != nil {
		return nil, err
	}
	if u.Timestamp != nil && (e.Timestamp == 0 || *u.Timestamp < e.Timestamp) {
		e.Timestamp = *u.Timestamp
	}
	if u.Location != nil {
		e.Location = m.places.InternLocation(*u.Location)
	}
	if u.Placemark != nil {
		e.Placemark = m.places.InternPlacemark(*u.Placemark)
	}
	if u.Labels != nil {
		e.Labels.Merge(u.Labels)
	}
	if err := m.store.PutEpisode(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ApplyBatch merges one page of incremental updates and advances the
// resumable cursor. Rejected updates are logged and skipped; the rest
// of the batch still applies.
func (m *Merger) ApplyBatch(b *Batch) (applied int, rejected int, err error) {
	for i := range b.Episodes {
		if _, err := m.ApplyEpisode(&b.Episodes[i]); err != nil {
			m.log.Error().Err(err).
				Str("server_id", b.Episodes[i].ServerID).
				Msg("episode update rejected")
			rejected++
			continue
		}
		applied++
	}
	for i := range b.Photos {
		if _, err := m.ApplyPhoto(&b.Photos[i]); err != nil {
			m.log.Error().Err(err).
				Str("server_id", b.Photos[i].ServerID).
				Msg("photo update rejected")
			rejected++
			continue
		}
		applied++
	}
	if b.Cursor != "" {
		if err := m.store.SetUpdateCursor(b.Cursor); err != nil {
			return applied, rejected, err
		}
	}
	return applied, rejected, nil
}
