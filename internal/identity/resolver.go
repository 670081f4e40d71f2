// Package identity maps between local ids, server ids and device-asset
// keys, deduplicating records that refer to the same underlying asset.
package identity

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/viewfinderco/viewfinder/internal/apperr"
	"github.com/viewfinderco/viewfinder/internal/models"
	"github.com/viewfinderco/viewfinder/internal/store"
)

// Resolver resolves inbound identities against the catalog.
type Resolver struct {
	store *store.Store
	log   zerolog.Logger
}

// NewResolver creates a Resolver over the given store.
func NewResolver(st *store.Store, log zerolog.Logger) *Resolver {
	return &Resolver{store: st, log: log}
}

// Resolve finds the local record for an inbound update keyed by server
// id, optionally carrying a device-asset key. Resolution order:
//
//  1. asset key, when carried and indexed — a conflicting existing
//     server id is a hard consistency error and the update is rejected;
//  2. server id;
//  3. otherwise a placeholder record is created and flagged for a full
//     metadata fetch. Placeholders stay detached from episodes until
//     the fetch completes.
//
// Returns the record and whether it was newly created.
func (r *Resolver) Resolve(serverID, assetKey string) (*models.Photo, bool, error) {
	if serverID == "" {
		return nil, false, apperr.New(apperr.ErrInvalid, "update without server id")
	}

	if assetKey != "" {
		if p, ok := r.store.PhotoByAssetKey(assetKey); ok {
			if p.ServerID != "" && p.ServerID != serverID {
				r.log.Error().
					Str("asset_key", assetKey).
					Str("have_server_id", p.ServerID).
					Str("got_server_id", serverID).
					Msg("asset key maps to a different server id; rejecting update")
				return nil, false, apperr.New(apperr.ErrConsistency,
					fmt.Sprintf("asset key %s bound to server id %s, update carries %s",
						assetKey, p.ServerID, serverID))
			}
			if p.ServerID == "" {
				p.ServerID = serverID
				if err := r.store.PutPhoto(p); err != nil {
					return nil, false, err
				}
			}
			return p, false, nil
		}
	}

	if p, ok := r.store.PhotoByServerID(serverID); ok {
		return p, false, nil
	}

	p := r.store.NewPhoto()
	p.ServerID = serverID
	p.AssetKey = assetKey
	p.NeedsFetch = true
	if err := r.store.PutPhoto(p); err != nil {
		return nil, false, err
	}
	r.log.Debug().
		Str("server_id", serverID).
		Int64("photo", int64(p.ID)).
		Msg("created placeholder for unknown server id")
	return p, true, nil
}

// ResolveLocal returns the record for a device asset, creating one on
// first sight. Creating two records for the same asset key is
// impossible; the second call resolves to the first record.
func (r *Resolver) ResolveLocal(assetKey string) (*models.Photo, bool, error) {
	if assetKey == "" {
		return nil, false, apperr.New(apperr.ErrInvalid, "local photo without asset key")
	}
	if p, ok := r.store.PhotoByAssetKey(assetKey); ok {
		return p, false, nil
	}
	p := r.store.NewPhoto()
	p.AssetKey = assetKey
	if err := r.store.PutPhoto(p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// ResolveEpisode returns the local episode for a server episode id,
// creating an empty shell on first sight. The shell gets its timestamp
// when the first photo attaches.
func (r *Resolver) ResolveEpisode(serverID string) (*models.Episode, bool, error) {
	if serverID == "" {
		return nil, false, apperr.New(apperr.ErrInvalid, "episode update without server id")
	}
	if e, ok := r.store.EpisodeByServerID(serverID); ok {
		return e, false, nil
	}
	e := r.store.NewEpisode()
	e.ServerID = serverID
	if err := r.store.PutEpisode(e); err != nil {
		return nil, false, err
	}
	return e, true, nil
}
