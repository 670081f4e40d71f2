package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/viewfinderco/viewfinder/internal/apperr"
	"github.com/viewfinderco/viewfinder/internal/models"
	"github.com/viewfinderco/viewfinder/internal/place"
)

// Record key prefixes. Every record in the kv table is addressed by a
// type-prefixed key.
const (
	keyPhotoPrefix   = "p/"
	keyEpisodePrefix = "e/"
	keyDeviceID      = "m/device_id"
	keyNextPhotoID   = "m/next_photo_id"
	keyNextEpisodeID = "m/next_episode_id"
	keyResetEpoch    = "m/reset_errors_epoch"
	keyUpdateCursor  = "m/update_cursor"
	keyPlaces        = "m/places"
)

// Store is the in-memory catalog backed by the kv table. The full
// catalog is loaded at open and every mutation is written through.
//
// The store is owned by the engine's scheduling goroutine and is not
// internally locked; all access must happen on that goroutine.
type Store struct {
	db     *DB
	blobs  *BlobStore
	places *place.Index
	log    zerolog.Logger

	photos   map[models.PhotoID]*models.Photo
	episodes map[models.EpisodeID]*models.Episode

	byServerID   map[string]models.PhotoID
	byAssetKey   map[string]models.PhotoID
	epByServerID map[string]models.EpisodeID

	// Reverse maps reconciling index entries when a put changes a
	// photo's server id or asset key.
	serverIDOf map[models.PhotoID]string
	assetKeyOf map[models.PhotoID]string

	nextPhotoID   int64
	nextEpisodeID int64
	deviceID      string
}

// Open loads the catalog from the database under dataDir and attaches
// the blob store at dataDir/blobs.
func Open(dataDir string, log zerolog.Logger) (*Store, error) {
	db, err := OpenDB(dataDir)
	if err != nil {
		return nil, err
	}

	st := &Store{
		db:           db,
		blobs:        NewBlobStore(filepath.Join(dataDir, "blobs")),
		places:       place.NewIndex(),
		log:          log,
		photos:       make(map[models.PhotoID]*models.Photo),
		episodes:     make(map[models.EpisodeID]*models.Episode),
		byServerID:   make(map[string]models.PhotoID),
		byAssetKey:   make(map[string]models.PhotoID),
		epByServerID: make(map[string]models.EpisodeID),
		serverIDOf:   make(map[models.PhotoID]string),
		assetKeyOf:   make(map[models.PhotoID]string),
	}

	if err := st.load(); err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// Close flushes the place arena and closes the database.
func (s *Store) Close() error {
	if err := s.SavePlaces(); err != nil {
		s.log.Error().Err(err).Msg("failed to persist place arena on close")
	}
	return s.db.Close()
}

// Places returns the interning index shared by all records.
func (s *Store) Places() *place.Index { return s.places }

// Blobs returns the image blob store.
func (s *Store) Blobs() *BlobStore { return s.blobs }

func (s *Store) load() error {
	if data, err := s.db.getRecord(keyPlaces); err == nil {
		var snap place.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return apperr.Wrap(apperr.ErrStore, "decode place arena", err)
		}
		s.places.Restore(snap)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(apperr.ErrStore, "load place arena", err)
	}

	if err := s.db.scanPrefix(keyPhotoPrefix, func(key string, value []byte) error {
		var p models.Photo
		if err := json.Unmarshal(value, &p); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		s.index(&p)
		return nil
	}); err != nil {
		return apperr.Wrap(apperr.ErrStore, "load photos", err)
	}

	if err := s.db.scanPrefix(keyEpisodePrefix, func(key string, value []byte) error {
		var e models.Episode
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		s.episodes[e.ID] = &e
		if e.ServerID != "" {
			s.epByServerID[e.ServerID] = e.ID
		}
		return nil
	}); err != nil {
		return apperr.Wrap(apperr.ErrStore, "load episodes", err)
	}

	s.nextPhotoID = s.loadCounter(keyNextPhotoID)
	s.nextEpisodeID = s.loadCounter(keyNextEpisodeID)

	if err := s.loadDeviceID(); err != nil {
		return err
	}

	s.log.Info().
		Int("photos", len(s.photos)).
		Int("episodes", len(s.episodes)).
		Msg("catalog loaded")
	return nil
}

func (s *Store) loadCounter(key string) int64 {
	data, err := s.db.getRecord(key)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) saveCounter(key string, n int64) error {
	return s.db.putRecord(key, []byte(strconv.FormatInt(n, 10)))
}

func (s *Store) loadDeviceID() error {
	data, err := s.db.getRecord(keyDeviceID)
	if err == nil {
		s.deviceID = string(data)
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrap(apperr.ErrStore, "load device id", err)
	}
	s.deviceID = uuid.New().String()
	if err := s.db.putRecord(keyDeviceID, []byte(s.deviceID)); err != nil {
		return apperr.Wrap(apperr.ErrStore, "save device id", err)
	}
	return nil
}

// DeviceID returns the stable identity of this catalog replica.
func (s *Store) DeviceID() string { return s.deviceID }

// index registers a photo in all in-memory maps.
func (s *Store) index(p *models.Photo) {
	s.photos[p.ID] = p
	if p.ServerID != "" {
		s.byServerID[p.ServerID] = p.ID
	}
	if p.AssetKey != "" {
		s.byAssetKey[p.AssetKey] = p.ID
	}
	s.serverIDOf[p.ID] = p.ServerID
	s.assetKeyOf[p.ID] = p.AssetKey
}

// reindex reconciles secondary indexes after a put may have changed a
// photo's server id or asset key.
func (s *Store) reindex(p *models.Photo) {
	if old := s.serverIDOf[p.ID]; old != p.ServerID {
		if old != "" && s.byServerID[old] == p.ID {
			delete(s.byServerID, old)
		}
	}
	if old := s.assetKeyOf[p.ID]; old != p.AssetKey {
		if old != "" && s.byAssetKey[old] == p.ID {
			delete(s.byAssetKey, old)
		}
	}
	s.index(p)
}

func photoKey(id models.PhotoID) string {
	return keyPhotoPrefix + strconv.FormatInt(int64(id), 10)
}

func episodeKey(id models.EpisodeID) string {
	return keyEpisodePrefix + strconv.FormatInt(int64(id), 10)
}

// NewPhoto allocates a fresh photo record. The record is not persisted
// until PutPhoto.
func (s *Store) NewPhoto() *models.Photo {
	s.nextPhotoID++
	if err := s.saveCounter(keyNextPhotoID, s.nextPhotoID); err != nil {
		s.log.Error().Err(err).Msg("failed to persist photo id counter")
	}
	return &models.Photo{ID: models.PhotoID(s.nextPhotoID)}
}

// NewEpisode allocates a fresh episode record.
func (s *Store) NewEpisode() *models.Episode {
	s.nextEpisodeID++
	if err := s.saveCounter(keyNextEpisodeID, s.nextEpisodeID); err != nil {
		s.log.Error().Err(err).Msg("failed to persist episode id counter")
	}
	return &models.Episode{ID: models.EpisodeID(s.nextEpisodeID)}
}

// Photo returns the photo record for id.
func (s *Store) Photo(id models.PhotoID) (*models.Photo, bool) {
	p, ok := s.photos[id]
	return p, ok
}

// PhotoByServerID resolves a photo through the server-id index.
func (s *Store) PhotoByServerID(serverID string) (*models.Photo, bool) {
	id, ok := s.byServerID[serverID]
	if !ok {
		return nil, false
	}
	return s.photos[id], true
}

// PhotoByAssetKey resolves a photo through the device-asset-key index.
func (s *Store) PhotoByAssetKey(assetKey string) (*models.Photo, bool) {
	id, ok := s.byAssetKey[assetKey]
	if !ok {
		return nil, false
	}
	return s.photos[id], true
}

// Episode returns the episode record for id.
func (s *Store) Episode(id models.EpisodeID) (*models.Episode, bool) {
	e, ok := s.episodes[id]
	return e, ok
}

// EpisodeByServerID resolves an episode through the server-id index.
func (s *Store) EpisodeByServerID(serverID string) (*models.Episode, bool) {
	id, ok := s.epByServerID[serverID]
	if !ok {
		return nil, false
	}
	return s.episodes[id], true
}

// PutPhoto persists a photo record and keeps the indexes consistent.
func (s *Store) PutPhoto(p *models.Photo) error {
	data, err := json.Marshal(p)
	if err != nil {
		return apperr.Wrap(apperr.ErrStore, "encode photo", err)
	}
	if err := s.db.putRecord(photoKey(p.ID), data); err != nil {
		return apperr.Wrap(apperr.ErrStore, "put photo", err)
	}
	s.reindex(p)
	return nil
}

// PutEpisode persists an episode record.
func (s *Store) PutEpisode(e *models.Episode) error {
	data, err := json.Marshal(e)
	if err != nil {
		return apperr.Wrap(apperr.ErrStore, "encode episode", err)
	}
	if err := s.db.putRecord(episodeKey(e.ID), data); err != nil {
		return apperr.Wrap(apperr.ErrStore, "put episode", err)
	}
	s.episodes[e.ID] = e
	if e.ServerID != "" {
		s.epByServerID[e.ServerID] = e.ID
	}
	return nil
}

// DeletePhoto removes a photo record, its index entries and its image
// blobs.
func (s *Store) DeletePhoto(id models.PhotoID) error {
	p, ok := s.photos[id]
	if !ok {
		return nil
	}
	if err := s.db.deleteRecord(photoKey(id)); err != nil {
		return apperr.Wrap(apperr.ErrStore, "delete photo", err)
	}
	if p.ServerID != "" && s.byServerID[p.ServerID] == id {
		delete(s.byServerID, p.ServerID)
	}
	if p.AssetKey != "" && s.byAssetKey[p.AssetKey] == id {
		delete(s.byAssetKey, p.AssetKey)
	}
	delete(s.serverIDOf, id)
	delete(s.assetKeyOf, id)
	delete(s.photos, id)

	if err := s.DeleteImages(id); err != nil {
		s.log.Error().Err(err).Int64("photo", int64(id)).Msg("failed to delete image blobs")
	}
	return nil
}

// DeleteEpisode removes an episode record.
func (s *Store) DeleteEpisode(id models.EpisodeID) error {
	e, ok := s.episodes[id]
	if !ok {
		return nil
	}
	if err := s.db.deleteRecord(episodeKey(id)); err != nil {
		return apperr.Wrap(apperr.ErrStore, "delete episode", err)
	}
	if e.ServerID != "" && s.epByServerID[e.ServerID] == id {
		delete(s.epByServerID, e.ServerID)
	}
	delete(s.episodes, id)
	return nil
}

// Photos returns all photo records ordered by ascending local id.
func (s *Store) Photos() []*models.Photo {
	out := make([]*models.Photo, 0, len(s.photos))
	for _, p := range s.photos {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Episodes returns all episode records ordered by ascending local id.
func (s *Store) Episodes() []*models.Episode {
	out := make([]*models.Episode, 0, len(s.episodes))
	for _, e := range s.episodes {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResetEpoch returns the stored reset-errors sentinel.
func (s *Store) ResetEpoch() int64 {
	return s.loadCounter(keyResetEpoch)
}

// SetResetEpoch stores the reset-errors sentinel.
func (s *Store) SetResetEpoch(epoch int64) error {
	if err := s.saveCounter(keyResetEpoch, epoch); err != nil {
		return apperr.Wrap(apperr.ErrStore, "save reset epoch", err)
	}
	return nil
}

// UpdateCursor returns the resumable incremental-update cursor.
func (s *Store) UpdateCursor() string {
	data, err := s.db.getRecord(keyUpdateCursor)
	if err != nil {
		return ""
	}
	return string(data)
}

// SetUpdateCursor stores the incremental-update cursor.
func (s *Store) SetUpdateCursor(cursor string) error {
	if err := s.db.putRecord(keyUpdateCursor, []byte(cursor)); err != nil {
		return apperr.Wrap(apperr.ErrStore, "save update cursor", err)
	}
	return nil
}

// SavePlaces persists the interning arena.
func (s *Store) SavePlaces() error {
	data, err := json.Marshal(s.places.Snapshot())
	if err != nil {
		return apperr.Wrap(apperr.ErrStore, "encode place arena", err)
	}
	if err := s.db.putRecord(keyPlaces, data); err != nil {
		return apperr.Wrap(apperr.ErrStore, "save place arena", err)
	}
	return nil
}

// PutImage stores image bytes for (photo, size) and records the content
// hash.
func (s *Store) PutImage(id models.PhotoID, size models.SizeClass, data []byte) (string, error) {
	hash, err := s.blobs.Put(data)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(
		"INSERT INTO blobs (photo_id, size, hash) VALUES (?, ?, ?) ON CONFLICT(photo_id, size) DO UPDATE SET hash = excluded.hash",
		int64(id), int(size), hash)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrStore, "record image hash", err)
	}
	return hash, nil
}

// Image reads and verifies the image bytes for (photo, size).
func (s *Store) Image(id models.PhotoID, size models.SizeClass) ([]byte, error) {
	var hash string
	err := s.db.QueryRow(
		"SELECT hash FROM blobs WHERE photo_id = ? AND size = ?",
		int64(id), int(size)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.ErrNotFound, "image not stored")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrStore, "look up image hash", err)
	}
	return s.blobs.Get(hash)
}

// HasImage reports whether bytes for (photo, size) are stored.
func (s *Store) HasImage(id models.PhotoID, size models.SizeClass) bool {
	var hash string
	err := s.db.QueryRow(
		"SELECT hash FROM blobs WHERE photo_id = ? AND size = ?",
		int64(id), int(size)).Scan(&hash)
	return err == nil && s.blobs.Has(hash)
}

// DeleteImages removes all stored image bytes of a photo. A blob shared
// with another photo through deduplication survives.
func (s *Store) DeleteImages(id models.PhotoID) error {
	rows, err := s.db.Query("SELECT hash FROM blobs WHERE photo_id = ?", int64(id))
	if err != nil {
		return apperr.Wrap(apperr.ErrStore, "list image hashes", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.ErrStore, "scan image hash", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()

	if _, err := s.db.Exec("DELETE FROM blobs WHERE photo_id = ?", int64(id)); err != nil {
		return apperr.Wrap(apperr.ErrStore, "delete image rows", err)
	}

	for _, h := range hashes {
		var refs int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM blobs WHERE hash = ?", h).Scan(&refs); err != nil {
			return apperr.Wrap(apperr.ErrStore, "count blob refs", err)
		}
		if refs == 0 {
			if err := s.blobs.Delete(h); err != nil {
				return err
			}
		}
	}
	return nil
}

// ParsePhotoKey extracts the photo id from a record key, for tooling
// that walks the raw kv table.
func ParsePhotoKey(key string) (models.PhotoID, bool) {
	if !strings.HasPrefix(key, keyPhotoPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(key[len(keyPhotoPrefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return models.PhotoID(n), true
}
