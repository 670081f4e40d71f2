package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/viewfinderco/viewfinder/internal/apperr"
)

// BlobStore stores image bytes by their content hash (SHA-256).
// Identical bytes are stored only once, and every read is verified
// against the hash it was stored under.
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates a BlobStore rooted at baseDir.
func NewBlobStore(baseDir string) *BlobStore {
	return &BlobStore{baseDir: baseDir}
}

// HashBytes calculates the SHA-256 hash of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader calculates the SHA-256 hash of a stream.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// path returns the two-level fan-out path for a hash.
func (s *BlobStore) path(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}

// Put stores data and returns its content hash. Storing bytes that
// already exist is a no-op returning the same hash.
func (s *BlobStore) Put(data []byte) (string, error) {
	hash := HashBytes(data)

	dir := filepath.Join(s.baseDir, hash[0:2], hash[2:4])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.ErrStore, "create blob directory", err)
	}

	blobPath := filepath.Join(dir, hash)
	if _, err := os.Stat(blobPath); err == nil {
		return hash, nil
	}

	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		return "", apperr.Wrap(apperr.ErrStore, "write blob", err)
	}
	return hash, nil
}

// Get reads the bytes stored under hash, verifying integrity.
func (s *BlobStore) Get(hash string) ([]byte, error) {
	if len(hash) < 4 {
		return nil, apperr.New(apperr.ErrInvalid, "malformed blob hash")
	}
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "blob not found", err)
		}
		return nil, apperr.Wrap(apperr.ErrStore, "read blob", err)
	}
	if HashBytes(data) != hash {
		return nil, apperr.New(apperr.ErrCorrupt, "blob content does not match hash")
	}
	return data, nil
}

// Has reports whether a blob exists without reading it.
func (s *BlobStore) Has(hash string) bool {
	if len(hash) < 4 {
		return false
	}
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Delete removes the blob stored under hash. Deleting a missing blob
// is a no-op.
func (s *BlobStore) Delete(hash string) error {
	if len(hash) < 4 {
		return apperr.New(apperr.ErrInvalid, "malformed blob hash")
	}
	if err := os.Remove(s.path(hash)); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.ErrStore, "delete blob", err)
	}
	return nil
}
