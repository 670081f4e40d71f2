// Package assets accesses device photo-library bytes. The engine only
// sees the Library interface; the filesystem implementation here backs
// the daemon and tests.
package assets

import (
	"bytes"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	// Register webp decoding for image.Decode.
	_ "golang.org/x/image/webp"

	"github.com/viewfinderco/viewfinder/internal/apperr"
	"github.com/viewfinderco/viewfinder/internal/models"
)

// Library reads image bytes for device assets by key and size class.
type Library interface {
	// Exists reports whether the asset is still present on the device.
	Exists(assetKey string) bool
	// Read returns the asset bytes rendered at the given size class.
	Read(assetKey string, size models.SizeClass) ([]byte, error)
	// Dimensions returns the pixel dimensions of the original asset.
	Dimensions(assetKey string) (width, height int, err error)
}

// Longest-edge pixel bounds per size class. Originals pass through
// untouched.
var sizeBounds = map[models.SizeClass]int{
	models.SizeThumbnail: 240,
	models.SizeMedium:    960,
	models.SizeFull:      1920,
}

// FSLibrary is a Library over a directory tree; the asset key is the
// path relative to the root.
type FSLibrary struct {
	root    string
	quality int
}

// NewFSLibrary creates a filesystem-backed library rooted at dir.
func NewFSLibrary(dir string) *FSLibrary {
	return &FSLibrary{root: dir, quality: 85}
}

func (l *FSLibrary) path(assetKey string) string {
	return filepath.Join(l.root, filepath.FromSlash(assetKey))
}

// Exists implements Library.
func (l *FSLibrary) Exists(assetKey string) bool {
	info, err := os.Stat(l.path(assetKey))
	return err == nil && !info.IsDir()
}

// Read implements Library. Non-original sizes are resized to their
// longest-edge bound and re-encoded as JPEG; originals return the raw
// file bytes.
func (l *FSLibrary) Read(assetKey string, size models.SizeClass) ([]byte, error) {
	raw, err := os.ReadFile(l.path(assetKey))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.ErrAssetMissing, "asset not found", err)
		}
		return nil, apperr.Wrap(apperr.ErrAssetMissing, "asset unreadable", err)
	}
	if size == models.SizeOriginal {
		return raw, nil
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrAssetMissing, "asset undecodable", err)
	}

	bound := sizeBounds[size]
	img = imaging.Fit(img, bound, bound, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(l.quality)); err != nil {
		return nil, apperr.Wrap(apperr.ErrAssetMissing, "asset re-encode failed", err)
	}
	return buf.Bytes(), nil
}

// Dimensions implements Library.
func (l *FSLibrary) Dimensions(assetKey string) (int, int, error) {
	f, err := os.Open(l.path(assetKey))
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.ErrAssetMissing, "asset not found", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.ErrAssetMissing, "asset undecodable", err)
	}
	return cfg.Width, cfg.Height, nil
}

// AspectRatio returns width/height of the original asset.
func AspectRatio(lib Library, assetKey string) (float64, error) {
	w, h, err := lib.Dimensions(assetKey)
	if err != nil {
		return 0, err
	}
	if h == 0 {
		return 0, apperr.New(apperr.ErrAssetMissing, "asset has zero height")
	}
	return float64(w) / float64(h), nil
}
