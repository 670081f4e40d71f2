package assets

import (
	"bytes"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewfinderco/viewfinder/internal/apperr"
	"github.com/viewfinderco/viewfinder/internal/models"
)

// writeJPEG writes a w x h test image under dir and returns its asset key.
func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
	return name
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	key := writeJPEG(t, dir, "photo.jpg", 32, 32)
	lib := NewFSLibrary(dir)

	assert.True(t, lib.Exists(key))
	assert.False(t, lib.Exists("missing.jpg"))
	assert.False(t, lib.Exists("."), "directories are not assets")
}

func TestReadOriginalIsVerbatim(t *testing.T) {
	dir := t.TempDir()
	key := writeJPEG(t, dir, "photo.jpg", 800, 400)
	raw, err := os.ReadFile(filepath.Join(dir, key))
	require.NoError(t, err)

	got, err := NewFSLibrary(dir).Read(key, models.SizeOriginal)
	require.NoError(t, err)
	assert.Equal(t, raw, got, "originals pass through unmodified")
}

func TestReadResizesToBound(t *testing.T) {
	dir := t.TempDir()
	key := writeJPEG(t, dir, "photo.jpg", 800, 400)
	lib := NewFSLibrary(dir)

	tests := []struct {
		size  models.SizeClass
		wantW int
		wantH int
	}{
		{models.SizeThumbnail, 240, 120},
		{models.SizeMedium, 800, 400}, // smaller than the bound, never enlarged
		{models.SizeFull, 800, 400},
	}
	for _, tt := range tests {
		t.Run(tt.size.String(), func(t *testing.T) {
			data, err := lib.Read(key, tt.size)
			require.NoError(t, err)

			img, err := imaging.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			b := img.Bounds()
			assert.Equal(t, tt.wantW, b.Dx())
			assert.Equal(t, tt.wantH, b.Dy())
		})
	}
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	lib := NewFSLibrary(dir)

	_, err := lib.Read("missing.jpg", models.SizeThumbnail)
	assert.True(t, apperr.Is(err, apperr.ErrAssetMissing))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.jpg"), []byte("not an image"), 0o644))
	_, err = lib.Read("junk.jpg", models.SizeThumbnail)
	assert.True(t, apperr.Is(err, apperr.ErrAssetMissing), "undecodable bytes report a missing asset")
}

func TestDimensionsAndAspectRatio(t *testing.T) {
	dir := t.TempDir()
	key := writeJPEG(t, dir, "photo.jpg", 600, 400)
	lib := NewFSLibrary(dir)

	w, h, err := lib.Dimensions(key)
	require.NoError(t, err)
	assert.Equal(t, 600, w)
	assert.Equal(t, 400, h)

	ratio, err := AspectRatio(lib, key)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, ratio, 1e-9)

	_, err = AspectRatio(lib, "missing.jpg")
	assert.True(t, apperr.Is(err, apperr.ErrAssetMissing))
}
