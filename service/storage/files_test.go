package storage

import (
	"bytes"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-live/service/config"
)

type folderConfig struct {
	config.IService
	folder string
}

func (c folderConfig) GetRecordingsFolder() string { return filepath.Join(c.folder, "saved") }
func (c folderConfig) GetThumbnailsFolder() string { return filepath.Join(c.folder, "saved", "thumbnails") }

func newTestFiles(t *testing.T) IService {
	t.Helper()

	svc, err := NewFiles(folderConfig{IService: config.NewHardCoded(), folder: t.TempDir()})
	require.NoError(t, err)
	return svc
}

func jpegOf(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestStoreImageWritesThumbnail(t *testing.T) {
	svc := newTestFiles(t)
	data := jpegOf(t, 640, 480)

	stored, err := svc.StoreImage("captured_1.jpg", data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), stored.Size)

	got, err := svc.ReadImage("captured_1.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	thumb, err := imaging.Open(stored.Thumbnail)
	require.NoError(t, err)
	assert.Equal(t, 150, thumb.Bounds().Dx())
	assert.InDelta(t, 112, thumb.Bounds().Dy(), 1)
}

func TestStoreImageRejectsBadNames(t *testing.T) {
	svc := newTestFiles(t)

	for _, name := range []string{"", "../escape.jpg", "dir/file.jpg", ".hidden.jpg"} {
		_, err := svc.StoreImage(name, jpegOf(t, 8, 8))
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestStoreImageRejectsNonImages(t *testing.T) {
	svc := newTestFiles(t)

	_, err := svc.StoreImage("broken.jpg", []byte("nope"))
	assert.Error(t, err)

	path, err := svc.ImagePath("broken.jpg")
	require.NoError(t, err)
	assert.NoFileExists(t, path)
}

func TestStoreImageCleansUpWhenThumbnailFails(t *testing.T) {
	svc := newTestFiles(t)

	// a directory where the thumbnail should go makes the save fail
	thumbPath, err := svc.ThumbnailPath("captured_3.jpg")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(thumbPath, "blocker"), 0o755))

	_, err = svc.StoreImage("captured_3.jpg", jpegOf(t, 32, 32))
	require.Error(t, err)

	path, err := svc.ImagePath("captured_3.jpg")
	require.NoError(t, err)
	assert.NoFileExists(t, path)
}

func TestDeleteImage(t *testing.T) {
	svc := newTestFiles(t)

	stored, err := svc.StoreImage("captured_2.jpg", jpegOf(t, 32, 32))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteImage("captured_2.jpg"))
	for _, p := range []string{stored.Path, stored.Thumbnail} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}

	// already gone is fine
	assert.NoError(t, svc.DeleteImage("captured_2.jpg"))
}
