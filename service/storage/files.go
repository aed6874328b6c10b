package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"

	"github.com/khaledhikmat/vs-live/service/config"
)

const thumbnailSize = 150

type filesService struct {
	imagesDir string
	thumbsDir string
}

// NewFiles stores snapshots under the recordings folder and their
// thumbnails in a sibling thumbnails folder.
func NewFiles(cfgsvc config.IService) (IService, error) {
	svc := &filesService{
		imagesDir: cfgsvc.GetRecordingsFolder(),
		thumbsDir: cfgsvc.GetThumbnailsFolder(),
	}

	for _, dir := range []string{svc.imagesDir, svc.thumbsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return svc, nil
}

func cleanName(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}

func (svc *filesService) ImagePath(name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(svc.imagesDir, name), nil
}

func (svc *filesService) ThumbnailPath(name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(svc.thumbsDir, name), nil
}

func (svc *filesService) StoreImage(name string, data []byte) (StoredImage, error) {
	path, err := svc.ImagePath(name)
	if err != nil {
		return StoredImage{}, err
	}
	thumbPath, _ := svc.ThumbnailPath(name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return StoredImage{}, fmt.Errorf("writing image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		err = fmt.Errorf("decoding image for thumbnail: %w", err)
		return StoredImage{}, multierr.Append(err, removeIfExists(path))
	}

	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(85)); err != nil {
		err = fmt.Errorf("writing thumbnail: %w", err)
		return StoredImage{}, multierr.Combine(err, removeIfExists(path), removeIfExists(thumbPath))
	}

	return StoredImage{
		Path:      path,
		Thumbnail: thumbPath,
		Size:      int64(len(data)),
	}, nil
}

func (svc *filesService) ReadImage(name string) ([]byte, error) {
	path, err := svc.ImagePath(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// DeleteImage removes the image and its thumbnail. Missing files are not
// an error.
func (svc *filesService) DeleteImage(name string) error {
	path, err := svc.ImagePath(name)
	if err != nil {
		return err
	}
	thumbPath, _ := svc.ThumbnailPath(name)

	return multierr.Combine(removeIfExists(path), removeIfExists(thumbPath))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
