package storage

import "errors"

var ErrInvalidName = errors.New("invalid file name")

type StoredImage struct {
	Path      string `json:"path"`
	Thumbnail string `json:"thumbnail"`
	Size      int64  `json:"size"`
}

type IService interface {
	StoreImage(name string, data []byte) (StoredImage, error)
	ReadImage(name string) ([]byte, error)
	DeleteImage(name string) error
	ImagePath(name string) (string, error)
	ThumbnailPath(name string) (string, error)
}
