package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/config"
)

const imagesEntity = "images"

type filesDBService struct {
	CfgSvc config.IService

	mu sync.Mutex
}

// NewFilesDB keeps every entity kind in its own JSON file under the input
// folder. It is meant for development and tests.
func NewFilesDB(cfgsvc config.IService) (IService, error) {
	if err := os.MkdirAll(cfgsvc.GetInputFolder(), 0o755); err != nil {
		return nil, err
	}

	return &filesDBService{
		CfgSvc: cfgsvc,
	}, nil
}

func (svc *filesDBService) SaveImage(_ context.Context, rec model.ImageRecord) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return newEntity(rec, imagesEntity, svc.CfgSvc)
}

func (svc *filesDBService) RetrieveImage(_ context.Context, id string) (model.ImageRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	images, err := retrieveEntites[model.ImageRecord](imagesEntity, svc.CfgSvc)
	if err != nil {
		return model.ImageRecord{}, err
	}

	for _, image := range images {
		if image.ID == id {
			return image, nil
		}
	}

	return model.ImageRecord{}, ErrNotFound
}

func (svc *filesDBService) RetrieveImages(_ context.Context, filter model.ImageFilter) (model.ImagePage, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	images, err := retrieveEntites[model.ImageRecord](imagesEntity, svc.CfgSvc)
	if err != nil {
		return model.ImagePage{}, err
	}

	return pageOf(images, filter), nil
}

func (svc *filesDBService) UpdateImage(_ context.Context, id string, tags []string, description string) (model.ImageRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	images, err := retrieveEntites[model.ImageRecord](imagesEntity, svc.CfgSvc)
	if err != nil {
		return model.ImageRecord{}, err
	}

	for i, image := range images {
		if image.ID == id {
			images[i].Tags = tags
			images[i].Description = description
			return images[i], writeEntities(images, imagesEntity, svc.CfgSvc)
		}
	}

	return model.ImageRecord{}, ErrNotFound
}

func (svc *filesDBService) DeleteImage(_ context.Context, id string) (model.ImageRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	images, err := retrieveEntites[model.ImageRecord](imagesEntity, svc.CfgSvc)
	if err != nil {
		return model.ImageRecord{}, err
	}

	for i, image := range images {
		if image.ID == id {
			images = append(images[:i], images[i+1:]...)
			return image, writeEntities(images, imagesEntity, svc.CfgSvc)
		}
	}

	return model.ImageRecord{}, ErrNotFound
}

func (svc *filesDBService) RetrieveImagesNear(_ context.Context, lat, lon, radiusKm float64) ([]model.ImageRecord, error) {
	if err := validateNear(lat, lon, radiusKm); err != nil {
		return nil, err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	images, err := retrieveEntites[model.ImageRecord](imagesEntity, svc.CfgSvc)
	if err != nil {
		return nil, err
	}

	return nearOf(images, lat, lon, radiusKm), nil
}

func (svc *filesDBService) RetrieveDetectionStatistics(_ context.Context, filter model.StatisticsFilter) (model.DetectionStatistics, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	images, err := retrieveEntites[model.ImageRecord](imagesEntity, svc.CfgSvc)
	if err != nil {
		return model.DetectionStatistics{}, err
	}

	return statisticsOf(images, filter), nil
}

func (svc *filesDBService) RetrieveStoreStatistics(_ context.Context) (model.StoreStatistics, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	stats := model.StoreStatistics{Driver: "files"}

	images, err := retrieveEntites[model.ImageRecord](imagesEntity, svc.CfgSvc)
	if err != nil {
		return stats, err
	}
	stats.Images = int64(len(images))

	info, err := os.Stat(entityPath(imagesEntity, svc.CfgSvc))
	if errors.Is(err, fs.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return stats, err
	}

	stats.DataSize = info.Size()
	stats.StorageSize = info.Size()
	if stats.Images > 0 {
		stats.AvgObjSize = float64(stats.DataSize) / float64(stats.Images)
	}
	return stats, nil
}

func (svc *filesDBService) NewError(err interface{}) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return newEntity(toErrorData(err), "errors", svc.CfgSvc)
}

func (svc *filesDBService) NewStats(kind string, stats interface{}) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	return newEntity(statsData{
		Timestamp: time.Now().Unix(),
		Kind:      kind,
		Stats:     stats,
	}, fmt.Sprintf("%s-stats", kind), svc.CfgSvc)
}

func (svc *filesDBService) Close() error {
	return nil
}

type statsData struct {
	Timestamp int64       `json:"timestamp" bson:"timestamp"`
	Kind      string      `json:"kind" bson:"kind"`
	Stats     interface{} `json:"stats" bson:"stats"`
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	entities, err := retrieveEntites[T](filename, cfgsvc)
	if err != nil {
		return err
	}

	entities = append(entities, entity)
	return writeEntities(entities, filename, cfgsvc)
}

func writeEntities[T any](entities []T, filename string, cfgsvc config.IService) error {
	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	// Write the JSON data to the file (with truncation)
	return os.WriteFile(entityPath(filename, cfgsvc), data, 0o644)
}

func entityPath(filename string, cfgsvc config.IService) string {
	return fmt.Sprintf("%s/%s.json", cfgsvc.GetInputFolder(), filename)
}

func retrieveEntites[T any](filename string, cfgsvc config.IService) ([]T, error) {
	entities := []T{}

	data, err := os.ReadFile(entityPath(filename, cfgsvc))
	if err != nil {
		// WARNING: File not found, return empty slice
		return entities, nil
	}

	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, err
	}

	return entities, nil
}
