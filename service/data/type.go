package data

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/khaledhikmat/vs-live/model"
)

var ErrNotFound = errors.New("not found")

const (
	defaultPageLimit = 12
	maxPageLimit     = 100

	earthRadiusKm   = 6371.0
	maxNearRadiusKm = 20000.0
)

type IService interface {
	SaveImage(ctx context.Context, rec model.ImageRecord) error
	RetrieveImage(ctx context.Context, id string) (model.ImageRecord, error)
	RetrieveImages(ctx context.Context, filter model.ImageFilter) (model.ImagePage, error)
	UpdateImage(ctx context.Context, id string, tags []string, description string) (model.ImageRecord, error)
	DeleteImage(ctx context.Context, id string) (model.ImageRecord, error)
	// RetrieveImagesNear returns images whose GPS fix lies within radiusKm
	// of (lat, lon), newest first.
	RetrieveImagesNear(ctx context.Context, lat, lon, radiusKm float64) ([]model.ImageRecord, error)
	RetrieveDetectionStatistics(ctx context.Context, filter model.StatisticsFilter) (model.DetectionStatistics, error)
	RetrieveStoreStatistics(ctx context.Context) (model.StoreStatistics, error)

	NewError(err interface{}) error
	NewStats(kind string, stats interface{}) error

	Close() error
}

// errorData is the persisted form of an error reported on an error stream.
type errorData struct {
	Timestamp  int64                  `json:"timestamp" bson:"timestamp"`
	Processor  string                 `json:"processor" bson:"processor"`
	Inner      string                 `json:"innerError" bson:"innerError"`
	Message    string                 `json:"message" bson:"message"`
	StackTrace string                 `json:"stackTrace" bson:"stackTrace"`
	Misc       map[string]interface{} `json:"misc" bson:"misc"`
}

func toErrorData(err interface{}) errorData {
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		customErr.Processor = "N/A"
		customErr.Message = fmt.Sprintf("%v", e)
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	return errorData{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}
}

func normalizeFilter(f model.ImageFilter) model.ImageFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	return f
}

func matches(f model.ImageFilter, rec model.ImageRecord) bool {
	if f.HasDetection != nil && rec.HasDetection() != *f.HasDetection {
		return false
	}
	if !f.From.IsZero() && rec.Created.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Created.After(f.To) {
		return false
	}
	return true
}

func pages(total int64, limit int) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// pageOf filters, sorts newest first and slices the records.
func pageOf(all []model.ImageRecord, f model.ImageFilter) model.ImagePage {
	f = normalizeFilter(f)

	filtered := []model.ImageRecord{}
	for _, rec := range all {
		if matches(f, rec) {
			filtered = append(filtered, rec)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Created.After(filtered[j].Created)
	})

	total := int64(len(filtered))
	start := (f.Page - 1) * f.Limit
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + f.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return model.ImagePage{
		Images: filtered[start:end],
		Total:  total,
		Page:   f.Page,
		Limit:  f.Limit,
		Pages:  pages(total, f.Limit),
	}
}

func inRange(f model.StatisticsFilter, created time.Time) bool {
	if !f.From.IsZero() && created.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && created.After(f.To) {
		return false
	}
	return true
}

func statisticsOf(all []model.ImageRecord, f model.StatisticsFilter) model.DetectionStatistics {
	stats := model.DetectionStatistics{}

	type acc struct {
		count int64
		conf  float64
	}
	labels := map[string]*acc{}
	var processed int64
	var processing time.Duration

	for _, rec := range all {
		if !inRange(f, rec.Created) {
			continue
		}
		stats.TotalImages++
		if rec.Detection == nil {
			continue
		}

		processed++
		processing += rec.Detection.ProcessingTime
		stats.TotalObjectsDetected += int64(len(rec.Detection.Boxes))
		if rec.HasDetection() {
			stats.ImagesWithDetection++
		}
		for _, b := range rec.Detection.Boxes {
			a, ok := labels[b.Label]
			if !ok {
				a = &acc{}
				labels[b.Label] = a
			}
			a.count++
			a.conf += b.Confidence
		}
	}

	if stats.TotalImages > 0 {
		stats.AvgObjectsPerImage = float64(stats.TotalObjectsDetected) / float64(stats.TotalImages)
	}
	if processed > 0 {
		stats.AvgProcessingMs = float64(processing) / float64(time.Millisecond) / float64(processed)
	}
	for label, a := range labels {
		stats.ByLabel = append(stats.ByLabel, model.LabelStatistics{
			Label:         label,
			Count:         a.count,
			AvgConfidence: a.conf / float64(a.count),
		})
	}

	return finishStatistics(stats, f)
}

// finishStatistics orders the per-label rows by count and fills the
// label map and the range echo.
func finishStatistics(stats model.DetectionStatistics, f model.StatisticsFilter) model.DetectionStatistics {
	if stats.ByLabel == nil {
		stats.ByLabel = []model.LabelStatistics{}
	}
	sort.Slice(stats.ByLabel, func(i, j int) bool {
		if stats.ByLabel[i].Count != stats.ByLabel[j].Count {
			return stats.ByLabel[i].Count > stats.ByLabel[j].Count
		}
		return stats.ByLabel[i].Label < stats.ByLabel[j].Label
	})

	stats.Labels = map[string]int64{}
	for _, l := range stats.ByLabel {
		stats.Labels[l.Label] = l.Count
	}

	if !f.From.IsZero() {
		from := f.From
		stats.From = &from
	}
	if !f.To.IsZero() {
		to := f.To
		stats.To = &to
	}
	return stats
}

func validateNear(lat, lon, radiusKm float64) error {
	switch {
	case math.IsNaN(lat) || lat < -90 || lat > 90:
		return model.NewValidationError("lat", "%v is outside [-90, 90]", lat)
	case math.IsNaN(lon) || lon < -180 || lon > 180:
		return model.NewValidationError("lon", "%v is outside [-180, 180]", lon)
	case math.IsNaN(radiusKm) || radiusKm <= 0 || radiusKm > maxNearRadiusKm:
		return model.NewValidationError("radius", "%v km is outside (0, %v]", radiusKm, maxNearRadiusKm)
	}
	return nil
}

// distanceKm is the haversine great-circle distance.
func distanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

func nearOf(all []model.ImageRecord, lat, lon, radiusKm float64) []model.ImageRecord {
	near := []model.ImageRecord{}
	for _, rec := range all {
		if rec.GPS.Valid && distanceKm(lat, lon, rec.GPS.Latitude, rec.GPS.Longitude) <= radiusKm {
			near = append(near, rec)
		}
	}

	sort.SliceStable(near, func(i, j int) bool {
		return near[i].Created.After(near[j].Created)
	})
	return near
}
