package model

import (
	"fmt"
	"runtime/debug"
	"time"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// ValidationError is returned when a value coming from the outside
// (HTTP form, header) is rejected. State is left unchanged.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reasonf string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(reasonf, args...),
	}
}

// DetectionBox is expressed in the pixel space of the original frame.
type DetectionBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	ClassID    *int    `json:"classId,omitempty"`
}

type DetectionResult struct {
	Boxes          []DetectionBox `json:"boxes"`
	Timestamp      time.Time      `json:"timestamp"`
	Seq            uint64         `json:"seq"`
	ProcessingTime time.Duration  `json:"processingTime"`
	FrameWidth     int            `json:"frameWidth"`
	FrameHeight    int            `json:"frameHeight"`
}

func (r DetectionResult) Count() int {
	return len(r.Boxes)
}

// Clone returns a copy that shares no memory with r.
func (r DetectionResult) Clone() DetectionResult {
	c := r
	c.Boxes = make([]DetectionBox, len(r.Boxes))
	copy(c.Boxes, r.Boxes)
	for i := range c.Boxes {
		if id := c.Boxes[i].ClassID; id != nil {
			v := *id
			c.Boxes[i].ClassID = &v
		}
	}
	return c
}

type Effects struct {
	Negative  bool `json:"negative"`
	Detection bool `json:"objectDetection"`
	HUD       bool `json:"hud"`
}

type GPS struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Valid     bool      `json:"valid"`
	Updated   time.Time `json:"updated"`
}

func (g GPS) String() string {
	if !g.Valid {
		return "unknown"
	}
	return fmt.Sprintf("%.6f,%.6f", g.Latitude, g.Longitude)
}

type Environment struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Valid       bool      `json:"valid"`
	Updated     time.Time `json:"updated"`
}

// Alert is a danger notification handed to the notification sinks.
type Alert struct {
	Label      string         `json:"label"`
	Confidence float64        `json:"confidence"`
	Boxes      []DetectionBox `json:"boxes"`
	GPS        string         `json:"gps"`
	Caption    string         `json:"caption"`
	Image      []byte         `json:"-"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ImageRecord describes a saved snapshot.
type ImageRecord struct {
	ID          string           `json:"id" bson:"_id"`
	Filename    string           `json:"filename" bson:"filename"`
	Path        string           `json:"path" bson:"path"`
	Thumbnail   string           `json:"thumbnail" bson:"thumbnail"`
	Size        int64            `json:"size" bson:"size"`
	Created     time.Time        `json:"created" bson:"created"`
	GPS         GPS              `json:"gps" bson:"gps"`
	Environment Environment      `json:"environment" bson:"environment"`
	Effects     Effects          `json:"effects" bson:"effects"`
	Detection   *DetectionResult `json:"detection,omitempty" bson:"detection,omitempty"`
	Tags        []string         `json:"tags" bson:"tags"`
	Description string           `json:"description" bson:"description"`
}

func (r ImageRecord) HasDetection() bool {
	return r.Detection != nil && len(r.Detection.Boxes) > 0
}

type ImageFilter struct {
	HasDetection *bool
	From         time.Time
	To           time.Time
	Page         int
	Limit        int
}

type ImagePage struct {
	Images []ImageRecord `json:"images"`
	Total  int64         `json:"total"`
	Page   int           `json:"page"`
	Limit  int           `json:"limit"`
	Pages  int           `json:"pages"`
}

// StatisticsFilter bounds statistics to images created in [From, To].
// Zero values leave that side open.
type StatisticsFilter struct {
	From time.Time
	To   time.Time
}

type LabelStatistics struct {
	Label         string  `json:"label"`
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"avgConfidence"`
}

type DetectionStatistics struct {
	TotalImages          int64             `json:"totalImages"`
	ImagesWithDetection  int64             `json:"imagesWithDetection"`
	TotalObjectsDetected int64             `json:"totalObjectsDetected"`
	AvgObjectsPerImage   float64           `json:"avgObjectsPerImage"`
	AvgProcessingMs      float64           `json:"avgProcessingMs"`
	Labels               map[string]int64  `json:"labels"`
	ByLabel              []LabelStatistics `json:"byLabel"`
	From                 *time.Time        `json:"from,omitempty"`
	To                   *time.Time        `json:"to,omitempty"`
}

// StoreStatistics reports the size of the metadata store.
type StoreStatistics struct {
	Driver      string  `json:"driver"`
	Images      int64   `json:"images"`
	DataSize    int64   `json:"dataSize"`
	StorageSize int64   `json:"storageSize"`
	Indexes     int64   `json:"indexes"`
	IndexSize   int64   `json:"indexSize"`
	AvgObjSize  float64 `json:"avgObjSize"`
}

type SlotStats struct {
	Name      string `json:"name"`
	Puts      uint64 `json:"puts"`
	Takes     uint64 `json:"takes"`
	Drops     uint64 `json:"drops"`
	Timestamp int64  `json:"timestamp"`
}

type WorkerStats struct {
	Name        string  `json:"name"`
	State       string  `json:"state"`
	Acquired    uint64  `json:"acquired"`
	Skipped     uint64  `json:"skipped"`
	Processed   uint64  `json:"processed"`
	Discarded   uint64  `json:"discarded"`
	Errors      uint64  `json:"errors"`
	AvgProcTime float64 `json:"avgProcTime"`
	Uptime      int64   `json:"uptime"`
	Timestamp   int64   `json:"timestamp"`
}

type DistributorStats struct {
	Name      string `json:"name"`
	Viewers   int64  `json:"viewers"`
	Frames    uint64 `json:"frames"`
	Skipped   uint64 `json:"skipped"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}

type AlerterStats struct {
	Name       string `json:"name"`
	Alerts     uint64 `json:"alerts"`
	Suppressed uint64 `json:"suppressed"`
	Dropped    uint64 `json:"dropped"`
	Errors     uint64 `json:"errors"`
	Uptime     int64  `json:"uptime"`
	Timestamp  int64  `json:"timestamp"`
}

type FramerStats struct {
	Name      string `json:"name"`
	FPS       int    `json:"fps"`
	Frames    int    `json:"frames"`
	Errors    int    `json:"errors"`
	Uptime    int64  `json:"uptime"`
	Timestamp int64  `json:"timestamp"`
}
