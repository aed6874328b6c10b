package config

import (
	"fmt"
	"time"
)

type hardcodedService struct {
}

// NewHardCoded returns the defaults. The env service falls back to it.
func NewHardCoded() IService {
	return &hardcodedService{}
}

func (svc *hardcodedService) GetModeMaxShutdownTime() int {
	return 5
}

func (svc *hardcodedService) GetHTTPAddress() string {
	return ":5000"
}

func (svc *hardcodedService) GetInputFolder() string {
	return "./settings"
}

func (svc *hardcodedService) GetChatsInputFile() string {
	return fmt.Sprintf("%s/chat_ids.json", svc.GetInputFolder())
}

func (svc *hardcodedService) GetRecordingsFolder() string {
	return "./saved_images"
}

func (svc *hardcodedService) GetThumbnailsFolder() string {
	return fmt.Sprintf("%s/thumbnails", svc.GetRecordingsFolder())
}

func (svc *hardcodedService) GetDataDriver() string {
	return "sqlite"
}

func (svc *hardcodedService) GetDataSource() string {
	return fmt.Sprintf("%s/surveillance.db", svc.GetInputFolder())
}

func (svc *hardcodedService) GetStatsPeriodicTimeout() int {
	return 30
}

func (svc *hardcodedService) GetDetectionEnabled() bool {
	return false
}

func (svc *hardcodedService) GetDetectionMaxAge() time.Duration {
	return 1500 * time.Millisecond
}

func (svc *hardcodedService) GetDetectionPollInterval() time.Duration {
	return 50 * time.Millisecond
}

func (svc *hardcodedService) GetDetectionSkipFactor() int {
	return 1
}

func (svc *hardcodedService) GetDetectionMaxWidth() int {
	return 640
}

func (svc *hardcodedService) GetDetectionLogFile() string {
	return ""
}

func (svc *hardcodedService) GetDangerClasses() []string {
	return []string{"person"}
}

func (svc *hardcodedService) GetJPEGQuality() int {
	return 95
}

func (svc *hardcodedService) GetLiveHUD() bool {
	return false
}

func (svc *hardcodedService) GetNotifyConfidence() float64 {
	return 0.6
}

func (svc *hardcodedService) GetNotifyCooldown() time.Duration {
	return 30 * time.Second
}

func (svc *hardcodedService) GetNotifyQueueSize() int {
	return 16
}

func (svc *hardcodedService) GetTelegramToken() string {
	return ""
}

func (svc *hardcodedService) GetTelegramAPIURL() string {
	return "https://api.telegram.org"
}

func (svc *hardcodedService) GetMQTTBroker() string {
	return ""
}

func (svc *hardcodedService) GetMQTTTopic() string {
	return "surveillance/alerts"
}

func (svc *hardcodedService) GetWebhookURL() string {
	return ""
}

func (svc *hardcodedService) GetYoloModelPath() string {
	return "./yolo5/yolov5s.onnx"
}

func (svc *hardcodedService) GetYoloLabelsPath() string {
	return "./yolo5/coco.names"
}

func (svc *hardcodedService) GetFramerType() string {
	return ""
}

func (svc *hardcodedService) GetFramerFolder() string {
	return ""
}

func (svc *hardcodedService) GetFramerFPS() int {
	return 10
}

func (svc *hardcodedService) GetLogLevel() string {
	return "info"
}

func (svc *hardcodedService) GetLogFile() string {
	return ""
}
