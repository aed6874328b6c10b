package config

import "time"

const (
	MinDetectionMaxAge = 100 * time.Millisecond
	MaxDetectionMaxAge = 3 * time.Second
)

type IService interface {
	GetModeMaxShutdownTime() int
	GetHTTPAddress() string
	GetInputFolder() string
	GetChatsInputFile() string
	GetRecordingsFolder() string
	GetThumbnailsFolder() string
	GetDataDriver() string
	GetDataSource() string
	GetStatsPeriodicTimeout() int

	GetDetectionEnabled() bool
	GetDetectionMaxAge() time.Duration
	GetDetectionPollInterval() time.Duration
	GetDetectionSkipFactor() int
	GetDetectionMaxWidth() int
	GetDetectionLogFile() string
	GetDangerClasses() []string
	GetJPEGQuality() int
	GetLiveHUD() bool

	GetNotifyConfidence() float64
	GetNotifyCooldown() time.Duration
	GetNotifyQueueSize() int
	GetTelegramToken() string
	GetTelegramAPIURL() string
	GetMQTTBroker() string
	GetMQTTTopic() string
	GetWebhookURL() string

	GetYoloModelPath() string
	GetYoloLabelsPath() string

	GetFramerType() string
	GetFramerFolder() string
	GetFramerFPS() int

	GetLogLevel() string
	GetLogFile() string
}

// ClampMaxAge bounds a configured max age to the supported range.
func ClampMaxAge(d time.Duration) time.Duration {
	if d < MinDetectionMaxAge {
		return MinDetectionMaxAge
	}
	if d > MaxDetectionMaxAge {
		return MaxDetectionMaxAge
	}
	return d
}
