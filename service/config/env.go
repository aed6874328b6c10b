package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/khaledhikmat/vs-live/service/lgr"
)

type envService struct {
	defaults IService
	lookup   func(string) (string, bool)
}

// NewEnv reads settings from environment variables and falls back to the
// hardcoded defaults for anything unset or malformed.
func NewEnv() IService {
	return newEnvWithLookup(os.LookupEnv)
}

func newEnvWithLookup(lookup func(string) (string, bool)) IService {
	return &envService{
		defaults: NewHardCoded(),
		lookup:   lookup,
	}
}

func (svc *envService) str(key, def string) string {
	v, ok := svc.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func (svc *envService) integer(key string, def int) int {
	v := svc.str(key, "")
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		lgr.Logger.Warn("ignoring malformed integer setting", slog.String("key", key), slog.String("value", v))
		return def
	}
	return i
}

func (svc *envService) float(key string, def float64) float64 {
	v := svc.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		lgr.Logger.Warn("ignoring malformed float setting", slog.String("key", key), slog.String("value", v))
		return def
	}
	return f
}

func (svc *envService) boolean(key string, def bool) bool {
	v := svc.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		lgr.Logger.Warn("ignoring malformed boolean setting", slog.String("key", key), slog.String("value", v))
		return def
	}
	return b
}

// duration accepts a Go duration ("1.5s") or plain seconds ("1.5").
func (svc *envService) duration(key string, def time.Duration) time.Duration {
	v := svc.str(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	lgr.Logger.Warn("ignoring malformed duration setting", slog.String("key", key), slog.String("value", v))
	return def
}

func (svc *envService) GetModeMaxShutdownTime() int {
	return svc.integer("MODE_MAX_SHUTDOWN", svc.defaults.GetModeMaxShutdownTime())
}

func (svc *envService) GetHTTPAddress() string {
	return svc.str("HTTP_ADDRESS", svc.defaults.GetHTTPAddress())
}

func (svc *envService) GetInputFolder() string {
	return svc.str("SETTINGS_FOLDER", svc.defaults.GetInputFolder())
}

func (svc *envService) GetChatsInputFile() string {
	return fmt.Sprintf("%s/chat_ids.json", svc.GetInputFolder())
}

func (svc *envService) GetRecordingsFolder() string {
	return svc.str("RECORDINGS_FOLDER", svc.defaults.GetRecordingsFolder())
}

func (svc *envService) GetThumbnailsFolder() string {
	return fmt.Sprintf("%s/thumbnails", svc.GetRecordingsFolder())
}

func (svc *envService) GetDataDriver() string {
	return svc.str("DATA_DRIVER", svc.defaults.GetDataDriver())
}

func (svc *envService) GetDataSource() string {
	return svc.str("DATA_SOURCE", fmt.Sprintf("%s/surveillance.db", svc.GetInputFolder()))
}

func (svc *envService) GetStatsPeriodicTimeout() int {
	return svc.integer("STATS_PERIOD", svc.defaults.GetStatsPeriodicTimeout())
}

func (svc *envService) GetDetectionEnabled() bool {
	return svc.boolean("DETECTION_ENABLED", svc.defaults.GetDetectionEnabled())
}

func (svc *envService) GetDetectionMaxAge() time.Duration {
	return ClampMaxAge(svc.duration("DETECTION_MAX_AGE", svc.defaults.GetDetectionMaxAge()))
}

func (svc *envService) GetDetectionPollInterval() time.Duration {
	return svc.duration("DETECTION_POLL_INTERVAL", svc.defaults.GetDetectionPollInterval())
}

func (svc *envService) GetDetectionSkipFactor() int {
	n := svc.integer("DETECTION_SKIP_FACTOR", svc.defaults.GetDetectionSkipFactor())
	if n < 1 {
		return 1
	}
	return n
}

func (svc *envService) GetDetectionMaxWidth() int {
	return svc.integer("DETECTION_MAX_WIDTH", svc.defaults.GetDetectionMaxWidth())
}

func (svc *envService) GetDetectionLogFile() string {
	return svc.str("DETECTION_LOG_FILE", svc.defaults.GetDetectionLogFile())
}

func (svc *envService) GetDangerClasses() []string {
	v := svc.str("DANGER_CLASSES", "")
	if v == "" {
		return svc.defaults.GetDangerClasses()
	}
	return SplitList(v)
}

func (svc *envService) GetJPEGQuality() int {
	return svc.integer("JPEG_QUALITY", svc.defaults.GetJPEGQuality())
}

func (svc *envService) GetLiveHUD() bool {
	return svc.boolean("LIVE_HUD", svc.defaults.GetLiveHUD())
}

func (svc *envService) GetNotifyConfidence() float64 {
	return svc.float("NOTIFY_CONFIDENCE", svc.defaults.GetNotifyConfidence())
}

func (svc *envService) GetNotifyCooldown() time.Duration {
	return svc.duration("NOTIFY_COOLDOWN", svc.defaults.GetNotifyCooldown())
}

func (svc *envService) GetNotifyQueueSize() int {
	return svc.integer("NOTIFY_QUEUE_SIZE", svc.defaults.GetNotifyQueueSize())
}

func (svc *envService) GetTelegramToken() string {
	return svc.str("TELEGRAM_TOKEN", svc.defaults.GetTelegramToken())
}

func (svc *envService) GetTelegramAPIURL() string {
	return svc.str("TELEGRAM_API_URL", svc.defaults.GetTelegramAPIURL())
}

func (svc *envService) GetMQTTBroker() string {
	return svc.str("MQTT_BROKER", svc.defaults.GetMQTTBroker())
}

func (svc *envService) GetMQTTTopic() string {
	return svc.str("MQTT_TOPIC", svc.defaults.GetMQTTTopic())
}

func (svc *envService) GetWebhookURL() string {
	return svc.str("WEBHOOK_URL", svc.defaults.GetWebhookURL())
}

func (svc *envService) GetYoloModelPath() string {
	return svc.str("YOLO_MODEL_PATH", svc.defaults.GetYoloModelPath())
}

func (svc *envService) GetYoloLabelsPath() string {
	return svc.str("YOLO_LABELS_PATH", svc.defaults.GetYoloLabelsPath())
}

func (svc *envService) GetFramerType() string {
	return svc.str("FRAMER_TYPE", svc.defaults.GetFramerType())
}

func (svc *envService) GetFramerFolder() string {
	return svc.str("FRAMER_FOLDER", svc.defaults.GetFramerFolder())
}

func (svc *envService) GetFramerFPS() int {
	return svc.integer("FRAMER_FPS", svc.defaults.GetFramerFPS())
}

func (svc *envService) GetLogLevel() string {
	return svc.str("LOG_LEVEL", svc.defaults.GetLogLevel())
}

func (svc *envService) GetLogFile() string {
	return svc.str("LOG_FILE", svc.defaults.GetLogFile())
}

// SplitList splits a comma separated list, trimming blanks and dropping
// empty items.
func SplitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
