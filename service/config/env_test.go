package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khaledhikmat/vs-live/service/lgr"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestEnvFallsBackToDefaults(t *testing.T) {
	lgr.Discard()
	svc := newEnvWithLookup(mapLookup(nil))
	def := NewHardCoded()

	assert.Equal(t, def.GetHTTPAddress(), svc.GetHTTPAddress())
	assert.Equal(t, def.GetDetectionMaxAge(), svc.GetDetectionMaxAge())
	assert.Equal(t, def.GetDangerClasses(), svc.GetDangerClasses())
	assert.Equal(t, def.GetNotifyCooldown(), svc.GetNotifyCooldown())
}

func TestEnvOverrides(t *testing.T) {
	lgr.Discard()
	svc := newEnvWithLookup(mapLookup(map[string]string{
		"HTTP_ADDRESS":          ":8080",
		"DETECTION_MAX_AGE":     "2",
		"DETECTION_SKIP_FACTOR": "3",
		"DANGER_CLASSES":        " person, knife ,,fire",
		"NOTIFY_COOLDOWN":       "10s",
		"LIVE_HUD":              "true",
		"SETTINGS_FOLDER":       "/tmp/cfg",
	}))

	assert.Equal(t, ":8080", svc.GetHTTPAddress())
	assert.Equal(t, 2*time.Second, svc.GetDetectionMaxAge())
	assert.Equal(t, 3, svc.GetDetectionSkipFactor())
	assert.Equal(t, []string{"person", "knife", "fire"}, svc.GetDangerClasses())
	assert.Equal(t, 10*time.Second, svc.GetNotifyCooldown())
	assert.True(t, svc.GetLiveHUD())
	assert.Equal(t, "/tmp/cfg/chat_ids.json", svc.GetChatsInputFile())
	assert.Equal(t, "/tmp/cfg/surveillance.db", svc.GetDataSource())
}

func TestEnvClampsMaxAgeAndIgnoresGarbage(t *testing.T) {
	lgr.Discard()
	svc := newEnvWithLookup(mapLookup(map[string]string{
		"DETECTION_MAX_AGE":     "10s",
		"DETECTION_SKIP_FACTOR": "zero",
		"JPEG_QUALITY":          "high",
	}))

	assert.Equal(t, MaxDetectionMaxAge, svc.GetDetectionMaxAge())
	assert.Equal(t, 1, svc.GetDetectionSkipFactor())
	assert.Equal(t, 95, svc.GetJPEGQuality())

	svc = newEnvWithLookup(mapLookup(map[string]string{"DETECTION_MAX_AGE": "10ms"}))
	assert.Equal(t, MinDetectionMaxAge, svc.GetDetectionMaxAge())
}
