package pipeline

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/config"
)

// DetectionCache holds the most recent detection result. Readers only get
// it while it is younger than the configured max age.
type DetectionCache struct {
	clock clock.Clock

	mu     sync.RWMutex
	result *model.DetectionResult
	maxAge time.Duration
	epoch  uint64
}

func NewDetectionCache(clk clock.Clock, maxAge time.Duration) *DetectionCache {
	return &DetectionCache{
		clock:  clk,
		maxAge: config.ClampMaxAge(maxAge),
	}
}

// Publish replaces the current result unconditionally.
func (c *DetectionCache) Publish(r model.DetectionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r = r.Clone()
	c.result = &r
}

// PublishIfCurrent publishes r only when no Clear happened since epoch was
// read. It returns false when the result was discarded.
func (c *DetectionCache) PublishIfCurrent(epoch uint64, r model.DetectionResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return false
	}
	r = r.Clone()
	c.result = &r
	return true
}

func (c *DetectionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.result = nil
	c.epoch++
}

func (c *DetectionCache) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Snapshot returns the cached result if it is fresh at the current time.
func (c *DetectionCache) Snapshot() (model.DetectionResult, bool) {
	return c.SnapshotAt(c.clock.Now(), c.MaxAge())
}

// SnapshotAt returns the cached result when now - timestamp <= maxAge.
// Results stamped in the future are treated as fresh.
func (c *DetectionCache) SnapshotAt(now time.Time, maxAge time.Duration) (model.DetectionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.result == nil {
		return model.DetectionResult{}, false
	}
	if now.Sub(c.result.Timestamp) > maxAge {
		return model.DetectionResult{}, false
	}
	return c.result.Clone(), true
}

// Latest returns the cached result regardless of its age.
func (c *DetectionCache) Latest() (model.DetectionResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.result == nil {
		return model.DetectionResult{}, false
	}
	return c.result.Clone(), true
}

func (c *DetectionCache) MaxAge() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxAge
}

// SetMaxAge rejects values outside [0.1s, 3s] and leaves the current value
// untouched in that case.
func (c *DetectionCache) SetMaxAge(d time.Duration) error {
	if d < config.MinDetectionMaxAge || d > config.MaxDetectionMaxAge {
		return model.NewValidationError("max_age", "%.2fs is outside [%.1fs, %.1fs]",
			d.Seconds(), config.MinDetectionMaxAge.Seconds(), config.MaxDetectionMaxAge.Seconds())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxAge = d
	return nil
}
