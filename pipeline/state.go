package pipeline

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/khaledhikmat/vs-live/model"
)

// SystemState is the runtime-tunable state shared by the ingest, detection
// and live paths.
type SystemState struct {
	clock clock.Clock

	mu        sync.RWMutex
	negative  bool
	detection bool
	hud       bool
	danger    map[string]struct{}
	gps       model.GPS
	env       model.Environment
	command   string

	// closed and replaced on every detection toggle
	detectionChanged chan struct{}
}

func NewSystemState(clk clock.Clock, dangerClasses []string) *SystemState {
	s := &SystemState{
		clock:            clk,
		danger:           map[string]struct{}{},
		detectionChanged: make(chan struct{}),
	}
	for _, c := range dangerClasses {
		if c = normalizeLabel(c); c != "" {
			s.danger[c] = struct{}{}
		}
	}
	return s
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (s *SystemState) Effects() model.Effects {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Effects{
		Negative:  s.negative,
		Detection: s.detection,
		HUD:       s.hud,
	}
}

func (s *SystemState) SetNegative(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negative = on
}

func (s *SystemState) ToggleNegative() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.negative = !s.negative
	return s.negative
}

func (s *SystemState) SetHUD(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hud = on
}

func (s *SystemState) DetectionEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detection
}

// SetDetection reports whether the flag actually changed.
func (s *SystemState) SetDetection(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detection == on {
		return false
	}
	s.detection = on
	close(s.detectionChanged)
	s.detectionChanged = make(chan struct{})
	return true
}

// DetectionChanged returns a channel closed on the next detection toggle.
func (s *SystemState) DetectionChanged() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detectionChanged
}

func (s *SystemState) DangerClasses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.danger))
	for c := range s.danger {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SetDangerClasses replaces the whole set. Blank entries are dropped; an
// empty resulting set is accepted and means nothing is highlighted.
func (s *SystemState) SetDangerClasses(classes []string) {
	set := map[string]struct{}{}
	for _, c := range classes {
		if c = normalizeLabel(c); c != "" {
			set[c] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.danger = set
}

func (s *SystemState) IsDanger(label string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.danger[normalizeLabel(label)]
	return ok
}

func (s *SystemState) SetGPS(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return model.NewValidationError("gps", "latitude %v out of range", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return model.NewValidationError("gps", "longitude %v out of range", lon)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gps = model.GPS{
		Latitude:  lat,
		Longitude: lon,
		Valid:     true,
		Updated:   s.clock.Now(),
	}
	return nil
}

func (s *SystemState) GPS() model.GPS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gps
}

func (s *SystemState) SetEnvironment(temperature, humidity float64) error {
	if math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		return model.NewValidationError("temperature", "not a number")
	}
	if math.IsNaN(humidity) || humidity < 0 || humidity > 100 {
		return model.NewValidationError("humidity", "%v out of range", humidity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = model.Environment{
		Temperature: temperature,
		Humidity:    humidity,
		Valid:       true,
		Updated:     s.clock.Now(),
	}
	return nil
}

func (s *SystemState) Environment() model.Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env
}

func (s *SystemState) SetCommand(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return model.NewValidationError("direction", "empty command")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.command = cmd
	return nil
}

func (s *SystemState) Command() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.command
}

func since(clk clock.Clock, t time.Time) int64 {
	return int64(clk.Since(t).Seconds())
}
