package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/khaledhikmat/vs-live/model"
)

var ErrNoFrame = errors.New("no frame available")

// FrameSlot holds at most one frame. Put never blocks and overwrites any
// unconsumed frame. Take hands the held frame to exactly one reader.
type FrameSlot struct {
	name string

	mu    sync.Mutex
	frame *Frame
	ready chan struct{}

	puts  atomic.Uint64
	takes atomic.Uint64
	drops atomic.Uint64
}

func NewFrameSlot(name string) *FrameSlot {
	return &FrameSlot{
		name:  name,
		ready: make(chan struct{}, 1),
	}
}

func (s *FrameSlot) Put(f Frame) {
	s.mu.Lock()
	if s.frame != nil {
		s.drops.Add(1)
	}
	s.frame = &f
	s.mu.Unlock()
	s.puts.Add(1)

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Take waits up to timeout for a frame. It returns ErrNoFrame on timeout
// and the context error on cancellation.
func (s *FrameSlot) Take(ctx context.Context, timeout time.Duration) (Frame, error) {
	if f, ok := s.tryTake(); ok {
		return f, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-timer.C:
			return Frame{}, ErrNoFrame
		case <-s.ready:
			// The signal may be stale if another reader got there first
			if f, ok := s.tryTake(); ok {
				return f, nil
			}
		}
	}
}

func (s *FrameSlot) tryTake() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return Frame{}, false
	}

	f := *s.frame
	s.frame = nil
	s.takes.Add(1)
	return f, true
}

// Drain discards the held frame, if any, and reports whether one was held.
func (s *FrameSlot) Drain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil {
		return false
	}
	s.frame = nil
	s.drops.Add(1)
	return true
}

func (s *FrameSlot) Stats() model.SlotStats {
	return model.SlotStats{
		Name:      s.name,
		Puts:      s.puts.Load(),
		Takes:     s.takes.Load(),
		Drops:     s.drops.Load(),
		Timestamp: time.Now().Unix(),
	}
}
