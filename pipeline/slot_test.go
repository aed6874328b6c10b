package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotPutOverwrites(t *testing.T) {
	s := NewFrameSlot("test")

	s.Put(Frame{Data: []byte("a"), Seq: 1})
	s.Put(Frame{Data: []byte("b"), Seq: 2})
	s.Put(Frame{Data: []byte("c"), Seq: 3})

	f, err := s.Take(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.Seq)

	_, err = s.Take(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoFrame)

	stats := s.Stats()
	assert.Equal(t, uint64(3), stats.Puts)
	assert.Equal(t, uint64(1), stats.Takes)
	assert.Equal(t, uint64(2), stats.Drops)
}

func TestSlotPutNeverBlocks(t *testing.T) {
	s := NewFrameSlot("test")

	start := time.Now()
	for i := 0; i < 10000; i++ {
		s.Put(Frame{Data: []byte{byte(i)}, Seq: uint64(i)})
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestSlotTakeTimesOut(t *testing.T) {
	s := NewFrameSlot("test")

	start := time.Now()
	_, err := s.Take(context.Background(), 20*time.Millisecond)
	assert.True(t, errors.Is(err, ErrNoFrame))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSlotTakeCancelled(t *testing.T) {
	s := NewFrameSlot("test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Take(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSlotTakeWakesOnPut(t *testing.T) {
	s := NewFrameSlot("test")

	got := make(chan Frame, 1)
	go func() {
		f, err := s.Take(context.Background(), time.Second)
		if err == nil {
			got <- f
		}
	}()

	time.Sleep(10 * time.Millisecond)
	s.Put(Frame{Data: []byte("x"), Seq: 7})

	select {
	case f := <-got:
		assert.Equal(t, uint64(7), f.Seq)
	case <-time.After(time.Second):
		t.Fatal("take did not wake up")
	}
}

func TestSlotDrain(t *testing.T) {
	s := NewFrameSlot("test")
	assert.False(t, s.Drain())

	s.Put(Frame{Data: []byte("x")})
	assert.True(t, s.Drain())

	_, err := s.Take(context.Background(), 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestSlotEachFrameTakenOnce(t *testing.T) {
	s := NewFrameSlot("test")

	const frames = 500
	var (
		mu   sync.Mutex
		seen = map[uint64]int{}
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				f, err := s.Take(ctx, 5*time.Millisecond)
				if errors.Is(err, context.Canceled) {
					return
				}
				if err != nil {
					continue
				}
				mu.Lock()
				seen[f.Seq]++
				mu.Unlock()
			}
		}()
	}

	for i := 1; i <= frames; i++ {
		s.Put(Frame{Data: []byte{1}, Seq: uint64(i)})
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	for seq, n := range seen {
		assert.Equal(t, 1, n, "frame %d taken more than once", seq)
	}

	stats := s.Stats()
	assert.Equal(t, stats.Puts, stats.Takes+stats.Drops)
}
