package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-live/model"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) ingest(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
	return nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestNewFramerUnknownType(t *testing.T) {
	assert.Nil(t, NewFramer("", ""))
	assert.Nil(t, NewFramer("webcam", ""))
}

func TestRandomFramer(t *testing.T) {
	sink := &frameSink{}
	statsStream := make(chan interface{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewFramer("random", "")(ctx, 100, sink.ingest, nil, statsStream)
	}()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, waitFor, tick)
	cancel()
	<-done

	img := decodeJPEG(t, sink.frames[0])
	assert.Equal(t, randomFrameWidth, img.Bounds().Dx())
	assert.Equal(t, randomFrameHeight, img.Bounds().Dy())

	stats := (<-statsStream).(model.FramerStats)
	assert.Equal(t, "randomFramer", stats.Name)
	assert.GreaterOrEqual(t, stats.Frames, 3)
}

func TestFolderFramerReplaysFiles(t *testing.T) {
	dir := t.TempDir()
	frame := encodeJPEG(t, grayFrame(16, 16))
	for _, name := range []string{"b.jpg", "a.JPEG", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), frame, 0o644))
	}

	files, err := listJPEGs(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.JPEG"), filepath.Join(dir, "b.jpg")}, files)

	sink := &frameSink{}
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	go NewFramer("folder", dir)(ctx, 200, sink.ingest, nil, make(chan interface{}, 1))
	require.Eventually(t, func() bool { return sink.count() >= 4 }, waitFor, tick)
}

func TestFolderFramerReportsEmptyFolder(t *testing.T) {
	errorStream := make(chan interface{}, 1)

	NewFramer("folder", t.TempDir())(context.Background(), 10, (&frameSink{}).ingest, errorStream, make(chan interface{}, 1))

	select {
	case err := <-errorStream:
		cerr, ok := err.(model.CustomError)
		require.True(t, ok)
		assert.Equal(t, "folder_framer", cerr.Processor)
	case <-time.After(time.Second):
		t.Fatal("no error reported")
	}
}
