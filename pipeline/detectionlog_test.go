package pipeline

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-live/model"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestDetectionLogRecordsNonEmptyResults(t *testing.T) {
	buf := &bufferCloser{}
	l := newDetectionLogWriter(buf)

	l.Record(model.DetectionResult{Seq: 1, Timestamp: time.Now()})
	l.Record(model.DetectionResult{
		Seq:            2,
		Timestamp:      time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC),
		ProcessingTime: 42 * time.Millisecond,
		Boxes:          []model.DetectionBox{{X: 1, Y: 2, W: 3, H: 4, Label: "person", Confidence: 0.75}},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry detectionEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, uint64(2), entry.Seq)
	assert.Equal(t, int64(42), entry.ProcTimeMS)
	assert.Equal(t, "2024-05-17T09:30:00Z", entry.Time)
	require.Len(t, entry.Detections, 1)
	assert.Equal(t, "person", entry.Detections[0].Label)

	require.NoError(t, l.Close())
	assert.True(t, buf.closed)
}

func TestDetectionLogDisabled(t *testing.T) {
	l := NewDetectionLog("")
	assert.Nil(t, l)

	// a nil log is usable
	l.Record(model.DetectionResult{Boxes: []model.DetectionBox{{Label: "person"}}})
	assert.NoError(t, l.Close())
}
