package pipeline

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-live/model"
)

func TestCacheExpiry(t *testing.T) {
	clk := clock.NewMock()
	c := NewDetectionCache(clk, 1500*time.Millisecond)

	_, ok := c.Snapshot()
	assert.False(t, ok)

	c.Publish(model.DetectionResult{
		Boxes:     []model.DetectionBox{{X: 1, Y: 2, W: 3, H: 4, Label: "person", Confidence: 0.9}},
		Timestamp: clk.Now(),
		Seq:       1,
	})

	_, ok = c.Snapshot()
	assert.True(t, ok)

	// age == max age is still fresh
	clk.Add(1500 * time.Millisecond)
	_, ok = c.Snapshot()
	assert.True(t, ok)

	clk.Add(time.Millisecond)
	_, ok = c.Snapshot()
	assert.False(t, ok)

	// expired is not the same as gone
	_, ok = c.Latest()
	assert.True(t, ok)
}

func TestCacheFutureTimestampIsFresh(t *testing.T) {
	clk := clock.NewMock()
	c := NewDetectionCache(clk, time.Second)

	c.Publish(model.DetectionResult{Timestamp: clk.Now().Add(time.Hour)})
	_, ok := c.Snapshot()
	assert.True(t, ok)
}

func TestCacheClearInvalidatesInflight(t *testing.T) {
	clk := clock.NewMock()
	c := NewDetectionCache(clk, time.Second)

	epoch := c.Epoch()
	c.Clear()

	assert.False(t, c.PublishIfCurrent(epoch, model.DetectionResult{Timestamp: clk.Now()}))
	_, ok := c.Latest()
	assert.False(t, ok)

	assert.True(t, c.PublishIfCurrent(c.Epoch(), model.DetectionResult{Timestamp: clk.Now(), Seq: 2}))
	r, ok := c.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(2), r.Seq)
}

func TestCacheSnapshotIsACopy(t *testing.T) {
	clk := clock.NewMock()
	c := NewDetectionCache(clk, time.Second)

	result := func() model.DetectionResult {
		classID := 0
		return model.DetectionResult{
			Boxes:     []model.DetectionBox{{X: 10, Y: 10, W: 50, H: 50, Label: "person", Confidence: 0.8, ClassID: &classID}},
			Timestamp: clk.Now(),
			Seq:       9,
		}
	}

	published := result()
	c.Publish(published)
	*published.Boxes[0].ClassID = 5

	got, ok := c.Snapshot()
	require.True(t, ok)
	got.Boxes[0].Label = "changed"
	*got.Boxes[0].ClassID = 7

	again, _ := c.Snapshot()
	if diff := cmp.Diff(result(), again); diff != "" {
		t.Errorf("cached result mutated (-want +got):\n%s", diff)
	}
}

func TestCacheClearedSnapshotStaysEmpty(t *testing.T) {
	clk := clock.NewMock()
	c := NewDetectionCache(clk, time.Second)

	c.Publish(model.DetectionResult{
		Boxes:     []model.DetectionBox{{W: 1, H: 1, Label: "person", Confidence: 0.9}},
		Timestamp: clk.Now(),
	})
	c.Clear()

	for i := 0; i < 3; i++ {
		_, ok := c.Snapshot()
		assert.False(t, ok, "snapshot %d", i)
		_, ok = c.Latest()
		assert.False(t, ok, "latest %d", i)
	}
}

func TestCacheSetMaxAge(t *testing.T) {
	clk := clock.NewMock()
	c := NewDetectionCache(clk, 10*time.Second)
	assert.Equal(t, 3*time.Second, c.MaxAge())

	require.NoError(t, c.SetMaxAge(500*time.Millisecond))
	assert.Equal(t, 500*time.Millisecond, c.MaxAge())

	for _, bad := range []time.Duration{0, 99 * time.Millisecond, 3001 * time.Millisecond} {
		err := c.SetMaxAge(bad)
		var verr *model.ValidationError
		assert.ErrorAs(t, err, &verr, "max age %v", bad)
		assert.Equal(t, 500*time.Millisecond, c.MaxAge())
	}
}
