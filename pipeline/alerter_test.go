package pipeline

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-live/model"
	"github.com/khaledhikmat/vs-live/service/notify"
)

type alerterFixture struct {
	clock    *clock.Mock
	state    *SystemState
	notifier *notify.Fake
	alerter  *Alerter
	frame    Frame
}

func newAlerterFixture(t *testing.T, cfg AlerterConfig) *alerterFixture {
	t.Helper()

	clk := clock.NewMock()
	state := NewSystemState(clk, []string{"person", "knife"})
	f := &alerterFixture{
		clock:    clk,
		state:    state,
		notifier: notify.NewFake(),
		frame:    Frame{Data: encodeJPEG(t, brightSquare(64, 48, image.Rect(8, 8, 24, 24))), Seq: 1},
	}
	f.alerter = NewAlerter(cfg, clk, state, NewCompositor(clk, 90, state.IsDanger), f.notifier)
	return f
}

func result(boxes ...model.DetectionBox) model.DetectionResult {
	return model.DetectionResult{Boxes: boxes, Seq: 1}
}

func box(label string, conf float64) model.DetectionBox {
	return model.DetectionBox{X: 8, Y: 8, W: 16, H: 16, Label: label, Confidence: conf}
}

func TestAlerterThresholdAndDangerSet(t *testing.T) {
	f := newAlerterFixture(t, AlerterConfig{Confidence: 0.6, Cooldown: 30 * time.Second})

	n := f.alerter.Consider(result(
		box("person", 0.6),
		box("dog", 0.99),
	), f.frame, nil)
	assert.Equal(t, 0, n)

	n = f.alerter.Consider(result(box("Person", 0.61)), f.frame, nil)
	assert.Equal(t, 1, n)
}

func TestAlerterCooldownPerLabel(t *testing.T) {
	f := newAlerterFixture(t, AlerterConfig{Confidence: 0.6, Cooldown: 30 * time.Second, QueueSize: 10})

	assert.Equal(t, 1, f.alerter.Consider(result(box("person", 0.9)), f.frame, nil))
	assert.Equal(t, 0, f.alerter.Consider(result(box("person", 0.9)), f.frame, nil))

	// a different label has its own cooldown
	assert.Equal(t, 1, f.alerter.Consider(result(box("knife", 0.9)), f.frame, nil))

	f.clock.Add(29 * time.Second)
	assert.Equal(t, 0, f.alerter.Consider(result(box("person", 0.9)), f.frame, nil))

	f.clock.Add(time.Second)
	assert.Equal(t, 1, f.alerter.Consider(result(box("person", 0.9)), f.frame, nil))

	assert.Equal(t, uint64(2), f.alerter.Stats().Suppressed)
}

func TestAlerterDropsWhenQueueFull(t *testing.T) {
	f := newAlerterFixture(t, AlerterConfig{Confidence: 0.5, QueueSize: 1})

	n := f.alerter.Consider(result(box("person", 0.9), box("knife", 0.9)), f.frame, nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), f.alerter.Stats().Dropped)
}

func TestAlerterDelivers(t *testing.T) {
	f := newAlerterFixture(t, AlerterConfig{Confidence: 0.6, Cooldown: time.Minute})
	require.NoError(t, f.state.SetGPS(1.5, 2.25))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.alerter.Run(ctx) }()

	require.Equal(t, 1, f.alerter.Consider(result(box("person", 0.87)), f.frame, nil))

	select {
	case alert := <-f.notifier.Sent():
		assert.Equal(t, "person", alert.Label)
		assert.Equal(t, "1.500000,2.250000", alert.GPS)
		assert.Contains(t, alert.Caption, "PERSON")
		assert.Contains(t, alert.Caption, "87%")
		assert.NotEmpty(t, alert.Image)
		assert.NotEqual(t, f.frame.Data, alert.Image)
	case <-time.After(waitFor):
		t.Fatal("alert not delivered")
	}

	require.Eventually(t, func() bool {
		return f.alerter.Stats().Alerts == 1
	}, waitFor, tick)
}

func TestAlerterCountsDeliveryErrors(t *testing.T) {
	f := newAlerterFixture(t, AlerterConfig{Confidence: 0.6})
	f.notifier.Err = errors.New("telegram down")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.alerter.Run(ctx) }()

	f.alerter.Consider(result(box("knife", 0.9)), f.frame, nil)

	require.Eventually(t, func() bool {
		return f.alerter.Stats().Errors == 1
	}, waitFor, tick)
	assert.Equal(t, uint64(0), f.alerter.Stats().Alerts)
}

func TestAlertCaption(t *testing.T) {
	assert.Equal(t,
		"🚨 Detected: KNIFE\nConfidence: 92%\nGPS: unknown\nCheck the live feed!",
		AlertCaption("knife", 0.92, "unknown"))
}
