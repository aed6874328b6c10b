package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/khaledhikmat/vs-live/model"
)

func newTestGateway() (*IngestGateway, *FrameSlot, *FrameSlot, *SystemState) {
	clk := clock.NewMock()
	live := NewFrameSlot("live")
	detect := NewFrameSlot("detection")
	state := NewSystemState(clk, nil)
	return NewIngestGateway(clk, live, detect, state), live, detect, state
}

func TestGatewayRoutesFrames(t *testing.T) {
	g, live, detect, state := newTestGateway()

	_, err := g.Accept(nil)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	f, err := g.Accept([]byte("one"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Seq)

	got, err := live.Take(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got.Data)

	// detection is off, so nothing reaches the detection slot
	_, err = detect.Take(context.Background(), 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrNoFrame)

	state.SetDetection(true)
	_, err = g.Accept([]byte("two"))
	require.NoError(t, err)

	got, err = detect.Take(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Seq)

	latest, ok := g.Latest()
	require.True(t, ok)
	assert.Equal(t, []byte("two"), latest.Data)
	assert.Equal(t, uint64(2), g.Frames())
}

func TestGatewayLatestBeforeFirstFrame(t *testing.T) {
	g, _, _, _ := newTestGateway()

	_, ok := g.Latest()
	assert.False(t, ok)
}

func TestGatewayTelemetry(t *testing.T) {
	tests := []struct {
		name    string
		gps     string
		env     string
		errs    int
		wantGPS string
		wantEnv bool
	}{
		{"none", "", "", 0, "unknown", false},
		{"both", "25.2, 55.3", "30.5,45", 0, "25.200000,55.300000", true},
		{"bad gps", "north", "30.5,45", 1, "unknown", true},
		{"out of range", "95,10", "", 1, "unknown", false},
		{"both bad", "1", "hot,wet", 2, "unknown", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, _, _, state := newTestGateway()

			err := g.UpdateTelemetry(tc.gps, tc.env)
			assert.Len(t, multierr.Errors(err), tc.errs)
			assert.Equal(t, tc.wantGPS, state.GPS().String())
			assert.Equal(t, tc.wantEnv, state.Environment().Valid)
		})
	}
}
