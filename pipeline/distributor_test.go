package pipeline

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-live/model"
)

func newTestDistributor(t *testing.T) (*LiveDistributor, *FrameSlot, *DetectionCache, *SystemState, *clock.Mock) {
	t.Helper()

	clk := clock.NewMock()
	slot := NewFrameSlot("live")
	cache := NewDetectionCache(clk, time.Second)
	state := NewSystemState(clk, []string{"person"})
	comp := NewCompositor(clk, 100, state.IsDanger)
	return NewLiveDistributor(clk, slot, cache, state, comp, 5*time.Millisecond), slot, cache, state, clk
}

func TestDistributorRenderUsesOnlyFreshResults(t *testing.T) {
	d, _, cache, state, clk := newTestDistributor(t)
	state.SetDetection(true)

	raw := encodeJPEG(t, image.NewRGBA(image.Rect(0, 0, 120, 120)))
	cache.Publish(model.DetectionResult{
		Boxes:     []model.DetectionBox{{X: 16, Y: 16, W: 64, H: 64, Label: "person", Confidence: 0.9}},
		Timestamp: clk.Now(),
	})

	edge := func(data []byte) color.Color {
		return decodeJPEG(t, data).At(16, 48)
	}

	r, _, _, _ := edge(d.Render(raw)).RGBA()
	assert.Greater(t, r>>8, uint32(200), "fresh box is drawn")

	clk.Add(2 * time.Second)
	r, _, _, _ = edge(d.Render(raw)).RGBA()
	assert.Less(t, r>>8, uint32(50), "expired box is not drawn")
}

func TestDistributorSkipsWithoutViewers(t *testing.T) {
	d, slot, _, _, _ := newTestDistributor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	slot.Put(Frame{Data: encodeJPEG(t, grayFrame(32, 32)), Seq: 1})
	require.Eventually(t, func() bool {
		return d.Stats().Skipped == 1
	}, waitFor, tick)
	assert.Equal(t, uint64(0), d.Stats().Frames)
}

func TestDistributorStreamsWholeParts(t *testing.T) {
	d, slot, _, _, _ := newTestDistributor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	// alternate sizes so a part carrying bytes of an older frame shows up
	frames := [][]byte{
		encodeJPEG(t, brightSquare(200, 200, image.Rect(20, 20, 180, 180))),
		encodeJPEG(t, grayFrame(16, 16)),
	}
	go func() {
		for i := uint64(1); ctx.Err() == nil; i++ {
			slot.Put(Frame{Data: frames[i%2], Seq: i})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	srv := httptest.NewServer(d)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	boundary := params["boundary"]
	require.NotEmpty(t, boundary)
	assert.Equal(t, int64(1), d.Viewers())

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--"+boundary+"\r\n", first)

	delim := "\r\n--" + boundary + "\r\n"
	sizes := map[int]bool{}
	for i := 0; i < 6; i++ {
		header, err := textproto.NewReader(reader).ReadMIMEHeader()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", header.Get("Content-Type"))

		n, err := strconv.Atoi(header.Get("Content-Length"))
		require.NoError(t, err)
		body := make([]byte, n)
		_, err = io.ReadFull(reader, body)
		require.NoError(t, err)
		decodeJPEG(t, body)
		sizes[n] = true

		after := make([]byte, len(delim))
		_, err = io.ReadFull(reader, after)
		require.NoError(t, err)
		require.Equal(t, delim, string(after), "part %d", i)
	}
	assert.Len(t, sizes, 2)
	assert.GreaterOrEqual(t, d.Stats().Frames, uint64(6))

	resp.Body.Close()
	require.Eventually(t, func() bool {
		return d.Viewers() == 0
	}, 5*time.Second, tick)
}

func TestDistributorIdleViewerDisconnects(t *testing.T) {
	d, _, _, _, _ := newTestDistributor(t)

	srv := httptest.NewServer(d)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool {
		return d.Viewers() == 1
	}, waitFor, tick)

	resp.Body.Close()
	require.Eventually(t, func() bool {
		return d.Viewers() == 0
	}, 5*time.Second, tick)
}
