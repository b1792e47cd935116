// internal/compositor/compositor_test.go
package compositor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/constellation/internal/config"
	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/mailbox"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

type recordingRenderer struct {
	frames []geometry.DeviceSize
	inners []geometry.DeviceRect
}

func (r *recordingRenderer) SetWindowParameters(frame geometry.DeviceSize, inner geometry.DeviceRect) {
	r.frames = append(r.frames, frame)
	r.inners = append(r.inners, inner)
}

// chanSender adapts a buffered channel to mailbox.Sender.
type chanSender[T any] chan T

func (c chanSender[T]) Send(msg T) bool {
	c <- msg
	return true
}

type fixture struct {
	comp     *Compositor
	window   *HeadlessWindow
	renderer *recordingRenderer
	out      chan protocol.ConstellationMsg
}

func testConfig() config.CompositorConfig {
	return config.CompositorConfig{
		InboxSize:    8,
		MinPageZoom:  0.1,
		MaxPageZoom:  8,
		MinPinchZoom: 1,
	}
}

func newFixture(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	window := NewHeadlessWindow(1024, 768, 1)
	renderer := &recordingRenderer{}
	out := make(chan protocol.ConstellationMsg, 16)
	return &fixture{
		comp:     New(logger, testConfig(), window, renderer, chanSender[protocol.ConstellationMsg](out)),
		window:   window,
		renderer: renderer,
		out:      out,
	}
}

// installRoot installs a frame tree and consumes the initial round it starts.
func (f *fixture) installRoot(t *testing.T, tab protocol.TopLevelBrowsingContextID) protocol.WindowSize {
	t.Helper()
	f.comp.handleMsg(protocol.SetFrameTree{Root: protocol.PipelineID(1), TopLevel: tab})
	return f.expectWindowSize(t)
}

func (f *fixture) expectWindowSize(t *testing.T) protocol.WindowSize {
	t.Helper()
	select {
	case msg := <-f.out:
		ws, ok := msg.(protocol.WindowSize)
		require.True(t, ok, "expected WindowSize, got %T", msg)
		return ws
	default:
		t.Fatal("expected a WindowSize message")
		return protocol.WindowSize{}
	}
}

func (f *fixture) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case msg := <-f.out:
		t.Fatalf("unexpected message %T", msg)
	default:
	}
}

func TestCompositor_SnapshotWithoutRootPipeline(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.comp.Snapshot(protocol.SizeTypeResize)
	assert.ErrorIs(t, err, ErrNoRootPipeline)
}

func TestCompositor_ResizeBeforeRootIsLoggedAndDropped(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core))

	f.window.SetSize(800, 600)
	assert.False(t, f.comp.OnResizeWindowEvent(geometry.DeviceSize{Width: 800, Height: 600}))

	f.expectNothing(t)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Skipping window size propagation.", logs.All()[0].Message)
	// Geometry is still updated so the next round carries the new size.
	assert.Equal(t, uint32(800), f.comp.State().WindowRect.Size.Width)
	assert.Empty(t, f.renderer.frames)
}

func TestCompositor_SetFrameTreeStartsInitialRound(t *testing.T) {
	f := newFixture(t, nil)
	tab := protocol.TopLevelBrowsingContextID(7)

	ws := f.installRoot(t, tab)

	assert.Equal(t, tab, ws.TopLevel)
	assert.Equal(t, protocol.SizeTypeInitial, ws.Type)
	assert.Equal(t, geometry.CSSSize{Width: 1024, Height: 768}, ws.Data.InitialViewport)
	assert.Equal(t, float32(1), ws.Data.DevicePixelRatio)
	root, ok := f.comp.Root()
	require.True(t, ok)
	assert.Equal(t, protocol.PipelineID(1), root.Pipeline)
}

func TestCompositor_SpuriousResizeIsSuppressed(t *testing.T) {
	f := newFixture(t, nil)
	f.installRoot(t, protocol.TopLevelBrowsingContextID(1))

	assert.False(t, f.comp.OnResizeWindowEvent(geometry.DeviceSize{Width: 1024, Height: 768}))
	f.expectNothing(t)
}

func TestCompositor_ResizePropagates(t *testing.T) {
	f := newFixture(t, nil)
	f.installRoot(t, protocol.TopLevelBrowsingContextID(1))

	frame := f.window.SetSize(1280, 720)
	require.True(t, f.comp.OnResizeWindowEvent(frame))

	ws := f.expectWindowSize(t)
	assert.Equal(t, protocol.SizeTypeResize, ws.Type)
	assert.Equal(t, geometry.CSSSize{Width: 1280, Height: 720}, ws.Data.InitialViewport)
	require.Len(t, f.renderer.frames, 2)
	assert.Equal(t, frame, f.renderer.frames[1])
	assert.Equal(t, geometry.NewDeviceRect(0, 0, 1280, 720), f.renderer.inners[1])

	// The same size again is a no-op.
	assert.False(t, f.comp.OnResizeWindowEvent(frame))
	f.expectNothing(t)
}

func TestCompositor_ScaleFactorChangeAlone(t *testing.T) {
	f := newFixture(t, nil)
	f.installRoot(t, protocol.TopLevelBrowsingContextID(1))

	f.window.SetHiDPIFactor(2)
	assert.False(t, f.comp.OnResizeWindowEvent(geometry.DeviceSize{Width: 1024, Height: 768}))
	f.expectNothing(t)

	state := f.comp.State()
	assert.Equal(t, float32(2), state.ScaleFactor)
	assert.Equal(t, float32(2), state.Scale)

	frame := f.window.SetSize(2048, 1536)
	require.True(t, f.comp.OnResizeWindowEvent(frame))
	ws := f.expectWindowSize(t)
	assert.Equal(t, float32(2), ws.Data.DevicePixelRatio)
	assert.Equal(t, geometry.CSSSize{Width: 1024, Height: 768}, ws.Data.InitialViewport)
}

func TestCompositor_PageZoomPropagatesAndClamps(t *testing.T) {
	f := newFixture(t, nil)
	f.installRoot(t, protocol.TopLevelBrowsingContextID(1))

	require.True(t, f.comp.OnZoomWindowEvent(2))
	ws := f.expectWindowSize(t)
	assert.Equal(t, float32(2), ws.Data.DevicePixelRatio)
	assert.Equal(t, geometry.CSSSize{Width: 512, Height: 384}, ws.Data.InitialViewport)

	require.True(t, f.comp.OnZoomWindowEvent(100))
	f.expectWindowSize(t)
	assert.Equal(t, float32(8), f.comp.State().PageZoom)

	// Already at the upper bound.
	assert.False(t, f.comp.OnZoomWindowEvent(2))
	f.expectNothing(t)

	require.True(t, f.comp.OnResetZoomWindowEvent())
	ws = f.expectWindowSize(t)
	assert.Equal(t, float32(1), ws.Data.DevicePixelRatio)
}

func TestCompositor_PinchZoomNeverReflows(t *testing.T) {
	f := newFixture(t, nil)
	f.installRoot(t, protocol.TopLevelBrowsingContextID(1))

	f.comp.OnPinchZoomWindowEvent(0.5)
	assert.Equal(t, float32(1), f.comp.State().ViewportZoom, "pinch zoom never goes below the configured floor")

	maxZoom := float32(3)
	f.comp.SetViewportZoomConstraints(nil, &maxZoom)
	f.comp.OnPinchZoomWindowEvent(10)
	assert.Equal(t, float32(3), f.comp.State().ViewportZoom)
	assert.Equal(t, float32(3), f.comp.State().Scale)

	lowerMax := float32(2)
	f.comp.SetViewportZoomConstraints(nil, &lowerMax)
	assert.Equal(t, float32(2), f.comp.State().ViewportZoom)

	f.expectNothing(t)
}

func TestCompositor_ViewportOverride(t *testing.T) {
	f := newFixture(t, nil)

	vp := Viewport{Origin: geometry.DevicePoint{X: 10, Y: 20}, Size: geometry.DeviceSize{Width: 300, Height: 200}}
	f.comp.HandleWindowEvent(ViewportEvent{Viewport: vp})

	require.NotNil(t, f.comp.State().Viewport)
	assert.Equal(t, vp, *f.comp.State().Viewport)
}

func TestCompositor_RemoveFrameTree(t *testing.T) {
	f := newFixture(t, nil)
	f.installRoot(t, protocol.TopLevelBrowsingContextID(3))

	f.comp.handleMsg(protocol.RemoveFrameTree{TopLevel: protocol.TopLevelBrowsingContextID(4)})
	_, ok := f.comp.Root()
	assert.True(t, ok, "removing another tab's tree keeps the root")

	f.comp.handleMsg(protocol.RemoveFrameTree{TopLevel: protocol.TopLevelBrowsingContextID(3)})
	_, ok = f.comp.Root()
	assert.False(t, ok)
	assert.False(t, f.comp.InitializeCompositing())
}

func TestCompositor_RunLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.comp.Run(ctx) }()

	require.True(t, f.comp.Inbox().Send(protocol.SetFrameTree{Root: protocol.PipelineID(1), TopLevel: protocol.TopLevelBrowsingContextID(1)}))
	receive := func() protocol.WindowSize {
		select {
		case msg := <-f.out:
			return msg.(protocol.WindowSize)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a window size")
			return protocol.WindowSize{}
		}
	}
	assert.Equal(t, protocol.SizeTypeInitial, receive().Type)

	frame := f.window.SetSize(640, 480)
	require.True(t, f.comp.Events().Send(ResizeEvent{Size: frame}))
	ws := receive()
	assert.Equal(t, protocol.SizeTypeResize, ws.Type)
	assert.Equal(t, geometry.CSSSize{Width: 640, Height: 480}, ws.Data.InitialViewport)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("compositor did not stop")
	}
}

func TestCompositor_NeverWaitsForTheConstellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	// Nobody drains the coordinator's mailbox.
	toConstellation := mailbox.New[protocol.ConstellationMsg](0)
	window := NewHeadlessWindow(1024, 768, 1)
	comp := New(zap.NewNop(), testConfig(), window, nil, toConstellation)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- comp.Run(ctx) }()

	require.True(t, comp.Inbox().Send(protocol.SetFrameTree{Root: protocol.PipelineID(1), TopLevel: protocol.TopLevelBrowsingContextID(1)}))
	const resizes = 1000
	for i := range resizes {
		require.True(t, comp.Events().Send(ResizeEvent{Size: window.SetSize(uint32(100+i), 100)}))
	}
	// Callbacks read the live window, so later ones may be deduplicated; the
	// last round must still carry the final size.
	var last protocol.WindowSize
	assert.Eventually(t, func() bool {
		for _, msg := range toConstellation.Take(0) {
			last = msg.(protocol.WindowSize)
		}
		return last.Data.InitialViewport.Width == float32(100+resizes-1)
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("compositor did not stop")
	}
	assert.False(t, comp.Inbox().Send(protocol.RemoveFrameTree{}), "inbox closes with the loop")
}
