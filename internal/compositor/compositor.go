// internal/compositor/compositor.go
package compositor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/config"
	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/mailbox"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

// ErrNoRootPipeline is returned when a size round is requested before any
// root pipeline was installed, e.g. when the window resizes during startup.
var ErrNoRootPipeline = errors.New("window resize without root pipeline")

// Viewport is an override of the presented area.
type Viewport struct {
	Origin geometry.DevicePoint
	Size   geometry.DeviceSize
}

// GeometryState is the authoritative window geometry. Only the compositor
// mutates it; everyone else sees copies.
type GeometryState struct {
	WindowRect  geometry.DeviceRect
	FrameSize   geometry.DeviceSize
	ScaleFactor float32
	PageZoom    float32
	// ViewportZoom is "mobile-style" pinch zoom that never reflows the page.
	ViewportZoom    float32
	MinViewportZoom *float32
	MaxViewportZoom *float32
	Viewport        *Viewport
	// Scale is the zoom transform: ViewportZoom * ScaleFactor.
	Scale float32
}

// WindowSizeData derives the value disseminated on a propagation round.
func (g GeometryState) WindowSizeData() geometry.WindowSizeData {
	return geometry.NewWindowSizeData(g.WindowRect, g.PageZoom, g.ScaleFactor)
}

// RootPipeline is the pipeline the compositor currently presents.
type RootPipeline struct {
	Pipeline protocol.PipelineID
	TopLevel protocol.TopLevelBrowsingContextID
}

// Compositor owns GeometryState and starts every resize propagation round.
type Compositor struct {
	logger        *zap.Logger
	cfg           config.CompositorConfig
	window        WindowMethods
	renderer      RenderBackend
	constellation mailbox.Sender[protocol.ConstellationMsg]

	state GeometryState
	root  *RootPipeline

	inbox  *mailbox.Mailbox[protocol.CompositorMsg]
	events *mailbox.Mailbox[WindowEvent]
}

// New creates a compositor reading its initial geometry from window.
// renderer may be nil.
func New(logger *zap.Logger, cfg config.CompositorConfig, window WindowMethods, renderer RenderBackend, constellation mailbox.Sender[protocol.ConstellationMsg]) *Compositor {
	c := &Compositor{
		logger:        logger.Named("compositor"),
		cfg:           cfg,
		window:        window,
		renderer:      renderer,
		constellation: constellation,
		inbox:         mailbox.New[protocol.CompositorMsg](cfg.InboxSize),
		events:        mailbox.New[WindowEvent](cfg.InboxSize),
		state: GeometryState{
			WindowRect:   window.WindowRect(),
			FrameSize:    window.FramebufferSize(),
			ScaleFactor:  window.HiDPIFactor(),
			PageZoom:     1,
			ViewportZoom: 1,
		},
	}
	c.updateZoomTransform()
	return c
}

// Inbox is where the constellation posts compositor messages.
func (c *Compositor) Inbox() mailbox.Sender[protocol.CompositorMsg] { return c.inbox }

// Events is where the windowing system posts its callbacks.
func (c *Compositor) Events() mailbox.Sender[WindowEvent] { return c.events }

// State returns a copy of the current geometry.
func (c *Compositor) State() GeometryState { return c.state }

// Root returns the installed root pipeline, if any.
func (c *Compositor) Root() (RootPipeline, bool) {
	if c.root == nil {
		return RootPipeline{}, false
	}
	return *c.root, true
}

// Run processes window events and constellation messages until ctx ends.
func (c *Compositor) Run(ctx context.Context) error {
	c.logger.Info("Compositor running.", zap.Stringer("window_rect", c.state.WindowRect))
	defer c.inbox.Close()
	defer c.events.Close()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Compositor stopping.")
			return nil
		case <-c.events.Ready():
			for _, ev := range c.events.Take(0) {
				c.HandleWindowEvent(ev)
			}
		case <-c.inbox.Ready():
			for _, msg := range c.inbox.Take(0) {
				c.handleMsg(msg)
			}
		}
	}
}

func (c *Compositor) handleMsg(msg protocol.CompositorMsg) {
	switch m := msg.(type) {
	case protocol.SetFrameTree:
		c.logger.Debug("Installing frame tree.", zap.Stringer("root", m.Root), zap.Stringer("tab", m.TopLevel))
		c.root = &RootPipeline{Pipeline: m.Root, TopLevel: m.TopLevel}
		c.sendWindowSize(protocol.SizeTypeInitial)
	case protocol.RemoveFrameTree:
		if c.root != nil && c.root.TopLevel == m.TopLevel {
			c.root = nil
		}
	default:
		c.logger.Warn("Unhandled compositor message.")
	}
}

// OnResizeWindowEvent handles a resize callback from the windowing system.
// It reports whether a propagation round was started; spurious callbacks that
// leave the window rect and frame size unchanged start none.
func (c *Compositor) OnResizeWindowEvent(newSize geometry.DeviceSize) bool {
	c.logger.Debug("Compositor resizing.", zap.Uint32("width", newSize.Width), zap.Uint32("height", newSize.Height))

	// A size change can also be a resolution change.
	if scale := c.window.HiDPIFactor(); scale != c.state.ScaleFactor {
		c.state.ScaleFactor = scale
		c.updateZoomTransform()
	}

	newRect := c.window.WindowRect()
	newFrame := c.window.FramebufferSize()
	if newRect == c.state.WindowRect && newFrame == c.state.FrameSize {
		return false
	}
	c.state.WindowRect = newRect
	c.state.FrameSize = newFrame

	return c.sendWindowSize(protocol.SizeTypeResize)
}

// Snapshot builds the WindowSize message for the current geometry.
func (c *Compositor) Snapshot(sizeType protocol.SizeType) (protocol.WindowSize, error) {
	if c.root == nil {
		return protocol.WindowSize{}, ErrNoRootPipeline
	}
	return protocol.WindowSize{
		TopLevel: c.root.TopLevel,
		Data:     c.state.WindowSizeData(),
		Type:     sizeType,
	}, nil
}

func (c *Compositor) sendWindowSize(sizeType protocol.SizeType) bool {
	msg, err := c.Snapshot(sizeType)
	if err != nil {
		c.logger.Warn("Skipping window size propagation.", zap.Error(err), zap.Stringer("size_type", sizeType))
		return false
	}

	if c.renderer != nil {
		c.renderer.SetWindowParameters(c.state.FrameSize, c.state.WindowRect)
	}

	if !c.constellation.Send(msg) {
		c.logger.Debug("Constellation gone, window size dropped.", zap.Stringer("size_type", sizeType))
		return false
	}
	return true
}

func (c *Compositor) updateZoomTransform() {
	c.state.Scale = c.state.ViewportZoom * c.state.ScaleFactor
}
