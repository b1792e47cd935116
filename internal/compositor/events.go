// internal/compositor/events.go
package compositor

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

// WindowEvent is a callback from the windowing system.
type WindowEvent interface{ windowEvent() }

// ResizeEvent reports that the host window changed size.
type ResizeEvent struct{ Size geometry.DeviceSize }

// ZoomEvent multiplies the page zoom.
type ZoomEvent struct{ Magnification float32 }

// PinchZoomEvent multiplies the viewport zoom.
type PinchZoomEvent struct{ Magnification float32 }

// ResetZoomEvent restores page and viewport zoom to 1.
type ResetZoomEvent struct{}

// ViewportEvent overrides the presented area.
type ViewportEvent struct{ Viewport Viewport }

// ViewportConstraintsEvent sets the pinch zoom hints declared by the page.
// A nil bound removes that hint.
type ViewportConstraintsEvent struct{ Min, Max *float32 }

// InitializeCompositingEvent asks for an initial size round.
type InitializeCompositingEvent struct{}

func (ResizeEvent) windowEvent()                {}
func (ZoomEvent) windowEvent()                  {}
func (PinchZoomEvent) windowEvent()             {}
func (ResetZoomEvent) windowEvent()             {}
func (ViewportEvent) windowEvent()              {}
func (ViewportConstraintsEvent) windowEvent()   {}
func (InitializeCompositingEvent) windowEvent() {}

// HandleWindowEvent dispatches a single windowing callback.
func (c *Compositor) HandleWindowEvent(ev WindowEvent) {
	switch e := ev.(type) {
	case ResizeEvent:
		c.OnResizeWindowEvent(e.Size)
	case ZoomEvent:
		c.OnZoomWindowEvent(e.Magnification)
	case PinchZoomEvent:
		c.OnPinchZoomWindowEvent(e.Magnification)
	case ResetZoomEvent:
		c.OnResetZoomWindowEvent()
	case ViewportEvent:
		c.OnViewportEvent(e.Viewport)
	case ViewportConstraintsEvent:
		c.SetViewportZoomConstraints(e.Min, e.Max)
	case InitializeCompositingEvent:
		c.InitializeCompositing()
	default:
		c.logger.Warn("Unhandled window event.")
	}
}

// InitializeCompositing starts the first size round for the installed root.
func (c *Compositor) InitializeCompositing() bool {
	return c.sendWindowSize(protocol.SizeTypeInitial)
}

// OnZoomWindowEvent changes the page zoom, which reflows every document.
// The result is clamped to the configured page zoom range.
func (c *Compositor) OnZoomWindowEvent(magnification float32) bool {
	zoom := clamp(c.state.PageZoom*magnification, c.cfg.MinPageZoom, c.cfg.MaxPageZoom)
	if zoom == c.state.PageZoom {
		return false
	}
	c.state.PageZoom = zoom
	c.logger.Debug("Page zoom changed.", zap.Float32("page_zoom", zoom))
	c.updateZoomTransform()
	return c.sendWindowSize(protocol.SizeTypeResize)
}

// OnResetZoomWindowEvent restores both zoom levels.
func (c *Compositor) OnResetZoomWindowEvent() bool {
	c.state.PageZoom = 1
	c.state.ViewportZoom = 1
	c.updateZoomTransform()
	return c.sendWindowSize(protocol.SizeTypeResize)
}

// OnPinchZoomWindowEvent changes the viewport zoom. Pinch zoom scales the
// presented surface only, so no size round is started.
func (c *Compositor) OnPinchZoomWindowEvent(magnification float32) {
	c.state.ViewportZoom = c.clampPinch(c.state.ViewportZoom * magnification)
	c.updateZoomTransform()
}

// OnViewportEvent installs a viewport override.
func (c *Compositor) OnViewportEvent(v Viewport) {
	c.state.Viewport = &v
}

// SetViewportZoomConstraints updates the pinch zoom hints and re-clamps the
// current viewport zoom against them.
func (c *Compositor) SetViewportZoomConstraints(minZoom, maxZoom *float32) {
	c.state.MinViewportZoom = minZoom
	c.state.MaxViewportZoom = maxZoom
	c.state.ViewportZoom = c.clampPinch(c.state.ViewportZoom)
	c.updateZoomTransform()
}

func (c *Compositor) clampPinch(zoom float32) float32 {
	lower := c.cfg.MinPinchZoom
	if c.state.MinViewportZoom != nil {
		lower = *c.state.MinViewportZoom
	}
	if zoom < lower {
		zoom = lower
	}
	if c.state.MaxViewportZoom != nil && zoom > *c.state.MaxViewportZoom {
		zoom = *c.state.MaxViewportZoom
	}
	return zoom
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
