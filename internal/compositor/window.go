// internal/compositor/window.go
package compositor

import (
	"sync"

	"github.com/xkilldash9x/constellation/internal/geometry"
)

// WindowMethods is the capability a windowing backend exposes to the compositor.
type WindowMethods interface {
	// HiDPIFactor is the number of device pixels per device-independent pixel.
	HiDPIFactor() float32
	// WindowRect is the area of the framebuffer the page is presented in.
	WindowRect() geometry.DeviceRect
	// FramebufferSize is the full drawable size.
	FramebufferSize() geometry.DeviceSize
}

// RenderBackend receives the framebuffer and inner window geometry after
// every propagation round.
type RenderBackend interface {
	SetWindowParameters(frame geometry.DeviceSize, inner geometry.DeviceRect)
}

// HeadlessWindow is a backend with no real surface. Its geometry is set
// programmatically, which makes it the backend of choice for simulation and tests.
type HeadlessWindow struct {
	mu    sync.RWMutex
	rect  geometry.DeviceRect
	frame geometry.DeviceSize
	hidpi float32
}

// NewHeadlessWindow creates a window whose framebuffer equals its window rect.
func NewHeadlessWindow(width, height uint32, hidpi float32) *HeadlessWindow {
	if hidpi <= 0 {
		hidpi = 1
	}
	return &HeadlessWindow{
		rect:  geometry.NewDeviceRect(0, 0, width, height),
		frame: geometry.DeviceSize{Width: width, Height: height},
		hidpi: hidpi,
	}
}

func (w *HeadlessWindow) HiDPIFactor() float32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.hidpi
}

func (w *HeadlessWindow) WindowRect() geometry.DeviceRect {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.rect
}

func (w *HeadlessWindow) FramebufferSize() geometry.DeviceSize {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.frame
}

// SetSize resizes both the framebuffer and the window rect, keeping the origin.
func (w *HeadlessWindow) SetSize(width, height uint32) geometry.DeviceSize {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rect.Size = geometry.DeviceSize{Width: width, Height: height}
	w.frame = geometry.DeviceSize{Width: w.rect.Origin.X + width, Height: w.rect.Origin.Y + height}
	return w.frame
}

// SetHiDPIFactor simulates moving the window to a display with another density.
func (w *HeadlessWindow) SetHiDPIFactor(f float32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hidpi = f
}
