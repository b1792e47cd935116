// internal/geometry/geometry.go
package geometry

import "fmt"

// DevicePoint is a position measured in physical device pixels.
type DevicePoint struct {
	X, Y uint32
}

// DeviceSize is an extent measured in physical device pixels.
type DeviceSize struct {
	Width, Height uint32
}

// DeviceRect is an origin plus size in device pixels.
type DeviceRect struct {
	Origin DevicePoint
	Size   DeviceSize
}

// NewDeviceRect is a small convenience used heavily by tests and window backends.
func NewDeviceRect(x, y, w, h uint32) DeviceRect {
	return DeviceRect{Origin: DevicePoint{X: x, Y: y}, Size: DeviceSize{Width: w, Height: h}}
}

func (r DeviceRect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.Origin.X, r.Origin.Y, r.Origin.X+r.Size.Width, r.Origin.Y+r.Size.Height)
}

// CSSSize is an extent in CSS pixels, the unit documents lay out in.
type CSSSize struct {
	Width  float32 `json:"width" yaml:"width"`
	Height float32 `json:"height" yaml:"height"`
}

func (s CSSSize) String() string {
	return fmt.Sprintf("%gx%g", s.Width, s.Height)
}

// WindowSizeData is the value disseminated to every pipeline on a resize round.
// It is immutable once built.
type WindowSizeData struct {
	InitialViewport  CSSSize `json:"initial_viewport"`
	DevicePixelRatio float32 `json:"device_pixel_ratio"`
}

// NewWindowSizeData derives the viewport in CSS pixels from the window
// rectangle, the page zoom and the hidpi scale factor.
func NewWindowSizeData(windowRect DeviceRect, pageZoom, scaleFactor float32) WindowSizeData {
	dppx := pageZoom * scaleFactor
	if dppx <= 0 {
		dppx = 1
	}
	return WindowSizeData{
		InitialViewport: CSSSize{
			Width:  float32(windowRect.Size.Width) / dppx,
			Height: float32(windowRect.Size.Height) / dppx,
		},
		DevicePixelRatio: dppx,
	}
}

// WithViewport returns a copy carrying a different initial viewport, keeping the ratio.
// Child browsing contexts use this when layout reports their frame size.
func (d WindowSizeData) WithViewport(size CSSSize) WindowSizeData {
	d.InitialViewport = size
	return d
}
