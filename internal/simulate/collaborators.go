// internal/simulate/collaborators.go
package simulate

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/protocol"
	"github.com/xkilldash9x/constellation/internal/script"
)

// DelayLoader completes every load after a fixed delay.
type DelayLoader struct {
	Delay time.Duration
}

func (l DelayLoader) Start(pipeline protocol.PipelineID, _ string, deliver func(protocol.ScriptMsg) bool) {
	time.AfterFunc(l.Delay, func() {
		deliver(protocol.LoadComplete{Pipeline: pipeline})
	})
}

// LayoutRecorder stands in for layout. It is shared by every execution unit.
type LayoutRecorder struct {
	logger *zap.Logger

	mu       sync.Mutex
	byReason map[script.ReflowReason]int
	last     map[protocol.PipelineID]geometry.WindowSizeData
}

func NewLayoutRecorder(logger *zap.Logger) *LayoutRecorder {
	return &LayoutRecorder{
		logger:   logger.Named("layout"),
		byReason: make(map[script.ReflowReason]int),
		last:     make(map[protocol.PipelineID]geometry.WindowSizeData),
	}
}

func (l *LayoutRecorder) Reflow(req script.ReflowRequest) {
	l.mu.Lock()
	l.byReason[req.Reason]++
	l.last[req.Pipeline] = req.Size
	l.mu.Unlock()

	l.logger.Debug("Reflow.",
		zap.Stringer("pipeline", req.Pipeline),
		zap.Stringer("reason", req.Reason),
		zap.Stringer("viewport", req.Size.InitialViewport),
		zap.Float32("device_pixel_ratio", req.Size.DevicePixelRatio),
	)
}

// Counts returns reflow counts keyed by reason name.
func (l *LayoutRecorder) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.byReason))
	for reason, n := range l.byReason {
		out[reason.String()] = n
	}
	return out
}

// LastSize returns the size pipeline was last laid out at.
func (l *LayoutRecorder) LastSize(pipeline protocol.PipelineID) (geometry.WindowSizeData, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	size, ok := l.last[pipeline]
	return size, ok
}

// renderLog is the render backend of a headless run.
type renderLog struct {
	logger *zap.Logger
}

func (r renderLog) SetWindowParameters(frame geometry.DeviceSize, inner geometry.DeviceRect) {
	r.logger.Debug("Window parameters updated.",
		zap.Uint32("frame_width", frame.Width),
		zap.Uint32("frame_height", frame.Height),
		zap.Stringer("inner", inner),
	)
}
