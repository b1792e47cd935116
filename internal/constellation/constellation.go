// internal/constellation/constellation.go
package constellation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/config"
	"github.com/xkilldash9x/constellation/internal/eventloop"
	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/mailbox"
	"github.com/xkilldash9x/constellation/internal/protocol"
	"github.com/xkilldash9x/constellation/internal/store"
)

var (
	// ErrUnknownBrowsingContext is returned for messages naming a context the
	// coordinator does not know, usually because it was torn down.
	ErrUnknownBrowsingContext = errors.New("unknown browsing context")
	// ErrUnknownPipeline is returned for messages naming a pipeline that is not registered.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrDuplicateTab is returned when a tab id is opened twice.
	ErrDuplicateTab = errors.New("tab already exists")
)

// Journal receives one Round per propagation round.
type Journal interface {
	Record(round store.Round)
}

// Constellation is the coordinator. It owns the pipeline registry, the
// browsing context tree and the pending change set; all of them are touched
// only by the goroutine running Run.
type Constellation struct {
	logger     *zap.Logger
	cfg        config.ConstellationConfig
	inbox      *mailbox.Mailbox[protocol.ConstellationMsg]
	compositor mailbox.Sender[protocol.CompositorMsg]
	eventLoops *eventloop.Directory
	journal    Journal

	pipelines        map[protocol.PipelineID]*Pipeline
	browsingContexts map[protocol.BrowsingContextID]*BrowsingContext
	pendingChanges   []SessionHistoryChange
	windowSizes      map[protocol.TopLevelBrowsingContextID]geometry.WindowSizeData
	// windowSize is the most recent size of the window; new tabs start with it.
	windowSize *geometry.WindowSizeData

	warningsMu sync.Mutex
	warnings   []string
}

// New creates a coordinator reading from inbox. A nil inbox is replaced by a
// new one sized from cfg; journal may be nil.
func New(logger *zap.Logger, cfg config.ConstellationConfig, inbox *mailbox.Mailbox[protocol.ConstellationMsg], toCompositor mailbox.Sender[protocol.CompositorMsg], eventLoops *eventloop.Directory, journal Journal) *Constellation {
	if inbox == nil {
		inbox = mailbox.New[protocol.ConstellationMsg](cfg.InboxSize)
	}
	if journal == nil {
		journal = store.Nop{}
	}
	return &Constellation{
		logger:           logger.Named("constellation"),
		cfg:              cfg,
		inbox:            inbox,
		compositor:       toCompositor,
		eventLoops:       eventLoops,
		journal:          journal,
		pipelines:        make(map[protocol.PipelineID]*Pipeline),
		browsingContexts: make(map[protocol.BrowsingContextID]*BrowsingContext),
		windowSizes:      make(map[protocol.TopLevelBrowsingContextID]geometry.WindowSizeData),
	}
}

// Inbox is where the compositor and the execution units post messages.
func (c *Constellation) Inbox() mailbox.Sender[protocol.ConstellationMsg] { return c.inbox }

// PeakBacklog reports the deepest the inbox has been.
func (c *Constellation) PeakBacklog() int { return c.inbox.Peak() }

// Run handles messages one at a time until ctx ends or Exit arrives. Every
// tab is closed before it returns.
func (c *Constellation) Run(ctx context.Context) error {
	c.logger.Info("Constellation running.")
	defer c.closeAll()
	defer c.inbox.Close()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Constellation stopping.", zap.Error(ctx.Err()))
			return nil
		case <-c.inbox.Ready():
			for _, msg := range c.inbox.Take(0) {
				if _, ok := msg.(protocol.Exit); ok {
					c.logger.Info("Constellation exit requested.")
					return nil
				}
				c.handle(msg)
			}
		}
	}
}

func (c *Constellation) handle(msg protocol.ConstellationMsg) {
	var err error
	switch m := msg.(type) {
	case protocol.WindowSize:
		c.handleWindowSize(m.TopLevel, m.Data, m.Type)
	case protocol.FrameSize:
		err = c.handleFrameSize(m.BrowsingContext, m.Size)
	case protocol.NewTab:
		err = c.handleNewTab(m.TopLevel, m.URL)
	case protocol.LoadURL:
		err = c.handleLoadURL(m.BrowsingContext, m.URL)
	case protocol.AttachFrame:
		err = c.handleAttachFrame(m.Parent, m.BrowsingContext, m.URL)
	case protocol.PipelineReady:
		err = c.handlePipelineReady(m.Pipeline)
	case protocol.CancelLoad:
		c.cancelPendingChanges(m.BrowsingContext)
	case protocol.TraverseHistory:
		err = c.handleTraverseHistory(m.BrowsingContext, m.Delta)
	case protocol.CloseTab:
		err = c.handleCloseTab(m.TopLevel)
	default:
		c.logger.Warn("Unhandled constellation message.")
	}
	if err != nil {
		c.warn("Message handling failed.", zap.Error(err))
	}
}

// warn logs a recoverable condition and keeps it in the handled warnings buffer.
func (c *Constellation) warn(msg string, fields ...zap.Field) {
	c.logger.Warn(msg, fields...)
	if c.cfg.WarningsBuffer <= 0 {
		return
	}
	entry := msg
	for _, f := range fields {
		if f.Key == "error" {
			if err, ok := f.Interface.(error); ok {
				entry = msg + " " + err.Error()
			}
		}
	}

	c.warningsMu.Lock()
	defer c.warningsMu.Unlock()
	if len(c.warnings) == c.cfg.WarningsBuffer {
		c.warnings = c.warnings[1:]
	}
	c.warnings = append(c.warnings, entry)
}

// HandledWarnings returns the most recent warnings, oldest first.
func (c *Constellation) HandledWarnings() []string {
	c.warningsMu.Lock()
	defer c.warningsMu.Unlock()
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}

func (c *Constellation) sendCompositor(msg protocol.CompositorMsg) {
	if !c.compositor.Send(msg) {
		c.logger.Debug("Compositor gone, message dropped.")
	}
}

// windowSizeFor returns the size a new pipeline in bc starts with, if known.
func (c *Constellation) windowSizeFor(bc *BrowsingContext) *geometry.WindowSizeData {
	tabSize, ok := c.windowSizes[bc.TopLevel]
	if !ok {
		if c.windowSize == nil {
			return nil
		}
		tabSize = *c.windowSize
	}
	if bc.Size != nil {
		size := tabSize.WithViewport(*bc.Size)
		return &size
	}
	if bc.IsTopLevel() {
		return &tabSize
	}
	// Frames wait for layout to report their size.
	return nil
}

// closeAll tears down every tab without notifying the compositor, which may
// already be gone.
func (c *Constellation) closeAll() {
	for _, bc := range c.browsingContexts {
		if bc.IsTopLevel() {
			c.closeBrowsingContext(bc.ID, false)
		}
	}
}
