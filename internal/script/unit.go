// internal/script/unit.go
package script

import (
	"context"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/config"
	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/mailbox"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

// Unit is an execution unit: the single goroutine owning every document of one
// event loop. It consumes messages in order and never shares its state.
type Unit struct {
	logger        *zap.Logger
	inbox         *mailbox.Mailbox[protocol.ScriptMsg]
	constellation mailbox.Sender[protocol.ConstellationMsg]
	layout        LayoutSink
	loader        Loader
	maxBatch      int

	// Owned by the run goroutine.
	documents       map[protocol.PipelineID]*Document
	incompleteLoads []*InProgressLoad
	closedPipelines map[protocol.PipelineID]struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	err       error
}

// NewUnit builds a unit. It does nothing until Start is called. loader may be
// nil, in which case loads complete only when a LoadComplete message arrives.
func NewUnit(logger *zap.Logger, cfg config.ScriptConfig, toConstellation mailbox.Sender[protocol.ConstellationMsg], layout LayoutSink, loader Loader) *Unit {
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Unit{
		logger:          logger,
		inbox:           mailbox.New[protocol.ScriptMsg](cfg.InboxSize),
		constellation:   toConstellation,
		layout:          layout,
		loader:          loader,
		maxBatch:        maxBatch,
		documents:       make(map[protocol.PipelineID]*Document),
		closedPipelines: make(map[protocol.PipelineID]struct{}),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
}

// Start launches the unit's loop. parent cancellation stops it as well.
func (u *Unit) Start(parent context.Context) {
	u.startOnce.Do(func() {
		stop := context.AfterFunc(parent, u.cancel)
		go func() {
			defer stop()
			u.run()
		}()
	})
}

// Send enqueues msg without waiting for the unit. It returns false if the
// unit has stopped.
func (u *Unit) Send(msg protocol.ScriptMsg) bool {
	select {
	case <-u.done:
		return false
	default:
	}
	return u.inbox.Send(msg)
}

// Close stops the loop and waits for it to exit.
func (u *Unit) Close() {
	u.closeOnce.Do(func() {
		u.cancel()
		u.startOnce.Do(func() { close(u.done) })
	})
	<-u.done
}

// Done is closed once the loop exited.
func (u *Unit) Done() <-chan struct{} { return u.done }

// Err returns the protocol error that stopped the unit, if any. Valid after Done.
func (u *Unit) Err() error { return u.err }

func (u *Unit) run() {
	defer close(u.done)
	defer u.inbox.Close()
	defer u.recoverProtocolError()

	u.logger.Debug("Execution unit started.")
	for {
		select {
		case <-u.ctx.Done():
			u.logger.Debug("Execution unit stopping.")
			return
		case <-u.inbox.Ready():
			// A batch of resizes is laid out once.
			batch := u.inbox.Take(u.maxBatch)
			if len(batch) == 0 {
				continue
			}
			for _, msg := range batch {
				u.handle(msg)
			}
			u.updateTheRendering()
		}
	}
}

func (u *Unit) recoverProtocolError() {
	r := recover()
	if r == nil {
		return
	}
	perr, ok := r.(*ProtocolError)
	if !ok {
		panic(r)
	}
	u.err = perr
	u.logger.Error("Execution unit aborted on protocol violation.", zap.Error(perr))
}

func (u *Unit) handle(msg protocol.ScriptMsg) {
	switch m := msg.(type) {
	case protocol.NewPipeline:
		u.handleNewPipeline(m)
	case protocol.Resize:
		u.handleResize(m.Pipeline, m.Data, m.Type)
	case protocol.ResizeInactive:
		u.handleResizeInactive(m.Pipeline, m.Data)
	case protocol.LoadComplete:
		u.handleLoadComplete(m.Pipeline)
	case protocol.SetActivity:
		u.handleSetActivity(m.Pipeline, m.Active)
	case protocol.ExitPipeline:
		u.handleExitPipeline(m.Pipeline)
	default:
		u.logger.Warn("Unhandled script message.", zap.Stringer("pipeline", msg.Target()))
	}
}

func (u *Unit) findLoad(id protocol.PipelineID) (int, *InProgressLoad) {
	for i, load := range u.incompleteLoads {
		if load.Pipeline == id {
			return i, load
		}
	}
	return -1, nil
}

func (u *Unit) isClosed(id protocol.PipelineID) bool {
	_, ok := u.closedPipelines[id]
	return ok
}

func (u *Unit) handleNewPipeline(m protocol.NewPipeline) {
	if _, exists := u.documents[m.Pipeline]; exists {
		u.logger.Warn("Duplicate pipeline creation ignored.", zap.Stringer("pipeline", m.Pipeline))
		return
	}
	if _, load := u.findLoad(m.Pipeline); load != nil {
		u.logger.Warn("Duplicate pipeline creation ignored.", zap.Stringer("pipeline", m.Pipeline))
		return
	}
	u.incompleteLoads = append(u.incompleteLoads, &InProgressLoad{
		Pipeline:        m.Pipeline,
		BrowsingContext: m.BrowsingContext,
		TopLevel:        m.TopLevel,
		URL:             m.URL,
		WindowSize:      m.WindowSize,
	})
	u.logger.Debug("Load started.", zap.Stringer("pipeline", m.Pipeline), zap.String("url", m.URL))
	if u.loader != nil {
		u.loader.Start(m.Pipeline, m.URL, u.Send)
	}
}

// handleResize applies a live resize to an active document, or parks the size
// on an in-progress load until the document exists.
func (u *Unit) handleResize(id protocol.PipelineID, size geometry.WindowSizeData, sizeType protocol.SizeType) {
	if doc, ok := u.documents[id]; ok {
		if !doc.active {
			doc.resizeEvent = nil
			doc.setWindowSize(size)
			return
		}
		doc.setResizeEvent(size, sizeType)
		return
	}
	if _, load := u.findLoad(id); load != nil {
		load.WindowSize = &size
		return
	}
	if u.isClosed(id) {
		u.logger.Debug("Resize for closed pipeline dropped.", zap.Stringer("pipeline", id))
		return
	}
	u.logger.Warn("Resize sent to nonexistent pipeline.", zap.Stringer("pipeline", id))
}

// handleResizeInactive records the size of a parked document without relayout.
// Only pipelines that completed their first load are ever sent this notice.
func (u *Unit) handleResizeInactive(id protocol.PipelineID, size geometry.WindowSizeData) {
	doc, ok := u.documents[id]
	if !ok {
		if u.isClosed(id) {
			u.logger.Debug("Inactive resize for closed pipeline dropped.", zap.Stringer("pipeline", id))
			return
		}
		panic(&ProtocolError{Pipeline: id, Message: "inactive resize for a pipeline with no document"})
	}
	// A live resize still queued from before the document was parked is stale.
	doc.resizeEvent = nil
	doc.setWindowSize(size)
}

func (u *Unit) handleLoadComplete(id protocol.PipelineID) {
	idx, load := u.findLoad(id)
	if load == nil {
		if !u.isClosed(id) {
			u.logger.Warn("Load completed for unknown pipeline.", zap.Stringer("pipeline", id))
		}
		return
	}
	u.incompleteLoads = slices.Delete(u.incompleteLoads, idx, idx+1)

	doc := &Document{
		Pipeline:        load.Pipeline,
		BrowsingContext: load.BrowsingContext,
		URL:             load.URL,
		active:          true,
		windowSize:      load.WindowSize,
	}
	u.documents[id] = doc

	// The size parked on the load is the newest one the unit has seen.
	if doc.windowSize != nil {
		u.reflow(doc, ReasonFirstLoad, *doc.windowSize)
	} else {
		u.logger.Debug("Document activated before its size is known.", zap.Stringer("pipeline", id))
	}

	if !u.constellation.Send(protocol.PipelineReady{Pipeline: id}) {
		u.logger.Debug("Constellation gone, ready notice dropped.", zap.Stringer("pipeline", id))
	}
}

func (u *Unit) handleSetActivity(id protocol.PipelineID, active bool) {
	doc, ok := u.documents[id]
	if !ok {
		if !u.isClosed(id) {
			u.logger.Warn("Activity change for unknown pipeline.", zap.Stringer("pipeline", id), zap.Bool("active", active))
		}
		return
	}
	doc.active = active
	if !active {
		// Parked documents do not lay out; keep the pending size as the recorded one.
		if doc.resizeEvent != nil {
			doc.setWindowSize(doc.resizeEvent.size)
			doc.resizeEvent = nil
		}
		return
	}
	if doc.windowSize == nil {
		return
	}
	// Catch up with inactive resizes recorded while parked.
	if doc.laidOut == nil || *doc.laidOut != *doc.windowSize {
		u.reflow(doc, ReasonActivated, *doc.windowSize)
	}
}

func (u *Unit) handleExitPipeline(id protocol.PipelineID) {
	delete(u.documents, id)
	if idx, load := u.findLoad(id); load != nil {
		u.incompleteLoads = slices.Delete(u.incompleteLoads, idx, idx+1)
	}
	u.closedPipelines[id] = struct{}{}
	u.logger.Debug("Pipeline exited.", zap.Stringer("pipeline", id))
}

// updateTheRendering applies every pending resize event, once per active document.
func (u *Unit) updateTheRendering() {
	for _, id := range slices.Sorted(maps.Keys(u.documents)) {
		doc := u.documents[id]
		if doc.resizeEvent == nil || !doc.active {
			continue
		}
		ev := doc.resizeEvent
		doc.resizeEvent = nil
		doc.setWindowSize(ev.size)
		u.reflow(doc, ReasonResize, ev.size)
	}
}

func (u *Unit) reflow(doc *Document, reason ReflowReason, size geometry.WindowSizeData) {
	doc.laidOut = &size
	if u.layout != nil {
		u.layout.Reflow(ReflowRequest{Pipeline: doc.Pipeline, Reason: reason, Size: size})
	}
}
