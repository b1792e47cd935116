// internal/script/document.go
package script

import (
	"fmt"

	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

// ReflowReason says why layout is asked to run.
type ReflowReason int

const (
	ReasonFirstLoad ReflowReason = iota
	ReasonResize
	ReasonActivated
)

func (r ReflowReason) String() string {
	switch r {
	case ReasonFirstLoad:
		return "first_load"
	case ReasonResize:
		return "resize"
	case ReasonActivated:
		return "activated"
	default:
		return fmt.Sprintf("ReflowReason(%d)", int(r))
	}
}

// ReflowRequest is handed to the layout collaborator.
type ReflowRequest struct {
	Pipeline protocol.PipelineID
	Reason   ReflowReason
	Size     geometry.WindowSizeData
}

// LayoutSink is the external layout collaborator. Implementations must not block.
type LayoutSink interface {
	Reflow(req ReflowRequest)
}

// Loader is the external load collaborator. Start begins fetching url and
// eventually delivers protocol.LoadComplete for the pipeline through deliver.
type Loader interface {
	Start(pipeline protocol.PipelineID, url string, deliver func(protocol.ScriptMsg) bool)
}

// InProgressLoad is a pipeline whose document does not exist yet. A size
// received while loading is parked here and used when the document activates.
type InProgressLoad struct {
	Pipeline        protocol.PipelineID
	BrowsingContext protocol.BrowsingContextID
	TopLevel        protocol.TopLevelBrowsingContextID
	URL             string
	WindowSize      *geometry.WindowSizeData
}

type resizeEvent struct {
	size     geometry.WindowSizeData
	sizeType protocol.SizeType
}

// Document is a live document owned by a unit. Only an active document is
// the top document of its browsing context; inactive ones sit in session history.
type Document struct {
	Pipeline        protocol.PipelineID
	BrowsingContext protocol.BrowsingContextID
	URL             string

	active     bool
	windowSize *geometry.WindowSizeData
	// laidOut is the size of the last reflow; nil before the first one.
	laidOut *geometry.WindowSizeData
	// resizeEvent holds at most one pending live resize; later notices overwrite it.
	resizeEvent *resizeEvent
}

// Active reports whether this is the top document of its browsing context.
func (d *Document) Active() bool { return d.active }

// WindowSize returns the size last recorded for the document, if any.
func (d *Document) WindowSize() (geometry.WindowSizeData, bool) {
	if d.windowSize == nil {
		return geometry.WindowSizeData{}, false
	}
	return *d.windowSize, true
}

func (d *Document) setResizeEvent(size geometry.WindowSizeData, sizeType protocol.SizeType) {
	d.resizeEvent = &resizeEvent{size: size, sizeType: sizeType}
}

func (d *Document) setWindowSize(size geometry.WindowSizeData) {
	d.windowSize = &size
}

// ProtocolError reports a message the upstream protocol guarantees can never
// arrive. The unit that observes one stops.
type ProtocolError struct {
	Pipeline protocol.PipelineID
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation for %s: %s", e.Pipeline, e.Message)
}
