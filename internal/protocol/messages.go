// internal/protocol/messages.go
package protocol

import "github.com/xkilldash9x/constellation/internal/geometry"

// -- Inbound to the constellation --

// ConstellationMsg is the closed set of messages the coordinator loop consumes.
type ConstellationMsg interface {
	constellationMsg()
}

// WindowSize is sent by the compositor at the end of every propagation round.
type WindowSize struct {
	TopLevel TopLevelBrowsingContextID
	Data     geometry.WindowSizeData
	Type     SizeType
}

// FrameSize reports the layout size of a nested browsing context.
type FrameSize struct {
	BrowsingContext BrowsingContextID
	Size            geometry.CSSSize
}

// NewTab opens a tab and starts loading its first document.
type NewTab struct {
	TopLevel TopLevelBrowsingContextID
	URL      string
}

// LoadURL navigates an existing browsing context.
type LoadURL struct {
	BrowsingContext BrowsingContextID
	URL             string
}

// AttachFrame creates a nested browsing context inside Parent and loads URL into it.
type AttachFrame struct {
	Parent          PipelineID
	BrowsingContext BrowsingContextID
	URL             string
}

// PipelineReady is sent once a pipeline's document finished initial setup.
type PipelineReady struct {
	Pipeline PipelineID
}

// CancelLoad drops the in-flight navigation of a browsing context, if any.
type CancelLoad struct {
	BrowsingContext BrowsingContextID
}

// TraverseHistory moves Delta entries back (negative) or forward (positive).
type TraverseHistory struct {
	BrowsingContext BrowsingContextID
	Delta           int
}

// CloseTab tears down every browsing context and pipeline of a tab.
type CloseTab struct {
	TopLevel TopLevelBrowsingContextID
}

// Exit asks the coordinator loop to close all tabs and return.
type Exit struct{}

func (WindowSize) constellationMsg()      {}
func (FrameSize) constellationMsg()       {}
func (NewTab) constellationMsg()          {}
func (LoadURL) constellationMsg()         {}
func (AttachFrame) constellationMsg()     {}
func (PipelineReady) constellationMsg()   {}
func (CancelLoad) constellationMsg()      {}
func (TraverseHistory) constellationMsg() {}
func (CloseTab) constellationMsg()        {}
func (Exit) constellationMsg()            {}

// -- Inbound to the compositor --

// CompositorMsg is what the coordinator tells the compositor.
type CompositorMsg interface {
	compositorMsg()
}

// SetFrameTree installs Root as the pipeline the compositor presents.
type SetFrameTree struct {
	Root     PipelineID
	TopLevel TopLevelBrowsingContextID
}

// RemoveFrameTree clears the root pipeline when its tab closes.
type RemoveFrameTree struct {
	TopLevel TopLevelBrowsingContextID
}

func (SetFrameTree) compositorMsg()    {}
func (RemoveFrameTree) compositorMsg() {}

// -- Inbound to an execution unit --

// ScriptMsg is addressed to one pipeline hosted by an execution unit.
type ScriptMsg interface {
	Target() PipelineID
}

// NewPipeline starts an in-progress load. WindowSize is nil when the size is
// not known yet (nested frames before layout reported them).
type NewPipeline struct {
	Pipeline        PipelineID
	BrowsingContext BrowsingContextID
	TopLevel        TopLevelBrowsingContextID
	URL             string
	WindowSize      *geometry.WindowSizeData
}

// Resize is a live resize notice: apply and relayout, or buffer if still loading.
type Resize struct {
	Pipeline PipelineID
	Data     geometry.WindowSizeData
	Type     SizeType
}

// ResizeInactive records a size on a parked document without relayout.
type ResizeInactive struct {
	Pipeline PipelineID
	Data     geometry.WindowSizeData
}

// SetActivity tells a unit its document became, or stopped being, the top document.
type SetActivity struct {
	Pipeline PipelineID
	Active   bool
}

// ExitPipeline drops a document or an in-progress load.
type ExitPipeline struct {
	Pipeline PipelineID
}

// LoadComplete is delivered by the load collaborator when the document finished loading.
type LoadComplete struct {
	Pipeline PipelineID
}

func (m NewPipeline) Target() PipelineID    { return m.Pipeline }
func (m Resize) Target() PipelineID         { return m.Pipeline }
func (m ResizeInactive) Target() PipelineID { return m.Pipeline }
func (m SetActivity) Target() PipelineID    { return m.Pipeline }
func (m ExitPipeline) Target() PipelineID   { return m.Pipeline }
func (m LoadComplete) Target() PipelineID   { return m.Pipeline }
