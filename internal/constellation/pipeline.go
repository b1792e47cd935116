// internal/constellation/pipeline.go
package constellation

import (
	"fmt"

	"github.com/xkilldash9x/constellation/internal/eventloop"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

// PipelineStatus is the load state of a pipeline.
type PipelineStatus int

const (
	// PipelinePending pipelines are loading and sit in the pending change set.
	PipelinePending PipelineStatus = iota
	// PipelineActive pipelines finished their first load. They are either the
	// active pipeline of their browsing context or parked in its history.
	PipelineActive
	// PipelineClosed pipelines have been torn down and left the registry.
	PipelineClosed
)

func (s PipelineStatus) String() string {
	switch s {
	case PipelinePending:
		return "pending"
	case PipelineActive:
		return "active"
	case PipelineClosed:
		return "closed"
	default:
		return fmt.Sprintf("PipelineStatus(%d)", int(s))
	}
}

// Pipeline is the coordinator's record of one document's rendering unit.
type Pipeline struct {
	ID              protocol.PipelineID
	BrowsingContext protocol.BrowsingContextID
	TopLevel        protocol.TopLevelBrowsingContextID
	// Parent is the pipeline hosting this pipeline's browsing context, or
	// NoPipeline for a tab's root context.
	Parent protocol.PipelineID
	URL    string
	Status PipelineStatus

	children  []protocol.BrowsingContextID
	eventLoop *eventloop.Handle
}

// EventLoop returns the shared execution context hosting the pipeline.
func (p *Pipeline) EventLoop() *eventloop.EventLoop {
	if p.eventLoop == nil {
		return nil
	}
	return p.eventLoop.Loop()
}

func (p *Pipeline) send(msg protocol.ScriptMsg) bool {
	if p.eventLoop == nil {
		return false
	}
	return p.eventLoop.Send(msg)
}
