// internal/protocol/ids.go
package protocol

import (
	"fmt"
	"sync/atomic"
)

// PipelineID identifies one document's rendering/scripting unit. The zero value means "no pipeline".
type PipelineID uint64

// BrowsingContextID identifies a navigable slot (a tab or a frame).
type BrowsingContextID uint64

// TopLevelBrowsingContextID identifies a whole tab. Its root browsing context shares the same number.
type TopLevelBrowsingContextID uint64

// NoPipeline is the sentinel held by history entries whose pipeline was reclaimed.
const NoPipeline PipelineID = 0

var (
	pipelineSeq        atomic.Uint64
	browsingContextSeq atomic.Uint64
)

// NewPipelineID mints a process-unique pipeline id.
func NewPipelineID() PipelineID {
	return PipelineID(pipelineSeq.Add(1))
}

// NewBrowsingContextID mints an id for a nested (frame) browsing context.
func NewBrowsingContextID() BrowsingContextID {
	return BrowsingContextID(browsingContextSeq.Add(1))
}

// NewTopLevelBrowsingContextID mints an id for a new tab. Tabs and frames draw
// from the same sequence so a tab's root context id never collides with a frame's.
func NewTopLevelBrowsingContextID() TopLevelBrowsingContextID {
	return TopLevelBrowsingContextID(browsingContextSeq.Add(1))
}

// IsValid reports whether p refers to a pipeline at all.
func (p PipelineID) IsValid() bool { return p != NoPipeline }

func (p PipelineID) String() string { return fmt.Sprintf("pipeline#%d", uint64(p)) }

func (b BrowsingContextID) String() string { return fmt.Sprintf("bc#%d", uint64(b)) }

// BrowsingContextID returns the id of the tab's root browsing context.
func (t TopLevelBrowsingContextID) BrowsingContextID() BrowsingContextID {
	return BrowsingContextID(t)
}

func (t TopLevelBrowsingContextID) String() string { return fmt.Sprintf("tab#%d", uint64(t)) }

// SizeType distinguishes the first size a tab receives from later resizes.
type SizeType int

const (
	SizeTypeInitial SizeType = iota
	SizeTypeResize
)

func (s SizeType) String() string {
	switch s {
	case SizeTypeInitial:
		return "initial"
	case SizeTypeResize:
		return "resize"
	default:
		return fmt.Sprintf("SizeType(%d)", int(s))
	}
}
