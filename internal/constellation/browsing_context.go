// internal/constellation/browsing_context.go
package constellation

import (
	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

// SessionHistoryEntry is one step of a browsing context's history. Pipeline is
// NoPipeline once the entry's document was reclaimed; URL is kept so the entry
// can be reloaded.
type SessionHistoryEntry struct {
	Pipeline protocol.PipelineID
	URL      string
}

// Reclaimed reports whether the entry lost its pipeline.
func (e SessionHistoryEntry) Reclaimed() bool { return !e.Pipeline.IsValid() }

// BrowsingContext is a navigable slot: a tab's root context or a nested frame.
type BrowsingContext struct {
	ID       protocol.BrowsingContextID
	TopLevel protocol.TopLevelBrowsingContextID
	// ParentPipeline is NoPipeline for a tab's root context.
	ParentPipeline protocol.PipelineID

	// Pipeline is the active pipeline; NoPipeline before the first load
	// completes and while a reclaimed history entry reloads.
	Pipeline protocol.PipelineID
	URL      string

	// Prev is ordered oldest first: the last element is one step back.
	Prev []SessionHistoryEntry
	// Next is ordered nearest first: the first element is one step forward.
	Next []SessionHistoryEntry

	// Size is the last viewport size applied to the context.
	Size *geometry.CSSSize
}

// IsTopLevel reports whether this is the root context of its tab.
func (bc *BrowsingContext) IsTopLevel() bool {
	return !bc.ParentPipeline.IsValid()
}

// current returns the active entry as a history entry.
func (bc *BrowsingContext) current() SessionHistoryEntry {
	return SessionHistoryEntry{Pipeline: bc.Pipeline, URL: bc.URL}
}

// historyPipelines returns every pipeline id held by prev and next entries.
func (bc *BrowsingContext) historyPipelines() []protocol.PipelineID {
	ids := make([]protocol.PipelineID, 0, len(bc.Prev)+len(bc.Next))
	for _, entry := range bc.Prev {
		if !entry.Reclaimed() {
			ids = append(ids, entry.Pipeline)
		}
	}
	for _, entry := range bc.Next {
		if !entry.Reclaimed() {
			ids = append(ids, entry.Pipeline)
		}
	}
	return ids
}
