// internal/constellation/pending.go
package constellation

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/protocol"
)

// SessionHistoryChange is an in-flight navigation: NewPipeline becomes the
// active pipeline of BrowsingContext once its document is ready.
type SessionHistoryChange struct {
	BrowsingContext protocol.BrowsingContextID
	TopLevel        protocol.TopLevelBrowsingContextID
	NewPipeline     protocol.PipelineID
	// Replace is set when the change reloads a reclaimed history entry; the
	// new pipeline takes the current entry instead of pushing a new one.
	Replace bool
}

func (c *Constellation) addPendingChange(change SessionHistoryChange) {
	c.pendingChanges = append(c.pendingChanges, change)
}

// takePendingChange removes and returns the change whose new pipeline is id.
func (c *Constellation) takePendingChange(id protocol.PipelineID) (SessionHistoryChange, bool) {
	for i, change := range c.pendingChanges {
		if change.NewPipeline == id {
			c.pendingChanges = append(c.pendingChanges[:i], c.pendingChanges[i+1:]...)
			return change, true
		}
	}
	return SessionHistoryChange{}, false
}

// cancelPendingChanges drops every in-flight navigation of bc and closes the
// pipelines they were loading.
func (c *Constellation) cancelPendingChanges(bc protocol.BrowsingContextID) {
	var cancelled []protocol.PipelineID
	kept := c.pendingChanges[:0]
	for _, change := range c.pendingChanges {
		if change.BrowsingContext == bc {
			cancelled = append(cancelled, change.NewPipeline)
			continue
		}
		kept = append(kept, change)
	}
	clear(c.pendingChanges[len(kept):])
	c.pendingChanges = kept

	for _, id := range cancelled {
		c.logger.Debug("Pending navigation cancelled.", zap.Stringer("browsing_context", bc), zap.Stringer("pipeline", id))
		c.closePipeline(id)
	}
}

// PendingChanges returns a copy of the in-flight navigations.
func (c *Constellation) PendingChanges() []SessionHistoryChange {
	out := make([]SessionHistoryChange, len(c.pendingChanges))
	copy(out, c.pendingChanges)
	return out
}
