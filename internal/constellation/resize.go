// internal/constellation/resize.go
package constellation

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/geometry"
	"github.com/xkilldash9x/constellation/internal/protocol"
	"github.com/xkilldash9x/constellation/internal/store"
)

// dispatch counts the notices sent by one resizeBrowsingContext call.
type dispatch struct {
	live, inactive, pending int
}

// handleWindowSize applies a window size round from the compositor to a tab.
func (c *Constellation) handleWindowSize(tab protocol.TopLevelBrowsingContextID, size geometry.WindowSizeData, sizeType protocol.SizeType) {
	c.logger.Debug("Window size changed.",
		zap.Stringer("tab", tab),
		zap.Stringer("viewport", size.InitialViewport),
		zap.Float32("device_pixel_ratio", size.DevicePixelRatio),
		zap.Stringer("size_type", sizeType),
	)
	c.windowSizes[tab] = size
	c.windowSize = &size

	bc := tab.BrowsingContextID()
	sent := c.resizeBrowsingContext(size, sizeType, bc)

	round := store.NewRound(tab, bc, size, sizeType)
	round.Live, round.Inactive, round.Pending = sent.live, sent.inactive, sent.pending
	c.journal.Record(round)
	c.logger.Debug("Propagation round dispatched.",
		zap.Stringer("round_id", round.ID),
		zap.Int("live", sent.live),
		zap.Int("inactive", sent.inactive),
		zap.Int("pending", sent.pending),
	)
}

// handleFrameSize applies the layout size of a nested browsing context.
func (c *Constellation) handleFrameSize(id protocol.BrowsingContextID, size geometry.CSSSize) error {
	bc, ok := c.browsingContexts[id]
	if !ok {
		return fmt.Errorf("frame size for %s: %w", id, ErrUnknownBrowsingContext)
	}
	data := geometry.WindowSizeData{InitialViewport: size, DevicePixelRatio: 1}
	if tabSize, ok := c.windowSizes[bc.TopLevel]; ok {
		data = tabSize.WithViewport(size)
	}
	c.resizeBrowsingContext(data, protocol.SizeTypeResize, id)
	return nil
}

// resizeBrowsingContext sends size to every pipeline of a browsing context,
// with a notice shaped by the pipeline's status: loading pipelines buffer it,
// the active pipeline applies it, history pipelines only record it.
func (c *Constellation) resizeBrowsingContext(size geometry.WindowSizeData, sizeType protocol.SizeType, id protocol.BrowsingContextID) dispatch {
	var sent dispatch

	bc, exists := c.browsingContexts[id]
	if exists {
		viewport := size.InitialViewport
		bc.Size = &viewport
	}

	// Loading pipelines park the size until their document activates.
	kept := c.pendingChanges[:0]
	for _, change := range c.pendingChanges {
		if change.BrowsingContext != id {
			kept = append(kept, change)
			continue
		}
		pipeline, ok := c.pipelines[change.NewPipeline]
		if !ok {
			// Already cancelled.
			continue
		}
		kept = append(kept, change)
		pipeline.send(protocol.Resize{Pipeline: pipeline.ID, Data: size, Type: sizeType})
		sent.pending++
	}
	clear(c.pendingChanges[len(kept):])
	c.pendingChanges = kept

	if !exists {
		c.warn("Browsing context resized after closing.", zap.Stringer("browsing_context", id))
		return sent
	}
	active, ok := c.pipelines[bc.Pipeline]
	if !ok {
		c.warn("Browsing context resized after closing.", zap.Stringer("browsing_context", id), zap.Stringer("pipeline", bc.Pipeline))
		return sent
	}
	active.send(protocol.Resize{Pipeline: active.ID, Data: size, Type: sizeType})
	sent.live++

	for _, id := range bc.historyPipelines() {
		pipeline, ok := c.pipelines[id]
		if !ok || pipeline.Status != PipelineActive {
			continue
		}
		pipeline.send(protocol.ResizeInactive{Pipeline: id, Data: size})
		sent.inactive++
	}
	return sent
}
