// internal/constellation/navigation.go
package constellation

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/xkilldash9x/constellation/internal/eventloop"
	"github.com/xkilldash9x/constellation/internal/protocol"
)

func (c *Constellation) handleNewTab(tab protocol.TopLevelBrowsingContextID, url string) error {
	id := tab.BrowsingContextID()
	if _, exists := c.browsingContexts[id]; exists {
		return fmt.Errorf("new tab %s: %w", tab, ErrDuplicateTab)
	}
	bc := &BrowsingContext{ID: id, TopLevel: tab}
	c.browsingContexts[id] = bc
	c.logger.Info("Tab opened.", zap.Stringer("tab", tab), zap.String("url", url))
	return c.navigate(bc, url, false)
}

func (c *Constellation) handleLoadURL(id protocol.BrowsingContextID, url string) error {
	bc, ok := c.browsingContexts[id]
	if !ok {
		return fmt.Errorf("load %q: %w", url, ErrUnknownBrowsingContext)
	}
	// A newer navigation supersedes one still loading.
	c.cancelPendingChanges(id)
	return c.navigate(bc, url, false)
}

func (c *Constellation) handleAttachFrame(parentID protocol.PipelineID, id protocol.BrowsingContextID, url string) error {
	parent, ok := c.pipelines[parentID]
	if !ok {
		return fmt.Errorf("attach frame %s to %s: %w", id, parentID, ErrUnknownPipeline)
	}
	if _, exists := c.browsingContexts[id]; exists {
		return fmt.Errorf("attach frame %s: browsing context already exists", id)
	}
	bc := &BrowsingContext{ID: id, TopLevel: parent.TopLevel, ParentPipeline: parentID}
	c.browsingContexts[id] = bc
	parent.children = append(parent.children, id)
	return c.navigate(bc, url, false)
}

// navigate starts loading url into bc as a pending change.
func (c *Constellation) navigate(bc *BrowsingContext, url string, replace bool) error {
	pipeline, err := c.newPipeline(bc, url)
	if err != nil {
		return err
	}
	c.addPendingChange(SessionHistoryChange{
		BrowsingContext: bc.ID,
		TopLevel:        bc.TopLevel,
		NewPipeline:     pipeline.ID,
		Replace:         replace,
	})
	return nil
}

// newPipeline registers a pipeline for url and starts its load in the event
// loop shared by its site within the tab.
func (c *Constellation) newPipeline(bc *BrowsingContext, url string) (*Pipeline, error) {
	domain := eventloop.RegistrableDomain(url)
	handle, err := c.eventLoops.GetOrCreate(bc.TopLevel, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline for %q: %w", url, err)
	}

	pipeline := &Pipeline{
		ID:              protocol.NewPipelineID(),
		BrowsingContext: bc.ID,
		TopLevel:        bc.TopLevel,
		Parent:          bc.ParentPipeline,
		URL:             url,
		Status:          PipelinePending,
		eventLoop:       handle,
	}
	c.pipelines[pipeline.ID] = pipeline

	c.logger.Debug("Pipeline created.",
		zap.Stringer("pipeline", pipeline.ID),
		zap.Stringer("browsing_context", bc.ID),
		zap.String("domain", domain),
		zap.String("event_loop", handle.Loop().ID()),
	)
	pipeline.send(protocol.NewPipeline{
		Pipeline:        pipeline.ID,
		BrowsingContext: bc.ID,
		TopLevel:        bc.TopLevel,
		URL:             url,
		WindowSize:      c.windowSizeFor(bc),
	})
	return pipeline, nil
}

// handlePipelineReady promotes a pending change once its document is ready.
func (c *Constellation) handlePipelineReady(id protocol.PipelineID) error {
	change, ok := c.takePendingChange(id)
	if !ok {
		// Cancelled loads may still report in.
		c.logger.Debug("Ready pipeline has no pending change.", zap.Stringer("pipeline", id))
		return nil
	}
	pipeline, ok := c.pipelines[id]
	if !ok {
		return fmt.Errorf("ready %s: %w", id, ErrUnknownPipeline)
	}
	bc, ok := c.browsingContexts[change.BrowsingContext]
	if !ok {
		c.closePipeline(id)
		return fmt.Errorf("ready %s for %s: %w", id, change.BrowsingContext, ErrUnknownBrowsingContext)
	}

	pipeline.Status = PipelineActive
	old := bc.Pipeline
	if change.Replace {
		if old.IsValid() {
			c.closePipeline(old)
		}
	} else {
		if old.IsValid() || bc.URL != "" {
			bc.Prev = append(bc.Prev, bc.current())
		}
		for _, entry := range bc.Next {
			if !entry.Reclaimed() {
				c.closePipeline(entry.Pipeline)
			}
		}
		bc.Next = nil
		c.setActivity(old, false)
	}
	bc.Pipeline = id
	bc.URL = pipeline.URL

	c.logger.Debug("Navigation committed.",
		zap.Stringer("browsing_context", bc.ID),
		zap.Stringer("pipeline", id),
		zap.Stringer("previous", old),
	)
	if bc.IsTopLevel() {
		c.sendCompositor(protocol.SetFrameTree{Root: id, TopLevel: bc.TopLevel})
	}
	c.trimHistory(bc)
	return nil
}

// handleTraverseHistory moves delta steps through the history of bc.
func (c *Constellation) handleTraverseHistory(id protocol.BrowsingContextID, delta int) error {
	bc, ok := c.browsingContexts[id]
	if !ok {
		return fmt.Errorf("traverse history: %w", ErrUnknownBrowsingContext)
	}
	if delta == 0 {
		return nil
	}
	entries := slices.Concat(bc.Prev, []SessionHistoryEntry{bc.current()}, bc.Next)
	target := len(bc.Prev) + delta
	if target < 0 || target >= len(entries) {
		return fmt.Errorf("traverse history of %s by %d: out of range (%d entries)", id, delta, len(entries))
	}

	c.cancelPendingChanges(id)

	old := bc.Pipeline
	entry := entries[target]
	bc.Prev = slices.Clone(entries[:target])
	bc.Next = slices.Clone(entries[target+1:])
	bc.URL = entry.URL
	c.setActivity(old, false)

	if _, live := c.pipelines[entry.Pipeline]; live {
		bc.Pipeline = entry.Pipeline
		c.setActivity(entry.Pipeline, true)
		if bc.IsTopLevel() {
			c.sendCompositor(protocol.SetFrameTree{Root: entry.Pipeline, TopLevel: bc.TopLevel})
		}
		c.trimHistory(bc)
		return nil
	}

	// The entry was reclaimed: reload it in place.
	bc.Pipeline = protocol.NoPipeline
	c.trimHistory(bc)
	return c.navigate(bc, entry.URL, true)
}

func (c *Constellation) setActivity(id protocol.PipelineID, active bool) {
	if pipeline, ok := c.pipelines[id]; ok {
		pipeline.send(protocol.SetActivity{Pipeline: id, Active: active})
	}
}

// trimHistory reclaims the pipelines of entries farther than the configured
// number of steps from the active entry. Reclaimed entries keep their URL.
func (c *Constellation) trimHistory(bc *BrowsingContext) {
	limit := c.cfg.MaxSessionHistory
	if limit <= 0 {
		return
	}
	for i := range bc.Prev {
		if len(bc.Prev)-i > limit && !bc.Prev[i].Reclaimed() {
			c.closePipeline(bc.Prev[i].Pipeline)
			bc.Prev[i].Pipeline = protocol.NoPipeline
		}
	}
	for i := range bc.Next {
		if i+1 > limit && !bc.Next[i].Reclaimed() {
			c.closePipeline(bc.Next[i].Pipeline)
			bc.Next[i].Pipeline = protocol.NoPipeline
		}
	}
}

func (c *Constellation) handleCloseTab(tab protocol.TopLevelBrowsingContextID) error {
	id := tab.BrowsingContextID()
	if _, ok := c.browsingContexts[id]; !ok {
		return fmt.Errorf("close %s: %w", tab, ErrUnknownBrowsingContext)
	}
	c.closeBrowsingContext(id, true)
	c.logger.Info("Tab closed.", zap.Stringer("tab", tab))
	return nil
}

// closeBrowsingContext tears down bc, its in-flight navigations and every
// pipeline it references, including nested contexts.
func (c *Constellation) closeBrowsingContext(id protocol.BrowsingContextID, notifyCompositor bool) {
	bc, ok := c.browsingContexts[id]
	if !ok {
		return
	}
	c.cancelPendingChanges(id)
	if bc.Pipeline.IsValid() {
		c.closePipeline(bc.Pipeline)
	}
	for _, pipeline := range bc.historyPipelines() {
		c.closePipeline(pipeline)
	}
	delete(c.browsingContexts, id)

	if parent, ok := c.pipelines[bc.ParentPipeline]; ok {
		parent.children = slices.DeleteFunc(parent.children, func(child protocol.BrowsingContextID) bool {
			return child == id
		})
	}
	if bc.IsTopLevel() {
		delete(c.windowSizes, bc.TopLevel)
		if notifyCompositor {
			c.sendCompositor(protocol.RemoveFrameTree{TopLevel: bc.TopLevel})
		}
	}
}

// closePipeline removes a pipeline from the registry, exits its document and
// drops its event loop reference.
func (c *Constellation) closePipeline(id protocol.PipelineID) {
	pipeline, ok := c.pipelines[id]
	if !ok {
		return
	}
	delete(c.pipelines, id)
	for _, child := range slices.Clone(pipeline.children) {
		c.closeBrowsingContext(child, false)
	}
	pipeline.Status = PipelineClosed
	pipeline.send(protocol.ExitPipeline{Pipeline: id})
	if pipeline.eventLoop != nil {
		pipeline.eventLoop.Release()
	}
	c.logger.Debug("Pipeline closed.", zap.Stringer("pipeline", id))
}

// Pipeline returns the registered pipeline with the given id.
func (c *Constellation) Pipeline(id protocol.PipelineID) (*Pipeline, bool) {
	p, ok := c.pipelines[id]
	return p, ok
}

// BrowsingContext returns the browsing context with the given id.
func (c *Constellation) BrowsingContext(id protocol.BrowsingContextID) (*BrowsingContext, bool) {
	bc, ok := c.browsingContexts[id]
	return bc, ok
}
