// internal/simulate/runner.go
package simulate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/constellation/internal/compositor"
	"github.com/xkilldash9x/constellation/internal/config"
	"github.com/xkilldash9x/constellation/internal/constellation"
	"github.com/xkilldash9x/constellation/internal/eventloop"
	"github.com/xkilldash9x/constellation/internal/mailbox"
	"github.com/xkilldash9x/constellation/internal/protocol"
	"github.com/xkilldash9x/constellation/internal/script"
	"github.com/xkilldash9x/constellation/internal/store"
)

// BackgroundJournal is a journal with its own write loop.
type BackgroundJournal interface {
	constellation.Journal
	Run(ctx context.Context) error
}

// Report summarizes a finished run.
type Report struct {
	Scenario       string         `json:"scenario"`
	Steps          int            `json:"steps"`
	Rounds         int64          `json:"rounds"`
	Reflows        map[string]int `json:"reflows"`
	Warnings       []string       `json:"warnings,omitempty"`
	UnitsSpawned   int            `json:"units_spawned"`
	UnitsAborted   int            `json:"units_aborted"`
	LiveEventLoops int            `json:"live_event_loops"`
	PeakBacklog    int            `json:"peak_backlog"`
}

// Runner wires a compositor, a constellation and execution units over a
// headless window and drives them with a scenario.
type Runner struct {
	cfg     *config.Config
	logger  *zap.Logger
	journal BackgroundJournal
}

// NewRunner creates a runner. journal may be nil.
func NewRunner(cfg *config.Config, logger *zap.Logger, journal BackgroundJournal) *Runner {
	return &Runner{cfg: cfg, logger: logger.Named("simulate"), journal: journal}
}

// countingJournal counts rounds before handing them on.
type countingJournal struct {
	next   constellation.Journal
	rounds atomic.Int64
}

func (j *countingJournal) Record(r store.Round) {
	j.rounds.Add(1)
	j.next.Record(r)
}

type topology struct {
	window *compositor.HeadlessWindow
	comp   *compositor.Compositor
	cons   *constellation.Constellation
	dir    *eventloop.Directory
	layout *LayoutRecorder

	mu    sync.Mutex
	units []*script.Unit

	tabs []protocol.TopLevelBrowsingContextID
}

// Run plays sc to completion and tears everything down.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	journal := &countingJournal{next: store.Nop{}}
	if r.journal != nil {
		journal.next = r.journal
		// The journal outlives the loops that feed it so the last rounds are flushed.
		journalCtx, stopJournal := context.WithCancel(context.Background())
		journalDone := make(chan error, 1)
		go func() { journalDone <- r.journal.Run(journalCtx) }()
		defer func() {
			stopJournal()
			<-journalDone
		}()
	}

	topo := r.build(gctx, journal)

	g.Go(func() error { return topo.comp.Run(gctx) })
	g.Go(func() error { return topo.cons.Run(gctx) })
	g.Go(func() error {
		defer stop()
		return r.drive(gctx, topo, sc)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Scenario:       sc.Name,
		Steps:          len(sc.Steps),
		Rounds:         journal.rounds.Load(),
		Reflows:        topo.layout.Counts(),
		Warnings:       topo.cons.HandledWarnings(),
		LiveEventLoops: topo.dir.Len(),
		PeakBacklog:    topo.cons.PeakBacklog(),
	}
	topo.mu.Lock()
	report.UnitsSpawned = len(topo.units)
	for _, u := range topo.units {
		if u.Err() != nil {
			report.UnitsAborted++
		}
	}
	topo.mu.Unlock()
	return report, nil
}

func (r *Runner) build(ctx context.Context, journal constellation.Journal) *topology {
	cfg := r.cfg
	topo := &topology{
		window: compositor.NewHeadlessWindow(cfg.Compositor.WindowWidth, cfg.Compositor.WindowHeight, cfg.Compositor.HiDPIFactor),
		layout: NewLayoutRecorder(r.logger),
	}
	toConstellation := mailbox.New[protocol.ConstellationMsg](cfg.Constellation.InboxSize)
	loader := DelayLoader{Delay: cfg.Loader.Delay}

	topo.dir = eventloop.NewDirectory(r.logger, func(key eventloop.Key) (eventloop.Sink, error) {
		unit := script.NewUnit(
			r.logger.Named("script").With(zap.Stringer("event_loop", key)),
			cfg.Script, toConstellation, topo.layout, loader,
		)
		unit.Start(ctx)
		topo.mu.Lock()
		topo.units = append(topo.units, unit)
		topo.mu.Unlock()
		return unit, nil
	})
	topo.comp = compositor.New(r.logger, cfg.Compositor, topo.window, renderLog{logger: r.logger.Named("render")}, toConstellation)
	topo.cons = constellation.New(r.logger, cfg.Constellation, toConstellation, topo.comp.Inbox(), topo.dir, journal)
	return topo
}

func (r *Runner) drive(ctx context.Context, topo *topology, sc *Scenario) error {
	limit := rate.Inf
	if r.cfg.Simulate.StepsPerSecond > 0 {
		limit = rate.Limit(r.cfg.Simulate.StepsPerSecond)
	}
	burst := r.cfg.Simulate.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	r.logger.Info("Scenario started.", zap.String("scenario", sc.Name), zap.Int("steps", len(sc.Steps)))
	for i, step := range sc.Steps {
		if err := limiter.Wait(ctx); err != nil {
			r.logger.Warn("Scenario interrupted.", zap.Int("step", i+1), zap.Error(err))
			return nil
		}
		if err := r.apply(ctx, topo, step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	// Let in-flight loads and resizes settle before tearing down.
	select {
	case <-time.After(r.cfg.Simulate.SettleTime):
	case <-ctx.Done():
	}
	r.logger.Info("Scenario finished.", zap.String("scenario", sc.Name))
	return nil
}

func (r *Runner) apply(ctx context.Context, topo *topology, step Step) error {
	switch {
	case step.NewTab != "":
		tab := protocol.NewTopLevelBrowsingContextID()
		topo.tabs = append(topo.tabs, tab)
		return post(topo.cons.Inbox(), protocol.ConstellationMsg(protocol.NewTab{TopLevel: tab, URL: step.NewTab}))
	case step.Wait != 0:
		select {
		case <-time.After(step.Wait):
		case <-ctx.Done():
		}
		return nil
	case step.Resize != nil:
		frame := topo.window.SetSize(step.Resize.Width, step.Resize.Height)
		return post(topo.comp.Events(), compositor.WindowEvent(compositor.ResizeEvent{Size: frame}))
	case step.HiDPI != 0:
		topo.window.SetHiDPIFactor(step.HiDPI)
		return post(topo.comp.Events(), compositor.WindowEvent(compositor.ResizeEvent{Size: topo.window.FramebufferSize()}))
	case step.Zoom != 0:
		return post(topo.comp.Events(), compositor.WindowEvent(compositor.ZoomEvent{Magnification: step.Zoom}))
	case step.PinchZoom != 0:
		return post(topo.comp.Events(), compositor.WindowEvent(compositor.PinchZoomEvent{Magnification: step.PinchZoom}))
	case step.ResetZoom:
		return post(topo.comp.Events(), compositor.WindowEvent(compositor.ResetZoomEvent{}))
	}

	tab, err := topo.tab(step.Tab)
	if err != nil {
		return err
	}
	var msg protocol.ConstellationMsg
	switch {
	case step.LoadURL != "":
		msg = protocol.LoadURL{BrowsingContext: tab.BrowsingContextID(), URL: step.LoadURL}
	case step.Traverse != 0:
		msg = protocol.TraverseHistory{BrowsingContext: tab.BrowsingContextID(), Delta: step.Traverse}
	case step.CancelLoad:
		msg = protocol.CancelLoad{BrowsingContext: tab.BrowsingContextID()}
	case step.CloseTab:
		msg = protocol.CloseTab{TopLevel: tab}
	default:
		return fmt.Errorf("step has no action")
	}
	return post(topo.cons.Inbox(), msg)
}

func (t *topology) tab(index int) (protocol.TopLevelBrowsingContextID, error) {
	if len(t.tabs) == 0 {
		return 0, fmt.Errorf("no tab has been opened")
	}
	if index == 0 {
		return t.tabs[len(t.tabs)-1], nil
	}
	if index > len(t.tabs) {
		return 0, fmt.Errorf("tab %d does not exist, %d opened", index, len(t.tabs))
	}
	return t.tabs[index-1], nil
}

// post hands msg to a component. A component that already stopped drops it,
// which only happens while the run is being torn down.
func post[T any](to mailbox.Sender[T], msg T) error {
	to.Send(msg)
	return nil
}
