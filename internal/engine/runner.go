package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"classcal/internal/catalog"
	appLog "classcal/internal/log"
	"classcal/internal/model"
	"classcal/internal/playlist"
)

// Renderer is the display side of a cycle; playlist.Sequencer implements it.
type Renderer interface {
	Render(item *model.ContentItem) *playlist.Cycle
	RenderNotice(msg string) *playlist.Cycle
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// Spec is a robfig/cron schedule, e.g. "@every 60s".
	Spec      string
	Overrides Overrides
	// Reload, when set, re-reads the catalogs before every evaluation.
	Reload func(ctx context.Context) *catalog.Catalogs
	// Publish receives every plan, including failed ones.
	Publish func(Plan)
	Now     func() time.Time
}

// Runner evaluates on a schedule and renders each plan. Runs never
// overlap: scheduled ticks are skipped while one is in flight and manual
// triggers wait their turn.
type Runner struct {
	engine   *Engine
	renderer Renderer
	opts     RunnerOptions

	runMu sync.Mutex

	mu      sync.RWMutex
	last    *Plan
	lastErr error

	cron *cron.Cron
}

func NewRunner(e *Engine, r Renderer, opts RunnerOptions) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Spec == "" {
		opts.Spec = "@every 60s"
	}
	return &Runner{engine: e, renderer: r, opts: opts}
}

// RunOnce performs one evaluate-and-render cycle. A fatal evaluation
// error is logged and shown as a notice; the returned error is only for
// callers that want to report it.
func (r *Runner) RunOnce(ctx context.Context) (Plan, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.opts.Reload != nil {
		r.engine.SetCatalogs(r.opts.Reload(ctx))
	}

	plan, err := r.engine.Evaluate(ctx, r.opts.Now(), r.opts.Overrides)
	switch {
	case err != nil:
		appLog.Error("display cycle failed", err, "cycle", plan.CycleID)
		r.renderer.RenderNotice(MsgDisplayError)
	case plan.Idle:
		r.renderer.RenderNotice(plan.Message)
	default:
		r.renderer.Render(plan.Item)
	}

	r.mu.Lock()
	r.last = &plan
	r.lastErr = err
	r.mu.Unlock()

	if r.opts.Publish != nil {
		r.opts.Publish(plan)
	}
	return plan, err
}

// Last returns the most recent plan, if any cycle has run.
func (r *Runner) Last() (Plan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Plan{}, false
	}
	return *r.last, true
}

// LastError is the error of the most recent cycle, nil when it succeeded.
func (r *Runner) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Start runs one cycle immediately, then schedules the rest. ctx is
// passed to every scheduled cycle.
func (r *Runner) Start(ctx context.Context) error {
	logger := appLog.CronLogger{}
	c := cron.New(
		cron.WithLocation(r.engine.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(r.opts.Spec, func() {
		if ctx.Err() != nil {
			return
		}
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", r.opts.Spec, err)
	}

	_, _ = r.RunOnce(ctx)

	r.cron = c
	c.Start()
	appLog.Info("display cycle scheduled", "spec", r.opts.Spec)
	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}
