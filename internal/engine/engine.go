// Package engine ties period resolution and the content cascade into a
// single evaluation: "what should the display show at this instant".
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"classcal/internal/catalog"
	"classcal/internal/content"
	appLog "classcal/internal/log"
	"classcal/internal/model"
	"classcal/internal/period"
)

// ErrFatal wraps a panic recovered during evaluation.
var ErrFatal = errors.New("evaluation failed")

// Messages and status texts shown when nothing is scheduled.
const (
	MsgNoContent           = "No content scheduled."
	MsgCalendarUnavailable = "Calendar unavailable."
	MsgDisplayError        = "Error loading display."

	StatusIdle          = "Idle"
	StatusCalendarError = "Calendar fetch error"
	StatusError         = "Error"
)

// Overrides are the per-request knobs: a forced period skips calendar
// lookup, a calendar URL replaces the configured sources.
type Overrides struct {
	ForcePeriod string `json:"force_period,omitempty"`
	CalendarURL string `json:"calendar_url,omitempty"`
}

// Plan is the outcome of one evaluation.
type Plan struct {
	CycleID string    `json:"cycle_id"`
	Now     time.Time `json:"now"`

	Period period.Result      `json:"period"`
	Item   *model.ContentItem `json:"item,omitempty"`
	Source content.Source     `json:"source"`

	MinutesLeft *int   `json:"minutes_left,omitempty"`
	EndsIn      string `json:"ends_in,omitempty"`

	// Idle means nothing matched; Message is the text to show instead.
	Idle    bool   `json:"idle"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status"`
}

// Options configures an Engine.
type Options struct {
	Location *time.Location
	// PlaylistDuration is the global step length in seconds.
	PlaylistDuration int
}

// Engine evaluates the display state. Catalogs can be swapped between
// evaluations; everything else is re-derived on every call.
type Engine struct {
	resolver *period.Resolver
	opts     Options

	mu      sync.RWMutex
	cascade *content.Cascade
}

func New(resolver *period.Resolver, catalogs *catalog.Catalogs, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Engine{
		resolver: resolver,
		opts:     opts,
		cascade:  content.NewCascade(catalogs, opts.Location, opts.PlaylistDuration),
	}
}

// Resolver exposes the period resolver for diagnostics.
func (e *Engine) Resolver() *period.Resolver { return e.resolver }

// Location is the display zone.
func (e *Engine) Location() *time.Location { return e.opts.Location }

// SetCatalogs replaces the catalogs used by later evaluations, including
// the resolver's fallback schedule.
func (e *Engine) SetCatalogs(c *catalog.Catalogs) {
	cascade := content.NewCascade(c, e.opts.Location, e.opts.PlaylistDuration)
	e.mu.Lock()
	e.cascade = cascade
	e.mu.Unlock()
	if c != nil {
		e.resolver.SetFallback(c.Fallback)
	}
}

// Evaluate resolves the period and content for now. The only error it
// returns wraps ErrFatal; calendar and catalog problems are reported in
// the plan instead.
func (e *Engine) Evaluate(ctx context.Context, now time.Time, ov Overrides) (plan Plan, err error) {
	now = now.In(e.opts.Location)
	cycleID := uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFatal, r)
			plan = Plan{
				CycleID: cycleID,
				Now:     now,
				Idle:    true,
				Message: MsgDisplayError,
				Status:  StatusError,
			}
		}
	}()

	res := e.resolver.Current(ctx, now, period.Request{
		ForcePeriod: strings.TrimSpace(ov.ForcePeriod),
		OverrideURL: strings.TrimSpace(ov.CalendarURL),
	})

	var left *int
	if m, ok := res.MinutesLeft(now); ok {
		left = &m
	}

	e.mu.RLock()
	cascade := e.cascade
	e.mu.RUnlock()
	item, src := cascade.Resolve(now, res.Period, left)

	plan = Plan{
		CycleID:     cycleID,
		Now:         now,
		Period:      res,
		Item:        item,
		Source:      src,
		MinutesLeft: left,
	}
	if !res.End.IsZero() && res.End.After(now) {
		plan.EndsIn = humanize.RelTime(res.End, now, "ago", "left")
	}

	calErr := res.Diagnostic.CalendarError
	if item == nil {
		plan.Idle = true
		plan.Message, plan.Status = MsgNoContent, StatusIdle
		if calErr {
			plan.Message, plan.Status = MsgCalendarUnavailable, StatusCalendarError
		}
	} else {
		plan.Status = statusLine(res.Period, src, left, calErr)
	}

	appLog.Debug("evaluated display",
		"cycle", cycleID,
		"period", res.Period,
		"reason", res.Diagnostic.Reason,
		"source", src,
		"status", plan.Status,
	)
	return plan, nil
}

func statusLine(periodID string, src content.Source, left *int, calErr bool) string {
	var s string
	switch src {
	case content.SourceTargets:
		s = "In-class • " + strings.ToUpper(periodID)
	case content.SourceTimeRemaining:
		if left != nil {
			s = fmt.Sprintf("timeRemaining (≤ %dm)", *left)
		} else {
			s = "timeRemaining"
		}
	default:
		s = string(src)
	}
	if calErr {
		s += " • Calendar fetch error"
	}
	return s
}
