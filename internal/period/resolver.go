// Package period works out which class period is active from the
// calendar sources, falling back to a fixed weekday schedule.
package period

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"classcal/internal/catalog"
	"classcal/internal/ics"
	appLog "classcal/internal/log"
	"classcal/internal/model"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultGrace      = 10 * time.Minute
	DefaultWindowDays = 7
)

// Reason explains how a Result was reached.
type Reason string

const (
	ReasonCurrent  Reason = "current"
	ReasonGrace    Reason = "grace"
	ReasonForced   Reason = "forced"
	ReasonFallback Reason = "fallback"
	ReasonNone     Reason = "none"
	ReasonNoConfig Reason = "no-ics-config"
)

// Fetcher is the part of ics.Fetcher the resolver needs.
type Fetcher interface {
	Fetch(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Options configures a Resolver.
type Options struct {
	Location *time.Location
	// Grace lets an event that starts shortly after now count as active.
	Grace      time.Duration
	DaysBefore int
	DaysAfter  int

	// Sources are the configured feeds in priority order.
	Sources       []ics.Source
	EventMap      model.EventMap
	DefaultPeriod string
	Fallback      catalog.FallbackSchedule
}

// Request carries per-evaluation overrides.
type Request struct {
	// ForcePeriod skips the calendar entirely.
	ForcePeriod string
	// OverrideURL replaces every configured source.
	OverrideURL string
}

// Probe is the per-source diagnostic entry.
type Probe struct {
	Source    string     `json:"source"`
	URL       string     `json:"url"`
	Count     int        `json:"count"`
	First     *time.Time `json:"first,omitempty"`
	Last      *time.Time `json:"last,omitempty"`
	FromCache bool       `json:"from_cache,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// NextEvent is the first upcoming instance seen across sources.
type NextEvent struct {
	Summary string    `json:"summary"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Diagnostic is gathered for operators; it never changes the outcome.
type Diagnostic struct {
	Reason        Reason     `json:"reason"`
	Source        string     `json:"source,omitempty"`
	MatchedBy     string     `json:"matched_by,omitempty"`
	LookedAt      []Probe    `json:"looked_at"`
	NextEvent     *NextEvent `json:"next_event,omitempty"`
	CalendarError bool       `json:"calendar_error"`
	// Stale is set when the winning instance came from a cached body of a
	// source whose fetch failed.
	Stale bool `json:"stale,omitempty"`
}

// Result is the resolved period. Period is empty when nothing is active.
// Start and End are zero when the window is unknown (forced periods).
type Result struct {
	Period     string     `json:"period"`
	Start      time.Time  `json:"start,omitempty"`
	End        time.Time  `json:"end,omitempty"`
	Summary    string     `json:"summary"`
	Diagnostic Diagnostic `json:"diagnostic"`
}

// MinutesLeft is the whole minutes (rounded up) until End.
func (r Result) MinutesLeft(now time.Time) (int, bool) {
	if r.End.IsZero() {
		return 0, false
	}
	d := r.End.Sub(now)
	m := int(d / time.Minute)
	if d%time.Minute > 0 {
		m++
	}
	return m, true
}

// Resolver finds the active period. It holds no per-evaluation state.
type Resolver struct {
	fetcher  Fetcher
	health   *Health
	opts     Options
	matchers []Matcher

	mu       sync.RWMutex
	fallback catalog.FallbackSchedule
}

func NewResolver(f Fetcher, h *Health, opts Options) *Resolver {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.DaysBefore <= 0 {
		opts.DaysBefore = DefaultWindowDays
	}
	if opts.DaysAfter <= 0 {
		opts.DaysAfter = DefaultWindowDays
	}
	if h == nil {
		h = NewHealth()
	}
	return &Resolver{
		fetcher:  f,
		health:   h,
		opts:     opts,
		matchers: Matchers(opts.EventMap, opts.DefaultPeriod),
		fallback: opts.Fallback,
	}
}

// SetFallback replaces the weekly schedule used when no calendar matches.
func (r *Resolver) SetFallback(fs catalog.FallbackSchedule) {
	r.mu.Lock()
	r.fallback = fs
	r.mu.Unlock()
}

// Health returns the record the resolver writes probe outcomes to.
func (r *Resolver) Health() *Health { return r.health }

// BuildSources orders the configured feeds: the list first, then the
// proxy URL, then the single legacy URL. Blank and repeated URLs are
// dropped.
func BuildSources(urls []string, proxyURL, legacyURL string) []ics.Source {
	out := make([]ics.Source, 0, len(urls)+2)
	seen := map[string]bool{}
	add := func(id, u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, ics.Source{ID: id, URL: u})
	}
	for i, u := range urls {
		add(fmt.Sprintf("ics_urls[%d]", i), u)
	}
	add("ics_proxy_url", proxyURL)
	add("ics_url", legacyURL)
	return out
}

// Sources returns the feeds to try for req.
func (r *Resolver) Sources(req Request) []ics.Source {
	if req.OverrideURL != "" {
		return []ics.Source{{ID: "override", URL: req.OverrideURL}}
	}
	return r.opts.Sources
}

// Current resolves the period active at now. The first source with a
// current or grace hit wins and later sources are not fetched.
func (r *Resolver) Current(ctx context.Context, now time.Time, req Request) Result {
	now = now.In(r.opts.Location)

	if req.ForcePeriod != "" {
		return Result{
			Period:     req.ForcePeriod,
			Summary:    "(forced)",
			Diagnostic: Diagnostic{Reason: ReasonForced, LookedAt: []Probe{}},
		}
	}

	sources := r.Sources(req)
	diag := Diagnostic{LookedAt: make([]Probe, 0, len(sources))}

	// Cached bodies of failed sources are only consulted once every live
	// source has missed.
	type staleSet struct {
		src       ics.Source
		instances []model.EventInstance
	}
	var stale []staleSet

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			diag.LookedAt = append(diag.LookedAt, Probe{Source: src.ID, URL: ics.RedactURL(src.URL), Error: err.Error()})
			continue
		}

		instances, probe, err := r.load(ctx, now, src)
		diag.LookedAt = append(diag.LookedAt, probe)
		if err != nil {
			if len(instances) > 0 {
				stale = append(stale, staleSet{src: src, instances: instances})
			}
			continue
		}

		if res, ok := r.resolveFrom(src, instances, now, &diag); ok {
			diag.CalendarError = calendarError(diag.LookedAt, false)
			res.Diagnostic = diag
			return res
		}

		if diag.NextEvent == nil {
			if next := nextUpcoming(instances, now); next != nil {
				diag.NextEvent = &NextEvent{Summary: next.Title, Start: next.Start, End: next.End}
			}
		}
	}

	for _, s := range stale {
		if res, ok := r.resolveFrom(s.src, s.instances, now, &diag); ok {
			diag.Stale = true
			diag.CalendarError = true
			res.Diagnostic = diag
			return res
		}
	}

	r.mu.RLock()
	fallback := r.fallback
	r.mu.RUnlock()
	if b, start, end, ok := fallback.Match(now); ok {
		diag.Reason = ReasonFallback
		diag.CalendarError = calendarError(diag.LookedAt, false)
		return Result{
			Period:     b.Thread,
			Start:      start,
			End:        end,
			Summary:    "(fallback schedule)",
			Diagnostic: diag,
		}
	}

	diag.Reason = ReasonNone
	if len(sources) == 0 {
		diag.Reason = ReasonNoConfig
	}
	diag.CalendarError = calendarError(diag.LookedAt, true)
	return Result{Diagnostic: diag}
}

// resolveFrom looks for the active instance of one source and, on a hit,
// fills the diagnostic's reason and source.
func (r *Resolver) resolveFrom(src ics.Source, instances []model.EventInstance, now time.Time, diag *Diagnostic) (Result, bool) {
	hit, reason := findActive(instances, now, r.opts.Grace)
	if hit == nil {
		return Result{}, false
	}
	id, matchedBy := MatchTitle(hit.Title, r.matchers)
	diag.Reason = reason
	diag.Source = src.ID
	diag.MatchedBy = matchedBy
	appLog.Debug("period resolved from calendar",
		"source", src.ID, "reason", reason, "title", hit.Title, "period", id)
	return Result{
		Period:  id,
		Start:   hit.Start,
		End:     hit.End,
		Summary: hit.Title,
	}, true
}

// load fetches, parses and expands one source. Failures are recorded in
// the probe and in health; they never abort resolution. A failed fetch
// that still produced a cached body returns its instances with the error.
func (r *Resolver) load(ctx context.Context, now time.Time, src ics.Source) ([]model.EventInstance, Probe, error) {
	probe := Probe{Source: src.ID, URL: ics.RedactURL(src.URL)}
	r.health.NoteAttempt(src.URL, now)

	res, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		appLog.Error("calendar source failed", err, "source", src.ID, "cached", len(res.Body) > 0)
		r.health.NoteFailure(src.URL, err, now)
		probe.Error = err.Error()
		if len(res.Body) == 0 {
			return nil, probe, err
		}
	}

	instances := ics.Expand(ics.Parse(string(res.Body)), now, r.opts.Location, r.opts.DaysBefore, r.opts.DaysAfter)
	for i := range instances {
		instances[i].SourceID = src.ID
	}
	if err == nil {
		r.health.NoteSuccess(src.URL, len(instances), now)
	}

	probe.Count = len(instances)
	probe.FromCache = res.FromCache
	if len(instances) > 0 {
		first := instances[0].Start
		last := instances[len(instances)-1].End
		probe.First = &first
		probe.Last = &last
	}
	return instances, probe, err
}

// Instances loads one source's expanded instances around now, for the
// inspector and the ICS export.
func (r *Resolver) Instances(ctx context.Context, now time.Time, src ics.Source) ([]model.EventInstance, Probe, error) {
	return r.load(ctx, now.In(r.opts.Location), src)
}

// MapTitle maps a title with the resolver's configured event map and
// default period.
func (r *Resolver) MapTitle(title string) (periodID, matchedBy string) {
	return MatchTitle(title, r.matchers)
}

// findActive returns the first instance containing now, else the earliest
// one starting within grace after now. instances must be sorted by start.
func findActive(instances []model.EventInstance, now time.Time, grace time.Duration) (*model.EventInstance, Reason) {
	for i := range instances {
		if instances[i].Contains(now) {
			return &instances[i], ReasonCurrent
		}
	}
	for i := range instances {
		s := instances[i].Start
		if !s.Before(now) && s.Sub(now) <= grace {
			return &instances[i], ReasonGrace
		}
	}
	return nil, ""
}

func nextUpcoming(instances []model.EventInstance, now time.Time) *model.EventInstance {
	for i := range instances {
		if !instances[i].Start.Before(now) {
			return &instances[i]
		}
	}
	return nil
}

// calendarError reports a calendar problem worth showing on screen: no
// source succeeded while at least one failed, or, when nothing resolved
// at all, any failure.
func calendarError(probes []Probe, unresolved bool) bool {
	failed, succeeded := false, false
	for _, p := range probes {
		if p.Error != "" {
			failed = true
		} else {
			succeeded = true
		}
	}
	if unresolved {
		return failed
	}
	return failed && !succeeded
}
