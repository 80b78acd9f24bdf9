package web

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"classcal/internal/ics"
	appLog "classcal/internal/log"
	"classcal/internal/model"
	"classcal/internal/period"
)

const inspectRowLimit = 40

type inspectRow struct {
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	AllDay    bool      `json:"all_day"`
	Now       bool      `json:"now"`
	Period    string    `json:"period"`
	MatchedBy string    `json:"matched_by"`
	Starts    string    `json:"starts"`
}

type inspectSource struct {
	Probe period.Probe `json:"probe"`
	Total int          `json:"total"`
	Rows  []inspectRow `json:"rows"`
}

type inspectResponse struct {
	Now     time.Time       `json:"now"`
	Sources []inspectSource `json:"sources"`
}

// handleInspect lists the expanded instances of every source with the
// period each title maps to.
//
// GET /api/inspect?limit=40&ics=https://...
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	now, err := s.instantFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "at must be RFC3339")
		return
	}
	now = now.In(s.Engine.Location())
	limit := parseIntDefault(r.URL.Query().Get("limit"), inspectRowLimit)
	if limit <= 0 {
		limit = inspectRowLimit
	}

	res := s.Engine.Resolver()
	resp := inspectResponse{Now: now, Sources: []inspectSource{}}
	for _, src := range res.Sources(period.Request{OverrideURL: r.URL.Query().Get("ics")}) {
		instances, probe, _ := res.Instances(r.Context(), now, src)
		out := inspectSource{Probe: probe, Total: len(instances), Rows: []inspectRow{}}
		for i, inst := range instances {
			if i == limit {
				break
			}
			id, by := res.MapTitle(inst.Title)
			out.Rows = append(out.Rows, inspectRow{
				Title:     inst.Title,
				Start:     inst.Start,
				End:       inst.End,
				AllDay:    inst.AllDay,
				Now:       inst.Contains(now),
				Period:    id,
				MatchedBy: by,
				Starts:    humanize.RelTime(inst.Start, now, "ago", "from now"),
			})
		}
		resp.Sources = append(resp.Sources, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// collectInstances gathers the instances of every source, ordered by
// start.
func (s *Server) collectInstances(ctx context.Context, now time.Time, override string) []model.EventInstance {
	res := s.Engine.Resolver()
	var all []model.EventInstance
	for _, src := range res.Sources(period.Request{OverrideURL: override}) {
		// A failed source still contributes its cached instances, if any.
		instances, _, _ := res.Instances(ctx, now, src)
		all = append(all, instances...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	return all
}

// handleExport serves the expanded instances as a flat ICS calendar.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	now := s.Now().In(s.Engine.Location())
	instances := s.collectInstances(r.Context(), now, r.URL.Query().Get("ics"))

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="classcal-instances.ics"`)
	_, _ = w.Write([]byte(ics.ExportInstances("classcal", instances, now)))
}

// handleTimeline renders the instances around now as a bar chart, one bar
// per instance sized by its length in minutes. The running one is red.
//
// GET /inspect/timeline?days=1
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	now := s.Now().In(s.Engine.Location())
	days := parseIntDefault(r.URL.Query().Get("days"), 1)
	if days <= 0 {
		days = 1
	}
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 0, days)

	var labels []string
	var data []opts.BarData
	for _, inst := range s.collectInstances(r.Context(), now, r.URL.Query().Get("ics")) {
		if !inst.Start.Before(to) || !inst.End.After(from) {
			continue
		}
		id, _ := s.Engine.Resolver().MapTitle(inst.Title)
		labels = append(labels, fmt.Sprintf("%s %s", inst.Start.Format("Mon 15:04"), inst.Title))
		bar := opts.BarData{
			Name:  fmt.Sprintf("%s (%s)", inst.Title, id),
			Value: int(inst.End.Sub(inst.Start).Minutes()),
		}
		if inst.Contains(now) {
			bar.ItemStyle = &opts.ItemStyle{Color: "#c0392b"}
		}
		data = append(data, bar)
	}

	chart := charts.NewBar()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "classcal timeline",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Calendar instances",
			Subtitle: fmt.Sprintf("%s, %d day(s), minutes per instance", from.Format("Mon Jan 2"), days),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	chart.SetXAxis(labels).AddSeries("minutes", data)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := chart.Render(w); err != nil {
		appLog.Error("timeline render failed", err)
	}
}
