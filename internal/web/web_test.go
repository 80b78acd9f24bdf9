package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classcal/internal/battery"
	"classcal/internal/catalog"
	"classcal/internal/config"
	"classcal/internal/engine"
	"classcal/internal/ics"
	"classcal/internal/model"
	"classcal/internal/period"
	"classcal/internal/playlist"
)

type feedFetcher struct{ body string }

func (f feedFetcher) Fetch(_ context.Context, src ics.Source) (ics.FetchResult, error) {
	return ics.FetchResult{Source: src, Body: []byte(f.body)}, nil
}

type fixedBattery struct{}

func (fixedBattery) Read(context.Context) (battery.Status, error) {
	return battery.Status{Percent: 77, VoltageMv: 3950}, nil
}

type testEnv struct {
	srv     *Server
	now     time.Time
	display *DisplaySink
	seq     *playlist.Sequencer
}

func newTestEnv(t *testing.T, auth *config.BasicAuthConfig) *testEnv {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	now := time.Date(2024, 1, 17, 9, 10, 0, 0, loc)

	cal := ical.NewCalendar()
	ev := cal.AddEvent("p1")
	ev.SetSummary("Period 1")
	ev.SetStartAt(time.Date(2024, 1, 17, 9, 0, 0, 0, loc))
	ev.SetEndAt(time.Date(2024, 1, 17, 9, 50, 0, 0, loc))
	ev = cal.AddEvent("p2")
	ev.SetSummary("Period 2")
	ev.SetStartAt(time.Date(2024, 1, 17, 10, 0, 0, 0, loc))
	ev.SetEndAt(time.Date(2024, 1, 17, 10, 50, 0, 0, loc))

	res := period.NewResolver(feedFetcher{body: cal.Serialize()}, nil, period.Options{
		Location: loc,
		Sources:  []ics.Source{{ID: "main", URL: "https://calendar.example/school.ics?key=secret"}},
	})
	cats := &catalog.Catalogs{Targets: catalog.TargetCatalog{Defaults: map[string]model.ContentItem{
		"p1": {Type: model.KindText, Content: "Algebra"},
	}}}
	eng := engine.New(res, cats, engine.Options{Location: loc})

	display := NewDisplaySink()
	seq := playlist.NewSequencer(display, nil, nil, nil, playlist.Options{})
	t.Cleanup(seq.Stop)
	runner := engine.NewRunner(eng, seq, engine.RunnerOptions{
		Now:     func() time.Time { return now },
		Publish: display.Publish,
	})

	cfg := config.DefaultConfig()
	cfg.BasicAuth = auth
	srv := NewServer(Deps{
		Config:  cfg,
		Engine:  eng,
		Runner:  runner,
		Display: display,
		Battery: fixedBattery{},
		Now:     func() time.Time { return now },
	})
	return &testEnv{srv: srv, now: now, display: display, seq: seq}
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status  string          `json:"status"`
		Battery *battery.Status `json:"battery"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	require.NotNil(t, body.Battery)
	assert.Equal(t, 77, body.Battery.Percent)
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, &config.BasicAuthConfig{Username: "frontdesk", Password: "s3cret"})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health").Code, "/health stays open")

	rr := env.do(http.MethodGet, "/api/display")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "classcal")

	req := httptest.NewRequest(http.MethodGet, "/api/display", nil)
	req.SetBasicAuth("frontdesk", "s3cret")
	rr = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/api/evaluate")
	require.Equal(t, http.StatusOK, rr.Code)
	var plan engine.Plan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &plan))
	assert.Equal(t, "In-class • P1", plan.Status)
	assert.Equal(t, "Algebra", plan.Item.Content)

	rr = env.do(http.MethodGet, "/api/evaluate?force=p9")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &plan))
	assert.True(t, plan.Idle)
	assert.Equal(t, engine.MsgNoContent, plan.Message)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/evaluate?at=yesterday").Code)
}

func TestRefreshRendersDisplay(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/refresh").Code, "refresh is POST only")

	rr := env.do(http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rr.Code)

	state := env.display.State()
	assert.Equal(t, playlist.StepText, state.Step.Kind)
	assert.Equal(t, "Algebra", state.Step.Text)
	assert.Equal(t, "In-class • P1", state.Status)
	assert.Equal(t, "p1", state.Period)

	rr = env.do(http.MethodGet, "/api/display")
	var got DisplayState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "Algebra", got.Step.Text)

	rr = env.do(http.MethodGet, "/api/diagnostics")
	var diag diagnosticsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &diag))
	require.NotNil(t, diag.Diagnostic)
	assert.Equal(t, period.ReasonCurrent, diag.Diagnostic.Reason)
	assert.Equal(t, 2, diag.Health.LastCount)
	assert.NotContains(t, diag.Health.LastSuccessURL, "secret")
}

func TestInspect(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(http.MethodGet, "/api/inspect")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp inspectResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Sources, 1)
	src := resp.Sources[0]
	assert.Equal(t, 2, src.Total)
	require.Len(t, src.Rows, 2)
	assert.True(t, src.Rows[0].Now)
	assert.Equal(t, "p1", src.Rows[0].Period)
	assert.False(t, src.Rows[1].Now)
	assert.Equal(t, "p2", src.Rows[1].Period)
	assert.Equal(t, "period-phrase", src.Rows[1].MatchedBy)

	rr = env.do(http.MethodGet, "/api/inspect?limit=1")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Sources[0].Rows, 1)
}

func TestExportAndTimeline(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/api/instances.ics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, rr.Body.String(), "SUMMARY:Period 1")
	assert.Contains(t, rr.Body.String(), "SUMMARY:Period 2")

	rr = env.do(http.MethodGet, "/inspect/timeline")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "echarts")
	assert.Contains(t, rr.Body.String(), "Period 2")
}

func TestStaticAndUnknownAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "/api/display")

	rr = env.do(http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error"`)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/preview.png").Code)
}
