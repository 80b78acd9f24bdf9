// Package web serves the display page and the operator API.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"classcal/internal/battery"
	"classcal/internal/config"
	"classcal/internal/engine"
	appLog "classcal/internal/log"
	"classcal/internal/period"
)

// Deps are the collaborators the handlers read from.
type Deps struct {
	Config  *config.Config
	Engine  *engine.Engine
	Runner  *engine.Runner
	Display *DisplaySink
	// Battery may be nil when no UPS is configured.
	Battery battery.Reader
	// PreviewPath is the PNG written by the capture step.
	PreviewPath string
	Now         func() time.Time
}

// Server provides the display page and HTTP APIs.
type Server struct {
	Deps
	router *mux.Router
}

// embeddedStatic holds the display page.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Display == nil {
		d.Display = NewDisplaySink()
	}
	s := &Server{Deps: d, router: mux.NewRouter()}
	s.registerRoutes()
	return s
}

// Handler returns the router, wrapped with basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.Config.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.Config == nil || s.Config.BasicAuth == nil {
		return false
	}
	// Empty credentials count as disabled.
	return s.Config.BasicAuth.Username != "" && s.Config.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.Config.BasicAuth.Username
	password := s.Config.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="classcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs an HTTP server on cfg.Listen until ctx is cancelled, then
// shuts it down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.Config.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/display", s.handleDisplay).Methods(http.MethodGet)
	r.HandleFunc("/api/evaluate", s.handleEvaluate).Methods(http.MethodGet)
	r.HandleFunc("/api/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/inspect", s.handleInspect).Methods(http.MethodGet)
	r.HandleFunc("/api/instances.ics", s.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/inspect/timeline", s.handleTimeline).Methods(http.MethodGet)
	r.HandleFunc("/preview.png", s.handlePreview).Methods(http.MethodGet)

	// Anything under /api without a handler is a JSON 404, never the page.
	r.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.PathPrefix("/").Handler(s.staticFileServer())
}

type healthResponse struct {
	Status    string                `json:"status"`
	Time      time.Time             `json:"time"`
	Calendar  period.HealthSnapshot `json:"calendar"`
	Battery   *battery.Status       `json:"battery"`
	LastCycle *cycleSummary         `json:"last_cycle,omitempty"`
}

type cycleSummary struct {
	CycleID string    `json:"cycle_id"`
	At      time.Time `json:"at"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Time:     s.Now(),
		Calendar: s.Engine.Resolver().Health().Snapshot(),
	}

	if s.Battery != nil {
		if st, err := s.Battery.Read(r.Context()); err == nil {
			resp.Battery = &st
		} else if !errors.Is(err, battery.ErrUnavailable) {
			appLog.Warn("battery read failed", "err", err)
		}
	}

	if s.Runner != nil {
		if plan, ok := s.Runner.Last(); ok {
			sum := &cycleSummary{CycleID: plan.CycleID, At: plan.Now, Status: plan.Status}
			if err := s.Runner.LastError(); err != nil {
				sum.Error = err.Error()
				resp.Status = "degraded"
			}
			resp.LastCycle = sum
		}
	}
	if resp.Calendar.LastError != nil && resp.Calendar.LastSuccess == nil {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisplay(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.Display.State())
}

// overridesFrom reads ?force=<period>&ics=<url>.
func overridesFrom(r *http.Request) engine.Overrides {
	q := r.URL.Query()
	return engine.Overrides{ForcePeriod: q.Get("force"), CalendarURL: q.Get("ics")}
}

// instantFrom reads ?at=<RFC3339>, defaulting to now.
func (s *Server) instantFrom(r *http.Request) (time.Time, error) {
	at := r.URL.Query().Get("at")
	if at == "" {
		return s.Now(), nil
	}
	return time.Parse(time.RFC3339, at)
}

// handleEvaluate evaluates without touching the display.
//
// GET /api/evaluate?at=2024-01-17T09:10:00-08:00&force=p1&ics=https://...
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	now, err := s.instantFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "at must be RFC3339")
		return
	}
	plan, err := s.Engine.Evaluate(r.Context(), now, overridesFrom(r))
	if err != nil {
		appLog.Error("api evaluate failed", err)
		writeJSON(w, http.StatusInternalServerError, plan)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type diagnosticsResponse struct {
	Health     period.HealthSnapshot `json:"health"`
	Diagnostic *period.Diagnostic    `json:"diagnostic,omitempty"`
	Cycle      *cycleSummary         `json:"cycle,omitempty"`
	Display    DisplayState          `json:"display"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	resp := diagnosticsResponse{
		Health:  s.Engine.Resolver().Health().Snapshot(),
		Display: s.Display.State(),
	}
	if s.Runner != nil {
		if plan, ok := s.Runner.Last(); ok {
			d := plan.Period.Diagnostic
			resp.Diagnostic = &d
			resp.Cycle = &cycleSummary{CycleID: plan.CycleID, At: plan.Now, Status: plan.Status}
			if err := s.Runner.LastError(); err != nil {
				resp.Cycle.Error = err.Error()
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh runs a cycle now and re-renders the display.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not started")
		return
	}
	plan, err := s.Runner.RunOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, plan)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handlePreview serves the last captured PNG of the display page.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.PreviewPath == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, s.PreviewPath)
}

// staticFileServer serves the embedded display page.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}
	return http.FileServer(http.FS(sub))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
