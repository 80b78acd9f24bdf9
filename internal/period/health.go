package period

import (
	"sync"
	"time"

	"classcal/internal/ics"
)

// HealthError is the last calendar failure.
type HealthError struct {
	URL     string    `json:"url"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// HealthSnapshot is a copy of the calendar health record. URLs are
// redacted because /health is served without auth.
type HealthSnapshot struct {
	LastAttempt    *time.Time   `json:"last_attempt,omitempty"`
	LastAttemptURL string       `json:"last_attempt_url,omitempty"`
	LastSuccess    *time.Time   `json:"last_success,omitempty"`
	LastSuccessURL string       `json:"last_success_url,omitempty"`
	LastCount      int          `json:"last_count"`
	LastError      *HealthError `json:"last_error,omitempty"`
}

// Health records calendar probe outcomes for observability. It never
// feeds back into resolution.
type Health struct {
	mu   sync.Mutex
	snap HealthSnapshot
}

func NewHealth() *Health {
	return &Health{}
}

func (h *Health) NoteAttempt(url string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.LastAttempt = &at
	h.snap.LastAttemptURL = ics.RedactURL(url)
}

func (h *Health) NoteSuccess(url string, count int, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.LastSuccess = &at
	h.snap.LastSuccessURL = ics.RedactURL(url)
	h.snap.LastCount = count
	h.snap.LastError = nil
}

func (h *Health) NoteFailure(url string, err error, at time.Time) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap.LastError = &HealthError{URL: ics.RedactURL(url), Message: msg, Time: at}
}

// Snapshot returns a copy safe to serialize.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.snap
	if h.snap.LastError != nil {
		e := *h.snap.LastError
		out.LastError = &e
	}
	return out
}
