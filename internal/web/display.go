package web

import (
	"sync"
	"time"

	"classcal/internal/engine"
	"classcal/internal/playlist"
)

// DisplayState is what the display page polls: the step to paint and the
// status line of the cycle that produced it.
type DisplayState struct {
	Step      playlist.Step `json:"step"`
	Status    string        `json:"status"`
	Period    string        `json:"period,omitempty"`
	EndsIn    string        `json:"ends_in,omitempty"`
	CycleID   string        `json:"cycle_id,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// DisplaySink keeps the latest step and plan for the browser display. It
// implements playlist.Sink; Show only stores, so it is safe under the
// sequencer's lock.
type DisplaySink struct {
	mu    sync.RWMutex
	state DisplayState
	now   func() time.Time
}

func NewDisplaySink() *DisplaySink {
	return &DisplaySink{now: time.Now}
}

func (d *DisplaySink) Show(st playlist.Step) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Step = st
	d.state.UpdatedAt = d.now()
}

// Publish records the plan of the latest cycle.
func (d *DisplaySink) Publish(p engine.Plan) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Status = p.Status
	d.state.Period = p.Period.Period
	d.state.EndsIn = p.EndsIn
	d.state.CycleID = p.CycleID
	d.state.UpdatedAt = d.now()
}

func (d *DisplaySink) State() DisplayState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}
