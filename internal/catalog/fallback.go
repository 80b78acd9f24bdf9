package catalog

import (
	"strings"
	"time"
)

// Block is one fixed slot of the weekday fallback schedule.
type Block struct {
	Start  string `json:"start" yaml:"start"`
	End    string `json:"end" yaml:"end"`
	Thread string `json:"thread" yaml:"thread"`
}

// FallbackSchedule lists blocks per weekday, keyed "Sun" through "Sat".
// It is only consulted when no calendar source produced a period.
type FallbackSchedule map[string][]Block

var dayKeys = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func (s FallbackSchedule) blocksFor(day time.Weekday) []Block {
	want := dayKeys[day]
	if b, ok := s[want]; ok {
		return b
	}
	// Tolerate "monday", "MON" and friends.
	for k, b := range s {
		if len(k) >= 3 && strings.EqualFold(k[:3], want) {
			return b
		}
	}
	return nil
}

// Match returns the first block of now's weekday that contains now,
// together with its concrete start and end on now's date.
func (s FallbackSchedule) Match(now time.Time) (Block, time.Time, time.Time, bool) {
	for _, b := range s.blocksFor(now.Weekday()) {
		sm, ok1 := minuteOfDay(b.Start)
		em, ok2 := minuteOfDay(b.End)
		if !ok1 || !ok2 {
			continue
		}
		y, m, d := now.Date()
		start := time.Date(y, m, d, sm/60, sm%60, 0, 0, now.Location())
		end := time.Date(y, m, d, em/60, em%60, 0, 0, now.Location())
		if !now.Before(start) && now.Before(end) {
			return b, start, end, true
		}
	}
	return Block{}, time.Time{}, time.Time{}, false
}
