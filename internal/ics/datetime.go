package ics

import (
	"regexp"
	"strings"
	"sync"
	"time"

	appLog "classcal/internal/log"
	"classcal/internal/model"
)

var dateOnlyRe = regexp.MustCompile(`^\d{8}$`)

// Decode resolves a DTSTART/DTEND descriptor into an instant.
//
//   - 8 digits (YYYYMMDD) is an all-day date at midnight in ref.
//   - A trailing Z is a UTC instant.
//   - Anything else is floating wall-clock time in the value's TZID, or in
//     ref when TZID is absent or unknown.
//
// Values that cannot be parsed return ok=false; nothing here panics or
// returns an error, so the caller simply drops the event.
func Decode(v *model.DateValue, ref *time.Location) (t time.Time, allDay bool, ok bool) {
	if v == nil {
		return time.Time{}, false, false
	}
	if ref == nil {
		ref = time.Local
	}
	raw := strings.TrimSpace(v.Raw)
	if raw == "" {
		return time.Time{}, false, false
	}

	if dateOnlyRe.MatchString(raw) {
		d, err := time.ParseInLocation("20060102", raw, ref)
		if err != nil {
			return time.Time{}, false, false
		}
		return d, true, true
	}

	if strings.HasSuffix(raw, "Z") {
		for _, layout := range []string{"20060102T150405Z", "20060102T1504Z"} {
			if u, err := time.Parse(layout, raw); err == nil {
				return u.In(ref), false, true
			}
		}
		return time.Time{}, false, false
	}

	loc := ref
	if v.TZID != "" {
		loc = lookupLocation(v.TZID, ref)
	}
	for _, layout := range []string{"20060102T150405", "20060102T1504"} {
		if lt, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return lt, false, true
		}
	}
	return time.Time{}, false, false
}

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

// lookupLocation loads an IANA zone by TZID, caching results. Unknown zone
// names (Outlook exports Windows names) fall back to ref.
func lookupLocation(tzid string, ref *time.Location) *time.Location {
	locMu.Lock()
	defer locMu.Unlock()

	if loc, ok := locCache[tzid]; ok {
		if loc == nil {
			return ref
		}
		return loc
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		appLog.Debug("ics unknown TZID; using reference timezone", "tzid", tzid, "reference", ref.String())
		locCache[tzid] = nil
		return ref
	}
	locCache[tzid] = loc
	return loc
}

// endOfDay returns 23:59:59.999 of t's calendar day in t's location.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// midnight returns 00:00 of t's calendar day in loc.
func midnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
