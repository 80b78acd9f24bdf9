package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Frequency is the subset of RRULE frequencies the expander understands.
type Frequency int

const (
	FreqOther Frequency = iota
	FreqDaily
	FreqWeekly
)

// RecurrenceRule is a parsed RRULE reduced to what expansion needs.
type RecurrenceRule struct {
	Freq     Frequency
	Interval int
	// Weekdays is only meaningful for WEEKLY; defaults to Monday–Friday.
	Weekdays []time.Weekday
	// Until is the inclusive end; zero means unbounded.
	Until time.Time
}

var schoolWeek = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// rrule-go rejects parts it does not know; feeds in the wild carry X-
// extensions and trailing semicolons, so only these are forwarded.
var knownRRuleParts = map[string]bool{
	"FREQ": true, "INTERVAL": true, "WKST": true, "COUNT": true, "UNTIL": true,
	"BYSETPOS": true, "BYMONTH": true, "BYMONTHDAY": true, "BYYEARDAY": true,
	"BYWEEKNO": true, "BYDAY": true, "BYHOUR": true, "BYMINUTE": true,
	"BYSECOND": true, "BYEASTER": true,
}

var errEmptyRule = errors.New("rrule: empty rule")

// ParseRecurrence parses a raw RRULE value. UNTIL values without a Z are
// interpreted in loc. A FREQ other than DAILY or WEEKLY, including values
// outside RFC 5545, yields FreqOther without further validation. Any error
// means the rule (and its event) is unusable.
func ParseRecurrence(raw string, loc *time.Location) (RecurrenceRule, error) {
	if loc == nil {
		loc = time.Local
	}
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	if raw == "" {
		return RecurrenceRule{}, errEmptyRule
	}

	parts := make([]string, 0, 4)
	freq := ""
	untilDateOnly := false
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		k = strings.ToUpper(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if !ok || v == "" || !knownRRuleParts[k] {
			continue
		}
		if k == "FREQ" || k == "BYDAY" || k == "WKST" {
			v = strings.ToUpper(v)
		}
		if k == "FREQ" {
			freq = v
		}
		if k == "UNTIL" && dateOnlyRe.MatchString(v) {
			untilDateOnly = true
		}
		parts = append(parts, k+"="+v)
	}

	rule := RecurrenceRule{Interval: 1}
	if freq != "DAILY" && freq != "WEEKLY" {
		// Nothing to expand; the base instance is kept.
		return rule, nil
	}

	opt, err := rrule.StrToROptionInLocation(strings.Join(parts, ";"), loc)
	if err != nil {
		return RecurrenceRule{}, fmt.Errorf("rrule: %w", err)
	}

	switch opt.Freq {
	case rrule.DAILY:
		rule.Freq = FreqDaily
	case rrule.WEEKLY:
		rule.Freq = FreqWeekly
	default:
		rule.Freq = FreqOther
	}
	if opt.Interval > 1 {
		rule.Interval = opt.Interval
	}
	if !opt.Until.IsZero() {
		rule.Until = opt.Until
		if untilDateOnly {
			// A date-valued UNTIL covers the whole of that day.
			rule.Until = endOfDay(opt.Until.In(loc))
		}
	}
	for i := range opt.Byweekday {
		// rrule-go numbers weekdays from Monday = 0.
		rule.Weekdays = append(rule.Weekdays, time.Weekday((opt.Byweekday[i].Day()+1)%7))
	}
	if rule.Freq == FreqWeekly && len(rule.Weekdays) == 0 {
		rule.Weekdays = append([]time.Weekday(nil), schoolWeek...)
	}
	return rule, nil
}
