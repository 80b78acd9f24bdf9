package ics

import (
	"sort"
	"time"

	appLog "classcal/internal/log"
	"classcal/internal/model"
)

// window is the inclusive expansion range.
type window struct {
	start time.Time
	end   time.Time
	loc   *time.Location
}

func (w window) overlaps(start, end time.Time) bool {
	return !end.Before(w.start) && !start.After(w.end)
}

// Expand turns parsed events into concrete instances that overlap
// [ref - daysBefore, ref + daysAfter] in loc.
//
//   - Cancelled events yield nothing, recurring or not.
//   - DAILY and WEEKLY rules are expanded; any other FREQ keeps only the
//     base instance.
//   - Events whose dates or rule cannot be parsed are dropped.
//
// The result is sorted by start; instances starting together keep input
// order. All times are converted to loc.
func Expand(events []model.CalendarEvent, ref time.Time, loc *time.Location, daysBefore, daysAfter int) []model.EventInstance {
	if loc == nil {
		loc = time.Local
	}
	refLocal := ref.In(loc)
	w := window{
		start: refLocal.AddDate(0, 0, -daysBefore),
		end:   refLocal.AddDate(0, 0, daysAfter),
		loc:   loc,
	}

	out := make([]model.EventInstance, 0)
	dropped := 0
	for _, ev := range events {
		if ev.Cancelled {
			continue
		}
		inst, ok := expandEvent(ev, w)
		if !ok {
			dropped++
			continue
		}
		out = append(out, inst...)
	}
	if dropped > 0 {
		appLog.Debug("ics expand dropped unusable events", "dropped", dropped)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// expandEvent returns ok=false when the event itself is unusable.
func expandEvent(ev model.CalendarEvent, w window) ([]model.EventInstance, bool) {
	baseStart, allDay, ok := Decode(ev.Start, w.loc)
	if !ok {
		return nil, false
	}

	baseEnd, _, ok := Decode(ev.End, w.loc)
	if !ok {
		if !allDay {
			return nil, false
		}
		baseEnd = endOfDay(baseStart)
	}
	if !baseEnd.After(baseStart) {
		return nil, false
	}

	if ev.RRule == "" {
		if !w.overlaps(baseStart, baseEnd) {
			return nil, true
		}
		return []model.EventInstance{makeInstance(ev, allDay, baseStart, baseEnd, w.loc)}, true
	}

	rule, err := ParseRecurrence(ev.RRule, w.loc)
	if err != nil {
		appLog.Debug("ics expand: bad RRULE", "title", ev.Title, "rrule", ev.RRule, "err", err)
		return nil, false
	}

	switch rule.Freq {
	case FreqDaily:
		return expandDaily(ev, allDay, rule, baseStart, baseEnd, w), true
	case FreqWeekly:
		return expandWeekly(ev, allDay, rule, baseStart, baseEnd, w), true
	default:
		if !w.overlaps(baseStart, baseEnd) {
			return nil, true
		}
		return []model.EventInstance{makeInstance(ev, allDay, baseStart, baseEnd, w.loc)}, true
	}
}

func expandDaily(ev model.CalendarEvent, allDay bool, rule RecurrenceRule, baseStart, baseEnd time.Time, w window) []model.EventInstance {
	out := make([]model.EventInstance, 0)
	dur := baseEnd.Sub(baseStart)

	cursor := baseStart
	if cursor.Before(w.start) {
		// Jump close to the window instead of stepping through history,
		// keeping the INTERVAL phase of the base date.
		days := int(w.start.Sub(cursor).Hours()/24) / rule.Interval * rule.Interval
		if days > rule.Interval {
			cursor = cursor.AddDate(0, 0, days-rule.Interval)
		}
		for cursor.Before(w.start) {
			cursor = cursor.AddDate(0, 0, rule.Interval)
		}
	}

	for ; !cursor.After(w.end); cursor = cursor.AddDate(0, 0, rule.Interval) {
		if !rule.Until.IsZero() && cursor.After(rule.Until) {
			break
		}
		out = append(out, makeInstance(ev, allDay, cursor, cursor.Add(dur), w.loc))
	}
	return out
}

func expandWeekly(ev model.CalendarEvent, allDay bool, rule RecurrenceRule, baseStart, baseEnd time.Time, w window) []model.EventInstance {
	out := make([]model.EventInstance, 0)
	dur := baseEnd.Sub(baseStart)

	// Recurrences never precede the base event's own calendar date. Both
	// sides are compared as plain dates: occDate is a day label in w.loc,
	// baseStart's date is the one written in the event's zone.
	firstDate := civilDate(baseStart)

	weekStart := midnight(w.start, w.loc)
	weekStart = weekStart.AddDate(0, 0, -int(weekStart.Weekday())) // back to Sunday

	for wk := weekStart; !wk.After(w.end); wk = wk.AddDate(0, 0, 7*rule.Interval) {
		for _, day := range rule.Weekdays {
			occDate := wk.AddDate(0, 0, int(day))
			if civilDate(occDate).Before(firstDate) {
				continue
			}
			if !rule.Until.IsZero() && occDate.After(rule.Until) {
				continue
			}
			start := withDateKeepTime(baseStart, occDate)
			end := start.Add(dur)
			if !end.Before(w.start) && !start.After(w.end) {
				out = append(out, makeInstance(ev, allDay, start, end, w.loc))
			}
		}
	}
	return out
}

// civilDate is t's calendar day in its own location, as UTC midnight so
// dates from different zones compare by label.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// withDateKeepTime places template's wall-clock time (in its own location)
// on date's calendar day.
func withDateKeepTime(template, date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, template.Hour(), template.Minute(), template.Second(), template.Nanosecond(), template.Location())
}

func makeInstance(ev model.CalendarEvent, allDay bool, start, end time.Time, loc *time.Location) model.EventInstance {
	return model.EventInstance{
		Title:  ev.Title,
		AllDay: allDay,
		Start:  start.In(loc),
		End:    end.In(loc),
	}
}
