package ics

import (
	"errors"
	"io"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "classcal/internal/log"
	"classcal/internal/model"
)

var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Parse turns raw calendar text into events. It never fails: malformed
// lines and blocks are dropped and the rest of the feed is kept.
//
//   - Only SUMMARY, STATUS, DTSTART, DTEND and RRULE are read.
//   - Properties of nested components (VALARM etc.) are ignored.
//   - A VEVENT without DTSTART and DTEND is dropped, as is one that is never
//     closed by END:VEVENT.
//
// golang-ical does the unfolding and tokenizing line by line; the block
// structure is tracked here because ical.ParseCalendar gives up on the
// whole feed at the first bad component.
func Parse(text string) []model.CalendarEvent {
	events := make([]model.CalendarEvent, 0)

	var cur *model.CalendarEvent
	depth := 0 // nesting below the current VEVENT
	dropped, badLines := 0, 0

	stream := ical.NewCalendarStream(strings.NewReader(lineBreaks.Replace(text)))
	for {
		line, err := stream.ReadLine()
		if line != nil {
			prop, perr := ical.ParseProperty(*line)
			switch {
			case perr != nil || prop == nil:
				if strings.TrimSpace(string(*line)) != "" {
					badLines++
				}
			default:
				cur, depth = applyProperty(prop, cur, depth, &events, &dropped)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				appLog.Debug("ics parse stopped early", "err", err)
			}
			break
		}
	}

	if cur != nil {
		dropped++
	}
	if dropped > 0 || badLines > 0 {
		appLog.Debug("ics parse dropped malformed input", "blocks", dropped, "lines", badLines)
	}
	return events
}

// applyProperty feeds one property to the VEVENT state machine and returns
// the new open event and nesting depth.
func applyProperty(prop *ical.BaseProperty, cur *model.CalendarEvent, depth int, events *[]model.CalendarEvent, dropped *int) (*model.CalendarEvent, int) {
	name := strings.ToUpper(prop.IANAToken)
	value := strings.TrimSpace(prop.Value)

	switch name {
	case "BEGIN":
		if strings.EqualFold(value, "VEVENT") {
			if cur != nil {
				// Nested VEVENT: the open block is malformed.
				*dropped++
			}
			return &model.CalendarEvent{}, 0
		}
		if cur != nil {
			depth++
		}
		return cur, depth
	case "END":
		if cur == nil {
			return nil, 0
		}
		if strings.EqualFold(value, "VEVENT") && depth == 0 {
			if cur.Start != nil || cur.End != nil {
				*events = append(*events, *cur)
			} else {
				*dropped++
			}
			return nil, 0
		}
		if depth > 0 {
			depth--
		}
		return cur, depth
	}

	if cur == nil || depth > 0 {
		return cur, depth
	}

	switch name {
	case "SUMMARY":
		// TEXT values arrive unescaped from golang-ical.
		cur.Title = prop.Value
	case "STATUS":
		cur.Status = strings.ToUpper(value)
		cur.Cancelled = cur.Status == "CANCELLED"
	case "DTSTART":
		cur.Start = dateValue(prop)
	case "DTEND":
		cur.End = dateValue(prop)
	case "RRULE":
		cur.RRule = value
	}
	return cur, depth
}

func dateValue(prop *ical.BaseProperty) *model.DateValue {
	return &model.DateValue{
		Raw:      strings.TrimSpace(prop.Value),
		TZID:     param(prop, "TZID"),
		DateOnly: strings.EqualFold(param(prop, "VALUE"), "DATE"),
	}
}

// param returns the first value of a parameter, matching its name without
// regard to case.
func param(prop *ical.BaseProperty, name string) string {
	for k, v := range prop.ICalParameters {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}
