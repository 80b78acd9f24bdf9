package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"classcal/internal/model"
)

var exportNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://classcal.local/instances"))

// ExportInstances serializes expanded instances back into a flat ICS
// calendar (no RRULEs), so operators can load exactly what the display sees
// into any calendar client.
func ExportInstances(name string, instances []model.EventInstance, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//classcal//expanded instances//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, inst := range instances {
		ev := cal.AddEvent(instanceUID(inst))
		ev.SetDtStampTime(stamp.UTC())
		ev.SetSummary(inst.Title)
		if inst.AllDay {
			ev.SetAllDayStartAt(inst.Start)
			ev.SetAllDayEndAt(exclusiveEndDate(inst.End))
		} else {
			ev.SetStartAt(inst.Start)
			ev.SetEndAt(inst.End)
		}
	}
	return cal.Serialize()
}

// exclusiveEndDate turns an inclusive end (23:59:59.999) into the next
// day's date, which is what DTEND;VALUE=DATE means.
func exclusiveEndDate(end time.Time) time.Time {
	day := midnight(end, end.Location())
	if day.Equal(end) {
		return day
	}
	return day.AddDate(0, 0, 1)
}

// instanceUID is stable for the same source/title/start, so re-exports do not
// duplicate events in subscribing clients.
func instanceUID(inst model.EventInstance) string {
	key := strings.Join([]string{inst.SourceID, inst.Title, inst.Start.UTC().Format(time.RFC3339)}, "|")
	return uuid.NewSHA1(exportNamespace, []byte(key)).String() + "@classcal"
}
