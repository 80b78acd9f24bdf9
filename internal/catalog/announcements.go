package catalog

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"classcal/internal/model"
)

// TimeWindow is a [Start, End) time-of-day range in "HH:MM".
type TimeWindow struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Contains reports whether the wall-clock time of now is inside the window.
// A window whose bounds cannot be parsed never matches.
func (w *TimeWindow) Contains(now time.Time) bool {
	if w == nil {
		return true
	}
	start, ok1 := minuteOfDay(w.Start)
	end, ok2 := minuteOfDay(w.End)
	if !ok1 || !ok2 {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	return cur >= start && cur < end
}

func minuteOfDay(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// RotationRule is a content item with an optional time window written
// inline next to the item's own fields.
type RotationRule struct {
	Window *TimeWindow
	Item   model.ContentItem
}

func (r *RotationRule) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Window *TimeWindow `yaml:"window"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	var item model.ContentItem
	if err := node.Decode(&item); err != nil {
		return err
	}
	*r = RotationRule{Window: aux.Window, Item: item}
	return nil
}

// TimeRemainingRule fires when at most MinutesLeft minutes remain in the
// active period. A rule without a threshold never fires.
type TimeRemainingRule struct {
	MinutesLeft *int
	Item        model.ContentItem
}

func (r *TimeRemainingRule) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		MinutesLeft *int `yaml:"minutesLeft"`
	}
	if err := node.Decode(&aux); err != nil {
		return fmt.Errorf("timeRemaining rule at line %d: %w", node.Line, err)
	}
	var item model.ContentItem
	if err := node.Decode(&item); err != nil {
		return err
	}
	*r = TimeRemainingRule{MinutesLeft: aux.MinutesLeft, Item: item}
	return nil
}

// AnnouncementRules are evaluated independently of class targets.
type AnnouncementRules struct {
	Rotation      []RotationRule      `yaml:"rotation"`
	TimeRemaining []TimeRemainingRule `yaml:"timeRemaining"`
}

// MatchTimeRemaining returns a copy of the first rule item whose threshold
// is at least minutesLeft.
func (a *AnnouncementRules) MatchTimeRemaining(minutesLeft int) *model.ContentItem {
	if a == nil {
		return nil
	}
	for i := range a.TimeRemaining {
		r := &a.TimeRemaining[i]
		if r.MinutesLeft != nil && minutesLeft <= *r.MinutesLeft {
			return r.Item.Clone()
		}
	}
	return nil
}

// MatchRotation returns a copy of the first rotation item whose window
// contains now.
func (a *AnnouncementRules) MatchRotation(now time.Time) *model.ContentItem {
	if a == nil {
		return nil
	}
	for i := range a.Rotation {
		r := &a.Rotation[i]
		if r.Window.Contains(now) {
			return r.Item.Clone()
		}
	}
	return nil
}
