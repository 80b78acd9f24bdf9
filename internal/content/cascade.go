// Package content decides which content item plays for a resolved period.
package content

import (
	"time"

	"classcal/internal/catalog"
	"classcal/internal/model"
)

// Source says which stage of the cascade produced an item.
type Source string

const (
	SourceNone          Source = ""
	SourceTargets       Source = "targets"
	SourceTimeRemaining Source = "timeRemaining"
	SourceRotation      Source = "rotation"
)

// Cascade tries class targets, then time-remaining rules, then rotation.
type Cascade struct {
	catalogs *catalog.Catalogs
	loc      *time.Location
	// playlistDuration is used when several classes share a period.
	playlistDuration int
}

// NewCascade builds a cascade over catalogs. A nil catalogs value behaves
// as empty catalogs.
func NewCascade(catalogs *catalog.Catalogs, loc *time.Location, playlistDuration int) *Cascade {
	if catalogs == nil {
		catalogs = &catalog.Catalogs{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Cascade{catalogs: catalogs, loc: loc, playlistDuration: playlistDuration}
}

// Resolve returns the item to show, or nil and SourceNone when nothing
// matches. minutesLeft is nil when no active window end is known. The
// returned item never aliases catalog data.
func (c *Cascade) Resolve(now time.Time, periodID string, minutesLeft *int) (*model.ContentItem, Source) {
	now = now.In(c.loc)

	if periodID != "" {
		if item := c.Targets(now, periodID); item != nil {
			return item, SourceTargets
		}
	}
	if minutesLeft != nil {
		if item := c.catalogs.Announcements.MatchTimeRemaining(*minutesLeft); item != nil {
			return item, SourceTimeRemaining
		}
	}
	if item := c.catalogs.Announcements.MatchRotation(now); item != nil {
		return item, SourceRotation
	}
	return nil, SourceNone
}

// Targets resolves the class targets for periodID on now's date. Several
// classes in one period become a playlist.
func (c *Cascade) Targets(now time.Time, periodID string) *model.ContentItem {
	date := now.In(c.loc).Format("2006-01-02")
	targets := &c.catalogs.Targets

	entries := c.catalogs.ClassMap.Entries(date, periodID, targets.Label)
	items := make([]model.ContentItem, 0, len(entries))
	for _, e := range entries {
		item := targets.Lookup(date, e.Key)
		if item == nil {
			continue
		}
		if item.DisplayName == "" {
			item.DisplayName = e.Label
		}
		items = append(items, *item)
	}

	switch len(items) {
	case 0:
		return targets.Lookup(date, periodID)
	case 1:
		return &items[0]
	default:
		pl := &model.ContentItem{Type: model.KindPlaylist, Items: items}
		if c.playlistDuration > 0 {
			pl.DurationSec = model.Seconds(c.playlistDuration)
		}
		return pl
	}
}
