package catalog

import (
	"classcal/internal/model"
)

// TargetCatalog holds what each class key shows: defaults, per-date
// overrides (YYYY-MM-DD) and optional labels.
type TargetCatalog struct {
	Defaults     map[string]model.ContentItem            `json:"defaults" yaml:"defaults"`
	ByDate       map[string]map[string]model.ContentItem `json:"byDate" yaml:"byDate"`
	DisplayNames map[string]string                       `json:"displayNames,omitempty" yaml:"displayNames,omitempty"`
}

// normalize rewrites date keys to YYYY-MM-DD and drops the ones that are
// not dates.
func (c *TargetCatalog) normalize() {
	if len(c.ByDate) == 0 {
		return
	}
	out := make(map[string]map[string]model.ContentItem, len(c.ByDate))
	for k, v := range c.ByDate {
		if key, ok := NormalizeDateKey(k); ok {
			out[key] = v
		}
	}
	c.ByDate = out
}

// Label returns the configured display name for key, if any.
func (c *TargetCatalog) Label(key string) string {
	if c == nil {
		return ""
	}
	return c.DisplayNames[key]
}

// Lookup returns a copy of the item for key on date, preferring the
// date-specific entry. A missing display name is filled from DisplayNames.
func (c *TargetCatalog) Lookup(date, key string) *model.ContentItem {
	if c == nil || key == "" {
		return nil
	}

	var found *model.ContentItem
	if day, ok := c.ByDate[date]; ok {
		if it, ok := day[key]; ok {
			found = it.Clone()
		}
	}
	if found == nil {
		if it, ok := c.Defaults[key]; ok {
			found = it.Clone()
		}
	}
	if found == nil {
		return nil
	}
	if found.DisplayName == "" {
		found.DisplayName = c.DisplayNames[key]
	}
	return found
}
