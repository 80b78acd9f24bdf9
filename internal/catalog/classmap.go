package catalog

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClassEntry is one class hosted in a period. Label is optional.
type ClassEntry struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// ClassEntries accepts a bare key, an object ({key|id|thread,
// label|name|displayName}) or a list mixing both.
type ClassEntries []ClassEntry

func (e *ClassEntries) UnmarshalYAML(node *yaml.Node) error {
	var out ClassEntries
	switch node.Kind {
	case yaml.SequenceNode:
		for _, child := range node.Content {
			entry, ok, err := decodeClassEntry(child)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, entry)
			}
		}
	default:
		entry, ok, err := decodeClassEntry(node)
		if err != nil {
			return err
		}
		if ok {
			out = append(out, entry)
		}
	}
	*e = out
	return nil
}

func decodeClassEntry(node *yaml.Node) (ClassEntry, bool, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return ClassEntry{}, false, nil
		}
		key := strings.TrimSpace(node.Value)
		return ClassEntry{Key: key}, key != "", nil
	case yaml.MappingNode:
		var aux struct {
			Key         string `yaml:"key"`
			ID          string `yaml:"id"`
			Thread      string `yaml:"thread"`
			Label       string `yaml:"label"`
			Name        string `yaml:"name"`
			DisplayName string `yaml:"displayName"`
		}
		if err := node.Decode(&aux); err != nil {
			return ClassEntry{}, false, err
		}
		key := firstNonEmpty(aux.Key, aux.ID, aux.Thread)
		if key == "" {
			return ClassEntry{}, false, nil
		}
		return ClassEntry{Key: key, Label: firstNonEmpty(aux.Label, aux.Name, aux.DisplayName)}, true, nil
	default:
		return ClassEntry{}, false, fmt.Errorf("class entry at line %d: unsupported shape", node.Line)
	}
}

// ClassMap maps a period to the class keys it hosts, with per-date
// overrides.
type ClassMap struct {
	Defaults map[string]ClassEntries            `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	ByDate   map[string]map[string]ClassEntries `json:"byDate,omitempty" yaml:"byDate,omitempty"`
}

// UnmarshalYAML also accepts date keys at the top level, next to
// defaults and byDate.
func (m *ClassMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		if node.Tag == "!!null" {
			*m = ClassMap{}
			return nil
		}
		return fmt.Errorf("class map: expected mapping at line %d", node.Line)
	}

	out := ClassMap{
		Defaults: map[string]ClassEntries{},
		ByDate:   map[string]map[string]ClassEntries{},
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i].Value, node.Content[i+1]
		switch k {
		case "defaults":
			if err := v.Decode(&out.Defaults); err != nil {
				return fmt.Errorf("class map defaults: %w", err)
			}
		case "byDate":
			var raw map[string]map[string]ClassEntries
			if err := v.Decode(&raw); err != nil {
				return fmt.Errorf("class map byDate: %w", err)
			}
			for dk, day := range raw {
				if key, ok := NormalizeDateKey(dk); ok {
					out.ByDate[key] = day
				}
			}
		default:
			key, ok := NormalizeDateKey(k)
			if !ok {
				continue
			}
			var day map[string]ClassEntries
			if err := v.Decode(&day); err != nil {
				return fmt.Errorf("class map %s: %w", k, err)
			}
			out.ByDate[key] = day
		}
	}
	if out.Defaults == nil {
		out.Defaults = map[string]ClassEntries{}
	}
	*m = out
	return nil
}

// Entries returns the classes for period on date: date-specific entries
// first, then defaults not already present. Missing labels are filled from
// labels. When nothing is configured the period itself is the only key.
func (m *ClassMap) Entries(date, period string, labels func(string) string) []ClassEntry {
	if period == "" {
		return nil
	}
	var fromDate, fromDefaults ClassEntries
	if m != nil {
		fromDate = m.ByDate[date][period]
		fromDefaults = m.Defaults[period]
	}

	merged := make([]ClassEntry, 0, len(fromDate)+len(fromDefaults))
	seen := map[string]bool{}
	for _, list := range []ClassEntries{fromDate, fromDefaults} {
		for _, e := range list {
			if e.Key == "" || seen[e.Key] {
				continue
			}
			seen[e.Key] = true
			merged = append(merged, e)
		}
	}

	if labels == nil {
		labels = func(string) string { return "" }
	}
	for i := range merged {
		if merged[i].Label == "" {
			merged[i].Label = labels(merged[i].Key)
		}
	}
	if len(merged) == 0 {
		return []ClassEntry{{Key: period, Label: labels(period)}}
	}
	return merged
}

var dateKeyLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

// NormalizeDateKey turns the date spellings people put in catalogs into
// YYYY-MM-DD.
func NormalizeDateKey(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01-02"), true
	}
	for _, layout := range dateKeyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
