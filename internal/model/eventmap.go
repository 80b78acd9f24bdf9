package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// EventMapEntry maps a keyword found in an event title to a period.
type EventMapEntry struct {
	Keyword string `json:"keyword" yaml:"keyword"`
	Period  string `json:"period" yaml:"period"`
}

// EventMap is an ordered keyword list. In YAML it is written as a plain
// mapping ("lunch: rotation") and the document order is kept, because the
// first matching keyword wins.
type EventMap []EventMapEntry

func (m *EventMap) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(EventMap, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return fmt.Errorf("event_map %q: value must be a string", k.Value)
			}
			out = append(out, EventMapEntry{Keyword: k.Value, Period: v.Value})
		}
		*m = out
		return nil
	case yaml.SequenceNode:
		var list []EventMapEntry
		if err := node.Decode(&list); err != nil {
			return err
		}
		*m = list
		return nil
	default:
		if node.Tag == "!!null" {
			*m = nil
			return nil
		}
		return fmt.Errorf("event_map: expected mapping, got %v", node.Tag)
	}
}

// MarshalYAML writes the mapping form back, keeping order.
func (m EventMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range m {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Keyword},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Period},
		)
	}
	return node, nil
}
