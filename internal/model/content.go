package model

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the content item variant.
type Kind string

const (
	KindText     Kind = "text"
	KindSlides   Kind = "slides"
	KindImages   Kind = "images"
	KindPlaylist Kind = "playlist"
)

// ImageRef is one entry of an explicit image list. In documents it may be
// written either as a bare URL string or as {src: URL}.
type ImageRef struct {
	Src string `json:"src" yaml:"src"`
}

func (r *ImageRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Src = strings.TrimSpace(node.Value)
		return nil
	}
	var aux struct {
		Src string `yaml:"src"`
		URL string `yaml:"url"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	r.Src = aux.Src
	if r.Src == "" {
		r.Src = aux.URL
	}
	return nil
}

// ContentItem is something the display can show: text, an embedded slide
// deck, a cycling set of images, or a playlist of other items.
type ContentItem struct {
	Type        Kind   `json:"type" yaml:"type"`
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	DurationSec *int   `json:"durationSec,omitempty" yaml:"durationSec,omitempty"`

	// Text
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	// Slides
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// Images: either an explicit list or a folder holding manifest.json.
	Images []ImageRef `json:"images,omitempty" yaml:"images,omitempty"`
	Folder string     `json:"folder,omitempty" yaml:"folder,omitempty"`
	// Playlist
	Items []ContentItem `json:"items,omitempty" yaml:"items,omitempty"`
}

// rawItem mirrors the document shape, where "items" means image refs for
// images and content items for playlists.
type rawItem struct {
	Type        string      `yaml:"type"`
	DisplayName string      `yaml:"displayName"`
	Name        string      `yaml:"name"`
	DurationSec *int        `yaml:"durationSec"`
	Content     string      `yaml:"content"`
	URL         string      `yaml:"url"`
	Folder      string      `yaml:"folder"`
	Images      []ImageRef  `yaml:"images"`
	Items       []yaml.Node `yaml:"items"`
}

func (c *ContentItem) UnmarshalYAML(node *yaml.Node) error {
	var raw rawItem
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*c = ContentItem{
		Type:        Kind(strings.ToLower(strings.TrimSpace(raw.Type))),
		DisplayName: raw.DisplayName,
		DurationSec: raw.DurationSec,
		Content:     raw.Content,
		URL:         raw.URL,
		Folder:      raw.Folder,
		Images:      raw.Images,
	}
	if c.DisplayName == "" {
		c.DisplayName = raw.Name
	}

	switch c.Type {
	case KindImages:
		for i := range raw.Items {
			var ref ImageRef
			if err := raw.Items[i].Decode(&ref); err != nil {
				return fmt.Errorf("images item %d: %w", i, err)
			}
			if ref.Src != "" {
				c.Images = append(c.Images, ref)
			}
		}
	case KindPlaylist:
		for i := range raw.Items {
			var child ContentItem
			if err := raw.Items[i].Decode(&child); err != nil {
				return fmt.Errorf("playlist item %d: %w", i, err)
			}
			c.Items = append(c.Items, child)
		}
	}
	return nil
}

// Clone returns a structural deep copy. Catalog lookups hand out clones so
// callers can never alias shared catalog state.
func (c *ContentItem) Clone() *ContentItem {
	if c == nil {
		return nil
	}
	out := *c
	if c.DurationSec != nil {
		d := *c.DurationSec
		out.DurationSec = &d
	}
	if c.Images != nil {
		out.Images = make([]ImageRef, len(c.Images))
		copy(out.Images, c.Images)
	}
	if c.Items != nil {
		out.Items = make([]ContentItem, len(c.Items))
		for i := range c.Items {
			out.Items[i] = *c.Items[i].Clone()
		}
	}
	return &out
}

// ImageURLs returns the non-empty sources of an explicit image list.
func (c *ContentItem) ImageURLs() []string {
	urls := make([]string, 0, len(c.Images))
	for _, r := range c.Images {
		if s := strings.TrimSpace(r.Src); s != "" {
			urls = append(urls, s)
		}
	}
	return urls
}

// Seconds is a small helper for building items with a duration.
func Seconds(n int) *int {
	return &n
}
