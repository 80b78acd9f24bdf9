package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestContentItemDecodesItemsByType(t *testing.T) {
	doc := `
type: playlist
durationSec: 15
items:
  - type: text
    content: Warm-up
  - type: images
    name: Gallery
    items:
      - https://example.com/a.png
      - src: https://example.com/b.png
  - type: slides
    url: https://docs.google.com/presentation/d/abc/pub
`
	var item ContentItem
	require.NoError(t, yaml.Unmarshal([]byte(doc), &item))

	assert.Equal(t, KindPlaylist, item.Type)
	require.NotNil(t, item.DurationSec)
	assert.Equal(t, 15, *item.DurationSec)
	require.Len(t, item.Items, 3)

	images := item.Items[1]
	assert.Equal(t, KindImages, images.Type)
	assert.Equal(t, "Gallery", images.DisplayName)
	assert.Equal(t, []string{"https://example.com/a.png", "https://example.com/b.png"}, images.ImageURLs())
	assert.Equal(t, KindSlides, item.Items[2].Type)
}

func TestContentItemJSONDocument(t *testing.T) {
	// JSON catalogs go through the same YAML decoder.
	doc := `{"type": "Text", "content": "Quiz today", "displayName": "Algebra"}`
	var item ContentItem
	require.NoError(t, yaml.Unmarshal([]byte(doc), &item))
	assert.Equal(t, KindText, item.Type)
	assert.Equal(t, "Quiz today", item.Content)
	assert.Equal(t, "Algebra", item.DisplayName)
}

func TestCloneIsDeep(t *testing.T) {
	orig := &ContentItem{
		Type:        KindPlaylist,
		DurationSec: Seconds(5),
		Items: []ContentItem{
			{Type: KindImages, Images: []ImageRef{{Src: "a.png"}}},
		},
	}
	cp := orig.Clone()

	*cp.DurationSec = 99
	cp.Items[0].Images[0].Src = "changed.png"
	cp.Items[0].DisplayName = "changed"

	assert.Equal(t, 5, *orig.DurationSec)
	assert.Equal(t, "a.png", orig.Items[0].Images[0].Src)
	assert.Empty(t, orig.Items[0].DisplayName)

	var nilItem *ContentItem
	assert.Nil(t, nilItem.Clone())
}
