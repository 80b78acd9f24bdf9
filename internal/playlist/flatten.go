// Package playlist turns a resolved content item into timed display steps.
package playlist

import (
	"errors"
	"time"

	"classcal/internal/model"
)

// FallbackDurationSec applies when neither the item, its playlist nor the
// global setting carries a duration.
const FallbackDurationSec = 10

// ErrUnsupportedPlaylist means flattening left nothing to play.
var ErrUnsupportedPlaylist = errors.New("unsupported playlist items")

// Flatten splices the members of nested playlists into their parent, one
// level deep, and returns a copy. Deeper playlists are passed through as
// members. Flattening an already-flat playlist returns the same items in
// the same order.
func Flatten(pl *model.ContentItem) (*model.ContentItem, error) {
	if pl == nil {
		return nil, ErrUnsupportedPlaylist
	}
	out := pl.Clone()
	out.Items = make([]model.ContentItem, 0, len(pl.Items))
	for i := range pl.Items {
		member := &pl.Items[i]
		if member.Type == model.KindPlaylist {
			for j := range member.Items {
				out.Items = append(out.Items, *member.Items[j].Clone())
			}
			continue
		}
		out.Items = append(out.Items, *member.Clone())
	}
	if len(out.Items) == 0 {
		return nil, ErrUnsupportedPlaylist
	}
	return out, nil
}

// ResolveDuration picks how long a step stays up: the item's own duration,
// then the enclosing playlist's, then global (when > 0), then
// FallbackDurationSec. The result is never below one second.
func ResolveDuration(item, playlist *model.ContentItem, global int) time.Duration {
	sec := FallbackDurationSec
	switch {
	case item != nil && item.DurationSec != nil:
		sec = *item.DurationSec
	case playlist != nil && playlist.DurationSec != nil:
		sec = *playlist.DurationSec
	case global > 0:
		sec = global
	}
	if sec < 1 {
		sec = 1
	}
	return time.Duration(sec) * time.Second
}
