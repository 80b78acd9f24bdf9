package playlist

import "time"

// StepKind is what the sink has to paint.
type StepKind string

const (
	StepText   StepKind = "text"
	StepSlides StepKind = "slides"
	StepImage  StepKind = "image"
	// StepNotice is inline status text: an error state or the idle message.
	StepNotice StepKind = "notice"
)

// Notices shown in place of content.
const (
	NoticeUnsupportedItem     = "Unsupported item type."
	NoticeUnsupportedMember   = "Unsupported playlist item."
	NoticeUnsupportedPlaylist = "Unsupported playlist items."
	NoticeEmptyPlaylist       = "No playlist items configured."
	NoticeNoImageURLs         = "No image URLs in items."
	NoticeNoValidImages       = "No valid images found."
	NoticeNoImagesConfigured  = `No images configured (need "items" or "folder").`
	NoticeNoSlides            = "No slides found in deck."
	NoticeSlidesFallbackError = "Error loading slides fallback."
)

// Step is one "show this now" instruction.
type Step struct {
	Token uint64   `json:"token"`
	Kind  StepKind `json:"kind"`
	Label string   `json:"label,omitempty"`
	Text  string   `json:"text,omitempty"`
	URL   string   `json:"url,omitempty"`

	// Duration is how long a playlist step stays up; zero means until the
	// next render.
	Duration time.Duration `json:"duration"`
	// Index and Count locate the step within its playlist (Count 0 outside
	// playlists).
	Index int `json:"index"`
	Count int `json:"count"`
}

// Sink paints steps. Show is called with the sequencer's lock held, so it
// must return quickly and never call back into the sequencer. Render
// failures stay inside the sink.
type Sink interface {
	Show(Step)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Step)

func (f SinkFunc) Show(s Step) { f(s) }
