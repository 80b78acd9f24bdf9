package playlist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	appLog "classcal/internal/log"
	"classcal/internal/model"
)

// DefaultSlidesGrace is how long an embedded deck gets to load before the
// scraped-image fallback takes over.
const DefaultSlidesGrace = 5 * time.Second

// Options tunes a Sequencer.
type Options struct {
	// GlobalDuration is the configured default step length in seconds;
	// <= 0 means unset.
	GlobalDuration int
	ProbeTimeout   time.Duration
	SlidesGrace    time.Duration
}

// Cycle is the cancellation handle of one render step. It stays current
// until the sequencer issues a newer token (next playlist step or a new
// Render) or the render is cancelled. Every sink write and every async
// continuation checks it first, so stale work is a no-op.
type Cycle struct {
	seq    *Sequencer
	ctx    context.Context
	parent context.Context
	token  uint64
}

func (c *Cycle) Token() uint64 { return c.token }

func (c *Cycle) Context() context.Context { return c.ctx }

func (c *Cycle) String() string { return fmt.Sprintf("cycle#%d", c.token) }

func (c *Cycle) currentLocked() bool {
	return c.ctx.Err() == nil && c.token == c.seq.token
}

// Current reports whether this step is still the one on screen.
func (c *Cycle) Current() bool {
	c.seq.mu.Lock()
	defer c.seq.mu.Unlock()
	return c.currentLocked()
}

// show hands st to the sink if the step is still current.
func (c *Cycle) show(st Step) bool {
	c.seq.mu.Lock()
	defer c.seq.mu.Unlock()
	if !c.currentLocked() {
		return false
	}
	st.Token = c.token
	c.seq.sink.Show(st)
	return true
}

type afterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfter(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Sequencer turns content items into timed steps on a Sink. Each Render
// supersedes everything the previous one started.
type Sequencer struct {
	sink   Sink
	images ImageProber
	embed  EmbedProbe
	assets AssetFetcher
	opts   Options
	after  afterFunc

	mu           sync.Mutex
	token        uint64
	renderCancel context.CancelFunc
	stepCancel   context.CancelFunc
	stopped      bool
	wg           sync.WaitGroup
}

// NewSequencer wires a sequencer. Nil collaborators default to plain HTTP.
func NewSequencer(sink Sink, images ImageProber, embed EmbedProbe, assets AssetFetcher, opts Options) *Sequencer {
	if sink == nil {
		sink = SinkFunc(func(Step) {})
	}
	if images == nil || embed == nil || assets == nil {
		h := NewHTTPAssets(nil)
		if images == nil {
			images = h
		}
		if embed == nil {
			embed = h
		}
		if assets == nil {
			assets = h
		}
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.SlidesGrace <= 0 {
		opts.SlidesGrace = DefaultSlidesGrace
	}
	return &Sequencer{
		sink:   sink,
		images: images,
		embed:  embed,
		assets: assets,
		opts:   opts,
		after:  realAfter,
	}
}

// Token returns the current render token.
func (s *Sequencer) Token() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Render starts a new render of item and returns its first step's cycle.
func (s *Sequencer) Render(item *model.ContentItem) *Cycle {
	cyc := s.begin()
	switch {
	case item == nil:
		cyc.show(noticeStep(Step{}, NoticeUnsupportedItem))
	case item.Type == model.KindPlaylist:
		s.playPlaylist(cyc, item.Clone())
	default:
		s.renderSingle(cyc, item.Clone(), Step{})
	}
	return cyc
}

// RenderNotice replaces whatever is showing with a text notice.
func (s *Sequencer) RenderNotice(msg string) *Cycle {
	cyc := s.begin()
	cyc.show(noticeStep(Step{}, msg))
	return cyc
}

// Stop cancels the current render and waits for async work to finish.
// Renders after Stop show nothing.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.renderCancel != nil {
		s.renderCancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sequencer) begin() *Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.renderCancel != nil {
		s.renderCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.renderCancel = cancel
	if s.stopped {
		cancel()
	}
	return s.nextLocked(ctx)
}

func (s *Sequencer) nextLocked(parent context.Context) *Cycle {
	if s.stepCancel != nil {
		s.stepCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.stepCancel = cancel
	s.token++
	return &Cycle{seq: s, ctx: ctx, parent: parent, token: s.token}
}

// successor issues the next step's cycle, or nil when c was superseded.
func (s *Sequencer) successor(c *Cycle) *Cycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.currentLocked() {
		return nil
	}
	return s.nextLocked(c.parent)
}

// schedule runs f once after d if c is still current then. The timer is
// stopped when c is cancelled.
func (s *Sequencer) schedule(c *Cycle, d time.Duration, f func()) {
	stop := s.after(d, func() {
		if c.Current() {
			f()
		}
	})
	context.AfterFunc(c.ctx, func() { stop() })
}

// goAsync runs f on a goroutine that Stop waits for.
func (s *Sequencer) goAsync(f func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				appLog.Error("render step panicked", fmt.Errorf("%v", r))
			}
		}()
		f()
	}()
}

type playlistRun struct {
	playlist *model.ContentItem
	index    int
}

func (s *Sequencer) playPlaylist(first *Cycle, pl *model.ContentItem) {
	if len(pl.Items) == 0 {
		first.show(noticeStep(Step{}, NoticeEmptyPlaylist))
		return
	}
	flat, err := Flatten(pl)
	if err != nil {
		first.show(noticeStep(Step{}, NoticeUnsupportedPlaylist))
		return
	}
	s.advance(&playlistRun{playlist: flat}, first)
}

// advance shows the run's next member on cyc and schedules its successor,
// cycling forever until superseded.
func (s *Sequencer) advance(run *playlistRun, cyc *Cycle) {
	n := len(run.playlist.Items)
	idx := run.index % n
	run.index++

	item := &run.playlist.Items[idx]
	dur := ResolveDuration(item, run.playlist, s.opts.GlobalDuration)
	frame := Step{Duration: dur, Index: idx, Count: n}

	if item.Type == "" {
		cyc.show(noticeStep(frame, NoticeUnsupportedMember))
	} else {
		s.renderSingle(cyc, item, frame)
	}

	s.schedule(cyc, dur, func() {
		if next := s.successor(cyc); next != nil {
			s.advance(run, next)
		}
	})
}

func (s *Sequencer) renderSingle(cyc *Cycle, item *model.ContentItem, frame Step) {
	frame.Label = item.DisplayName
	switch item.Type {
	case model.KindText:
		frame.Kind = StepText
		frame.Text = item.Content
		cyc.show(frame)
	case model.KindSlides:
		s.renderSlides(cyc, item, frame)
	case model.KindImages:
		s.renderImages(cyc, item, frame)
	default:
		cyc.show(noticeStep(frame, NoticeUnsupportedItem))
	}
}

func (s *Sequencer) renderImages(cyc *Cycle, item *model.ContentItem, frame Step) {
	interval := ResolveDuration(item, nil, s.opts.GlobalDuration)
	urls := item.ImageURLs()
	folder := strings.TrimSpace(item.Folder)

	switch {
	case len(item.Images) > 0 && len(urls) == 0:
		cyc.show(noticeStep(frame, NoticeNoImageURLs))
		return
	case len(urls) == 0 && folder == "":
		cyc.show(noticeStep(frame, NoticeNoImagesConfigured))
		return
	}

	s.goAsync(func() {
		if len(urls) == 0 {
			var err error
			urls, err = folderImageURLs(cyc.ctx, s.assets, folder)
			if err != nil {
				if cyc.Current() {
					appLog.Error("image folder unavailable", err, "folder", folder)
				}
				cyc.show(noticeStep(frame, "Error loading images: "+err.Error()))
				return
			}
		}

		valid := s.validImages(cyc, urls)
		if !cyc.Current() {
			return
		}
		if len(valid) == 0 {
			cyc.show(noticeStep(frame, NoticeNoValidImages))
			return
		}
		s.cycleImages(cyc, valid, interval, frame)
	})
}

// validImages probes urls one by one, each with a bounded timeout. It
// returns nil as soon as cyc is no longer current.
func (s *Sequencer) validImages(cyc *Cycle, urls []string) []string {
	valid := make([]string, 0, len(urls))
	for _, u := range urls {
		if !cyc.Current() {
			return nil
		}
		ctx, cancel := context.WithTimeout(cyc.ctx, s.opts.ProbeTimeout)
		ok := s.images.ProbeImage(ctx, u)
		cancel()
		if !cyc.Current() {
			return nil
		}
		if ok {
			valid = append(valid, u)
		} else {
			appLog.Debug("image dropped from rotation", "url", u)
		}
	}
	return valid
}

func (s *Sequencer) cycleImages(cyc *Cycle, urls []string, interval time.Duration, frame Step) {
	i := 0
	var tick func()
	tick = func() {
		st := frame
		st.Kind = StepImage
		st.URL = urls[i%len(urls)]
		i++
		if !cyc.show(st) {
			return
		}
		if len(urls) > 1 {
			s.schedule(cyc, interval, tick)
		}
	}
	tick()
}

// renderSlides embeds the deck right away. If the embed probe has not
// confirmed a load when the grace period ends, the published page is
// scraped and its slides cycled as images.
func (s *Sequencer) renderSlides(cyc *Cycle, item *model.ContentItem, frame Step) {
	st := frame
	st.Kind = StepSlides
	st.URL = item.URL
	if !cyc.show(st) {
		return
	}

	var loaded atomic.Bool
	s.goAsync(func() {
		ctx, cancel := context.WithTimeout(cyc.ctx, s.opts.SlidesGrace)
		defer cancel()
		if s.embed.EmbedLoads(ctx, item.URL) {
			loaded.Store(true)
		}
	})

	interval := ResolveDuration(item, nil, s.opts.GlobalDuration)
	s.schedule(cyc, s.opts.SlidesGrace, func() {
		if loaded.Load() {
			return
		}
		s.goAsync(func() { s.slidesFallback(cyc, item, interval, frame) })
	})
}

func (s *Sequencer) slidesFallback(cyc *Cycle, item *model.ContentItem, interval time.Duration, frame Step) {
	page, err := s.assets.Get(cyc.ctx, item.URL)
	if !cyc.Current() {
		return
	}
	if err != nil {
		appLog.Error("slides fallback failed", err, "url", item.URL)
		cyc.show(noticeStep(frame, NoticeSlidesFallbackError))
		return
	}
	urls := slideImageURLs(string(page), item.URL)
	if len(urls) == 0 {
		cyc.show(noticeStep(frame, NoticeNoSlides))
		return
	}
	appLog.Debug("slides fallback cycling scraped images", "url", item.URL, "slides", len(urls))
	s.cycleImages(cyc, urls, interval, frame)
}

func noticeStep(frame Step, msg string) Step {
	frame.Kind = StepNotice
	frame.Text = msg
	frame.URL = ""
	return frame
}
