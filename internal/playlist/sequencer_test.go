package playlist

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classcal/internal/model"
)

type recordingSink struct {
	mu    sync.Mutex
	steps []Step
}

func (r *recordingSink) Show(s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

func (r *recordingSink) all() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step(nil), r.steps...)
}

func (r *recordingSink) last() Step {
	steps := r.all()
	if len(steps) == 0 {
		return Step{}
	}
	return steps[len(steps)-1]
}

func (r *recordingSink) ofKind(k StepKind) []Step {
	var out []Step
	for _, s := range r.all() {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}

// manualClock collects timers and fires them on demand.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	done    bool
	stopped bool
}

func (c *manualClock) after(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm := &manualTimer{d: d, f: f}
	c.timers = append(c.timers, tm)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		active := !tm.done && !tm.stopped
		tm.stopped = true
		return active
	}
}

func (c *manualClock) pending() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*manualTimer
	for _, tm := range c.timers {
		if !tm.done && !tm.stopped {
			out = append(out, tm)
		}
	}
	return out
}

// fire runs the oldest pending timer and returns its delay.
func (c *manualClock) fire(t *testing.T) time.Duration {
	t.Helper()
	p := c.pending()
	require.NotEmpty(t, p, "no pending timer")
	c.mu.Lock()
	p[0].done = true
	c.mu.Unlock()
	p[0].f()
	return p[0].d
}

// fireAll runs every pending timer once, stale ones included.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	var due []*manualTimer
	for _, tm := range c.timers {
		if !tm.done {
			tm.done = true
			due = append(due, tm)
		}
	}
	c.mu.Unlock()
	for _, tm := range due {
		tm.f()
	}
}

type mapProber map[string]bool

func (m mapProber) ProbeImage(_ context.Context, url string) bool { return m[url] }

type fixedEmbed bool

func (f fixedEmbed) EmbedLoads(context.Context, string) bool { return bool(f) }

type fakeAssets struct {
	mu    sync.Mutex
	pages map[string]string
	err   error
	calls int
}

func (f *fakeAssets) Get(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	page, ok := f.pages[url]
	if !ok {
		return nil, &StatusError{URL: url, StatusCode: http.StatusNotFound}
	}
	return []byte(page), nil
}

func (f *fakeAssets) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestSequencer(sink Sink, images ImageProber, embed EmbedProbe, assets AssetFetcher, opts Options) (*Sequencer, *manualClock) {
	seq := NewSequencer(sink, images, embed, assets, opts)
	clock := &manualClock{}
	seq.after = clock.after
	return seq, clock
}

func TestRenderText(t *testing.T) {
	sink := &recordingSink{}
	seq, clock := newTestSequencer(sink, mapProber{}, fixedEmbed(true), &fakeAssets{}, Options{})
	defer seq.Stop()

	item := &model.ContentItem{Type: model.KindText, DisplayName: "P1 Algebra", Content: "Warm-up on page 12"}
	cyc := seq.Render(item)

	steps := sink.all()
	require.Len(t, steps, 1)
	assert.Equal(t, StepText, steps[0].Kind)
	assert.Equal(t, "Warm-up on page 12", steps[0].Text)
	assert.Equal(t, "P1 Algebra", steps[0].Label)
	assert.Equal(t, cyc.Token(), steps[0].Token)
	assert.Zero(t, steps[0].Count)
	assert.Empty(t, clock.pending(), "single items are not timed")
}

func TestRenderUnsupported(t *testing.T) {
	sink := &recordingSink{}
	seq, _ := newTestSequencer(sink, mapProber{}, fixedEmbed(true), &fakeAssets{}, Options{})
	defer seq.Stop()

	seq.Render(nil)
	assert.Equal(t, NoticeUnsupportedItem, sink.last().Text)

	seq.Render(&model.ContentItem{Type: "video"})
	assert.Equal(t, NoticeUnsupportedItem, sink.last().Text)

	seq.Render(&model.ContentItem{Type: model.KindPlaylist})
	assert.Equal(t, NoticeEmptyPlaylist, sink.last().Text)

	seq.Render(&model.ContentItem{Type: model.KindPlaylist, Items: []model.ContentItem{{Type: model.KindPlaylist}}})
	assert.Equal(t, NoticeUnsupportedPlaylist, sink.last().Text)
	assert.Equal(t, StepNotice, sink.last().Kind)
}

func TestPlaylistCyclesWithDurations(t *testing.T) {
	sink := &recordingSink{}
	seq, clock := newTestSequencer(sink, mapProber{}, fixedEmbed(true), &fakeAssets{}, Options{GlobalDuration: 30})
	defer seq.Stop()

	pl := &model.ContentItem{
		Type:        model.KindPlaylist,
		DurationSec: model.Seconds(7),
		Items: []model.ContentItem{
			{Type: model.KindText, Content: "A", DurationSec: model.Seconds(3)},
			{Type: model.KindText, Content: "B"},
			{Content: "typeless"},
		},
	}
	seq.Render(pl)

	assert.Equal(t, 3*time.Second, clock.fire(t))
	assert.Equal(t, 7*time.Second, clock.fire(t))
	assert.Equal(t, 7*time.Second, clock.fire(t))

	steps := sink.all()
	require.Len(t, steps, 4)
	assert.Equal(t, "A", steps[0].Text)
	assert.Equal(t, 3*time.Second, steps[0].Duration)
	assert.Equal(t, 0, steps[0].Index)
	assert.Equal(t, 3, steps[0].Count)

	assert.Equal(t, "B", steps[1].Text)
	assert.Equal(t, 7*time.Second, steps[1].Duration)

	assert.Equal(t, StepNotice, steps[2].Kind)
	assert.Equal(t, NoticeUnsupportedMember, steps[2].Text)

	assert.Equal(t, "A", steps[3].Text, "playlists wrap around")
	for i := 1; i < len(steps); i++ {
		assert.Greater(t, steps[i].Token, steps[i-1].Token)
	}
}

func TestNewRenderSupersedesPlaylist(t *testing.T) {
	sink := &recordingSink{}
	seq, clock := newTestSequencer(sink, mapProber{}, fixedEmbed(true), &fakeAssets{}, Options{})
	defer seq.Stop()

	seq.Render(&model.ContentItem{
		Type:  model.KindPlaylist,
		Items: []model.ContentItem{text("A"), text("B")},
	})
	seq.Render(&model.ContentItem{Type: model.KindText, Content: "X"})
	before := len(sink.all())

	clock.fireAll()
	assert.Len(t, sink.all(), before, "stale playlist timers must not advance")
	assert.Equal(t, "X", sink.last().Text)
}

func TestImagesProbedAndCycled(t *testing.T) {
	sink := &recordingSink{}
	prober := mapProber{"https://img/a.png": true, "https://img/b.png": false, "https://img/c.png": true}
	seq, clock := newTestSequencer(sink, prober, fixedEmbed(true), &fakeAssets{}, Options{})
	defer seq.Stop()

	seq.Render(&model.ContentItem{
		Type:        model.KindImages,
		DurationSec: model.Seconds(4),
		Images:      []model.ImageRef{{Src: "https://img/a.png"}, {Src: "https://img/b.png"}, {Src: "https://img/c.png"}},
	})

	require.Eventually(t, func() bool { return len(clock.pending()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4*time.Second, clock.fire(t))
	clock.fire(t)

	var urls []string
	for _, s := range sink.ofKind(StepImage) {
		urls = append(urls, s.URL)
	}
	assert.Equal(t, []string{"https://img/a.png", "https://img/c.png", "https://img/a.png"}, urls)
}

func TestImagesNotices(t *testing.T) {
	sink := &recordingSink{}
	seq, _ := newTestSequencer(sink, mapProber{}, fixedEmbed(true), &fakeAssets{}, Options{})
	defer seq.Stop()

	seq.Render(&model.ContentItem{Type: model.KindImages})
	assert.Equal(t, NoticeNoImagesConfigured, sink.last().Text)

	seq.Render(&model.ContentItem{Type: model.KindImages, Images: []model.ImageRef{{Src: "  "}}})
	assert.Equal(t, NoticeNoImageURLs, sink.last().Text)

	seq.Render(&model.ContentItem{Type: model.KindImages, Images: []model.ImageRef{{Src: "https://img/broken.png"}}})
	require.Eventually(t, func() bool { return sink.last().Text == NoticeNoValidImages }, time.Second, 5*time.Millisecond)
}

func TestImagesFromFolderManifest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/imgs/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["1.png", "2.png"]`))
	})
	mux.HandleFunc("/imgs/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink := &recordingSink{}
	seq, _ := newTestSequencer(sink, nil, fixedEmbed(true), nil, Options{})
	defer seq.Stop()

	seq.Render(&model.ContentItem{Type: model.KindImages, Folder: srv.URL + "/imgs/"})
	require.Eventually(t, func() bool { return len(sink.ofKind(StepImage)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, srv.URL+"/imgs/1.png", sink.ofKind(StepImage)[0].URL)

	seq.Render(&model.ContentItem{Type: model.KindImages, Folder: srv.URL + "/missing"})
	require.Eventually(t, func() bool { return sink.last().Kind == StepNotice }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, strings.HasPrefix(sink.last().Text, "Error loading images: manifest.json not found at"), sink.last().Text)
}

type blockingProber struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingProber) ProbeImage(ctx context.Context, _ string) bool {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return true
}

func TestStaleImageValidationIsNoop(t *testing.T) {
	sink := &recordingSink{}
	prober := &blockingProber{started: make(chan struct{}), release: make(chan struct{})}
	seq, clock := newTestSequencer(sink, prober, fixedEmbed(true), &fakeAssets{}, Options{})

	seq.Render(&model.ContentItem{Type: model.KindImages, Images: []model.ImageRef{{Src: "https://img/slow.png"}}})
	<-prober.started

	seq.Render(&model.ContentItem{Type: model.KindText, Content: "Next"})
	close(prober.release)
	seq.Stop()

	assert.Empty(t, sink.ofKind(StepImage))
	assert.Equal(t, "Next", sink.last().Text)
	assert.Empty(t, clock.pending())
}

func TestSlidesEmbedLoadedSkipsFallback(t *testing.T) {
	sink := &recordingSink{}
	assets := &fakeAssets{}
	seq, clock := newTestSequencer(sink, mapProber{}, fixedEmbed(true), assets, Options{})
	defer seq.Stop()

	deck := "https://docs.google.com/presentation/d/e/KEY/pub?start=false"
	seq.Render(&model.ContentItem{Type: model.KindSlides, URL: deck})
	require.Equal(t, StepSlides, sink.last().Kind)
	assert.Equal(t, deck, sink.last().URL)

	seq.wg.Wait()
	assert.Equal(t, DefaultSlidesGrace, clock.fire(t))
	seq.wg.Wait()

	assert.Zero(t, assets.count())
	assert.Len(t, sink.all(), 1)
}

func TestSlidesFallbackScrapesDeck(t *testing.T) {
	deck := "https://docs.google.com/presentation/d/e/KEY/pub?start=false"
	page := `<a href="#slide=id.gabc">1</a><a href="#slide=id.gdef">2</a><script>x("slide=id.gabc")</script>`

	sink := &recordingSink{}
	assets := &fakeAssets{pages: map[string]string{deck: page}}
	seq, clock := newTestSequencer(sink, mapProber{}, fixedEmbed(false), assets, Options{SlidesGrace: 2 * time.Second})
	defer seq.Stop()

	seq.Render(&model.ContentItem{Type: model.KindSlides, URL: deck, DurationSec: model.Seconds(6)})
	seq.wg.Wait()
	assert.Equal(t, 2*time.Second, clock.fire(t))
	seq.wg.Wait()

	assert.Equal(t, 6*time.Second, clock.fire(t))

	imgs := sink.ofKind(StepImage)
	require.Len(t, imgs, 2)
	base := "https://docs.google.com/presentation/d/e/KEY"
	assert.Equal(t, base+"/pub?slide=id.gabc", imgs[0].URL)
	assert.Equal(t, base+"/pub?slide=id.gdef", imgs[1].URL)
}

func TestSlidesFallbackFailures(t *testing.T) {
	deck := "https://example.com/deck/pub"

	for name, tc := range map[string]struct {
		assets *fakeAssets
		want   string
	}{
		"fetch error": {&fakeAssets{err: errors.New("connection refused")}, NoticeSlidesFallbackError},
		"no slides":   {&fakeAssets{pages: map[string]string{deck: "<html></html>"}}, NoticeNoSlides},
	} {
		t.Run(name, func(t *testing.T) {
			sink := &recordingSink{}
			seq, clock := newTestSequencer(sink, mapProber{}, fixedEmbed(false), tc.assets, Options{})
			defer seq.Stop()

			seq.Render(&model.ContentItem{Type: model.KindSlides, URL: deck})
			seq.wg.Wait()
			clock.fire(t)
			seq.wg.Wait()

			assert.Equal(t, StepNotice, sink.last().Kind)
			assert.Equal(t, tc.want, sink.last().Text)
		})
	}
}

func TestRenderAfterStopShowsNothing(t *testing.T) {
	sink := &recordingSink{}
	seq, _ := newTestSequencer(sink, mapProber{}, fixedEmbed(true), &fakeAssets{}, Options{})
	seq.RenderNotice("No content scheduled.")
	seq.Stop()

	cyc := seq.Render(&model.ContentItem{Type: model.KindText, Content: "late"})
	assert.False(t, cyc.Current())
	require.Len(t, sink.all(), 1)
	assert.Equal(t, "No content scheduled.", sink.last().Text)
}
