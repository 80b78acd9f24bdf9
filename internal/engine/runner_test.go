package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classcal/internal/catalog"
	"classcal/internal/ics"
	"classcal/internal/model"
	"classcal/internal/playlist"
)

type fakeRenderer struct {
	mu      sync.Mutex
	items   []*model.ContentItem
	notices []string
}

func (f *fakeRenderer) Render(item *model.ContentItem) *playlist.Cycle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return nil
}

func (f *fakeRenderer) RenderNotice(msg string) *playlist.Cycle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, msg)
	return nil
}

func (f *fakeRenderer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items), len(f.notices)
}

func TestRunOnceRendersPlan(t *testing.T) {
	loc := la(t)
	now := time.Date(2024, 1, 17, 9, 10, 0, 0, loc)
	f := &stubFetcher{body: singleEvent("Period 1", now.Add(-10*time.Minute), now.Add(40*time.Minute))}
	e := newEngine(t, f, []ics.Source{{ID: "main", URL: feedURL}}, nil)

	reloads := 0
	var published []Plan
	r := NewRunner(e, &fakeRenderer{}, RunnerOptions{
		Now: func() time.Time { return now },
		Reload: func(context.Context) *catalog.Catalogs {
			reloads++
			return &catalog.Catalogs{Targets: catalog.TargetCatalog{
				Defaults: map[string]model.ContentItem{"p1": textItem("Algebra")},
			}}
		},
		Publish: func(p Plan) { published = append(published, p) },
	})
	rend := r.renderer.(*fakeRenderer)

	_, ok := r.Last()
	assert.False(t, ok)

	plan, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reloads)
	require.Len(t, rend.items, 1)
	assert.Equal(t, "Algebra", rend.items[0].Content)
	require.Len(t, published, 1)
	assert.Equal(t, plan.CycleID, published[0].CycleID)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, plan.CycleID, last.CycleID)
	assert.NoError(t, r.LastError())
}

func TestRunOnceShowsNotices(t *testing.T) {
	loc := la(t)
	now := time.Date(2024, 1, 17, 12, 0, 0, 0, loc)

	rend := &fakeRenderer{}
	r := NewRunner(newEngine(t, &stubFetcher{}, nil, nil), rend, RunnerOptions{Now: func() time.Time { return now }})
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{MsgNoContent}, rend.notices)

	rend = &fakeRenderer{}
	e := newEngine(t, &stubFetcher{panic: true}, []ics.Source{{ID: "main", URL: feedURL}}, nil)
	r = NewRunner(e, rend, RunnerOptions{Now: func() time.Time { return now }})
	_, err = r.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, r.LastError(), ErrFatal)
	assert.Equal(t, []string{MsgDisplayError}, rend.notices)
	assert.Empty(t, rend.items)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	rend := &fakeRenderer{}
	r := NewRunner(newEngine(t, &stubFetcher{}, nil, nil), rend, RunnerOptions{Spec: "@every 1h"})

	require.NoError(t, r.Start(context.Background()))
	_, notices := rend.counts()
	assert.Equal(t, 1, notices)
	r.Stop()

	bad := NewRunner(newEngine(t, &stubFetcher{}, nil, nil), rend, RunnerOptions{Spec: "every so often"})
	assert.Error(t, bad.Start(context.Background()))
	bad.Stop()
}
