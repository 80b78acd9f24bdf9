package playlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeImage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
	})
	mux.HandleFunc("/nohead.jpg", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewHTTPAssets(srv.Client())
	ctx := context.Background()
	assert.True(t, a.ProbeImage(ctx, srv.URL+"/ok.png"))
	assert.True(t, a.ProbeImage(ctx, srv.URL+"/nohead.jpg"))
	assert.False(t, a.ProbeImage(ctx, srv.URL+"/page.html"))
	assert.False(t, a.ProbeImage(ctx, srv.URL+"/missing.png"))
	assert.False(t, a.ProbeImage(ctx, "http://127.0.0.1:1/unreachable.png"))
}

func TestFrameable(t *testing.T) {
	tests := []struct {
		name string
		h    http.Header
		want bool
	}{
		{"no headers", http.Header{}, true},
		{"xfo deny", http.Header{"X-Frame-Options": {"DENY"}}, false},
		{"xfo sameorigin", http.Header{"X-Frame-Options": {"sameorigin"}}, false},
		{"csp none", http.Header{"Content-Security-Policy": {"default-src 'self'; frame-ancestors 'none'"}}, false},
		{"csp wildcard", http.Header{"Content-Security-Policy": {"frame-ancestors *"}}, true},
		{"csp host list", http.Header{"Content-Security-Policy": {"frame-ancestors https://school.example"}}, true},
		{"csp without frame-ancestors", http.Header{"Content-Security-Policy": {"script-src 'self'"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frameable(tt.h))
		})
	}
}

func TestEmbedLoads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/locked" {
			w.Header().Set("X-Frame-Options", "DENY")
		}
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	a := NewHTTPAssets(srv.Client())
	assert.True(t, a.EmbedLoads(context.Background(), srv.URL+"/deck"))
	assert.False(t, a.EmbedLoads(context.Background(), srv.URL+"/locked"))
}

func TestGetReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPAssets(srv.Client()).Get(context.Background(), srv.URL+"/x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestFolderManifestInvalid(t *testing.T) {
	f := &fakeAssets{pages: map[string]string{"https://cdn/imgs/manifest.json": `{"not": "a list"}`}}
	_, err := folderImageURLs(context.Background(), f, "https://cdn/imgs")
	require.Error(t, err)
	assert.Equal(t, "manifest.json is empty or invalid in https://cdn/imgs", err.Error())

	f.pages["https://cdn/imgs/manifest.json"] = `["/a.png", " ", "b.png"]`
	urls, err := folderImageURLs(context.Background(), f, "https://cdn/imgs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn/imgs/a.png", "https://cdn/imgs/b.png"}, urls)
}

func TestSlideImageURLs(t *testing.T) {
	page := `slide=id.g1a slide=id.p2 slide=id.g2b slide=id.g1a`
	got := slideImageURLs(page, "https://docs.google.com/presentation/d/e/KEY/pubembed?start=true")
	assert.Equal(t, []string{
		"https://docs.google.com/presentation/d/e/KEY/pub?slide=id.g1a",
		"https://docs.google.com/presentation/d/e/KEY/pub?slide=id.g2b",
	}, got)
	assert.Empty(t, slideImageURLs("<html/>", "https://x/pub"))
}
