// Package capture drives headless Chromium: PNG previews of the display
// page and a real-browser load check for embedded slide decks.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	appLog "classcal/internal/log"
)

// Default capture parameters: a 1080p classroom screen.
const (
	DefaultWidth      = 1920
	DefaultHeight     = 1080
	DefaultTimeoutSec = 30

	// DefaultReadySelector is set by the display page once the first step
	// has been painted.
	DefaultReadySelector = `[data-ready="true"]`
)

// CaptureOptions defines parameters for a Chromium-based screenshot capture.
type CaptureOptions struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/".
	URL string

	// OutputPath is where the PNG screenshot will be written.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// ReadySelector is awaited before the shot; empty means
	// DefaultReadySelector.
	ReadySelector string

	// Timeout bounds the entire capture operation.
	Timeout time.Duration
}

func (o *CaptureOptions) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.ReadySelector == "" {
		o.ReadySelector = DefaultReadySelector
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return nil
}

// CapturePNG loads the display page in headless Chromium, waits for it to
// mark itself ready and writes a full-page PNG to opts.OutputPath.
func CapturePNG(parentCtx context.Context, opts CaptureOptions) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(opts.ReadySelector, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("display preview captured", "path", opts.OutputPath, "bytes", len(png))
	return nil
}

// ChromiumEmbedProbe confirms a slide deck by loading it in headless
// Chromium and waiting for its content selector. It satisfies
// playlist.EmbedProbe.
type ChromiumEmbedProbe struct {
	// Selector marks a rendered deck; empty means any element in <body>.
	Selector string
	// Allocator, if set, is the parent chromedp context (for example one
	// made with chromedp.NewRemoteAllocator). Nil launches a local browser.
	Allocator context.Context
}

// EmbedLoads reports whether the deck rendered before ctx expired.
func (p *ChromiumEmbedProbe) EmbedLoads(ctx context.Context, url string) bool {
	sel := p.Selector
	if sel == "" {
		sel = "body *"
	}

	parent := p.Allocator
	if parent == nil {
		parent = context.Background()
	}
	bctx, cancel := chromedp.NewContext(parent)
	defer cancel()

	// Tie the browser tab to the caller's deadline and cancellation.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		bctx, dcancel = context.WithDeadline(bctx, deadline)
		defer dcancel()
	}

	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady(sel, chromedp.ByQuery),
	)
	if err != nil {
		appLog.Debug("deck did not render in headless browser", "url", url, "err", err)
		return false
	}
	return true
}
