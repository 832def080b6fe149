// Package capture renders JavaScript-heavy schedule pages in headless
// Chromium and returns the resulting DOM.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	appLog "vtcal/internal/log"
)

const (
	DefaultWidth      = 1280
	DefaultHeight     = 2000
	DefaultTimeoutSec = 30

	// DefaultReadySelector is waited for before the DOM is read.
	DefaultReadySelector = "body"
)

// Options configures a Renderer.
type Options struct {
	// ExecPath points at the Chromium binary; empty lets chromedp search
	// the usual locations.
	ExecPath string

	// ReadySelector must be visible before the DOM is captured.
	ReadySelector string

	// Settle is an extra pause after ReadySelector appears, for pages that
	// keep filling in after first paint.
	Settle time.Duration

	Width   int
	Height  int
	Timeout time.Duration
}

// Renderer loads pages in a fresh headless Chromium tab per call.
type Renderer struct {
	opts Options
}

func NewRenderer(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	if opts.ReadySelector == "" {
		opts.ReadySelector = DefaultReadySelector
	}
	return &Renderer{opts: opts}
}

// Load navigates to url, waits for the ready selector and returns the outer
// HTML of the document.
func (r *Renderer) Load(parentCtx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if r.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer timeoutCancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(r.opts.Width), int64(r.opts.Height)),
		chromedp.Navigate(url),
		chromedp.WaitVisible(r.opts.ReadySelector, chromedp.ByQuery),
	}
	if r.opts.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(r.opts.Settle))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	started := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	appLog.Debug("page rendered", "bytes", len(html), "took", time.Since(started))
	return []byte(html), nil
}
