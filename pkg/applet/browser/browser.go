// Package browser runs the bridge host page in Chrome so the applet has a
// live page without anyone opening a tab. Chrome is started lazily through
// chromedp on first use and runs in incognito mode.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("browser: closed")

// Option configures a Browser.
type Option func(*Browser)

// WithHeadless runs Chrome without a window.
func WithHeadless() Option {
	return func(b *Browser) { b.headless = true }
}

// WithWindowSize sets the Chrome window size, which bounds the applet
// container on the host page.
func WithWindowSize(width, height int) Option {
	return func(b *Browser) { b.width, b.height = width, height }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Browser) { b.log = log }
}

const (
	defaultWidth  = 1280
	defaultHeight = 800

	opTimeout = 30 * time.Second
)

// Browser owns one Chrome tab.
type Browser struct {
	headless  bool
	width     int
	height    int
	log       *slog.Logger
	parentCtx context.Context

	mu          sync.Mutex
	started     bool
	closed      bool
	browserCtx  context.Context
	browserDone context.CancelFunc
	allocDone   context.CancelFunc
}

// New creates a Browser. Cancelling parentCtx tears Chrome down.
func New(parentCtx context.Context, opts ...Option) *Browser {
	b := &Browser{
		width:     defaultWidth,
		height:    defaultHeight,
		parentCtx: parentCtx,
	}
	for _, o := range opts {
		o(b)
	}

	if b.log == nil {
		b.log = slog.New(slog.DiscardHandler)
	}

	return b
}

// Open navigates the tab to url and waits for the page body.
func (b *Browser) Open(ctx context.Context, url string) error {
	bCtx, err := b.ensureBrowser()
	if err != nil {
		return err
	}

	opCtx, cancel := b.opContext(ctx, bCtx)
	defer cancel()

	if err := chromedp.Run(opCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("browser: open %s: %w", url, err)
	}

	b.log.InfoContext(ctx, "host page opened", slog.String("url", url))

	return nil
}

// Screenshot returns a PNG of the element matching selector, or of the
// viewport when selector is empty.
func (b *Browser) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	bCtx, err := b.ensureBrowser()
	if err != nil {
		return nil, err
	}

	opCtx, cancel := b.opContext(ctx, bCtx)
	defer cancel()

	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if selector != "" {
		action = chromedp.Screenshot(selector, &buf, chromedp.ByQuery)
	}

	if err := chromedp.Run(opCtx, action); err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}

	return buf, nil
}

// Close shuts Chrome down. It is safe to call more than once.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if !b.started {
		return
	}

	b.browserDone()
	b.allocDone()
	b.browserDone = nil
	b.allocDone = nil
	b.browserCtx = nil
	b.started = false
}

// opContext derives a chromedp context from the tab that also ends when ctx
// ends.
func (b *Browser) opContext(ctx, bCtx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(bCtx, opTimeout)
	stop := context.AfterFunc(ctx, cancel)
	if ctx.Err() != nil {
		cancel()
	}

	return opCtx, func() {
		stop()
		cancel()
	}
}

func (b *Browser) ensureBrowser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.started {
		return b.browserCtx, nil
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if !b.headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("incognito", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(b.width, b.height),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(b.parentCtx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run starts the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser: start chrome: %w", err)
	}

	b.log.Debug("chrome started", slog.Bool("headless", b.headless))

	b.browserCtx = browserCtx
	b.browserDone = browserCancel
	b.allocDone = allocCancel
	b.started = true

	return b.browserCtx, nil
}
