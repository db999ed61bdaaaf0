package render

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Renderer executes a page in a headless browser and returns the
// post-execution HTML. A false ok reports any failure — timeout, crashed
// browser, navigation error — and callers fall back to the static HTML.
type Renderer interface {
	Render(ctx context.Context, pageURL string, timeout time.Duration) (html string, ok bool)
	Close()
}

// ChromeRenderer drives a shared headless Chrome instance via chromedp.
// A weighted semaphore caps concurrent renders so a large worker pool
// cannot exhaust browser memory.
type ChromeRenderer struct {
	log  *logrus.Entry
	sem  *semaphore.Weighted
	mu   sync.Mutex
	ctx  context.Context
	stop context.CancelFunc
}

// NewChromeRenderer creates a renderer allowing at most maxConcurrent
// simultaneous page renders. The browser process starts lazily on the
// first Render call.
func NewChromeRenderer(maxConcurrent int, log *logrus.Entry) *ChromeRenderer {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &ChromeRenderer{
		log: log,
		sem: semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (r *ChromeRenderer) browserContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(),
			append(chromedp.DefaultExecAllocatorOptions[:],
				chromedp.Flag("headless", true),
				chromedp.Flag("disable-gpu", true),
				chromedp.Flag("no-sandbox", true),
			)...)
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
		r.ctx = browserCtx
		r.stop = func() {
			cancelBrowser()
			cancelAlloc()
		}
	}
	return r.ctx
}

// Render implements Renderer.
func (r *ChromeRenderer) Render(ctx context.Context, pageURL string, timeout time.Duration) (string, bool) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return "", false
	}
	defer r.sem.Release(1)

	tabCtx, cancelTab := chromedp.NewContext(r.browserContext())
	defer cancelTab()
	runCtx, cancelRun := context.WithTimeout(tabCtx, timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{"url": pageURL, "error": err}).Debug("Render failed, falling back to static HTML")
		return "", false
	}
	return html, true
}

// Close shuts down the shared browser process.
func (r *ChromeRenderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		r.stop()
		r.ctx = nil
		r.stop = nil
	}
}
