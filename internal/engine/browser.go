package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/david/grant-scraper/internal/models"
)

// BrowserEngine drives headless Chrome for JS-rendered sources, then runs
// the same selector extraction as the static engine over the rendered DOM.
type BrowserEngine struct {
	limiter *SourceLimiter

	// ViewportWidth/Height default to a desktop viewport.
	ViewportWidth  int64
	ViewportHeight int64
	// BlockHeavyResources drops images, stylesheets, media, and fonts to
	// keep renders fast.
	BlockHeavyResources bool
}

func NewBrowserEngine(limiter *SourceLimiter) *BrowserEngine {
	return &BrowserEngine{
		limiter:             limiter,
		ViewportWidth:       1366,
		ViewportHeight:      900,
		BlockHeavyResources: true,
	}
}

func (e *BrowserEngine) Kind() models.EngineKind { return models.EngineBrowser }

func (e *BrowserEngine) Fetch(ctx context.Context, src models.Source) ([]models.RawGrant, error) {
	if err := e.limiter.Wait(ctx, src); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(RandomUserAgent()),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	pageCtx, cancelPage := context.WithTimeout(browserCtx, src.Timeout())
	defer cancelPage()

	if e.BlockHeavyResources {
		if err := chromedp.Run(pageCtx,
			network.Enable(),
			fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}),
		); err != nil {
			return nil, models.NewScrapeError(models.ErrNetwork, "browser startup failed", err)
		}
		chromedp.ListenTarget(pageCtx, func(ev interface{}) {
			if e2, ok := ev.(*fetch.EventRequestPaused); ok {
				go func() {
					switch e2.ResourceType {
					case network.ResourceTypeImage,
						network.ResourceTypeStylesheet,
						network.ResourceTypeMedia,
						network.ResourceTypeFont:
						_ = fetch.FailRequest(e2.RequestID, network.ErrorReasonBlockedByClient).Do(pageCtx)
					default:
						_ = fetch.ContinueRequest(e2.RequestID).Do(pageCtx)
					}
				}()
			}
		})
	}

	waitFor := src.Selectors.WaitFor
	if waitFor == "" {
		waitFor = "body"
	}

	actions := []chromedp.Action{
		chromedp.EmulateViewport(e.ViewportWidth, e.ViewportHeight),
		chromedp.Navigate(src.URL),
		chromedp.WaitVisible(waitFor, chromedp.ByQuery),
	}
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(pageCtx, actions...); err != nil {
		if pageCtx.Err() == context.DeadlineExceeded {
			return nil, models.NewScrapeError(models.ErrNetwork,
				fmt.Sprintf("render timed out waiting for %q", waitFor), err)
		}
		return nil, models.NewScrapeError(models.ErrNetwork, "render failed", err)
	}

	e.limiter.AfterRequest(ctx, src)

	grants, err := ExtractFromHTML(html, src)
	if err != nil {
		return nil, err
	}
	log.Printf("[browser] %s: extracted %d grants after render", src.ID, len(grants))
	return grants, nil
}
