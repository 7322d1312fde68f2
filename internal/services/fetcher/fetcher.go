package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/browser"
	"github.com/ternarybob/harvester/internal/services/extractor"
	"github.com/ternarybob/harvester/internal/services/limiter"
)

// networkIdleWindow is how long the wire must stay quiet before a page
// counts as loaded under the network-idle strategy.
const networkIdleWindow = 500 * time.Millisecond

// PagePool is the slice of the browser pool the fetcher uses.
type PagePool interface {
	Lease(ctx context.Context) (*browser.Page, error)
	Return(page *browser.Page, outcome browser.Outcome)
}

// pageSnapshot is what navigation hands to extraction.
type pageSnapshot struct {
	title string
	html  string
}

// Fetcher retrieves and extracts one listing page at a time, throttled
// by the shared limiter and backed by pooled browser pages.
type Fetcher struct {
	limiter   *limiter.Limiter
	pool      PagePool
	extractor *extractor.Extractor
	scraper   common.ScraperConfig
	browser   common.BrowserConfig
	logger    arbor.ILogger

	// overridable in tests to run the pipeline without Chrome
	navigate func(ctx context.Context, page *browser.Page, url string) (*pageSnapshot, error)
}

func New(lim *limiter.Limiter, pool PagePool, ext *extractor.Extractor, scraper common.ScraperConfig, browserCfg common.BrowserConfig, logger arbor.ILogger) *Fetcher {
	f := &Fetcher{
		limiter:   lim,
		pool:      pool,
		extractor: ext,
		scraper:   scraper,
		browser:   browserCfg,
		logger:    logger,
	}
	f.navigate = f.chromedpNavigate
	return f
}

// FetchPage fetches one page of a catalog query, retrying transient
// failures. Cancellation and anti-bot walls are terminal and never
// retried; a retriable failure is reported to the limiter so the whole
// session backs off.
func (f *Fetcher) FetchPage(ctx context.Context, url string, page int) (*interfaces.PageResult, error) {
	var lastErr error

	for attempt := 0; attempt <= f.scraper.RetryAttempts; attempt++ {
		result, err := f.fetchOnce(ctx, url, page)
		if err == nil {
			f.limiter.ReportSuccess()
			return result, nil
		}

		kind := models.KindOf(err)
		if kind == models.ErrKindCancelled || kind == models.ErrKindAntiBot {
			return nil, err
		}

		lastErr = err
		f.limiter.ReportError(kind)
		f.logger.Warn().
			Err(err).
			Str("url", url).
			Int("page", page).
			Int("attempt", attempt+1).
			Msg("Page fetch failed")

		if attempt < f.scraper.RetryAttempts {
			select {
			case <-time.After(f.scraper.RetryDelay):
			case <-ctx.Done():
				return nil, models.NewError(models.ErrKindCancelled, url, page, ctx.Err())
			}
		}
	}

	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, page int) (result *interfaces.PageResult, err error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	leased, err := f.pool.Lease(ctx)
	if err != nil {
		if models.KindOf(err) == models.ErrKindCancelled {
			return nil, err
		}
		return nil, models.NewError(models.ErrKindNetworkTransient, url, page, err)
	}

	outcome := browser.OutcomeOK
	defer func() {
		if r := recover(); r != nil {
			f.pool.Return(leased, browser.OutcomePoisoned)
			panic(r)
		}
		f.pool.Return(leased, outcome)
	}()

	pagedURL := common.PagedURL(url, page)
	start := time.Now()

	snapshot, err := f.navigate(ctx, leased, pagedURL)
	if err != nil {
		outcome = browser.OutcomePoisoned
		if ctx.Err() != nil {
			return nil, models.NewError(models.ErrKindCancelled, url, page, ctx.Err())
		}
		return nil, models.NewError(models.ErrKindNetworkTransient, url, page, err)
	}

	if isNotFoundPage(snapshot.title) {
		f.logger.Debug().Str("url", pagedURL).Msg("Not-found page, end of pagination")
		return &interfaces.PageResult{End: true}, nil
	}
	if isAntiBotPage(snapshot.title, snapshot.html) {
		outcome = browser.OutcomePoisoned
		return nil, models.NewError(models.ErrKindAntiBot, url, page, nil)
	}

	records, err := f.extractor.Extract(snapshot.html, url, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("url", pagedURL).
		Int("records", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("Page fetched")

	// An empty page past the first one means pagination ran out; an
	// empty first page is just a fruitless query.
	if len(records) == 0 && page > 1 {
		return &interfaces.PageResult{End: true}, nil
	}
	return &interfaces.PageResult{Records: records}, nil
}

// chromedpNavigate loads a page with the compound wait strategy: wait
// for the network to go idle within the page-load timeout, and when it
// will not settle, fall back to waiting for the DOM body within the
// element timeout. The rendered document is returned either way.
func (f *Fetcher) chromedpNavigate(ctx context.Context, page *browser.Page, url string) (*pageSnapshot, error) {
	navCtx, cancel := context.WithTimeout(page.Ctx, f.browser.PageLoadTimeout+f.browser.ElementWaitTimeout)
	defer cancel()

	// The session context must be able to abort a navigation on a page
	// whose own context outlives it.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	idle := watchNetworkIdle(navCtx)

	if err := chromedp.Run(navCtx, network.Enable(), chromedp.Navigate(url)); err != nil {
		return nil, err
	}

	select {
	case <-idle:
	case <-time.After(f.browser.PageLoadTimeout):
		// Trackers can hold the wire open forever; a ready DOM is good
		// enough to extract from.
		domCtx, domCancel := context.WithTimeout(navCtx, f.browser.ElementWaitTimeout)
		err := chromedp.Run(domCtx, chromedp.WaitReady("body", chromedp.ByQuery))
		domCancel()
		if err != nil {
			return nil, err
		}
	case <-navCtx.Done():
		return nil, navCtx.Err()
	}

	var snapshot pageSnapshot
	if err := chromedp.Run(navCtx,
		chromedp.Title(&snapshot.title),
		chromedp.OuterHTML("html", &snapshot.html),
	); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// watchNetworkIdle signals once no request has been in flight for
// networkIdleWindow. The returned channel closes at most once.
func watchNetworkIdle(ctx context.Context) <-chan struct{} {
	idle := make(chan struct{})

	var mu sync.Mutex
	inflight := 0
	var timer *time.Timer
	done := false

	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(networkIdleWindow, func() {
			mu.Lock()
			defer mu.Unlock()
			if !done && inflight == 0 {
				done = true
				close(idle)
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			inflight++
			if timer != nil {
				timer.Stop()
			}
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if inflight > 0 {
				inflight--
			}
			if inflight == 0 {
				arm()
			}
		}
	})

	// A page with zero requests would otherwise never arm the timer.
	mu.Lock()
	arm()
	mu.Unlock()

	return idle
}

var notFoundMarkers = []string{
	"404",
	"not found",
	"não encontrada",
	"nao encontrada",
	"página não existe",
}

func isNotFoundPage(title string) bool {
	t := strings.ToLower(title)
	for _, marker := range notFoundMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

var antiBotMarkers = []string{
	"captcha",
	"cloudflare",
	"access denied",
	"verify you are human",
	"are you a robot",
	"attention required",
}

func isAntiBotPage(title, html string) bool {
	t := strings.ToLower(title)
	for _, marker := range antiBotMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	// Challenge pages often keep a bland title and put the wall in the
	// body; only look at a bounded prefix to keep this cheap.
	probe := strings.ToLower(html)
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	for _, marker := range antiBotMarkers {
		if strings.Contains(probe, marker) {
			return true
		}
	}
	return false
}
