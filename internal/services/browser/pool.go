package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

// Outcome tells the pool what happened to a leased page.
type Outcome int

const (
	// OutcomeOK returns a healthy page to the idle queue.
	OutcomeOK Outcome = iota
	// OutcomePoisoned recycles the page: navigation error, timeout, or
	// a detected anti-bot wall leaves browser state we cannot trust.
	OutcomePoisoned
)

// Page is one long-lived browser tab owned by the pool.
type Page struct {
	Ctx    context.Context
	cancel context.CancelFunc

	id        int
	failures  int // consecutive liveness failures
	idleSince time.Time
}

// ID returns the page's pool-assigned identity, for logging.
func (p *Page) ID() int { return p.id }

// Pool owns between min and max browser pages. It grows lazily up to
// max under lease pressure and shrinks back to min after idleTTL.
type Pool struct {
	config common.BrowserConfig
	logger arbor.ILogger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu      sync.Mutex
	idle    chan *Page
	total   int
	nextID  int
	started bool
	closed  bool

	leases  int64
	returns int64

	// overridable in tests so the pool logic can be exercised without a
	// Chrome binary
	newPage func() (*Page, error)
	probe   func(*Page) error

	stopJanitor chan struct{}
}

// NewPool creates an unstarted pool.
func NewPool(config common.BrowserConfig, logger arbor.ILogger) *Pool {
	p := &Pool{
		config:      config,
		logger:      logger,
		stopJanitor: make(chan struct{}),
	}
	p.newPage = p.createChromePage
	p.probe = func(page *Page) error { return page.Ctx.Err() }
	return p
}

// Start launches the allocator and pre-creates min pages. A failure to
// create even one page means the headless engine is unusable and is
// surfaced as BrowserUnavailable.
func (p *Pool) Start(size int) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("browser pool already started")
	}
	if size < p.config.PoolMin {
		size = p.config.PoolMin
	}
	if size > p.config.PoolMax {
		size = p.config.PoolMax
	}

	opts := p.buildAllocatorOptions()
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	p.idle = make(chan *Page, p.config.PoolMax)
	p.started = true
	p.mu.Unlock()

	p.logger.Info().
		Int("initial_size", size).
		Int("pool_max", p.config.PoolMax).
		Bool("headless", p.config.Headless).
		Msg("Starting browser pool")

	for i := 0; i < size; i++ {
		page, err := p.newPage()
		if err != nil {
			if i == 0 {
				p.teardown()
				return models.NewError(models.ErrKindBrowserUnavailable, "", 0, err)
			}
			p.logger.Warn().Err(err).Int("created", i).Msg("Created fewer browser pages than requested")
			break
		}
		p.mu.Lock()
		p.total++
		p.mu.Unlock()
		p.put(page)
	}

	go p.janitor()
	return nil
}

// Lease returns a healthy page, growing the pool lazily up to max. It
// fails with Exhausted when no page frees up within the lease deadline,
// and with Cancelled when the session context ends first.
func (p *Pool) Lease(ctx context.Context) (*Page, error) {
	deadline := time.NewTimer(p.config.LeaseDeadline)
	defer deadline.Stop()

	for {
		// Drain whatever is idle first; unhealthy pages are recycled on
		// the way through.
		select {
		case page := <-p.idle:
			if p.healthy(page) {
				p.recordLease()
				return page, nil
			}
			p.recycle(page)
			continue
		default:
		}

		if page, grew := p.tryGrow(); grew {
			if page == nil {
				// Growth failed; fall through to wait for a return.
				p.logger.Warn().Msg("Browser page creation failed, waiting for returns")
			} else {
				p.recordLease()
				return page, nil
			}
		}

		select {
		case page := <-p.idle:
			if p.healthy(page) {
				p.recordLease()
				return page, nil
			}
			p.recycle(page)
		case <-ctx.Done():
			return nil, models.NewError(models.ErrKindCancelled, "", 0, ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("browser pool exhausted: no page within %s", p.config.LeaseDeadline)
		}
	}
}

// Return places a page back in the pool, or recycles it when poisoned.
// Must be called exactly once per successful Lease, on every exit path.
func (p *Pool) Return(page *Page, outcome Outcome) {
	p.mu.Lock()
	p.returns++
	p.mu.Unlock()

	if outcome == OutcomePoisoned {
		p.logger.Debug().Int("page_id", page.id).Msg("Recycling poisoned page")
		p.recycle(page)
		return
	}
	p.put(page)
}

// Stats returns lease/return accounting for teardown verification.
func (p *Pool) Stats() (leases, returns int64, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leases, p.returns, p.total
}

// Shutdown tears the pool down. Call only after all workers drained.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopJanitor)

	for {
		select {
		case page := <-p.idle:
			page.cancel()
		default:
			p.teardown()
			p.logger.Info().Msg("Browser pool shut down")
			return
		}
	}
}

// healthy runs the cheap non-blocking liveness check. A page failing
// twice in a row is recycled before the third lease.
func (p *Pool) healthy(page *Page) bool {
	if err := p.probe(page); err != nil {
		page.failures++
		p.logger.Debug().
			Int("page_id", page.id).
			Int("failures", page.failures).
			Err(err).
			Msg("Page failed liveness check")
		return page.failures < 2
	}
	page.failures = 0
	return true
}

func (p *Pool) tryGrow() (*Page, bool) {
	p.mu.Lock()
	if p.closed || p.total >= p.config.PoolMax {
		p.mu.Unlock()
		return nil, false
	}
	p.total++
	p.mu.Unlock()

	page, err := p.newPage()
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, true
	}
	return page, true
}

func (p *Pool) put(page *Page) {
	page.idleSince = time.Now()
	select {
	case p.idle <- page:
	default:
		// Idle queue full; should not happen with cap == PoolMax.
		p.recycle(page)
	}
}

func (p *Pool) recycle(page *Page) {
	page.cancel()
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
}

func (p *Pool) recordLease() {
	p.mu.Lock()
	p.leases++
	p.mu.Unlock()
}

// janitor shrinks the pool back to min after idleTTL.
func (p *Pool) janitor() {
	interval := p.config.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopJanitor:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	for {
		p.mu.Lock()
		if p.total <= p.config.PoolMin {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		select {
		case page := <-p.idle:
			if time.Since(page.idleSince) >= p.config.IdleTTL {
				p.logger.Debug().Int("page_id", page.id).Msg("Reaping idle page")
				p.recycle(page)
				continue
			}
			p.put(page)
			return
		default:
			return
		}
	}
}

func (p *Pool) createChromePage() (*Page, error) {
	start := time.Now()

	pageCtx, cancel := chromedp.NewContext(p.allocCtx)

	testCtx, testCancel := context.WithTimeout(pageCtx, p.config.PageLoadTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("browser page failed startup test: %w", err)
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	p.logger.Debug().
		Int("page_id", id).
		Dur("startup_time", time.Since(start)).
		Msg("Browser page created")

	return &Page{Ctx: pageCtx, cancel: cancel, id: id}, nil
}

func (p *Pool) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(p.config.UserAgent),
		chromedp.WindowSize(p.config.ViewportWidth, p.config.ViewportHeight),
	)
	for _, arg := range p.config.CustomArgs {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

func (p *Pool) teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.started = false
	p.total = 0
}
