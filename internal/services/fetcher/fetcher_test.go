package fetcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/browser"
	"github.com/ternarybob/harvester/internal/services/extractor"
	"github.com/ternarybob/harvester/internal/services/limiter"
)

// fakePool hands out bare pages and counts lease/return pairs.
type fakePool struct {
	leases   int
	returns  int
	poisoned int
}

func (p *fakePool) Lease(ctx context.Context) (*browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.ErrKindCancelled, "", 0, err)
	}
	p.leases++
	return &browser.Page{Ctx: context.Background()}, nil
}

func (p *fakePool) Return(_ *browser.Page, outcome browser.Outcome) {
	p.returns++
	if outcome == browser.OutcomePoisoned {
		p.poisoned++
	}
}

const listingHTML = `<html><body>
<article><h2><a href="/vagas/dev-go-1">Dev Go</a></h2></article>
<article><h2><a href="/vagas/dev-java-2">Dev Java</a></h2></article>
</body></html>`

const queryURL = "https://www.catho.com.br/vagas/home-office/"

func newTestFetcher(pool PagePool) *Fetcher {
	scraper := common.ScraperConfig{RetryAttempts: 2, RetryDelay: time.Millisecond}
	browserCfg := common.BrowserConfig{
		PageLoadTimeout:    time.Second,
		ElementWaitTimeout: time.Second,
	}
	lim := limiter.New(1000, 1000, arbor.NewLogger())
	return New(lim, pool, extractor.New(arbor.NewLogger()), scraper, browserCfg, arbor.NewLogger())
}

func TestFetchPage_Success(t *testing.T) {
	pool := &fakePool{}
	f := newTestFetcher(pool)
	f.navigate = func(context.Context, *browser.Page, string) (*pageSnapshot, error) {
		return &pageSnapshot{title: "Vagas", html: listingHTML}, nil
	}

	result, err := f.FetchPage(context.Background(), queryURL, 1)
	require.NoError(t, err)
	assert.False(t, result.End)
	require.Len(t, result.Records, 2)
	assert.Equal(t, models.ModalityRemote, result.Records[0].Modality)

	assert.Equal(t, pool.leases, pool.returns)
	assert.Zero(t, pool.poisoned)
}

func TestFetchPage_PagedURLPassedToNavigation(t *testing.T) {
	pool := &fakePool{}
	f := newTestFetcher(pool)

	var seen []string
	f.navigate = func(_ context.Context, _ *browser.Page, url string) (*pageSnapshot, error) {
		seen = append(seen, url)
		return &pageSnapshot{title: "Vagas", html: listingHTML}, nil
	}

	_, err := f.FetchPage(context.Background(), queryURL, 1)
	require.NoError(t, err)
	_, err = f.FetchPage(context.Background(), queryURL, 3)
	require.NoError(t, err)

	assert.Equal(t, []string{queryURL, queryURL + "?page=3"}, seen)
}

func TestFetchPage_RetriesTransientThenSucceeds(t *testing.T) {
	pool := &fakePool{}
	f := newTestFetcher(pool)

	calls := 0
	f.navigate = func(context.Context, *browser.Page, string) (*pageSnapshot, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("net::ERR_CONNECTION_RESET")
		}
		return &pageSnapshot{title: "Vagas", html: listingHTML}, nil
	}

	result, err := f.FetchPage(context.Background(), queryURL, 1)
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
	assert.Equal(t, 2, calls)

	// The failed attempt poisoned its page; every lease was returned.
	assert.Equal(t, pool.leases, pool.returns)
	assert.Equal(t, 1, pool.poisoned)
}

func TestFetchPage_RetriesExhausted(t *testing.T) {
	pool := &fakePool{}
	f := newTestFetcher(pool)

	calls := 0
	f.navigate = func(context.Context, *browser.Page, string) (*pageSnapshot, error) {
		calls++
		return nil, errors.New("navigation timeout")
	}

	_, err := f.FetchPage(context.Background(), queryURL, 2)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrKindNetworkTransient))
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Equal(t, pool.leases, pool.returns)
}

func TestFetchPage_AntiBotIsTerminal(t *testing.T) {
	pool := &fakePool{}
	f := newTestFetcher(pool)

	calls := 0
	f.navigate = func(context.Context, *browser.Page, string) (*pageSnapshot, error) {
		calls++
		return &pageSnapshot{title: "Attention Required! | Cloudflare", html: "<html></html>"}, nil
	}

	_, err := f.FetchPage(context.Background(), queryURL, 1)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrKindAntiBot))
	assert.Equal(t, 1, calls, "anti-bot walls are never retried")
	assert.Equal(t, 1, pool.poisoned)
}

func TestFetchPage_NotFoundEndsPagination(t *testing.T) {
	pool := &fakePool{}
	f := newTestFetcher(pool)
	f.navigate = func(context.Context, *browser.Page, string) (*pageSnapshot, error) {
		return &pageSnapshot{title: "Página não encontrada", html: "<html></html>"}, nil
	}

	result, err := f.FetchPage(context.Background(), queryURL, 4)
	require.NoError(t, err)
	assert.True(t, result.End)
	assert.Empty(t, result.Records)
	assert.Zero(t, pool.poisoned)
}

func TestFetchPage_EmptyLaterPageIsSoftEnd(t *testing.T) {
	pool := &fakePool{}
	f := newTestFetcher(pool)
	empty := `<html><body><p>Nenhuma vaga.</p></body></html>`
	f.navigate = func(context.Context, *browser.Page, string) (*pageSnapshot, error) {
		return &pageSnapshot{title: "Vagas", html: empty}, nil
	}

	result, err := f.FetchPage(context.Background(), queryURL, 2)
	require.NoError(t, err)
	assert.True(t, result.End)

	// An empty first page is a fruitless query, not end-of-pagination.
	result, err = f.FetchPage(context.Background(), queryURL, 1)
	require.NoError(t, err)
	assert.False(t, result.End)
	assert.Empty(t, result.Records)
}

func TestFetchPage_CancelledPropagates(t *testing.T) {
	pool := &fakePool{}
	f := newTestFetcher(pool)
	f.navigate = func(context.Context, *browser.Page, string) (*pageSnapshot, error) {
		t.Fatal("navigation must not run after cancellation")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchPage(ctx, queryURL, 1)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrKindCancelled))
	assert.Zero(t, pool.leases)
}

func TestDetectionHelpers(t *testing.T) {
	assert.True(t, isNotFoundPage("404 - Not Found"))
	assert.True(t, isNotFoundPage("Página não encontrada | Catho"))
	assert.False(t, isNotFoundPage("Vagas de emprego"))

	assert.True(t, isAntiBotPage("Just a moment", "<html>please complete the captcha</html>"))
	assert.True(t, isAntiBotPage("Access Denied", "<html></html>"))
	assert.False(t, isAntiBotPage("Vagas de emprego", "<html><body>vagas</body></html>"))
}
