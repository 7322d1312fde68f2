package interfaces

import (
	"context"

	"github.com/ternarybob/harvester/internal/models"
)

// EventSink receives the orchestrator's typed event stream. The core
// never writes to the terminal; UI collaborators implement this.
type EventSink interface {
	Publish(event models.Event)
}

// PageResult is one fetched listing page.
type PageResult struct {
	Records []models.JobRecord
	// End signals end-of-pagination: an explicit not-found page, or an
	// empty successful page past page 1.
	End bool
}

// Fetcher retrieves one page of a catalog query. Implemented by the
// chromedp-backed fetcher; faked in orchestrator tests.
type Fetcher interface {
	FetchPage(ctx context.Context, url string, page int) (*PageResult, error)
}
