package interfaces

import (
	"context"

	"github.com/ternarybob/harvester/internal/models"
)

// CatalogStorage persists the query catalog and the performance fields
// the recorder maintains on it.
type CatalogStorage interface {
	SaveURL(ctx context.Context, url *models.CatalogURL) error
	GetURL(ctx context.Context, url string) (*models.CatalogURL, error)
	ListURLs(ctx context.Context) ([]*models.CatalogURL, error)
	ListEnabled(ctx context.Context) ([]*models.CatalogURL, error)
	DeleteURL(ctx context.Context, url string) error
	CountURLs(ctx context.Context) (int, error)
}

// HistoryStorage persists per-URL session outcomes. The recorder is the
// only writer; the ml scheduler ranks on the catalog's accumulated
// totals, not on raw history.
type HistoryStorage interface {
	AppendOutcome(ctx context.Context, outcome *models.URLOutcome) error
}

// StorageManager bundles the storage interfaces behind one lifecycle.
type StorageManager interface {
	CatalogStorage() CatalogStorage
	HistoryStorage() HistoryStorage
	Close() error
}
