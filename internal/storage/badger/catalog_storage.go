package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// CatalogStorage persists catalog URLs in Badger
type CatalogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCatalogStorage creates a new catalog storage
func NewCatalogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CatalogStorage {
	return &CatalogStorage{db: db, logger: logger}
}

// SaveURL inserts or updates a catalog URL
func (s *CatalogStorage) SaveURL(ctx context.Context, url *models.CatalogURL) error {
	if url.URL == "" {
		return fmt.Errorf("catalog url key is empty")
	}
	if err := s.db.Store().Upsert(url.URL, url); err != nil {
		return fmt.Errorf("failed to save catalog url %s: %w", url.URL, err)
	}
	return nil
}

// GetURL returns one catalog URL or nil when unknown
func (s *CatalogStorage) GetURL(ctx context.Context, url string) (*models.CatalogURL, error) {
	var entry models.CatalogURL
	err := s.db.Store().Get(url, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog url %s: %w", url, err)
	}
	return &entry, nil
}

// ListURLs returns the whole catalog
func (s *CatalogStorage) ListURLs(ctx context.Context) ([]*models.CatalogURL, error) {
	var entries []models.CatalogURL
	if err := s.db.Store().Find(&entries, nil); err != nil {
		return nil, fmt.Errorf("failed to list catalog urls: %w", err)
	}
	result := make([]*models.CatalogURL, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

// ListEnabled returns catalog URLs eligible for scheduling
func (s *CatalogStorage) ListEnabled(ctx context.Context) ([]*models.CatalogURL, error) {
	var entries []models.CatalogURL
	if err := s.db.Store().Find(&entries, badgerhold.Where("Enabled").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list enabled catalog urls: %w", err)
	}
	result := make([]*models.CatalogURL, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

// DeleteURL removes a catalog URL
func (s *CatalogStorage) DeleteURL(ctx context.Context, url string) error {
	err := s.db.Store().Delete(url, &models.CatalogURL{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete catalog url %s: %w", url, err)
	}
	return nil
}

// CountURLs returns the catalog size
func (s *CatalogStorage) CountURLs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.CatalogURL{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count catalog urls: %w", err)
	}
	return int(count), nil
}
