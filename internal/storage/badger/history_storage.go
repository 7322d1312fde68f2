package badger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// HistoryStorage persists per-URL session outcomes in Badger
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a new history storage
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HistoryStorage {
	return &HistoryStorage{db: db, logger: logger}
}

// AppendOutcome stores one recorded outcome
func (s *HistoryStorage) AppendOutcome(ctx context.Context, outcome *models.URLOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	if err := s.db.Store().Insert(outcome.ID, outcome); err != nil {
		return fmt.Errorf("failed to append outcome for %s: %w", outcome.URL, err)
	}
	return nil
}

