package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	catalog interfaces.CatalogStorage
	history interfaces.HistoryStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		catalog: NewCatalogStorage(db, logger),
		history: NewHistoryStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// CatalogStorage returns the Catalog storage interface
func (m *Manager) CatalogStorage() interfaces.CatalogStorage {
	return m.catalog
}

// HistoryStorage returns the History storage interface
func (m *Manager) HistoryStorage() interfaces.HistoryStorage {
	return m.history
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
