package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

// Store persists one checkpoint file per catalog URL, named by the
// URL's hash so filesystem-hostile characters never reach the path.
type Store struct {
	dir    string
	logger arbor.ILogger
}

// NewStore creates the checkpoint directory if needed.
func NewStore(dir string, logger arbor.ILogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Load returns the checkpoint for a URL. A missing file yields an empty
// checkpoint. A corrupt file is treated the same way so one bad write
// can never wedge a URL permanently; the full-harvest fallback re-seeds
// the state on the next commit.
func (s *Store) Load(url string) *models.Checkpoint {
	path := s.pathFor(url)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.NewCheckpoint(url)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("url", url).Msg("Checkpoint unreadable, falling back to full harvest")
		return models.NewCheckpoint(url)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		corrupt := models.NewError(models.ErrKindCheckpointCorruption, url, 0, err)
		s.logger.Warn().Err(corrupt).Str("path", path).Msg("Checkpoint corrupt, falling back to full harvest")
		return models.NewCheckpoint(url)
	}
	cp.URL = url
	cp.Reindex()
	return &cp
}

// Commit atomically replaces the checkpoint file. The temp file is
// written and fsynced in the same directory, then renamed over the
// target, so a crash mid-write leaves the previous checkpoint intact.
func (s *Store) Commit(cp *models.Checkpoint) error {
	cp.LastRunAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint for %s: %w", cp.URL, err)
	}

	path := s.pathFor(cp.URL)
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint for %s: %w", cp.URL, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync checkpoint for %s: %w", cp.URL, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit checkpoint for %s: %w", cp.URL, err)
	}

	s.logger.Debug().
		Str("url", cp.URL).
		Int("fingerprints", cp.Size()).
		Msg("Checkpoint committed")
	return nil
}

// Reset removes the checkpoint for one URL. Missing files are fine.
func (s *Store) Reset(url string) error {
	err := os.Remove(s.pathFor(url))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset checkpoint for %s: %w", url, err)
	}
	return nil
}

// ResetAll removes every checkpoint file in the store.
func (s *Store) ResetAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list checkpoint directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove checkpoint %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Count returns how many checkpoint files exist.
func (s *Store) Count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoint directory: %w", err)
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

func (s *Store) pathFor(url string) string {
	return filepath.Join(s.dir, common.URLHash(url)+".json")
}
