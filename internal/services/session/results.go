package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/models"
)

// resultTimeFormat names result files so lexical order is time order.
const resultTimeFormat = "2006-01-02-150405"

// ResultWriter persists one SessionResult per run and rotates old
// files. Results live outside the cache so analytical consumers can
// replay a run without touching it.
type ResultWriter struct {
	dir      string
	maxFiles int
	logger   arbor.ILogger
}

func NewResultWriter(dir string, maxFiles int, logger arbor.ILogger) (*ResultWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory %s: %w", dir, err)
	}
	return &ResultWriter{dir: dir, maxFiles: maxFiles, logger: logger}, nil
}

// Write persists the result and prunes beyond the retention count.
func (w *ResultWriter) Write(result *models.SessionResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session result: %w", err)
	}

	name := result.StartedAt.Format(resultTimeFormat) + ".json"
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session result %s: %w", path, err)
	}

	w.logger.Debug().Str("path", path).Int("records", len(result.Records)).Msg("Session result written")
	return w.rotate()
}

// Latest loads the most recent persisted result, or nil when none exist.
func (w *ResultWriter) Latest() (*models.SessionResult, error) {
	names, err := w.resultFiles()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(w.dir, names[len(names)-1]))
	if err != nil {
		return nil, fmt.Errorf("failed to read session result: %w", err)
	}
	var result models.SessionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse session result: %w", err)
	}
	return &result, nil
}

func (w *ResultWriter) rotate() error {
	names, err := w.resultFiles()
	if err != nil {
		return err
	}
	excess := len(names) - w.maxFiles
	for i := 0; i < excess; i++ {
		if err := os.Remove(filepath.Join(w.dir, names[i])); err != nil {
			return fmt.Errorf("failed to rotate session result %s: %w", names[i], err)
		}
	}
	return nil
}

// resultFiles lists result files sorted oldest first.
func (w *ResultWriter) resultFiles() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list results directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
