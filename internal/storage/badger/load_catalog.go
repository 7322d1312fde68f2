package badger

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
)

// catalogSeedFile is the YAML shape of the seeded query list.
type catalogSeedFile struct {
	URLs []catalogSeedEntry `yaml:"urls"`
}

type catalogSeedEntry struct {
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Enabled  *bool  `yaml:"enabled"`
}

// LoadCatalogFromFile merges the seed file into the stored catalog.
// Existing entries keep their accumulated performance history; only new
// URLs are inserted. A missing seed file is not an error.
func LoadCatalogFromFile(ctx context.Context, catalog interfaces.CatalogStorage, path string, logger arbor.ILogger) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug().Str("path", path).Msg("No catalog seed file found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog seed file %s: %w", path, err)
	}

	var seed catalogSeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse catalog seed file %s: %w", path, err)
	}

	loaded := 0
	for _, entry := range seed.URLs {
		canonical, err := common.CanonicalizeURL(entry.URL)
		if err != nil {
			logger.Warn().Err(err).Str("url", entry.URL).Msg("Skipping invalid catalog seed URL")
			continue
		}

		existing, err := catalog.GetURL(ctx, canonical)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		category := models.URLCategory(entry.Category)
		if category == "" {
			category = models.CategoryGeneral
		}

		url := &models.CatalogURL{
			URL:              canonical,
			Category:         category,
			Enabled:          enabled,
			PerformanceScore: 0.5, // neutral prior until the recorder has data
		}
		if err := catalog.SaveURL(ctx, url); err != nil {
			return err
		}
		loaded++
	}

	if loaded > 0 {
		logger.Info().Int("loaded", loaded).Str("path", path).Msg("Catalog seeded from file")
	}
	return nil
}
