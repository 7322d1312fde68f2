package dedup

import (
	"errors"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/cache"
)

// Store is the slice of the cache the deduplicator needs. The
// deduplicator is the only component that writes through it.
type Store interface {
	Get(fp models.Fingerprint) (*models.CacheEntry, error)
	Put(entry *models.CacheEntry) error
}

// Result partitions one batch. The three slices are disjoint and, after
// same-batch collapse, their union is the batch. Records keep their
// extraction order within each slice; Surfaced holds the new and updated
// records together in the collapsed batch's original order.
type Result struct {
	New       []models.JobRecord
	Updated   []models.JobRecord
	Duplicate []models.JobRecord
	Surfaced  []models.JobRecord
	Stats     models.DedupStats
}

// Deduplicator decides new-updated-duplicate against the cache and the
// current batch. Safe for concurrent use: the get-observe-put cycle per
// record is serialized so parallel workers cannot double-count a posting
// that appears under two catalog queries.
type Deduplicator struct {
	store           Store
	enabled         bool
	similarityMerge bool
	logger          arbor.ILogger

	mu sync.Mutex
}

// New creates a deduplicator. With enabled false every record is marked
// New; similarityMerge additionally collapses same-company near-equal
// titles within one batch.
func New(store Store, enabled, similarityMerge bool, logger arbor.ILogger) *Deduplicator {
	return &Deduplicator{
		store:           store,
		enabled:         enabled,
		similarityMerge: similarityMerge,
		logger:          logger,
	}
}

// Process partitions a batch and commits new and changed records to the
// store. Decisions are strictly sequential so "later wins" holds for
// same-batch fingerprint collisions.
func (d *Deduplicator) Process(batch []models.JobRecord) (*Result, error) {
	result := &Result{}
	result.Stats.Processed = len(batch)

	collapsed := d.collapseBatch(batch, &result.Stats)
	if d.similarityMerge {
		collapsed = d.mergeSimilar(collapsed, &result.Stats)
	}

	// One batch at a time through the store: the not-found check and the
	// commit must be atomic or two workers both mark the same posting New.
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, record := range collapsed {
		if !d.enabled {
			if err := d.commitNew(record); err != nil {
				return nil, err
			}
			result.New = append(result.New, record)
			result.Surfaced = append(result.Surfaced, record)
			result.Stats.New++
			continue
		}

		prev, err := d.store.Get(record.Fingerprint)
		switch {
		case errors.Is(err, cache.ErrNotFound):
			if err := d.commitNew(record); err != nil {
				return nil, err
			}
			result.New = append(result.New, record)
			result.Surfaced = append(result.Surfaced, record)
			result.Stats.New++

		case err != nil:
			return nil, err

		case prev.Record.MaterialEquals(&record):
			prev.Observe(record)
			if err := d.store.Put(prev); err != nil {
				return nil, err
			}
			result.Duplicate = append(result.Duplicate, record)
			result.Stats.Duplicate++

		default:
			prev.Observe(record)
			if err := d.store.Put(prev); err != nil {
				return nil, err
			}
			result.Updated = append(result.Updated, record)
			result.Surfaced = append(result.Surfaced, record)
			result.Stats.Updated++
		}
	}

	d.logger.Debug().
		Int("processed", result.Stats.Processed).
		Int("new", result.Stats.New).
		Int("updated", result.Stats.Updated).
		Int("duplicate", result.Stats.Duplicate).
		Msg("Batch deduplicated")
	return result, nil
}

// collapseBatch folds repeated fingerprints within one batch down to a
// single record. The later observation wins; the record keeps the slot
// of its first appearance so extraction order survives.
func (d *Deduplicator) collapseBatch(batch []models.JobRecord, stats *models.DedupStats) []models.JobRecord {
	position := make(map[models.Fingerprint]int, len(batch))
	out := make([]models.JobRecord, 0, len(batch))

	for _, record := range batch {
		if idx, seen := position[record.Fingerprint]; seen {
			out[idx] = record
			stats.BatchCollapsed++
			continue
		}
		position[record.Fingerprint] = len(out)
		out = append(out, record)
	}
	return out
}

// mergeSimilar drops same-company records whose titles are near-equal
// to an earlier record in the batch. The earlier record is master.
func (d *Deduplicator) mergeSimilar(batch []models.JobRecord, stats *models.DedupStats) []models.JobRecord {
	out := make([]models.JobRecord, 0, len(batch))

	for _, record := range batch {
		merged := false
		for _, kept := range out {
			if kept.Company == "" || kept.Company != record.Company {
				continue
			}
			if titlesSimilar(kept.Title, record.Title) {
				merged = true
				break
			}
		}
		if merged {
			stats.SimilarityMerged++
			continue
		}
		out = append(out, record)
	}
	return out
}

func (d *Deduplicator) commitNew(record models.JobRecord) error {
	return d.store.Put(&models.CacheEntry{
		Record:       record,
		FirstSeenAt:  record.CollectedAt,
		LastSeenAt:   record.CollectedAt,
		Observations: 1,
	})
}
