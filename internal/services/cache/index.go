package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ternarybob/harvester/internal/models"
)

// invertedIndex maps company/technology/location tokens to the
// fingerprints whose entries carry them. It lives in memory and is
// mutated only under the cache's write lock.
type invertedIndex struct {
	companies    map[string]map[models.Fingerprint]struct{}
	technologies map[string]map[models.Fingerprint]struct{}
	locations    map[string]map[models.Fingerprint]struct{}
}

// indexFile is the on-disk shape of index.bin. The checksum covers the
// primary blob so a mismatch forces a rebuild from the primary.
type indexFile struct {
	Checksum     string                          `json:"checksum"`
	Companies    map[string][]models.Fingerprint `json:"companies"`
	Technologies map[string][]models.Fingerprint `json:"technologies"`
	Locations    map[string][]models.Fingerprint `json:"locations"`
}

func newInvertedIndex() *invertedIndex {
	return &invertedIndex{
		companies:    make(map[string]map[models.Fingerprint]struct{}),
		technologies: make(map[string]map[models.Fingerprint]struct{}),
		locations:    make(map[string]map[models.Fingerprint]struct{}),
	}
}

func (ix *invertedIndex) add(e *models.CacheEntry) {
	fp := e.Fingerprint()
	if token := indexToken(e.Record.Company); token != "" {
		addPosting(ix.companies, token, fp)
	}
	for _, tech := range e.Record.Technologies {
		if token := indexToken(tech); token != "" {
			addPosting(ix.technologies, token, fp)
		}
	}
	if token := indexToken(e.Record.Location); token != "" {
		addPosting(ix.locations, token, fp)
	}
}

func (ix *invertedIndex) remove(e *models.CacheEntry) {
	fp := e.Fingerprint()
	removePosting(ix.companies, indexToken(e.Record.Company), fp)
	for _, tech := range e.Record.Technologies {
		removePosting(ix.technologies, indexToken(tech), fp)
	}
	removePosting(ix.locations, indexToken(e.Record.Location), fp)
}

// postings returns the fingerprint set for one token, nil when absent.
func (ix *invertedIndex) postings(kind map[string]map[models.Fingerprint]struct{}, token string) map[models.Fingerprint]struct{} {
	return kind[indexToken(token)]
}

// topTokens returns the n tokens with the largest posting sets.
func topTokens(kind map[string]map[models.Fingerprint]struct{}, n int) []TokenCount {
	counts := make([]TokenCount, 0, len(kind))
	for token, fps := range kind {
		counts = append(counts, TokenCount{Token: token, Count: len(fps)})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Token < counts[j].Token
	})
	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

func (ix *invertedIndex) save(path, checksum string) error {
	out := indexFile{
		Checksum:     checksum,
		Companies:    flattenPostings(ix.companies),
		Technologies: flattenPostings(ix.technologies),
		Locations:    flattenPostings(ix.locations),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to serialize cache index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit cache index: %w", err)
	}
	return nil
}

// loadIndexFile reads index.bin. The caller decides what to do with a
// checksum mismatch.
func loadIndexFile(path string) (*indexFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse cache index: %w", err)
	}
	return &f, nil
}

func (f *indexFile) inflate() *invertedIndex {
	ix := newInvertedIndex()
	ix.companies = expandPostings(f.Companies)
	ix.technologies = expandPostings(f.Technologies)
	ix.locations = expandPostings(f.Locations)
	return ix
}

func addPosting(kind map[string]map[models.Fingerprint]struct{}, token string, fp models.Fingerprint) {
	set, ok := kind[token]
	if !ok {
		set = make(map[models.Fingerprint]struct{})
		kind[token] = set
	}
	set[fp] = struct{}{}
}

func removePosting(kind map[string]map[models.Fingerprint]struct{}, token string, fp models.Fingerprint) {
	if token == "" {
		return
	}
	set, ok := kind[token]
	if !ok {
		return
	}
	delete(set, fp)
	if len(set) == 0 {
		delete(kind, token)
	}
}

func flattenPostings(kind map[string]map[models.Fingerprint]struct{}) map[string][]models.Fingerprint {
	out := make(map[string][]models.Fingerprint, len(kind))
	for token, set := range kind {
		fps := make([]models.Fingerprint, 0, len(set))
		for fp := range set {
			fps = append(fps, fp)
		}
		sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })
		out[token] = fps
	}
	return out
}

func expandPostings(flat map[string][]models.Fingerprint) map[string]map[models.Fingerprint]struct{} {
	out := make(map[string]map[models.Fingerprint]struct{}, len(flat))
	for token, fps := range flat {
		set := make(map[models.Fingerprint]struct{}, len(fps))
		for _, fp := range fps {
			set[fp] = struct{}{}
		}
		out[token] = set
	}
	return out
}

func indexToken(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
