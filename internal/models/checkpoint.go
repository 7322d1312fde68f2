package models

import "time"

// CheckpointStats is the outcome of the last committed run for a URL.
type CheckpointStats struct {
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Duplicate int `json:"duplicate"`
}

// Checkpoint is the per-URL incremental state. FingerprintsSeen is
// append-only within a run; a commit replaces the whole file atomically
// so readers never observe a partial advancement.
type Checkpoint struct {
	URL              string          `json:"url"`
	FingerprintsSeen []Fingerprint   `json:"fingerprintsSeen"`
	LastRunAt        time.Time       `json:"lastRunAt"`
	Stats            CheckpointStats `json:"stats"`
	PerformanceScore float64         `json:"performance_score"`

	seen map[Fingerprint]struct{}
}

// NewCheckpoint returns an empty checkpoint for a URL.
func NewCheckpoint(url string) *Checkpoint {
	return &Checkpoint{URL: url, seen: make(map[Fingerprint]struct{})}
}

// Reindex rebuilds the lookup set from the serialized slice. Call after
// unmarshalling.
func (c *Checkpoint) Reindex() {
	c.seen = make(map[Fingerprint]struct{}, len(c.FingerprintsSeen))
	for _, fp := range c.FingerprintsSeen {
		c.seen[fp] = struct{}{}
	}
}

// Seen reports whether a fingerprint was observed in a prior run.
func (c *Checkpoint) Seen(fp Fingerprint) bool {
	_, ok := c.seen[fp]
	return ok
}

// Add records a fingerprint. Duplicate adds are no-ops.
func (c *Checkpoint) Add(fp Fingerprint) {
	if c.seen == nil {
		c.seen = make(map[Fingerprint]struct{})
	}
	if _, ok := c.seen[fp]; ok {
		return
	}
	c.seen[fp] = struct{}{}
	c.FingerprintsSeen = append(c.FingerprintsSeen, fp)
}

// Size returns the number of tracked fingerprints.
func (c *Checkpoint) Size() int {
	return len(c.FingerprintsSeen)
}
