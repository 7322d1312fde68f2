package models

import "time"

// CacheEntry is what the compressed cache stores per fingerprint: the
// latest record plus observation metadata maintained across runs.
type CacheEntry struct {
	Record       JobRecord `json:"record"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	Observations int       `json:"observations"`
}

// Fingerprint returns the entry's key.
func (e *CacheEntry) Fingerprint() Fingerprint {
	return e.Record.Fingerprint
}

// Observe merges a repeat observation into the entry. CollectedAt is
// monotonically non-decreasing for repeat observations of the same
// fingerprint.
func (e *CacheEntry) Observe(r JobRecord) {
	if r.CollectedAt.Before(e.Record.CollectedAt) {
		r.CollectedAt = e.Record.CollectedAt
	}
	e.Record = r
	e.LastSeenAt = r.CollectedAt
	e.Observations++
}
