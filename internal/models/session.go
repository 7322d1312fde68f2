package models

import "time"

// URLMetrics summarizes one catalog URL's contribution to a session.
type URLMetrics struct {
	URL            string        `json:"url"`
	PagesProcessed int           `json:"pages_processed"`
	New            int           `json:"new"`
	Updated        int           `json:"updated"`
	Duplicate      int           `json:"duplicate"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"duration"`
	EndReason      string        `json:"end_reason,omitempty"`
}

// DedupStats aggregates deduplicator decisions across a session.
type DedupStats struct {
	Processed        int `json:"processed"`
	New              int `json:"new"`
	Updated          int `json:"updated"`
	Duplicate        int `json:"duplicate"`
	BatchCollapsed   int `json:"batch_collapsed"`
	SimilarityMerged int `json:"similarity_merged"`
}

// TuningRecommendation is the auto-tuner's read-only suggestion derived
// from catalog history. It is surfaced, never applied silently.
type TuningRecommendation struct {
	URLsPerSession int    `json:"urls_per_session"`
	Reason         string `json:"reason"`
}

// SessionResult is the bundle one orchestrated run produces. It is
// persisted separately from the cache so analytical consumers can replay
// a run without touching it.
type SessionResult struct {
	SessionID  string                `json:"session_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Seed       int64                 `json:"seed"`
	Policy     string                `json:"policy"`
	URLs       []string              `json:"urls"`
	Records    []JobRecord           `json:"records"`
	PerURL     []URLMetrics          `json:"per_url"`
	Dedup      DedupStats            `json:"dedup"`
	Errors     []*HarvestError       `json:"errors,omitempty"`
	Cancelled  bool                  `json:"cancelled,omitempty"`
	Tuning     *TuningRecommendation `json:"tuning,omitempty"`
}

// NewCount returns the number of records first seen this session.
func (s *SessionResult) NewCount() int { return s.Dedup.New }

// UpdatedCount returns the number of records whose material fields changed.
func (s *SessionResult) UpdatedCount() int { return s.Dedup.Updated }

// DuplicateCount returns the number of repeat observations.
func (s *SessionResult) DuplicateCount() int { return s.Dedup.Duplicate }
