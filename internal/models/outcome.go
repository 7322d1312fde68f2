package models

import "time"

// URLOutcome is one recorded observation of a catalog URL's productivity.
// The recorder appends these per session; the ml scheduler reads them
// back to rank URLs and gate the ml policy on sample count.
type URLOutcome struct {
	ID             string        `json:"id" badgerhold:"key"`
	URL            string        `json:"url" badgerhold:"index"`
	SessionID      string        `json:"session_id"`
	Timestamp      time.Time     `json:"timestamp"`
	NewJobs        int           `json:"new_jobs"`
	TotalJobs      int           `json:"total_jobs"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"duration"`
	PagesProcessed int           `json:"pages_processed"`
}
