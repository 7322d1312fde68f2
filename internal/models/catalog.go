package models

import "time"

// URLCategory groups catalog queries by the dimension they slice the
// portal on. The scheduler's diversity policies select across these.
type URLCategory string

const (
	CategoryRemote       URLCategory = "remote"
	CategoryOnSite       URLCategory = "onsite"
	CategoryHybrid       URLCategory = "hybrid"
	CategoryGeographic   URLCategory = "geographic"
	CategoryProfessional URLCategory = "professional"
	CategorySeniority    URLCategory = "seniority"
	CategoryGeneral      URLCategory = "general"
)

// BucketStats is one hour-of-day or weekday bucket of catalog history.
type BucketStats struct {
	Runs    int `json:"runs"`
	NewJobs int `json:"new_jobs"`
}

// CatalogURL is one query endpoint the harvester knows how to hit. The
// recorder maintains the performance fields; the scheduler reads them.
type CatalogURL struct {
	URL              string                       `json:"url" badgerhold:"key"`
	Category         URLCategory                  `json:"category" badgerhold:"index"`
	Enabled          bool                         `json:"enabled"`
	PerformanceScore float64                      `json:"performance_score"`
	LastRunAt        time.Time                    `json:"last_run_at"`
	TotalRuns        int                          `json:"total_runs"`
	TotalNewJobs     int                          `json:"total_new_jobs"`
	TotalJobsSeen    int                          `json:"total_jobs_seen"`
	TotalErrors      int                          `json:"total_errors"`
	TotalDuration    time.Duration                `json:"total_duration"`
	HourlyStats      map[int]BucketStats          `json:"hourly_stats,omitempty"`
	DailyStats       map[time.Weekday]BucketStats `json:"daily_stats,omitempty"`
}

// AvgNewJobs returns the mean count of new postings per run.
func (c *CatalogURL) AvgNewJobs() float64 {
	if c.TotalRuns == 0 {
		return 0
	}
	return float64(c.TotalNewJobs) / float64(c.TotalRuns)
}

// UniquenessRatio returns the fraction of observed postings that were new.
func (c *CatalogURL) UniquenessRatio() float64 {
	if c.TotalJobsSeen == 0 {
		return 0
	}
	return float64(c.TotalNewJobs) / float64(c.TotalJobsSeen)
}

// ErrorRate returns errors per run.
func (c *CatalogURL) ErrorRate() float64 {
	if c.TotalRuns == 0 {
		return 0
	}
	return float64(c.TotalErrors) / float64(c.TotalRuns)
}

// AvgDuration returns the mean processing time per run.
func (c *CatalogURL) AvgDuration() time.Duration {
	if c.TotalRuns == 0 {
		return 0
	}
	return c.TotalDuration / time.Duration(c.TotalRuns)
}
