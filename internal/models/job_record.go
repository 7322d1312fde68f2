package models

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// Modality classifies where a posting expects work to happen.
type Modality string

const (
	ModalityRemote  Modality = "remote"
	ModalityOnSite  Modality = "onsite"
	ModalityHybrid  Modality = "hybrid"
	ModalityUnknown Modality = "unknown"
)

// Seniority classifies the experience level a posting asks for.
type Seniority string

const (
	SeniorityIntern     Seniority = "intern"
	SeniorityJunior     Seniority = "junior"
	SeniorityMid        Seniority = "mid"
	SenioritySenior     Seniority = "senior"
	SenioritySpecialist Seniority = "specialist"
	SeniorityUnknown    Seniority = "unknown"
)

// AreaUnknown is the sentinel category for postings whose professional
// area could not be inferred.
const AreaUnknown = "unknown"

// Fingerprint is the stable identifier of a logical posting. Two records
// with the same fingerprint refer to the same posting regardless of when
// or through which catalog query they were observed.
type Fingerprint string

// JobRecord is the atomic unit produced by the extractor and stored in
// the cache. Free-text fields are trimmed; empty means empty, never a
// placeholder string.
type JobRecord struct {
	Fingerprint  Fingerprint `json:"fingerprint"`
	URL          string      `json:"url"`
	Title        string      `json:"title"`
	Company      string      `json:"company"`
	Location     string      `json:"location"`
	Modality     Modality    `json:"modality"`
	Seniority    Seniority   `json:"seniority"`
	Area         string      `json:"area"`
	Technologies []string    `json:"technologies,omitempty"`
	SalaryText   string      `json:"salary_text,omitempty"`
	SalaryMin    *float64    `json:"salary_min,omitempty"`
	SalaryMax    *float64    `json:"salary_max,omitempty"`
	CollectedAt  time.Time   `json:"collected_at"`
	SourceQuery  string      `json:"source_query"`
}

// ComputeFingerprint derives the record's fingerprint from the
// canonicalized title, company and URL path. Salary, location and
// modality deliberately do not participate: a posting that changes those
// fields is the same posting, updated.
func ComputeFingerprint(title, company, rawURL string) Fingerprint {
	path := ""
	if u, err := url.Parse(rawURL); err == nil {
		path = strings.TrimSuffix(strings.ToLower(u.Path), "/")
	}

	h := sha256.New()
	h.Write([]byte(canonicalText(title)))
	h.Write([]byte{'|'})
	h.Write([]byte(canonicalText(company)))
	h.Write([]byte{'|'})
	h.Write([]byte(path))

	// 16 bytes keeps the hex form short enough for filenames and index
	// keys while staying collision-safe at harvester scale.
	return Fingerprint(hex.EncodeToString(h.Sum(nil)[:16]))
}

// SetFingerprint computes and stores the record's own fingerprint.
func (r *JobRecord) SetFingerprint() {
	r.Fingerprint = ComputeFingerprint(r.Title, r.Company, r.URL)
}

// MaterialEquals reports whether two records agree on the fields that
// make a repeat observation a duplicate rather than an update.
func (r *JobRecord) MaterialEquals(other *JobRecord) bool {
	return r.Title == other.Title &&
		r.Company == other.Company &&
		r.SalaryText == other.SalaryText &&
		r.Location == other.Location &&
		r.Modality == other.Modality
}

func canonicalText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
