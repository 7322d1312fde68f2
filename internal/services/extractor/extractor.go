package extractor

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/models"
)

// minListingMatches guards against a selector latching onto navigation
// links: a cascade entry only wins when it yields at least this many
// elements.
const minListingMatches = 2

// maxFieldLength bounds free-text fields read off the page.
const maxFieldLength = 200

// listingSelectors is the cascade tried in order against a results page.
// Site-specific class names drift, so the later entries match on class
// substrings rather than exact names.
var listingSelectors = []string{
	`h2 a[href*="/vagas/"]`,
	`article a[href*="/vagas/"]`,
	`[class*="job"] a[href*="/vagas/"]`,
	`[class*="title"] a[href*="vagas"]`,
}

var companySelectors = []string{
	`[class*="company"]`,
	`[class*="empresa"]`,
}

var locationSelectors = []string{
	`[class*="location"]`,
	`[class*="local"]`,
	`[class*="cidade"]`,
}

var salarySelectors = []string{
	`[class*="salario"]`,
	`[class*="salary"]`,
	`[class*="remuneracao"]`,
}

// Extractor turns a rendered listing page into job records. It is pure:
// the same document and source URL always yield the same records, and
// nothing outside the returned slice is mutated.
type Extractor struct {
	logger arbor.ILogger
}

func New(logger arbor.ILogger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract parses the rendered HTML of one listing page. The sourceURL
// is the catalog query the page was fetched for; modality, seniority
// and area inherit from its path when the posting itself is silent.
// A page where no cascade selector wins yields an empty slice, not an
// error.
func (e *Extractor) Extract(html, sourceURL string, collectedAt time.Time) ([]models.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewError(models.ErrKindParse, sourceURL, 0, err)
	}

	selection := e.selectListings(doc)
	if selection == nil {
		e.logger.Debug().Str("url", sourceURL).Msg("No listing selector matched")
		return nil, nil
	}

	origin := common.URLOrigin(sourceURL)
	hint := classifyURL(sourceURL)

	var records []models.JobRecord
	seen := make(map[string]struct{})

	selection.Each(func(_ int, anchor *goquery.Selection) {
		href, ok := anchor.Attr("href")
		if !ok || href == "" {
			return
		}
		jobURL := common.AbsoluteURL(origin, href)

		title := truncate(strings.TrimSpace(anchor.Text()))
		if title == "" {
			return
		}

		// Two anchors to the same posting on one page are the same
		// listing rendered twice.
		if _, dup := seen[jobURL+"|"+title]; dup {
			return
		}
		seen[jobURL+"|"+title] = struct{}{}

		container := anchor.Closest(`article, li, [class*="job"], [class*="vaga"]`)

		record := models.JobRecord{
			URL:         jobURL,
			Title:       title,
			Company:     firstText(container, companySelectors),
			Location:    firstText(container, locationSelectors),
			SalaryText:  firstText(container, salarySelectors),
			CollectedAt: collectedAt,
			SourceQuery: sourceURL,
		}

		record.Modality = inferModality(record, hint)
		record.Seniority = inferSeniority(record, hint)
		record.Area = inferArea(record, hint)
		record.Technologies = DetectTechnologies(title + " " + container.Text())
		if record.SalaryText != "" {
			record.SalaryMin, record.SalaryMax = ParseSalaryRange(record.SalaryText)
		}
		record.SetFingerprint()

		records = append(records, record)
	})

	return records, nil
}

// selectListings runs the cascade and returns the first selection with
// enough matches, or nil when every entry misses.
func (e *Extractor) selectListings(doc *goquery.Document) *goquery.Selection {
	for _, selector := range listingSelectors {
		selection := doc.Find(selector)
		if selection.Length() >= minListingMatches {
			return selection
		}
	}
	return nil
}

// firstText tries each selector inside the container and returns the
// first non-trivial text hit.
func firstText(container *goquery.Selection, selectors []string) string {
	if container == nil || container.Length() == 0 {
		return ""
	}
	for _, selector := range selectors {
		text := strings.TrimSpace(container.Find(selector).First().Text())
		if len(text) > 2 {
			return truncate(text)
		}
	}
	return ""
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxFieldLength {
		return s
	}
	return string(runes[:maxFieldLength])
}
