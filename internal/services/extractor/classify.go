package extractor

import (
	"net/url"
	"strings"

	"github.com/ternarybob/harvester/internal/models"
)

// urlHint carries the classification implied by the catalog query a
// page was fetched for. A query like /vagas/home-office/ only ever
// lists remote postings, so the hint fills fields the posting itself
// does not state.
type urlHint struct {
	modality  models.Modality
	seniority models.Seniority
	area      string
}

var modalityPathTokens = map[string]models.Modality{
	"home-office": models.ModalityRemote,
	"remoto":      models.ModalityRemote,
	"presencial":  models.ModalityOnSite,
	"hibrido":     models.ModalityHybrid,
}

var seniorityPathTokens = map[string]models.Seniority{
	"estagio":      models.SeniorityIntern,
	"junior":       models.SeniorityJunior,
	"pleno":        models.SeniorityMid,
	"senior":       models.SenioritySenior,
	"especialista": models.SenioritySpecialist,
}

func classifyURL(sourceURL string) urlHint {
	hint := urlHint{
		modality:  models.ModalityUnknown,
		seniority: models.SeniorityUnknown,
		area:      models.AreaUnknown,
	}

	u, err := url.Parse(sourceURL)
	if err != nil {
		return hint
	}

	for _, segment := range strings.Split(strings.ToLower(u.Path), "/") {
		if segment == "" {
			continue
		}
		if m, ok := modalityPathTokens[segment]; ok {
			hint.modality = m
		}
		if s, ok := seniorityPathTokens[segment]; ok {
			hint.seniority = s
		}
		if after, ok := strings.CutPrefix(segment, "area-"); ok && after != "" {
			hint.area = after
		}
	}
	return hint
}

// inferModality prefers what the posting says about itself over the
// query hint.
func inferModality(record models.JobRecord, hint urlHint) models.Modality {
	text := strings.ToLower(record.Title + " " + record.Location)
	switch {
	case strings.Contains(text, "home office"),
		strings.Contains(text, "home-office"),
		strings.Contains(text, "remoto"),
		strings.Contains(text, "remota"):
		return models.ModalityRemote
	case strings.Contains(text, "híbrido"), strings.Contains(text, "hibrido"):
		return models.ModalityHybrid
	case strings.Contains(text, "presencial"):
		return models.ModalityOnSite
	}
	return hint.modality
}

var seniorityTitleTokens = []struct {
	token string
	level models.Seniority
}{
	{"estágio", models.SeniorityIntern},
	{"estagio", models.SeniorityIntern},
	{"estagiário", models.SeniorityIntern},
	{"estagiario", models.SeniorityIntern},
	{"trainee", models.SeniorityIntern},
	{"júnior", models.SeniorityJunior},
	{"junior", models.SeniorityJunior},
	{"jr", models.SeniorityJunior},
	{"pleno", models.SeniorityMid},
	{"pl", models.SeniorityMid},
	{"sênior", models.SenioritySenior},
	{"senior", models.SenioritySenior},
	{"sr", models.SenioritySenior},
	{"especialista", models.SenioritySpecialist},
	{"specialist", models.SenioritySpecialist},
}

func inferSeniority(record models.JobRecord, hint urlHint) models.Seniority {
	words := tokenSet(record.Title)
	for _, entry := range seniorityTitleTokens {
		if _, ok := words[entry.token]; ok {
			return entry.level
		}
	}
	return hint.seniority
}

func inferArea(record models.JobRecord, hint urlHint) string {
	return hint.area
}

// tokenSet splits text into lowercase words, stripping the punctuation
// that job titles decorate levels with ("Sênior/Pleno", "(Jr)").
func tokenSet(text string) map[string]struct{} {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '(', ')', ',', '-', '|', ';':
			return ' '
		}
		return r
	}, strings.ToLower(text))

	out := make(map[string]struct{})
	for _, w := range strings.Fields(cleaned) {
		out[w] = struct{}{}
	}
	return out
}
