package extractor

import (
	"sort"
	"strings"
)

// knownTechnologies is the detection vocabulary, keyed by canonical
// name. Matching is whole-word and case-insensitive.
var knownTechnologies = []string{
	// languages
	"python", "java", "javascript", "typescript", "go", "c#", "c++",
	"php", "ruby", "kotlin", "swift", "scala", "rust",
	// frontend
	"react", "angular", "vue", "jquery", "html", "css", "bootstrap",
	// backend
	"node.js", "spring", "django", "flask", "express", "fastapi", ".net",
	"rails", "laravel",
	// mobile
	"react native", "flutter", "android", "ios", "xamarin",
	// data
	"sql", "mysql", "postgresql", "mongodb", "redis", "oracle",
	"sql server", "elasticsearch", "kafka", "spark", "pandas",
	"power bi", "tableau",
	// cloud and infra
	"aws", "azure", "gcp", "docker", "kubernetes", "terraform",
	"jenkins", "gitlab", "git", "linux",
}

// technologySynonyms maps drift spellings to their canonical token.
var technologySynonyms = map[string]string{
	"golang":      "go",
	"reactjs":     "react",
	"react.js":    "react",
	"angularjs":   "angular",
	"vuejs":       "vue",
	"vue.js":      "vue",
	"node":        "node.js",
	"nodejs":      "node.js",
	"js":          "javascript",
	"ts":          "typescript",
	"k8s":         "kubernetes",
	"postgres":    "postgresql",
	"mongo":       "mongodb",
	"dotnet":      ".net",
	"powerbi":     "power bi",
	"springboot":  "spring",
	"rubyonrails": "rails",
}

// DetectTechnologies scans free text for known technology terms and
// returns canonical names, sorted, without duplicates.
func DetectTechnologies(text string) []string {
	words := techTokens(text)
	found := make(map[string]struct{})

	for _, tech := range knownTechnologies {
		if matchesTech(words, tech) {
			found[tech] = struct{}{}
		}
	}
	for synonym, canonical := range technologySynonyms {
		if matchesTech(words, synonym) {
			found[canonical] = struct{}{}
		}
	}

	if len(found) == 0 {
		return nil
	}
	out := make([]string, 0, len(found))
	for tech := range found {
		out = append(out, tech)
	}
	sort.Strings(out)
	return out
}

// matchesTech checks a term against the token stream. Multi-word terms
// must appear as consecutive tokens.
func matchesTech(words []string, term string) bool {
	parts := strings.Fields(term)
	if len(parts) == 1 {
		for _, w := range words {
			if w == term {
				return true
			}
		}
		return false
	}
	for i := 0; i+len(parts) <= len(words); i++ {
		match := true
		for j, part := range parts {
			if words[i+j] != part {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// techTokens lowercases and splits on separators while preserving the
// characters technology names legitimately contain (#, +, .).
func techTokens(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '#' || r == '+' || r == '.':
			return r
		default:
			return ' '
		}
	}, strings.ToLower(text))

	raw := strings.Fields(cleaned)
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		// A trailing period is sentence punctuation, not part of the
		// term; interior periods (node.js, .net) are kept.
		out = append(out, strings.TrimSuffix(w, "."))
	}
	return out
}
