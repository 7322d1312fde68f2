package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

// salaryAmountPattern matches Brazilian currency amounts with optional
// thousand separators and decimal comma, e.g. "R$ 3.500,00" or "4500".
var salaryAmountPattern = regexp.MustCompile(`(?i)R?\$?\s*(\d{1,3}(?:\.\d{3})*(?:,\d{2})?|\d+(?:,\d{2})?)`)

// ParseSalaryRange extracts the numeric bounds from a salary string.
// "R$ 3.000,00 a R$ 4.500,00" yields (3000, 4500); a single amount
// fills both bounds; unparseable text yields (nil, nil).
func ParseSalaryRange(text string) (*float64, *float64) {
	matches := salaryAmountPattern.FindAllStringSubmatch(text, -1)

	var amounts []float64
	for _, m := range matches {
		v, ok := parseBrazilianAmount(m[1])
		if !ok {
			continue
		}
		// Single digits in salary text are invariably headcounts or
		// shift numbers, not pay.
		if v < 100 {
			continue
		}
		amounts = append(amounts, v)
	}

	switch len(amounts) {
	case 0:
		return nil, nil
	case 1:
		return &amounts[0], &amounts[0]
	default:
		lo, hi := amounts[0], amounts[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		return &lo, &hi
	}
}

func parseBrazilianAmount(s string) (float64, bool) {
	normalized := strings.ReplaceAll(s, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
