// Package normalize turns free-text reporting periods and regions into
// canonical values.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// Period is a parsed reporting period. Quarter is 0 for annual periods.
type Period struct {
	Year         int    `json:"year"`
	Quarter      int    `json:"quarter"`
	IsAnnual     bool   `json:"is_annual"`
	Standardized string `json:"standardized"`
	Original     string `json:"original"`
}

// Quarters returns the quarters a period covers: its own quarter, or 1-4
// for an annual period.
func (p Period) Quarters() []int {
	if p.IsAnnual {
		return []int{1, 2, 3, 4}
	}
	return []int{p.Quarter}
}

// ParseError reports a period with no recognizable year.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize: no four-digit year in period %q", e.Input)
}

var yearPattern = regexp.MustCompile(`(?:^|[^0-9])([0-9]{4})(?:[^0-9]|$)`)

// Tried in order; the first one yielding a quarter in 1-4 wins.
var quarterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Q\s*([0-9]{1,2})(?:[^0-9]|$)`),
	regexp.MustCompile(`(?:^|[^0-9])([0-9]{1,2})\s*(?:ST|ND|RD|TH)?\s*Q`),
	regexp.MustCompile(`QUARTER\s*([0-9]{1,2})(?:[^0-9]|$)`),
}

// ParsePeriod parses text such as "Q3 2024", "3Q 2024", "2024-Q3",
// "Quarter 3 2024", "3rd quarter 2024", or "FY2024". Full-width digits are
// accepted. A missing year is a *ParseError; a missing or out-of-range
// quarter makes the period annual.
func ParsePeriod(text string) (Period, error) {
	s := strings.ToUpper(width.Fold.String(strings.TrimSpace(text)))

	m := yearPattern.FindStringSubmatch(s)
	if m == nil {
		return Period{}, &ParseError{Input: text}
	}
	year, _ := strconv.Atoi(m[1])

	p := Period{Year: year, Original: text}
	for _, re := range quarterPatterns {
		qm := re.FindStringSubmatch(s)
		if qm == nil {
			continue
		}
		q, err := strconv.Atoi(qm[1])
		if err != nil || q < 1 || q > 4 {
			continue
		}
		p.Quarter = q
		break
	}

	if p.Quarter == 0 {
		p.IsAnnual = true
		p.Standardized = strconv.Itoa(year)
	} else {
		p.Standardized = FormatQuarter(year, p.Quarter)
	}
	return p, nil
}

// FormatQuarter returns the canonical "YYYY-QN" label.
func FormatQuarter(year, quarter int) string {
	return fmt.Sprintf("%d-Q%d", year, quarter)
}
