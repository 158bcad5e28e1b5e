// Package research turns the free-form market research answer into a report
// and a ranked list of rated themes. Parsing never fails.
package research

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	ReportMarker = "Relatório de Mercado:"
	ThemesMarker = "Avaliação dos temas:"

	FallbackReport     = "Could not extract the market report from the AI response."
	PlaceholderTheme   = "no themes extracted"
	maxRating          = 5
	nameTrimCharacters = " \t\"'“”‘’*_:-–—"
)

var (
	reportPattern = regexp.MustCompile(`(?is)` + regexp.QuoteMeta(ReportMarker) + `(.*?)` + regexp.QuoteMeta(ThemesMarker))
	themesSplit   = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(ThemesMarker))
	ratingPattern = regexp.MustCompile(`\(\s*(\d+)\s*/\s*5\s*\)`)
	// leading enumeration or bullet: "1.", "1)", "-", "•"
	enumPattern = regexp.MustCompile(`^\s*(?:\d+\s*[.)]|[-•])?\s*`)
)

// Theme is a candidate topic with a 0..5 relevance rating.
type Theme struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

type Result struct {
	Report  string  `json:"report"`
	Themes  []Theme `json:"themes"`
	// Dropped counts non-empty lines of the theme section that did not carry
	// both a name and a valid rating.
	Dropped int `json:"-"`
}

// Parse extracts the report and themes from raw. Themes keep input order.
// When no theme is recovered the result holds a single placeholder theme.
func Parse(raw string) Result {
	res := Result{Report: FallbackReport}
	if m := reportPattern.FindStringSubmatch(raw); m != nil {
		if report := strings.Trim(m[1], " \t\r\n*_"); report != "" {
			res.Report = report
		}
	}

	parts := themesSplit.Split(raw, 2)
	if len(parts) == 2 {
		for _, line := range strings.Split(parts[1], "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			theme, ok := parseThemeLine(line)
			if !ok {
				res.Dropped++
				continue
			}
			res.Themes = append(res.Themes, theme)
		}
	}

	if len(res.Themes) == 0 {
		res.Themes = []Theme{{Name: PlaceholderTheme, Rating: 0}}
	}
	return res
}

// Placeholder reports whether themes is the single fallback entry.
func Placeholder(themes []Theme) bool {
	return len(themes) == 1 && themes[0].Name == PlaceholderTheme && themes[0].Rating == 0
}

func parseThemeLine(line string) (Theme, bool) {
	loc := ratingPattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return Theme{}, false
	}
	rating, err := strconv.Atoi(line[loc[2]:loc[3]])
	if err != nil || rating < 0 || rating > maxRating {
		return Theme{}, false
	}

	head := line[:loc[0]]
	head = enumPattern.ReplaceAllString(head, "")
	name := strings.Trim(head, nameTrimCharacters)
	if name == "" {
		return Theme{}, false
	}
	return Theme{Name: name, Rating: rating}, true
}
