package patterns

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration is a length of time as written in a contract.
type Duration struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// CurrencyAmount is an amount with an explicit ISO currency code.
type CurrencyAmount struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// DateLayouts are tried in order; the first successful parse wins. US
// month-first layouts precede day-first ones.
var DateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"2/1/2006",
	"1-2-2006",
	"2-1-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2 January, 2006",
	"1/2/06",
}

var (
	numberRe      = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	dollarRe      = regexp.MustCompile(`\$\s?(\d[\d,]*(?:\.\d+)?)`)
	ordinalRe     = regexp.MustCompile(`(?i)(\d)(?:st|nd|rd|th)\b`)
	abbrevDotRe   = regexp.MustCompile(`([A-Za-z]{3,})\.`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	groupedNumber = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
)

// ParseAmount extracts the first number from s, ignoring currency symbols and
// thousands separators. "$50,000.00" parses as 50000.
func ParseAmount(s string) (float64, bool) {
	raw := numberRe.FindString(s)
	if raw == "" {
		return 0, false
	}
	return parseNumber(raw)
}

// ParseAmounts returns every number in s.
func ParseAmounts(s string) []float64 {
	var out []float64
	for _, raw := range numberRe.FindAllString(s, -1) {
		if v, ok := parseNumber(raw); ok {
			out = append(out, v)
		}
	}
	return out
}

func parseNumber(raw string) (float64, bool) {
	raw = strings.TrimRight(raw, ",")
	if strings.Contains(raw, ",") && !groupedNumber.MatchString(raw) {
		// "1,2" style separators are not thousands groups; keep the head.
		raw = raw[:strings.Index(raw, ",")]
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return RoundCents(v), true
}

// RoundCents rounds to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// ParseDate parses date-like text with DateLayouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = abbrevDotRe.ReplaceAllString(s, "$1")
	s = whitespaceRe.ReplaceAllString(s, " ")
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseMoney(raw string, _ []string) any {
	// Prefer the dollar figure so "retainer of 2 months at $5,000" yields 5000.
	if m := dollarRe.FindStringSubmatch(raw); m != nil {
		if v, ok := parseNumber(m[1]); ok {
			return v
		}
	}
	if v, ok := ParseAmount(raw); ok {
		return v
	}
	return nil
}

func parsePercent(raw string, _ []string) any {
	if v, ok := ParseAmount(raw); ok {
		return v
	}
	return nil
}

func parseGroupFloat(raw string, groups []string) any {
	for _, g := range groups {
		if g == "" {
			continue
		}
		if v, err := strconv.ParseFloat(g, 64); err == nil {
			return v
		}
	}
	return parsePercent(raw, nil)
}

func parseFirstInt(raw string, groups []string) any {
	for _, g := range groups {
		if g == "" {
			continue
		}
		if v, err := strconv.Atoi(g); err == nil {
			return v
		}
	}
	return nil
}

func parseDateValue(raw string, _ []string) any {
	if t, ok := ParseDate(raw); ok {
		return t
	}
	return nil
}

func parseDuration(_ string, groups []string) any {
	if len(groups) < 2 {
		return nil
	}
	n, err := strconv.Atoi(groups[0])
	if err != nil {
		return nil
	}
	return Duration{Value: n, Unit: strings.TrimSuffix(strings.ToLower(groups[1]), "s")}
}

func parseCurrencyAmount(_ string, groups []string) any {
	if len(groups) < 2 {
		return nil
	}
	v, ok := parseNumber(groups[1])
	if !ok {
		return nil
	}
	return CurrencyAmount{Currency: strings.ToUpper(groups[0]), Amount: v}
}

func parseIdentifier(_ string, groups []string) any {
	if len(groups) == 0 {
		return nil
	}
	id := strings.Trim(groups[0], "-/")
	if len(id) < 3 {
		return nil
	}
	return strings.ToUpper(id)
}
