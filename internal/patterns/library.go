// Package patterns recognizes payment-related phrases in contract text.
//
// A Library is built once with NewLibrary and is read-only afterwards, so a
// single instance can be shared by every document in a batch.
package patterns

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Pattern names.
const (
	DollarAmounts        = "dollar_amounts"
	HourlyRates          = "hourly_rates"
	MonthlyRates         = "monthly_rates"
	QuarterlyRates       = "quarterly_rates"
	AnnualRates          = "annual_rates"
	Percentages          = "percentages"
	PaymentTerms         = "payment_terms"
	DueOnReceipt         = "due_on_receipt"
	Dates                = "dates"
	MilestonePhases      = "milestone_phases"
	ContractDuration     = "contract_duration"
	RetainerAmounts      = "retainer_amounts"
	ExpenseCaps          = "expense_caps"
	LateFees             = "late_fees"
	CurrencyAmounts      = "currency_symbols"
	EarlyPaymentDiscount = "early_payment_discount"
	ContractNumbers      = "contract_numbers"
	PONumbers            = "po_numbers"
)

// ContextRadius is the number of bytes kept on each side of a match.
const ContextRadius = 100

// ValueKind describes the Go type a pattern's parser produces.
type ValueKind string

const (
	KindAmount         ValueKind = "amount"          // float64
	KindPercent        ValueKind = "percent"         // float64
	KindDate           ValueKind = "date"            // time.Time
	KindInt            ValueKind = "int"             // int
	KindDays           ValueKind = "days"            // int
	KindDuration       ValueKind = "duration"        // Duration
	KindCurrencyAmount ValueKind = "currency_amount" // CurrencyAmount
	KindText           ValueKind = "text"            // string
)

// Pattern is a named regular expression with a typed value parser.
type Pattern struct {
	Name        string
	Description string
	Kind        ValueKind

	re    *regexp.Regexp
	parse func(raw string, groups []string) any
}

// Expr returns the pattern's regular expression source.
func (p Pattern) Expr() string { return p.re.String() }

// Match is a single occurrence of a pattern in a text.
type Match struct {
	Pattern    string  `json:"pattern"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Context    string  `json:"context"`
	Confidence float64 `json:"confidence"`
	Value      any     `json:"value,omitempty"`
}

// Amount returns the match value as a float when it is an amount or percent.
func (m Match) Amount() (float64, bool) {
	switch v := m.Value.(type) {
	case float64:
		return v, true
	case CurrencyAmount:
		return v.Amount, true
	}
	return 0, false
}

// Library is an immutable registry of patterns.
type Library struct {
	patterns []Pattern
	byName   map[string]int
}

const (
	money     = `\$\s?\d[\d,]*(?:\.\d+)?`
	monthName = `(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`
)

// NewLibrary compiles the built-in pattern set.
func NewLibrary() *Library {
	defs := []struct {
		name, desc, expr string
		kind             ValueKind
		parse            func(string, []string) any
	}{
		{DollarAmounts, "Dollar amounts", money, KindAmount, parseMoney},
		{HourlyRates, "Hourly rates", money + `\s*(?:(?:/|per|an?)\s*(?:hours?|hrs?)|hourly)\b`, KindAmount, parseMoney},
		{MonthlyRates, "Monthly rates", money + `\s*(?:(?:/|per|an?)\s*(?:months?|mo)|monthly)\b`, KindAmount, parseMoney},
		{QuarterlyRates, "Quarterly rates", money + `\s*(?:(?:/|per|an?)\s*(?:quarters?|qtr)|quarterly)\b`, KindAmount, parseMoney},
		{AnnualRates, "Annual rates", money + `\s*(?:(?:/|per|an?)\s*(?:years?|yr|annum)|annual(?:ly)?|yearly)\b`, KindAmount, parseMoney},
		{Percentages, "Percentages", `\d+(?:\.\d+)?\s?%`, KindPercent, parsePercent},
		{PaymentTerms, "Payment terms in days", `\bnet\s*(\d{1,3})\b(?:\s*days?\b)?|\b(\d{1,3})\s*(?:business\s+|calendar\s+)?days?\b`, KindDays, parseFirstInt},
		{DueOnReceipt, "Due on receipt", `\bdue\s+(?:(?:up)?on\s+)?receipt\b`, KindDays, func(string, []string) any { return 0 }},
		{Dates, "Calendar dates", `\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|` + monthName + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}|\d{1,2}(?:st|nd|rd|th)?\s+` + monthName + `,?\s+\d{4})\b`, KindDate, parseDateValue},
		{MilestonePhases, "Milestone or phase markers", `\b(?:phase|milestone|deliverable|stage)\s*(?:#|no\.?|:)?\s*(\d+)\b`, KindInt, parseFirstInt},
		{ContractDuration, "Contract duration", `\b(?:duration|term|length|period)\s*(?:of|:|-)?\s*(\d+)\s*(months?|years?|weeks?|days?)\b`, KindDuration, parseDuration},
		{RetainerAmounts, "Retainer amounts", `\bretainer\b[^$\n]{0,40}?` + money, KindAmount, parseMoney},
		{ExpenseCaps, "Expense caps", `\bexpenses?\b[^$\n]{0,40}?(?:not\s+to\s+exceed|capped|cap|limited|limit|maximum|up\s+to)[^$\n]{0,20}?` + money, KindAmount, parseMoney},
		{LateFees, "Late fee percentages", `\blate\s+(?:payment\s+)?(?:fee|charge|penalty|interest)s?\b[^%\n]{0,60}?(\d+(?:\.\d+)?)\s?%`, KindPercent, parseGroupFloat},
		{CurrencyAmounts, "ISO currency amounts", `\b(USD|EUR|GBP|CAD|AUD|JPY)\s*[$€£]?\s?(\d[\d,]*(?:\.\d+)?)`, KindCurrencyAmount, parseCurrencyAmount},
		{EarlyPaymentDiscount, "Early payment discounts", `(\d+(?:\.\d+)?)\s?%\s+(?:early[\s-]payment\s+|prompt[\s-]payment\s+)?discount\b`, KindPercent, parseGroupFloat},
		{ContractNumbers, "Contract reference numbers", `\b(?:contract|agreement|sow)\s*(?:no\.?|number|#)\s*[:\-]?\s*([a-z0-9\-/]*\d[a-z0-9\-/]*)`, KindText, parseIdentifier},
		{PONumbers, "Purchase order numbers", `\b(?:p\.?o\.?|purchase\s+order)\s*(?:no\.?|number|#)\s*[:\-]?\s*([a-z0-9\-]*\d[a-z0-9\-]*)`, KindText, parseIdentifier},
	}

	lib := &Library{byName: make(map[string]int, len(defs))}
	for _, d := range defs {
		lib.byName[d.name] = len(lib.patterns)
		lib.patterns = append(lib.patterns, Pattern{
			Name:        d.name,
			Description: d.desc,
			Kind:        d.kind,
			re:          regexp.MustCompile(`(?i)` + d.expr),
			parse:       d.parse,
		})
	}
	return lib
}

// Patterns returns a copy of the registered patterns in registration order.
func (l *Library) Patterns() []Pattern {
	out := make([]Pattern, len(l.patterns))
	copy(out, l.patterns)
	return out
}

// Pattern looks up a pattern by name.
func (l *Library) Pattern(name string) (Pattern, bool) {
	i, ok := l.byName[name]
	if !ok {
		return Pattern{}, false
	}
	return l.patterns[i], true
}

// Find returns every match of one pattern in text.
func (l *Library) Find(name, text string) []Match {
	p, ok := l.Pattern(name)
	if !ok {
		return nil
	}
	return p.find(text)
}

// FindAll runs every pattern over text. Patterns without matches are absent
// from the result.
func (l *Library) FindAll(text string) Matches {
	out := make(Matches)
	for _, p := range l.patterns {
		if ms := p.find(text); len(ms) > 0 {
			out[p.Name] = ms
		}
	}
	return out
}

func (p Pattern) find(text string) []Match {
	locs := p.re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	matches := make([]Match, 0, len(locs))
	for _, loc := range locs {
		raw := text[loc[0]:loc[1]]
		groups := make([]string, 0, len(loc)/2-1)
		for g := 2; g+1 < len(loc); g += 2 {
			if loc[g] < 0 {
				groups = append(groups, "")
				continue
			}
			groups = append(groups, text[loc[g]:loc[g+1]])
		}
		m := Match{
			Pattern:    p.Name,
			Text:       strings.TrimSpace(raw),
			Start:      loc[0],
			End:        loc[1],
			Context:    contextWindow(text, loc[0], loc[1]),
			Confidence: MatchConfidence(p.Name, raw),
		}
		if p.parse != nil {
			m.Value = p.parse(raw, groups)
		}
		matches = append(matches, m)
	}
	return matches
}

// contextWindow returns up to ContextRadius bytes either side of [start,end),
// widened to rune boundaries and trimmed.
func contextWindow(text string, start, end int) string {
	from := start - ContextRadius
	if from < 0 {
		from = 0
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	to := end + ContextRadius
	if to > len(text) {
		to = len(text)
	}
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}
	return strings.TrimSpace(text[from:to])
}

// Matches groups matches by pattern name.
type Matches map[string][]Match

// Has reports whether the pattern matched at least once.
func (ms Matches) Has(name string) bool { return len(ms[name]) > 0 }

// Count returns the total number of matches across all patterns.
func (ms Matches) Count() int {
	n := 0
	for _, m := range ms {
		n += len(m)
	}
	return n
}

// Names returns the matched pattern names, sorted.
func (ms Matches) Names() []string {
	names := make([]string, 0, len(ms))
	for name := range ms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaxAmount returns the largest parsed amount for a pattern.
func (ms Matches) MaxAmount(name string) (float64, bool) {
	best, found := 0.0, false
	for _, m := range ms[name] {
		if v, ok := m.Amount(); ok && (!found || v > best) {
			best, found = v, true
		}
	}
	return best, found
}

// First returns the first match of a pattern that carries a parsed value.
func (ms Matches) First(name string) (Match, bool) {
	for _, m := range ms[name] {
		if m.Value != nil {
			return m, true
		}
	}
	return Match{}, false
}
