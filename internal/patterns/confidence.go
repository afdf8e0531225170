package patterns

import (
	"regexp"
	"strings"

	"github.com/sells-group/contract-payments/internal/model"
)

var (
	currencyWithCents = regexp.MustCompile(`\$\s?[\d,]+\.\d{2}`)
	currencyWhole     = regexp.MustCompile(`\$\s?[\d,]+`)
)

// amountPatterns get the currency-shape bonus.
var amountPatterns = map[string]bool{
	DollarAmounts:   true,
	HourlyRates:     true,
	MonthlyRates:    true,
	QuarterlyRates:  true,
	AnnualRates:     true,
	RetainerAmounts: true,
	ExpenseCaps:     true,
}

// paymentIndicators each add to the document confidence when present.
var paymentIndicators = []string{
	DollarAmounts,
	HourlyRates,
	MonthlyRates,
	PaymentTerms,
	MilestonePhases,
}

// MatchConfidence scores a single match of the named pattern.
func MatchConfidence(name, text string) float64 {
	score := 50.0
	if amountPatterns[name] {
		switch {
		case currencyWithCents.MatchString(text):
			score += 30
		case currencyWhole.MatchString(text):
			score += 20
		}
	}
	if name == PaymentTerms || name == DueOnReceipt {
		score += 20
	}
	if len([]rune(strings.TrimSpace(text))) < 3 {
		score -= 20
	}
	return model.ClampScore(score)
}

// Confidence is the overall score of a pattern-based extraction. It starts
// from the document quality score, adds 5 per payment indicator found and
// 10 per payment schedule table up to 20.
func Confidence(docScore float64, matches Matches, schedules int) float64 {
	score := docScore
	for _, name := range paymentIndicators {
		if matches.Has(name) {
			score += 5
		}
	}
	bonus := 10 * schedules
	if bonus > 20 {
		bonus = 20
	}
	return model.ClampScore(score + float64(bonus))
}
