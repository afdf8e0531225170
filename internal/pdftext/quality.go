package pdftext

import (
	"strings"

	"github.com/sells-group/contract-payments/internal/model"
)

// PaymentKeywords each add to the quality score when present in the text.
var PaymentKeywords = []string{
	"payment", "invoice", "billing", "fee", "rate", "amount",
	"milestone", "retainer", "hourly", "monthly", "quarterly",
}

// Quality is the input to QualityScore.
type Quality struct {
	Text   string
	Pages  int
	Tables int
	Errors int
}

// QualityScore estimates extraction reliability on a 0-100 scale.
func QualityScore(q Quality) float64 {
	if strings.TrimSpace(q.Text) == "" {
		return 0
	}
	score := 30.0
	if q.Pages > 1 {
		score += 10
	}
	if q.Tables > 0 {
		score += 20
	}
	switch n := len(q.Text); {
	case n > 5000:
		score += 20
	case n > 2000:
		score += 10
	}

	lower := strings.ToLower(q.Text)
	bonus := 0.0
	for _, kw := range PaymentKeywords {
		if strings.Contains(lower, kw) {
			bonus += 2
		}
	}
	if bonus > 20 {
		bonus = 20
	}
	score += bonus
	score -= 5 * float64(q.Errors)
	return model.ClampScore(score)
}
