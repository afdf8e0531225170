package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$50,000.00", 50000.00, true},
		{"$15,000/month", 15000.00, true},
		{"USD 1,250.5", 1250.50, true},
		{"€ 999", 999, true},
		{"1,250", 1250, true},
		{"no amount", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestParseAmounts(t *testing.T) {
	assert.Equal(t, []float64{120, 150}, ParseAmounts("120 hours at $150 per hour"))
	assert.Empty(t, ParseAmounts("none"))
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-12-01",
		"12/01/2024",
		"12/1/2024",
		"12-01-2024",
		"December 1, 2024",
		"Dec 1, 2024",
		"Dec. 1, 2024",
		"December 1st, 2024",
		"1 December 2024",
		"1 Dec 2024",
		"december 1 2024",
	} {
		t.Run(in, func(t *testing.T) {
			got, ok := ParseDate(in)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}

	// Day-first is used only when month-first cannot parse.
	got, ok := ParseDate("25/12/2024")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), got)

	_, ok = ParseDate("sometime next year")
	assert.False(t, ok)
	_, ok = ParseDate("")
	assert.False(t, ok)
}

func TestLibraryMonthlyRate(t *testing.T) {
	lib := NewLibrary()
	ms := lib.Find(MonthlyRates, "Client shall pay $15,000/month for support.")
	require.Len(t, ms, 1)
	assert.Equal(t, "$15,000/month", ms[0].Text)
	v, ok := ms[0].Amount()
	require.True(t, ok)
	assert.InDelta(t, 15000.00, v, 0.001)
}

func TestLibraryRates(t *testing.T) {
	lib := NewLibrary()
	text := "Consulting at $200 per hour, hosting $1,200 quarterly and a license of $10,000 annually. Support is $500 a month."
	ms := lib.FindAll(text)

	hourly, ok := ms.First(HourlyRates)
	require.True(t, ok)
	assert.Equal(t, 200.0, hourly.Value)

	quarterly, ok := ms.First(QuarterlyRates)
	require.True(t, ok)
	assert.Equal(t, 1200.0, quarterly.Value)

	annual, ok := ms.First(AnnualRates)
	require.True(t, ok)
	assert.Equal(t, 10000.0, annual.Value)

	monthly, ok := ms.First(MonthlyRates)
	require.True(t, ok)
	assert.Equal(t, 500.0, monthly.Value)

	max, ok := ms.MaxAmount(DollarAmounts)
	require.True(t, ok)
	assert.Equal(t, 10000.0, max)
}

func TestLibraryTermsAndMarkers(t *testing.T) {
	lib := NewLibrary()
	text := `Contract No: SOW-2024-118. PO Number: 45001234.
Invoices are payable Net 30. The retainer of $5,000 is due on receipt.
Phase 2 begins March 15, 2024. The term: 12 months. Late fees of 1.5% per month apply.
A 2% early payment discount applies. Total EUR 80,000.00. Expenses not to exceed $2,500.`
	ms := lib.FindAll(text)

	terms, ok := ms.First(PaymentTerms)
	require.True(t, ok)
	assert.Equal(t, 30, terms.Value)
	assert.True(t, ms.Has(DueOnReceipt))

	retainer, ok := ms.First(RetainerAmounts)
	require.True(t, ok)
	assert.Equal(t, 5000.0, retainer.Value)

	phase, ok := ms.First(MilestonePhases)
	require.True(t, ok)
	assert.Equal(t, 2, phase.Value)

	date, ok := ms.First(Dates)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), date.Value)

	dur, ok := ms.First(ContractDuration)
	require.True(t, ok)
	assert.Equal(t, Duration{Value: 12, Unit: "month"}, dur.Value)

	late, ok := ms.First(LateFees)
	require.True(t, ok)
	assert.Equal(t, 1.5, late.Value)

	disc, ok := ms.First(EarlyPaymentDiscount)
	require.True(t, ok)
	assert.Equal(t, 2.0, disc.Value)

	cur, ok := ms.First(CurrencyAmounts)
	require.True(t, ok)
	assert.Equal(t, CurrencyAmount{Currency: "EUR", Amount: 80000}, cur.Value)

	capM, ok := ms.First(ExpenseCaps)
	require.True(t, ok)
	assert.Equal(t, 2500.0, capM.Value)

	num, ok := ms.First(ContractNumbers)
	require.True(t, ok)
	assert.Equal(t, "SOW-2024-118", num.Value)

	po, ok := ms.First(PONumbers)
	require.True(t, ok)
	assert.Equal(t, "45001234", po.Value)
}

func TestMatchContextWindow(t *testing.T) {
	lib := NewLibrary()
	prefix := make([]byte, 300)
	for i := range prefix {
		prefix[i] = 'a'
	}
	text := string(prefix) + " fee $1,000.00 " + string(prefix)
	ms := lib.Find(DollarAmounts, text)
	require.Len(t, ms, 1)
	assert.Contains(t, ms[0].Context, "$1,000.00")
	assert.LessOrEqual(t, len(ms[0].Context), len(ms[0].Text)+2*ContextRadius+2)
	assert.Equal(t, ms[0].Start+len("$1,000.00"), ms[0].End)
}

func TestMatchConfidence(t *testing.T) {
	assert.Equal(t, 80.0, MatchConfidence(DollarAmounts, "$50,000.00"))
	assert.Equal(t, 70.0, MatchConfidence(DollarAmounts, "$50,000"))
	assert.Equal(t, 70.0, MatchConfidence(PaymentTerms, "Net 30"))
	assert.Equal(t, 70.0, MatchConfidence(DueOnReceipt, "due on receipt"))
	assert.Equal(t, 30.0, MatchConfidence(Percentages, "5%"))
	assert.Equal(t, 50.0, MatchConfidence(Dates, "2024-01-01"))
}

func TestConfidence(t *testing.T) {
	ms := Matches{
		DollarAmounts:   {{Pattern: DollarAmounts}},
		PaymentTerms:    {{Pattern: PaymentTerms}},
		MilestonePhases: {{Pattern: MilestonePhases}},
		Percentages:     {{Pattern: Percentages}},
	}
	assert.Equal(t, 75.0, Confidence(60, ms, 0))
	assert.Equal(t, 95.0, Confidence(60, ms, 2))
	// Schedule bonus is capped at 20.
	assert.Equal(t, 95.0, Confidence(60, ms, 5))
	assert.Equal(t, 100.0, Confidence(95, ms, 3))
	assert.Equal(t, 0.0, Confidence(0, Matches{}, 0))
}

func TestLibraryIsImmutableCopy(t *testing.T) {
	lib := NewLibrary()
	ps := lib.Patterns()
	ps[0].Name = "changed"
	p, ok := lib.Pattern(DollarAmounts)
	require.True(t, ok)
	assert.Equal(t, DollarAmounts, p.Name)
	assert.NotEmpty(t, p.Expr())

	_, ok = lib.Pattern("nope")
	assert.False(t, ok)
	assert.Nil(t, lib.Find("nope", "$5"))
}

func TestMatchesHelpers(t *testing.T) {
	ms := NewLibrary().FindAll("Fees: $100 and $2,500.50 by 2024-02-01")
	assert.True(t, ms.Has(DollarAmounts))
	assert.False(t, ms.Has(HourlyRates))
	assert.Contains(t, ms.Names(), Dates)
	assert.GreaterOrEqual(t, ms.Count(), 3)
}
