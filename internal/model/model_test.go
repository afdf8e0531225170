package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ContractStatus
		want     bool
	}{
		{ContractStatusUploaded, ContractStatusProcessing, true},
		{ContractStatusProcessing, ContractStatusCompleted, true},
		{ContractStatusProcessing, ContractStatusNeedsClarification, true},
		{ContractStatusNeedsClarification, ContractStatusCompleted, true},
		{ContractStatusCompleted, ContractStatusError, true},
		{ContractStatusNeedsClarification, ContractStatusError, true},
		{ContractStatusCompleted, ContractStatusProcessing, false},
		{ContractStatusError, ContractStatusProcessing, false},
		{ContractStatusCompleted, ContractStatusNeedsClarification, false},
		{ContractStatusUploaded, ContractStatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionTo(t *testing.T) {
	c := &Contract{Status: ContractStatusCompleted}
	err := c.TransitionTo(ContractStatusProcessing)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ContractStatusCompleted, c.Status)

	require.NoError(t, c.TransitionTo(ContractStatusError))
	assert.Equal(t, ContractStatusError, c.Status)
}

func TestResetForReprocessing(t *testing.T) {
	c := &Contract{Status: ContractStatusError}
	require.NoError(t, c.ResetForReprocessing())
	assert.Equal(t, ContractStatusProcessing, c.Status)

	c.Status = ContractStatusCompleted
	assert.Error(t, c.ResetForReprocessing())
}

func TestDefaultEndDate(t *testing.T) {
	start := day(2024, 1, 15)
	c := &Contract{StartDate: &start}
	assert.True(t, c.DefaultEndDate())
	require.NotNil(t, c.EndDate)
	assert.Equal(t, day(2025, 1, 14), *c.EndDate)

	// Existing end date is never replaced.
	assert.False(t, c.DefaultEndDate())

	empty := &Contract{}
	assert.False(t, empty.DefaultEndDate())
	assert.Nil(t, empty.EndDate)
}

func TestContractValidate(t *testing.T) {
	start := day(2024, 6, 1)
	end := day(2024, 5, 1)
	c := &Contract{ContractNumber: "C-1", StartDate: &start, EndDate: &end}
	assert.Error(t, c.Validate())

	c.EndDate = nil
	c.SetConfidence(140)
	require.NotNil(t, c.ConfidenceScore)
	assert.InDelta(t, 100, *c.ConfidenceScore, 0.001)
	assert.NoError(t, c.Validate())

	assert.Error(t, (&Contract{}).Validate())
}

func TestMilestoneOverdue(t *testing.T) {
	today := day(2024, 3, 10)

	m := &PaymentMilestone{DueDate: day(2024, 3, 9), Status: MilestonePending}
	assert.True(t, m.IsOverdue(today))
	m.RefreshStatus(today)
	assert.Equal(t, MilestoneOverdue, m.Status)

	// Moving the clock back does not revert the status.
	m.RefreshStatus(day(2024, 1, 1))
	assert.Equal(t, MilestoneOverdue, m.Status)

	due := &PaymentMilestone{DueDate: today, Status: MilestonePending}
	assert.False(t, due.IsOverdue(today))
	due.RefreshStatus(today)
	assert.Equal(t, MilestonePending, due.Status)

	paid := &PaymentMilestone{DueDate: day(2020, 1, 1), Status: MilestonePaid}
	assert.False(t, paid.IsOverdue(today))
	paid.RefreshStatus(today)
	assert.Equal(t, MilestonePaid, paid.Status)
}

func TestMilestoneDefaults(t *testing.T) {
	m := &PaymentMilestone{ContractID: "c", DueDate: day(2024, 5, 31), Amount: 2500}
	m.RefreshStatus(day(2024, 1, 1))
	assert.Equal(t, MilestonePending, m.Status)

	m.DefaultInvoiceDate()
	require.NotNil(t, m.InvoiceDate)
	assert.Equal(t, day(2024, 5, 1), *m.InvoiceDate)

	total := 10000.0
	m.DerivePercentage(&total)
	require.NotNil(t, m.Percentage)
	assert.InDelta(t, 25.0, *m.Percentage, 0.001)
	assert.NoError(t, m.Validate())

	over := &PaymentMilestone{Amount: 20000}
	over.DerivePercentage(&total)
	assert.Nil(t, over.Percentage)

	bad := &PaymentMilestone{ContractID: "c", DueDate: day(2024, 5, 31)}
	assert.Error(t, bad.Validate())
}

func TestParsePaymentFrequency(t *testing.T) {
	f, ok := ParsePaymentFrequency(" Quarterly ")
	assert.True(t, ok)
	assert.Equal(t, FrequencyQuarterly, f)

	f, ok = ParsePaymentFrequency("semi-annual")
	assert.True(t, ok)
	assert.Equal(t, FrequencySemiAnnual, f)

	_, ok = ParsePaymentFrequency("whenever")
	assert.False(t, ok)
}

func TestParseCurrency(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"usd", "USD", true},
		{"EUR", "EUR", true},
		{"chf", "CHF", true},
		{"Canadian dollars", "CAD", true},
		{"australian dollar", "AUD", true},
		{"US dollars", "USD", true},
		{"£", "GBP", true},
		{"euros", "EUR", true},
		{"$", "USD", true},
		{"beans", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCurrency(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "USD", NormalizeCurrency("beans"))
}

func TestClarificationMarkAnswered(t *testing.T) {
	c := &Clarification{FieldName: FieldStartDate}
	assert.Equal(t, "", c.Answer())

	now := time.Now()
	c.MarkAnswered("  2024-12-01 ", now)
	assert.True(t, c.Answered)
	assert.Equal(t, "2024-12-01", c.Answer())
	require.NotNil(t, c.AnsweredAt)
	assert.Equal(t, now, *c.AnsweredAt)
}

func TestSameDate(t *testing.T) {
	a := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	b := day(2024, 1, 1)
	assert.True(t, SameDate(&a, &b))
	assert.True(t, SameDate(nil, nil))
	assert.False(t, SameDate(&a, nil))
}
