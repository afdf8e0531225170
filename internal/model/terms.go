package model

import "strings"

// PaymentMethod is how a contract is paid.
type PaymentMethod string

const (
	PaymentWireTransfer PaymentMethod = "wire_transfer"
	PaymentACH          PaymentMethod = "ach"
	PaymentCheck        PaymentMethod = "check"
	PaymentCreditCard   PaymentMethod = "credit_card"
	PaymentOther        PaymentMethod = "other"
)

// PaymentFrequency is how often a contract is billed.
type PaymentFrequency string

const (
	FrequencyOneTime        PaymentFrequency = "one_time"
	FrequencyMonthly        PaymentFrequency = "monthly"
	FrequencyQuarterly      PaymentFrequency = "quarterly"
	FrequencySemiAnnual     PaymentFrequency = "semi_annual"
	FrequencyAnnual         PaymentFrequency = "annual"
	FrequencyMilestoneBased PaymentFrequency = "milestone_based"
)

// PaymentTerms is the one-to-one billing configuration of a contract.
type PaymentTerms struct {
	ContractID           string           `json:"contract_id"`
	PaymentMethod        PaymentMethod    `json:"payment_method"`
	PaymentFrequency     PaymentFrequency `json:"payment_frequency"`
	LateFeePercentage    *float64         `json:"late_fee_percentage,omitempty"`
	GracePeriodDays      int              `json:"grace_period_days"`
	EarlyPaymentDiscount *float64         `json:"early_payment_discount,omitempty"`
	BankDetails          string           `json:"bank_details,omitempty"`
}

// DefaultPaymentTerms returns the terms assumed before extraction overrides them.
func DefaultPaymentTerms(contractID string) PaymentTerms {
	return PaymentTerms{
		ContractID:       contractID,
		PaymentMethod:    PaymentWireTransfer,
		PaymentFrequency: FrequencyOneTime,
	}
}

var frequencyAliases = map[string]PaymentFrequency{
	"one_time":        FrequencyOneTime,
	"one time":        FrequencyOneTime,
	"onetime":         FrequencyOneTime,
	"one-time":        FrequencyOneTime,
	"once":            FrequencyOneTime,
	"lump_sum":        FrequencyOneTime,
	"lump sum":        FrequencyOneTime,
	"monthly":         FrequencyMonthly,
	"month":           FrequencyMonthly,
	"quarterly":       FrequencyQuarterly,
	"quarter":         FrequencyQuarterly,
	"semi_annual":     FrequencySemiAnnual,
	"semi-annual":     FrequencySemiAnnual,
	"semi annual":     FrequencySemiAnnual,
	"semiannual":      FrequencySemiAnnual,
	"biannual":        FrequencySemiAnnual,
	"annual":          FrequencyAnnual,
	"annually":        FrequencyAnnual,
	"yearly":          FrequencyAnnual,
	"milestone_based": FrequencyMilestoneBased,
	"milestone based": FrequencyMilestoneBased,
	"milestone-based": FrequencyMilestoneBased,
	"milestone":       FrequencyMilestoneBased,
	"milestones":      FrequencyMilestoneBased,
}

// ParsePaymentFrequency maps free text onto a known frequency.
func ParsePaymentFrequency(s string) (PaymentFrequency, bool) {
	f, ok := frequencyAliases[strings.ToLower(strings.TrimSpace(s))]
	return f, ok
}
