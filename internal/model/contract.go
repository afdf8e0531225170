package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// ContractStatus is the lifecycle state of a contract record.
type ContractStatus string

const (
	ContractStatusUploaded           ContractStatus = "uploaded"
	ContractStatusProcessing         ContractStatus = "processing"
	ContractStatusCompleted          ContractStatus = "completed"
	ContractStatusNeedsClarification ContractStatus = "needs_clarification"
	ContractStatusError              ContractStatus = "error"
)

// ExtractionMethod records which pipeline stage produced a contract's fields.
type ExtractionMethod string

const (
	ExtractionManual       ExtractionMethod = "manual"
	ExtractionPatternBased ExtractionMethod = "pattern_based"
	ExtractionAIAssisted   ExtractionMethod = "ai_assisted"
)

// DefaultCurrency is used when no currency can be determined.
const DefaultCurrency = "USD"

// PlaceholderClient marks a contract whose client has not been extracted yet.
const PlaceholderClient = "To be extracted"

// DefaultTermDays is the assumed contract length when only a start date is known.
const DefaultTermDays = 365

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = eris.New("model: invalid contract status transition")

// allowedTransitions lists legal moves; error is reachable from anywhere.
var allowedTransitions = map[ContractStatus][]ContractStatus{
	ContractStatusUploaded:           {ContractStatusProcessing},
	ContractStatusProcessing:         {ContractStatusCompleted, ContractStatusNeedsClarification},
	ContractStatusNeedsClarification: {ContractStatusCompleted},
}

// Contract is one ingested agreement and its extracted commercial terms.
type Contract struct {
	ID               string           `json:"id"`
	ContractName     string           `json:"contract_name"`
	ContractNumber   string           `json:"contract_number"`
	ClientName       string           `json:"client_name"`
	TotalValue       *float64         `json:"total_value,omitempty"`
	Currency         string           `json:"currency"`
	PONumber         string           `json:"po_number,omitempty"`
	StartDate        *time.Time       `json:"start_date,omitempty"`
	EndDate          *time.Time       `json:"end_date,omitempty"`
	Status           ContractStatus   `json:"status"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	ConfidenceScore  *float64         `json:"confidence_score,omitempty"`
	RawExtractedData json.RawMessage  `json:"raw_extracted_data,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	SourceFile       string           `json:"source_file,omitempty"`
	ArchiveKey       string           `json:"archive_key,omitempty"`
	UploadedAt       time.Time        `json:"uploaded_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Any status may be forced to error.
func CanTransition(from, to ContractStatus) bool {
	if to == ContractStatusError {
		return true
	}
	if from == to {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the contract to status, rejecting illegal moves.
func (c *Contract) TransitionTo(status ContractStatus) error {
	if !CanTransition(c.Status, status) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", c.Status, status)
	}
	c.Status = status
	return nil
}

// ResetForReprocessing puts an errored contract back into processing. It is
// the only path back into processing.
func (c *Contract) ResetForReprocessing() error {
	if c.Status != ContractStatusError {
		return eris.Wrapf(ErrInvalidTransition, "reprocess from %s", c.Status)
	}
	c.Status = ContractStatusProcessing
	return nil
}

// SetConfidence stores a score clamped to [0,100].
func (c *Contract) SetConfidence(score float64) {
	score = ClampScore(score)
	c.ConfidenceScore = &score
}

// DefaultEndDate fills a missing end date one term after the start date.
// It reports whether a value was filled.
func (c *Contract) DefaultEndDate() bool {
	if c.EndDate != nil || c.StartDate == nil {
		return false
	}
	end := c.StartDate.AddDate(0, 0, DefaultTermDays)
	c.EndDate = &end
	return true
}

// Validate checks the record invariants that do not need the store.
func (c *Contract) Validate() error {
	if c.ContractNumber == "" {
		return eris.New("model: contract number is required")
	}
	if c.ConfidenceScore != nil && (*c.ConfidenceScore < 0 || *c.ConfidenceScore > 100) {
		return eris.Errorf("model: confidence %.2f out of range", *c.ConfidenceScore)
	}
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return eris.New("model: end date precedes start date")
	}
	return nil
}

// ClampScore bounds a confidence score to [0,100].
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Date truncates t to midnight UTC.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether two optional dates are equal at day precision.
func SameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Date(*a).Equal(Date(*b))
}
