package model

import "time"

// ProcessResult is returned to the caller for every processed document.
type ProcessResult struct {
	Success                  bool             `json:"success" yaml:"success"`
	ContractID               string           `json:"contract_id,omitempty" yaml:"contract_id,omitempty"`
	FileName                 string           `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Status                   ContractStatus   `json:"status,omitempty" yaml:"status,omitempty"`
	ConfidenceScore          float64          `json:"confidence_score" yaml:"confidence_score"`
	ExtractionMethod         ExtractionMethod `json:"extraction_method,omitempty" yaml:"extraction_method,omitempty"`
	PaymentMilestonesCreated int              `json:"payment_milestones_created" yaml:"payment_milestones_created"`
	ClarificationsCreated    int              `json:"clarifications_created" yaml:"clarifications_created"`
	Warnings                 []string         `json:"warnings" yaml:"warnings"`
	Error                    string           `json:"error,omitempty" yaml:"error,omitempty"`
}

// AddWarning appends a non-fatal warning.
func (r *ProcessResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// StatusReport answers a status query for one contract.
type StatusReport struct {
	ContractID       string           `json:"contract_id" yaml:"contract_id"`
	Status           ContractStatus   `json:"status" yaml:"status"`
	ConfidenceScore  *float64         `json:"confidence_score,omitempty" yaml:"confidence_score,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method" yaml:"extraction_method"`
	MilestoneCount   int              `json:"milestone_count" yaml:"milestone_count"`
	UploadedAt       time.Time        `json:"uploaded_at" yaml:"uploaded_at"`
}

// NewStatusReport builds a status report from a contract and its milestone count.
func NewStatusReport(c *Contract, milestones int) StatusReport {
	return StatusReport{
		ContractID:       c.ID,
		Status:           c.Status,
		ConfidenceScore:  c.ConfidenceScore,
		ExtractionMethod: c.ExtractionMethod,
		MilestoneCount:   milestones,
		UploadedAt:       c.UploadedAt,
	}
}
