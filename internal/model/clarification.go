package model

import (
	"strings"
	"time"
)

// Clarification target fields with dedicated parsers.
const (
	FieldClientName     = "client_name"
	FieldContractNumber = "contract_number"
	FieldContractName   = "contract_name"
	FieldTotalValue     = "total_value"
	FieldCurrency       = "currency"
	FieldStartDate      = "start_date"
	FieldEndDate        = "end_date"
	FieldPONumber       = "po_number"
	FieldUnknown        = "unknown"
)

// Clarification is a question about a low-confidence field and its answer.
type Clarification struct {
	ID             string     `json:"id"`
	ContractID     string     `json:"contract_id"`
	FieldName      string     `json:"field_name"`
	AIQuestion     string     `json:"ai_question"`
	ContextSnippet string     `json:"context_snippet,omitempty"`
	PageNumber     *int       `json:"page_number,omitempty"`
	UserAnswer     *string    `json:"user_answer,omitempty"`
	Answered       bool       `json:"answered"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// MarkAnswered records a human answer.
func (c *Clarification) MarkAnswered(answer string, now time.Time) {
	a := strings.TrimSpace(answer)
	c.UserAnswer = &a
	c.Answered = true
	c.AnsweredAt = &now
}

// Answer returns the stored answer or "".
func (c *Clarification) Answer() string {
	if c.UserAnswer == nil {
		return ""
	}
	return *c.UserAnswer
}
