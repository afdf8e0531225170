package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// MilestoneStatus is the payment state of a milestone.
type MilestoneStatus string

const (
	MilestonePending MilestoneStatus = "pending"
	MilestonePaid    MilestoneStatus = "paid"
	MilestoneOverdue MilestoneStatus = "overdue"
)

// InvoiceLeadDays is how far before the due date an invoice is assumed to go out.
const InvoiceLeadDays = 30

// PaymentMilestone is one scheduled payment obligation of a contract.
type PaymentMilestone struct {
	ID               string          `json:"id"`
	ContractID       string          `json:"contract_id"`
	MilestoneName    string          `json:"milestone_name"`
	Description      string          `json:"description,omitempty"`
	InvoiceDate      *time.Time      `json:"invoice_date,omitempty"`
	DueDate          time.Time       `json:"due_date"`
	Amount           float64         `json:"amount"`
	Percentage       *float64        `json:"percentage,omitempty"`
	Status           MilestoneStatus `json:"status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// IsOverdue reports whether an unpaid milestone is past its due date.
func (m *PaymentMilestone) IsOverdue(today time.Time) bool {
	return m.Status != MilestonePaid && Date(m.DueDate).Before(Date(today))
}

// RefreshStatus moves a pending milestone to overdue once its due date has
// passed. Paid and overdue milestones are left alone.
func (m *PaymentMilestone) RefreshStatus(today time.Time) {
	if m.Status == "" {
		m.Status = MilestonePending
	}
	if m.Status == MilestonePending && m.IsOverdue(today) {
		m.Status = MilestoneOverdue
	}
}

// DefaultInvoiceDate fills a missing invoice date InvoiceLeadDays before due.
func (m *PaymentMilestone) DefaultInvoiceDate() {
	if m.InvoiceDate != nil || m.DueDate.IsZero() {
		return
	}
	inv := m.DueDate.AddDate(0, 0, -InvoiceLeadDays)
	m.InvoiceDate = &inv
}

// DerivePercentage sets the share of total when it lands in (0,100].
func (m *PaymentMilestone) DerivePercentage(total *float64) {
	if total == nil || *total <= 0 || m.Amount <= 0 {
		return
	}
	pct := math.Round(m.Amount / *total * 10000) / 100
	if pct > 0 && pct <= 100 {
		m.Percentage = &pct
	}
}

// Validate checks the milestone row invariants.
func (m *PaymentMilestone) Validate() error {
	if m.ContractID == "" {
		return eris.New("model: milestone has no contract")
	}
	if m.Amount <= 0 {
		return eris.Errorf("model: milestone amount %.2f must be positive", m.Amount)
	}
	if m.DueDate.IsZero() {
		return eris.New("model: milestone due date is required")
	}
	if m.Percentage != nil && (*m.Percentage <= 0 || *m.Percentage > 100) {
		return eris.Errorf("model: milestone percentage %.2f out of range", *m.Percentage)
	}
	return nil
}
