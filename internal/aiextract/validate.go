package aiextract

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/contract-payments/internal/model"
	"github.com/sells-group/contract-payments/internal/patterns"
)

// UnknownClient replaces a missing client name.
const UnknownClient = "Unknown Client"

// Data is the normalized extracted_data section.
type Data struct {
	ClientName         string                 `json:"client_name"`
	TotalValue         *float64               `json:"total_value"`
	Currency           string                 `json:"currency"`
	StartDate          *time.Time             `json:"start_date"`
	EndDate            *time.Time             `json:"end_date"`
	Milestones         []Milestone            `json:"payment_milestones"`
	PaymentFrequency   model.PaymentFrequency `json:"payment_frequency"`
	FrequencyStated    bool                   `json:"-"`
	ReportedConfidence *float64               `json:"reported_confidence,omitempty"`
}

// Milestone is one payment the model found.
type Milestone struct {
	Amount      *float64   `json:"amount"`
	InvoiceDate *time.Time `json:"invoice_date"`
	DueDate     *time.Time `json:"due_date"`
	Description string     `json:"description"`
}

// ClarificationRequest is a question the model wants a human to answer.
type ClarificationRequest struct {
	Field    string `json:"field"`
	Question string `json:"question"`
	Context  string `json:"context"`
	Page     *int   `json:"page,omitempty"`
}

func normalizeData(raw map[string]any) Data {
	d := Data{
		ClientName: cleanString(raw["client_name"]),
		TotalValue: parseNumeric(raw["total_value"]),
		Currency:   model.NormalizeCurrency(cleanString(raw["currency"])),
		StartDate:  parseDate(raw["start_date"]),
		EndDate:    parseDate(raw["end_date"]),
		Milestones: normalizeMilestones(raw["payment_milestones"]),
	}
	if d.ClientName == "" {
		d.ClientName = UnknownClient
	}

	d.PaymentFrequency = model.FrequencyOneTime
	if f, ok := model.ParsePaymentFrequency(cleanString(raw["payment_frequency"])); ok {
		d.PaymentFrequency = f
		d.FrequencyStated = true
	}
	if c := parseNumeric(raw["confidence_score"]); c != nil {
		v := model.ClampScore(*c)
		d.ReportedConfidence = &v
	}
	return d
}

func normalizeMilestones(v any) []Milestone {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Milestone
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		m := Milestone{
			Amount:      parseNumeric(obj["amount"]),
			InvoiceDate: parseDate(obj["invoice_date"]),
			DueDate:     parseDate(obj["due_date"]),
			Description: cleanString(obj["description"]),
		}
		if m.Amount != nil || m.Description != "" {
			out = append(out, m)
		}
	}
	return out
}

func normalizeClarifications(list []any) []ClarificationRequest {
	var out []ClarificationRequest
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := ClarificationRequest{
			Field:    strings.ToLower(cleanString(obj["field"])),
			Question: cleanString(obj["question"]),
			Context:  cleanString(obj["context"]),
			Page:     parsePage(obj["page"]),
		}
		if c.Field == "" {
			c.Field = model.FieldUnknown
		}
		out = append(out, c)
	}
	return out
}

// cleanString trims strings, renders numbers without a trailing ".0" and
// treats null and the literal "null" as empty.
func cleanString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(x)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

var numericStrip = strings.NewReplacer("$", "", ",", "", "€", "", "£", "", " ", "")

// parseNumeric accepts JSON numbers and strings like "$12,500.00". Anything
// else is nil.
func parseNumeric(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		s := numericStrip.Replace(strings.TrimSpace(x))
		if s == "" || strings.EqualFold(s, "null") {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	f = patterns.RoundCents(f)
	return &f
}

func parseDate(v any) *time.Time {
	s := cleanString(v)
	if s == "" {
		return nil
	}
	t, ok := patterns.ParseDate(s)
	if !ok {
		return nil
	}
	t = model.Date(t)
	return &t
}

func parsePage(v any) *int {
	var n int
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return nil
		}
		n = int(x)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if n <= 0 {
		return nil
	}
	return &n
}
