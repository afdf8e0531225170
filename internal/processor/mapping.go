package processor

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/contract-payments/internal/aiextract"
	"github.com/sells-group/contract-payments/internal/model"
	"github.com/sells-group/contract-payments/internal/patterns"
	"github.com/sells-group/contract-payments/internal/pdftext"
)

type mappingInput struct {
	fileName  string
	doc       *pdftext.Document
	matches   patterns.Matches
	schedules []patterns.Schedule
	ai        *aiextract.Result // nil on the pattern path
	now       time.Time
}

type mapped struct {
	contract          *model.Contract
	milestones        []model.PaymentMilestone
	terms             *model.PaymentTerms
	warnings          []string
	placeholderNumber string
}

// ContractName derives a display name from a file name.
func ContractName(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return "Untitled Contract"
	}
	return cases.Title(language.English).String(base)
}

// candidate is a milestone before validation.
type candidate struct {
	description string
	amount      *float64
	invoiceDate *time.Time
	dueDate     *time.Time
}

// mapExtraction fills c from the extraction output and builds the rows to
// persist with it.
func mapExtraction(c *model.Contract, in mappingInput) *mapped {
	out := &mapped{contract: c, placeholderNumber: c.ContractNumber}

	// Fields patterns provide on both paths.
	if m, ok := in.matches.First(patterns.ContractNumbers); ok {
		if num, ok := m.Value.(string); ok && num != "" {
			c.ContractNumber = num
		}
	}
	if m, ok := in.matches.First(patterns.PONumbers); ok {
		if po, ok := m.Value.(string); ok {
			c.PONumber = po
		}
	}

	var cands []candidate
	if in.ai != nil {
		cands = mapAI(c, in)
	} else {
		cands = mapPatterns(c, in)
	}

	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		out.warnings = append(out.warnings, "End date precedes start date; end date ignored")
		c.EndDate = nil
	}
	if c.DefaultEndDate() {
		zap.L().Debug("processor: end date defaulted", zap.String("contract_id", c.ID))
	}

	for i, cand := range cands {
		ms, warn := buildMilestone(i+1, cand, c.TotalValue)
		if warn != "" {
			out.warnings = append(out.warnings, warn)
			zap.L().Warn("processor: milestone skipped", zap.String("contract_id", c.ID), zap.String("reason", warn))
			continue
		}
		out.milestones = append(out.milestones, ms)
	}

	out.terms = buildTerms(c.ID, in, len(out.milestones))
	c.RawExtractedData = auditRecord(in)
	return out
}

func mapAI(c *model.Contract, in mappingInput) []candidate {
	d := in.ai.Response.Data
	c.ClientName = d.ClientName
	c.ContractName = ContractName(in.fileName)
	if d.ClientName != "" && d.ClientName != aiextract.UnknownClient {
		c.ContractName = d.ClientName
	}
	if d.TotalValue != nil {
		v := patterns.RoundCents(*d.TotalValue)
		c.TotalValue = &v
	}
	c.Currency = d.Currency
	c.StartDate = d.StartDate
	c.EndDate = d.EndDate
	c.ExtractionMethod = model.ExtractionAIAssisted
	c.SetConfidence(AIConfidence)

	var cands []candidate
	for _, m := range d.Milestones {
		cands = append(cands, candidate{
			description: m.Description,
			amount:      m.Amount,
			invoiceDate: m.InvoiceDate,
			dueDate:     m.DueDate,
		})
	}
	if len(cands) == 0 {
		cands = scheduleCandidates(in.schedules)
	}
	return cands
}

func mapPatterns(c *model.Contract, in mappingInput) []candidate {
	c.ContractName = ContractName(in.fileName)
	c.ClientName = aiextract.UnknownClient
	if total, ok := in.matches.MaxAmount(patterns.DollarAmounts); ok {
		v := patterns.RoundCents(total)
		c.TotalValue = &v
	}
	c.Currency = model.DefaultCurrency
	if m, ok := in.matches.First(patterns.CurrencyAmounts); ok {
		if ca, ok := m.Value.(patterns.CurrencyAmount); ok {
			c.Currency = model.NormalizeCurrency(ca.Currency)
		}
	}
	if m, ok := in.matches.First(patterns.Dates); ok {
		if d, ok := m.Value.(time.Time); ok {
			start := model.Date(d)
			c.StartDate = &start
		}
	}
	c.ExtractionMethod = model.ExtractionPatternBased
	c.SetConfidence(patterns.Confidence(in.doc.Confidence, in.matches, len(in.schedules)))
	return scheduleCandidates(in.schedules)
}

func scheduleCandidates(schedules []patterns.Schedule) []candidate {
	var out []candidate
	for _, e := range patterns.Candidates(schedules) {
		out = append(out, candidate{
			description: e.Description,
			amount:      e.Amount,
			dueDate:     e.DueDate,
		})
	}
	return out
}

// buildMilestone validates a candidate. It returns a warning instead of a
// milestone when the amount or due date is missing.
func buildMilestone(n int, cand candidate, total *float64) (model.PaymentMilestone, string) {
	name := strings.TrimSpace(cand.description)
	if name == "" {
		name = fmt.Sprintf("Milestone %d", n)
	}
	if cand.amount == nil || *cand.amount <= 0 {
		return model.PaymentMilestone{}, fmt.Sprintf("Skipped milestone %d (%s): missing or non-positive amount", n, name)
	}
	if cand.dueDate == nil {
		return model.PaymentMilestone{}, fmt.Sprintf("Skipped milestone %d (%s): missing due date", n, name)
	}
	m := model.PaymentMilestone{
		MilestoneName: truncate(name, 200),
		Description:   strings.TrimSpace(cand.description),
		Amount:        patterns.RoundCents(*cand.amount),
		DueDate:       model.Date(*cand.dueDate),
		Status:        model.MilestonePending,
	}
	if cand.invoiceDate != nil {
		inv := model.Date(*cand.invoiceDate)
		m.InvoiceDate = &inv
	}
	m.DefaultInvoiceDate()
	m.DerivePercentage(total)
	return m, ""
}

func buildTerms(contractID string, in mappingInput, milestones int) *model.PaymentTerms {
	t := model.DefaultPaymentTerms(contractID)

	switch {
	case in.ai != nil && in.ai.Response.Data.FrequencyStated:
		t.PaymentFrequency = in.ai.Response.Data.PaymentFrequency
	case in.matches.Has(patterns.MonthlyRates):
		t.PaymentFrequency = model.FrequencyMonthly
	case in.matches.Has(patterns.QuarterlyRates):
		t.PaymentFrequency = model.FrequencyQuarterly
	case in.matches.Has(patterns.AnnualRates):
		t.PaymentFrequency = model.FrequencyAnnual
	case milestones > 1:
		t.PaymentFrequency = model.FrequencyMilestoneBased
	}

	if m, ok := in.matches.First(patterns.PaymentTerms); ok {
		if days, ok := m.Value.(int); ok && days >= 0 {
			t.GracePeriodDays = days
		}
	}
	if m, ok := in.matches.First(patterns.LateFees); ok {
		if v, ok := m.Amount(); ok {
			t.LateFeePercentage = &v
		}
	}
	if m, ok := in.matches.First(patterns.EarlyPaymentDiscount); ok {
		if v, ok := m.Amount(); ok {
			t.EarlyPaymentDiscount = &v
		}
	}
	return &t
}

// auditRecord is the JSON kept in raw_extracted_data.
func auditRecord(in mappingInput) json.RawMessage {
	rec := map[string]any{}
	if in.ai != nil {
		rec = in.ai.Audit()
	} else {
		rec["extraction_method"] = model.ExtractionPatternBased
		rec["extraction_timestamp"] = in.now.UTC().Format(time.RFC3339)
	}
	rec["file_name"] = in.fileName
	rec["pdf_extraction"] = map[string]any{
		"method":      in.doc.Method,
		"pages":       len(in.doc.Pages),
		"tables":      len(in.doc.Tables),
		"text_length": len(in.doc.Text),
		"confidence":  in.doc.Confidence,
		"warnings":    in.doc.Issues(),
	}
	counts := make(map[string]int, len(in.matches))
	for name, ms := range in.matches {
		counts[name] = len(ms)
	}
	rec["patterns"] = counts
	rec["payment_schedules"] = in.schedules

	raw, err := json.Marshal(rec)
	if err != nil {
		zap.L().Warn("processor: marshal audit record", zap.Error(err))
		return nil
	}
	return raw
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
