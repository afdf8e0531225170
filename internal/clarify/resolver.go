// Package clarify applies human answers to open clarification questions and
// completes contracts once nothing is left to ask.
package clarify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/contract-payments/internal/aiextract"
	"github.com/sells-group/contract-payments/internal/model"
	"github.com/sells-group/contract-payments/internal/patterns"
	"github.com/sells-group/contract-payments/internal/store"
)

// ErrEmptyAnswer is returned when an answer is blank after trimming.
var ErrEmptyAnswer = eris.New("clarify: answer is empty")

// DefaultStuckAfter is how long a contract may sit in processing before
// FixStatus treats it as abandoned.
const DefaultStuckAfter = time.Hour

var (
	hoursRe   = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(?:hours?|hrs?)\b`)
	hourlyRe  = regexp.MustCompile(`(?i)\$?\s*(\d[\d,]*(?:\.\d+)?)\s*(?:per\s*hour|/\s*hr|/\s*hour|an\s+hour|hourly)`)
	leadingRe = regexp.MustCompile(`^\$?\s*(\d[\d,]*(?:\.\d+)?)`)
	hourUnit  = regexp.MustCompile(`(?i)^\s*(?:hours?|hrs?)\b`)

	openEnded = map[string]bool{"ongoing": true, "perpetual": true, "indefinite": true, "none": true}
)

// Resolver applies clarification answers to contracts.
type Resolver struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a Resolver backed by st.
func New(st store.Store, opts ...Option) *Resolver {
	r := &Resolver{store: st, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AnswerResult is returned by Answer.
type AnswerResult struct {
	ClarificationID string               `json:"clarification_id"`
	ContractID      string               `json:"contract_id"`
	RemainingCount  int                  `json:"remaining_clarifications"`
	ContractStatus  model.ContractStatus `json:"contract_status"`
	UpdatesMade     []string             `json:"updates_made"`
	Warnings        []string             `json:"warnings,omitempty"`
	AllClarified    bool                 `json:"all_clarified"`
}

// ApplyResult is returned by Apply.
type ApplyResult struct {
	ContractID     string               `json:"contract_id"`
	UpdatesMade    []string             `json:"updates_made"`
	Warnings       []string             `json:"warnings,omitempty"`
	ContractStatus model.ContractStatus `json:"contract_status"`
}

// Answer records text as the answer to a clarification. When it was the last
// open question the answers are applied and the contract is completed.
func (r *Resolver) Answer(ctx context.Context, clarificationID, text string) (*AnswerResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	cl, err := r.store.GetClarification(ctx, clarificationID)
	if err != nil {
		return nil, eris.Wrapf(err, "clarify: load clarification %s", clarificationID)
	}
	cl.MarkAnswered(text, r.now().UTC())
	if err := r.store.AnswerClarification(ctx, cl); err != nil {
		return nil, eris.Wrapf(err, "clarify: save answer %s", clarificationID)
	}

	remaining, err := r.store.CountUnanswered(ctx, cl.ContractID)
	if err != nil {
		return nil, eris.Wrapf(err, "clarify: count open for %s", cl.ContractID)
	}
	res := &AnswerResult{
		ClarificationID: cl.ID,
		ContractID:      cl.ContractID,
		RemainingCount:  remaining,
		UpdatesMade:     []string{},
	}

	if remaining > 0 {
		c, err := r.store.GetContract(ctx, cl.ContractID)
		if err != nil {
			return nil, eris.Wrapf(err, "clarify: load contract %s", cl.ContractID)
		}
		res.ContractStatus = c.Status
		return res, nil
	}

	applied, err := r.Apply(ctx, cl.ContractID)
	if err != nil {
		return nil, err
	}
	res.UpdatesMade = applied.UpdatesMade
	res.Warnings = applied.Warnings
	res.ContractStatus = applied.ContractStatus
	res.AllClarified = true
	return res, nil
}

// Apply folds every answered clarification into the contract. Only changed
// values are reported, so applying twice yields no updates the second time.
func (r *Resolver) Apply(ctx context.Context, contractID string) (*ApplyResult, error) {
	c, err := r.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, eris.Wrapf(err, "clarify: load contract %s", contractID)
	}
	answered, err := r.store.ListClarifications(ctx, contractID, false)
	if err != nil {
		return nil, eris.Wrapf(err, "clarify: list clarifications %s", contractID)
	}

	log := zap.L().With(zap.String("contract_id", contractID))
	updates := []string{}
	var warnings []string
	for _, cl := range latestByField(answered) {
		u, warn := applyOne(c, cl.FieldName, cl.Answer())
		switch {
		case u != "":
			updates = append(updates, u)
		case warn != "":
			warnings = append(warnings, warn)
			log.Warn("clarify: answer not applied", zap.String("field", cl.FieldName), zap.String("reason", warn))
		default:
			log.Debug("clarify: answer left contract unchanged", zap.String("field", cl.FieldName))
		}
	}

	remaining, err := r.store.CountUnanswered(ctx, contractID)
	if err != nil {
		return nil, eris.Wrapf(err, "clarify: count open for %s", contractID)
	}
	statusChanged := false
	if remaining == 0 && c.Status == model.ContractStatusNeedsClarification {
		if err := c.TransitionTo(model.ContractStatusCompleted); err != nil {
			return nil, err
		}
		statusChanged = true
	}

	if len(updates) > 0 || statusChanged {
		if err := c.Validate(); err != nil {
			return nil, eris.Wrapf(err, "clarify: contract %s", contractID)
		}
		if err := r.store.UpdateContract(ctx, c); err != nil {
			return nil, eris.Wrapf(err, "clarify: save contract %s", contractID)
		}
		log.Info("clarify: contract updated",
			zap.Strings("updates", updates),
			zap.String("status", string(c.Status)),
		)
	}

	return &ApplyResult{ContractID: contractID, UpdatesMade: updates, Warnings: warnings, ContractStatus: c.Status}, nil
}

// latestByField keeps the most recent answer per target field, in the order
// fields first appear. Older answers to the same field are superseded.
func latestByField(list []model.Clarification) []*model.Clarification {
	var order []string
	latest := make(map[string]*model.Clarification)
	for i := range list {
		cl := &list[i]
		if !cl.Answered {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(cl.FieldName))
		prev, seen := latest[key]
		if !seen {
			order = append(order, key)
			latest[key] = cl
			continue
		}
		if answeredAfter(cl, prev) {
			latest[key] = cl
		}
	}
	out := make([]*model.Clarification, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out
}

// answeredAfter reports whether a was answered no earlier than b. Ties go to
// a, which comes later in creation order.
func answeredAfter(a, b *model.Clarification) bool {
	if a.AnsweredAt == nil || b.AnsweredAt == nil {
		return b.AnsweredAt == nil
	}
	return !a.AnsweredAt.Before(*b.AnsweredAt)
}

// applyOne sets one field from an answer and describes the change. It returns
// an empty update when nothing changed, with a warning when the answer was
// rejected.
func applyOne(c *model.Contract, field, answer string) (update, warning string) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ""
	}
	field = strings.ToLower(strings.TrimSpace(field))

	switch field {
	case model.FieldStartDate:
		d, ok := patterns.ParseDate(answer)
		if !ok {
			return "", "start_date answer is not a date: " + answer
		}
		d = model.Date(d)
		if model.SameDate(c.StartDate, &d) {
			return "", ""
		}
		if c.EndDate == nil || !c.EndDate.Before(d) {
			c.StartDate = &d
			return "start_date updated to " + d.Format(time.DateOnly), ""
		}
		if !defaultedEnd(c) {
			return "", fmt.Sprintf("start_date %s is after end_date %s; not applied", d.Format(time.DateOnly), c.EndDate.Format(time.DateOnly))
		}
		end := d.AddDate(0, 0, model.DefaultTermDays)
		c.StartDate, c.EndDate = &d, &end
		return fmt.Sprintf("start_date updated to %s (end_date moved to %s)", d.Format(time.DateOnly), end.Format(time.DateOnly)), ""

	case model.FieldEndDate:
		if openEnded[strings.ToLower(answer)] {
			if c.EndDate == nil {
				return "", ""
			}
			c.EndDate = nil
			return "end_date cleared (ongoing)", ""
		}
		d, ok := patterns.ParseDate(answer)
		if !ok {
			return "", "end_date answer is not a date: " + answer
		}
		d = model.Date(d)
		if model.SameDate(c.EndDate, &d) {
			return "", ""
		}
		if c.StartDate != nil && d.Before(*c.StartDate) {
			return "", fmt.Sprintf("end_date %s is before start_date %s; not applied", d.Format(time.DateOnly), c.StartDate.Format(time.DateOnly))
		}
		c.EndDate = &d
		return "end_date updated to " + d.Format(time.DateOnly), ""

	case model.FieldClientName:
		if c.ClientName == answer {
			return "", ""
		}
		c.ClientName = answer
		return "client_name updated to " + answer, ""

	case model.FieldContractNumber:
		if c.ContractNumber == answer {
			return "", ""
		}
		c.ContractNumber = answer
		return "contract_number updated to " + answer, ""

	case model.FieldPONumber:
		if c.PONumber == answer {
			return "", ""
		}
		c.PONumber = answer
		return "po_number updated to " + answer, ""

	case model.FieldTotalValue:
		v, how, ok := ParseTotal(answer)
		if !ok {
			return "", "total_value answer has no amount: " + answer
		}
		if c.TotalValue != nil && *c.TotalValue == v {
			return "", ""
		}
		c.TotalValue = &v
		if how != "" {
			return fmt.Sprintf("total_value calculated as %s = %s", how, formatAmount(v)), ""
		}
		return "total_value updated to " + formatAmount(v), ""

	case model.FieldCurrency:
		code, ok := model.ParseCurrency(answer)
		if !ok {
			return "", "currency answer is not a known currency: " + answer
		}
		if c.Currency == code {
			return "", ""
		}
		c.Currency = code
		return "currency updated to " + code, ""
	}

	if field == "" {
		field = model.FieldUnknown
	}
	flat := strings.Join(strings.Fields(answer), " ")
	line := cases.Title(language.English).String(strings.ReplaceAll(field, "_", " ")) + " (clarified): " + flat
	if containsLine(c.Notes, line) {
		return "", ""
	}
	if c.Notes == "" {
		c.Notes = line
	} else {
		c.Notes += "\n\n" + line
	}
	return field + " added to notes", ""
}

// defaultedEnd reports whether the end date is exactly one default term after
// the start date, i.e. it was filled in rather than read from the document.
func defaultedEnd(c *model.Contract) bool {
	if c.StartDate == nil || c.EndDate == nil {
		return false
	}
	return model.Date(c.StartDate.AddDate(0, 0, model.DefaultTermDays)).Equal(model.Date(*c.EndDate))
}

// ParseTotal reads a contract total from free text. A leading number wins,
// then an hours figure with an hourly rate, then the largest number present.
// A leading number that counts hours is not a total. how describes a
// computed value and is empty otherwise.
func ParseTotal(answer string) (value float64, how string, ok bool) {
	trimmed := strings.TrimSpace(answer)
	if m := leadingRe.FindStringSubmatch(trimmed); m != nil && !hourUnit.MatchString(trimmed[len(m[0]):]) {
		if v, ok := patterns.ParseAmount(m[1]); ok {
			return v, "", true
		}
	}
	hm := hoursRe.FindStringSubmatch(answer)
	rm := hourlyRe.FindStringSubmatch(answer)
	if hm != nil && rm != nil {
		hours, okH := patterns.ParseAmount(hm[1])
		rate, okR := patterns.ParseAmount(rm[1])
		if okH && okR {
			v := patterns.RoundCents(hours * rate)
			return v, fmt.Sprintf("%s hours * %s", trimFloat(hours), formatAmount(rate)), true
		}
	}
	var best float64
	found := false
	for _, v := range patterns.ParseAmounts(answer) {
		if !found || v > best {
			best, found = v, true
		}
	}
	return best, "", found
}

// FixReport summarizes a FixStatus run.
type FixReport struct {
	Completed int `json:"completed" yaml:"completed"`
	Errored   int `json:"errored" yaml:"errored"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

// FixStatus repairs contracts stranded in a non-terminal status. Contracts
// awaiting clarification with nothing left open are completed. Contracts
// stuck in processing longer than stuckAfter are completed when they carry
// extracted data and marked as errors otherwise. A contract whose answers
// cannot be saved is skipped and the run continues.
func (r *Resolver) FixStatus(ctx context.Context, stuckAfter time.Duration) (*FixReport, error) {
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}
	report := &FixReport{}

	waiting, err := r.store.ListContracts(ctx, store.ContractFilter{Status: model.ContractStatusNeedsClarification})
	if err != nil {
		return nil, eris.Wrap(err, "clarify: list contracts awaiting clarification")
	}
	for i := range waiting {
		c := &waiting[i]
		open, err := r.store.CountUnanswered(ctx, c.ID)
		if err != nil {
			return report, eris.Wrapf(err, "clarify: count open for %s", c.ID)
		}
		if open > 0 {
			continue
		}
		if _, err := r.Apply(ctx, c.ID); err != nil {
			report.Skipped++
			zap.L().Warn("clarify: could not complete contract", zap.String("contract_id", c.ID), zap.Error(err))
			continue
		}
		report.Completed++
	}

	cutoff := r.now().Add(-stuckAfter)
	stuck, err := r.store.ListContracts(ctx, store.ContractFilter{Status: model.ContractStatusProcessing})
	if err != nil {
		return report, eris.Wrap(err, "clarify: list processing contracts")
	}
	for i := range stuck {
		c := &stuck[i]
		if c.UpdatedAt.After(cutoff) {
			continue
		}
		target := model.ContractStatusError
		if c.TotalValue != nil || knownClient(c.ClientName) {
			target = model.ContractStatusCompleted
		}
		if err := c.TransitionTo(target); err != nil {
			return report, err
		}
		if err := r.store.UpdateContract(ctx, c); err != nil {
			return report, eris.Wrapf(err, "clarify: save contract %s", c.ID)
		}
		if target == model.ContractStatusCompleted {
			report.Completed++
		} else {
			report.Errored++
		}
		zap.L().Info("clarify: recovered stuck contract",
			zap.String("contract_id", c.ID),
			zap.String("status", string(target)),
		)
	}
	return report, nil
}

func knownClient(name string) bool {
	return name != "" && name != aiextract.UnknownClient && name != model.PlaceholderClient
}

func containsLine(notes, line string) bool {
	for _, l := range strings.Split(notes, "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

func formatAmount(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
