package patterns

import (
	"strings"
	"time"

	"github.com/sells-group/contract-payments/internal/pdftext"
)

// scheduleVocabulary marks a header row as belonging to a payment schedule.
var scheduleVocabulary = []string{
	"payment", "invoice", "amount", "due", "milestone", "phase",
	"deliverable", "installment", "schedule", "billing",
}

var (
	amountHeaders       = []string{"amount", "fee", "total", "payment"}
	dateHeaders         = []string{"date", "due", "schedule"}
	descriptionHeaders  = []string{"description", "milestone", "phase", "deliverable"}
	minScheduleKeywords = 2
)

// ScheduleEntry is one candidate milestone read from a schedule table row.
type ScheduleEntry struct {
	Page        int        `json:"page"`
	TableIndex  int        `json:"table_index"`
	RowNumber   int        `json:"row_number"`
	Description string     `json:"description,omitempty"`
	RawAmount   string     `json:"raw_amount,omitempty"`
	Amount      *float64   `json:"amount,omitempty"`
	RawDate     string     `json:"raw_date,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// Schedule is a table recognized as a payment schedule.
type Schedule struct {
	Page       int             `json:"page"`
	TableIndex int             `json:"table_index"`
	Header     []string        `json:"header"`
	Entries    []ScheduleEntry `json:"entries"`
}

// IsPaymentSchedule reports whether the table's header row carries at least
// two payment vocabulary keywords.
func IsPaymentSchedule(t pdftext.Table) bool {
	if len(t.Rows) < 2 {
		return false
	}
	header := strings.ToLower(strings.Join(t.Rows[0], " "))
	hits := 0
	for _, kw := range scheduleVocabulary {
		if strings.Contains(header, kw) {
			hits++
		}
	}
	return hits >= minScheduleKeywords
}

// RecognizeSchedules returns the payment schedules among tables.
func RecognizeSchedules(tables []pdftext.Table) []Schedule {
	var out []Schedule
	for _, t := range tables {
		if !IsPaymentSchedule(t) {
			continue
		}
		out = append(out, readSchedule(t))
	}
	return out
}

func readSchedule(t pdftext.Table) Schedule {
	header := t.Rows[0]
	cols := locateColumns(header)

	s := Schedule{Page: t.Page, TableIndex: t.Index, Header: header}
	for i, row := range t.Rows[1:] {
		if rowEmpty(row) {
			continue
		}
		e := ScheduleEntry{Page: t.Page, TableIndex: t.Index, RowNumber: i + 1}
		if v := cell(row, cols.amount); v != "" {
			e.RawAmount = v
			if amt, ok := ParseAmount(v); ok {
				e.Amount = &amt
			}
		}
		if v := cell(row, cols.date); v != "" {
			e.RawDate = v
			if d, ok := ParseDate(v); ok {
				e.DueDate = &d
			}
		}
		e.Description = cell(row, cols.description)
		s.Entries = append(s.Entries, e)
	}
	return s
}

type scheduleColumns struct {
	amount, date, description int
}

// locateColumns picks amount, date and description columns by header
// keyword. "amount" and "date" are matched before weaker keywords so that
// "Payment Date" lands in the date column and "Amount Due" in the amount one.
func locateColumns(header []string) scheduleColumns {
	lower := make([]string, len(header))
	for i, h := range header {
		lower[i] = strings.ToLower(h)
	}
	cols := scheduleColumns{amount: -1, date: -1, description: -1}

	cols.amount = findColumn(lower, []string{"amount"}, -1, -1)
	cols.date = findColumn(lower, []string{"date"}, cols.amount, -1)
	if cols.amount < 0 {
		cols.amount = findColumn(lower, amountHeaders, cols.date, -1)
	}
	if cols.date < 0 {
		cols.date = findColumn(lower, dateHeaders, cols.amount, -1)
	}
	cols.description = findColumn(lower, descriptionHeaders, cols.amount, cols.date)
	return cols
}

func findColumn(header, keywords []string, skipA, skipB int) int {
	for i, h := range header {
		if i == skipA || i == skipB {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(h, kw) {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Candidates flattens every schedule's entries.
func Candidates(schedules []Schedule) []ScheduleEntry {
	var out []ScheduleEntry
	for _, s := range schedules {
		out = append(out, s.Entries...)
	}
	return out
}
