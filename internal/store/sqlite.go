package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/contract-payments/internal/db"
	"github.com/sells-group/contract-payments/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps savepoints and pragmas on the same connection.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contracts (
	id                 TEXT PRIMARY KEY,
	contract_name      TEXT NOT NULL,
	contract_number    TEXT NOT NULL UNIQUE,
	client_name        TEXT NOT NULL DEFAULT '',
	total_value        REAL,
	currency           TEXT NOT NULL DEFAULT 'USD',
	po_number          TEXT NOT NULL DEFAULT '',
	start_date         TEXT,
	end_date           TEXT,
	status             TEXT NOT NULL DEFAULT 'uploaded',
	extraction_method  TEXT NOT NULL DEFAULT 'manual',
	confidence_score   REAL CHECK (confidence_score IS NULL OR (confidence_score >= 0 AND confidence_score <= 100)),
	raw_extracted_data TEXT,
	notes              TEXT NOT NULL DEFAULT '',
	source_file        TEXT NOT NULL DEFAULT '',
	archive_key        TEXT NOT NULL DEFAULT '',
	uploaded_at        DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_milestones (
	id                TEXT PRIMARY KEY,
	contract_id       TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	milestone_name    TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	invoice_date      TEXT,
	due_date          TEXT NOT NULL,
	amount            REAL NOT NULL CHECK (amount > 0),
	percentage        REAL CHECK (percentage IS NULL OR (percentage > 0 AND percentage <= 100)),
	status            TEXT NOT NULL DEFAULT 'pending',
	payment_reference TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_terms (
	contract_id            TEXT PRIMARY KEY REFERENCES contracts(id) ON DELETE CASCADE,
	payment_method         TEXT NOT NULL DEFAULT 'wire_transfer',
	payment_frequency      TEXT NOT NULL DEFAULT 'one_time',
	late_fee_percentage    REAL,
	grace_period_days      INTEGER NOT NULL DEFAULT 0,
	early_payment_discount REAL,
	bank_details           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS contract_clarifications (
	id              TEXT PRIMARY KEY,
	contract_id     TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	field_name      TEXT NOT NULL,
	ai_question     TEXT NOT NULL,
	context_snippet TEXT NOT NULL DEFAULT '',
	page_number     INTEGER,
	user_answer     TEXT,
	answered        INTEGER NOT NULL DEFAULT 0,
	answered_at     DATETIME,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts(status);
CREATE INDEX IF NOT EXISTS idx_milestones_contract_id ON payment_milestones(contract_id);
CREATE INDEX IF NOT EXISTS idx_milestones_status_due ON payment_milestones(status, due_date);
CREATE INDEX IF NOT EXISTS idx_clarifications_contract_id ON contract_clarifications(contract_id, answered);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Contracts ---

const sqliteContractColumns = `id, contract_name, contract_number, client_name, total_value, currency, po_number,
	start_date, end_date, status, extraction_method, confidence_score, raw_extracted_data, notes,
	source_file, archive_key, uploaded_at, updated_at`

func (s *SQLiteStore) CreateContract(ctx context.Context, c *model.Contract) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if c.UploadedAt.IsZero() {
		c.UploadedAt = now
	}
	c.UpdatedAt = now
	if c.Currency == "" {
		c.Currency = model.DefaultCurrency
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (`+sqliteContractColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ContractName, c.ContractNumber, c.ClientName, c.TotalValue, c.Currency, c.PONumber,
		dateArg(c.StartDate), dateArg(c.EndDate), string(c.Status), string(c.ExtractionMethod), c.ConfidenceScore,
		jsonArg(c.RawExtractedData), c.Notes, c.SourceFile, c.ArchiveKey, c.UploadedAt, c.UpdatedAt,
	)
	if err != nil {
		return sqliteConflict(err, "sqlite: insert contract")
	}
	return nil
}

func (s *SQLiteStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteContractColumns+` FROM contracts WHERE id = ?`, id)
	c, err := scanSQLiteContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get contract %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contract %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateContract(ctx context.Context, c *model.Contract) error {
	return updateSQLiteContract(ctx, s.db, c, s.now())
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateSQLiteContract(ctx context.Context, ex sqlExecer, c *model.Contract, now time.Time) error {
	c.UpdatedAt = now.UTC()
	res, err := ex.ExecContext(ctx,
		`UPDATE contracts SET contract_name = ?, contract_number = ?, client_name = ?, total_value = ?, currency = ?,
			po_number = ?, start_date = ?, end_date = ?, status = ?, extraction_method = ?, confidence_score = ?,
			raw_extracted_data = ?, notes = ?, source_file = ?, archive_key = ?, updated_at = ?
		WHERE id = ?`,
		c.ContractName, c.ContractNumber, c.ClientName, c.TotalValue, c.Currency,
		c.PONumber, dateArg(c.StartDate), dateArg(c.EndDate), string(c.Status), string(c.ExtractionMethod), c.ConfidenceScore,
		jsonArg(c.RawExtractedData), c.Notes, c.SourceFile, c.ArchiveKey, c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return sqliteConflict(err, "sqlite: update contract "+c.ID)
	}
	return checkRowsAffected(res, "contract", c.ID)
}

func (s *SQLiteStore) ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error) {
	query := `SELECT ` + sqliteContractColumns + ` FROM contracts WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY uploaded_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contracts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Contract
	for rows.Next() {
		c, err := scanSQLiteContract(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contract")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate contracts")
}

// --- Milestones ---

const sqliteMilestoneColumns = `id, contract_id, milestone_name, description, invoice_date, due_date, amount,
	percentage, status, payment_reference, created_at`

func (s *SQLiteStore) ListMilestones(ctx context.Context, contractID string) ([]model.PaymentMilestone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteMilestoneColumns+` FROM payment_milestones WHERE contract_id = ? ORDER BY due_date, created_at`,
		contractID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list milestones %s", contractID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PaymentMilestone
	for rows.Next() {
		var m model.PaymentMilestone
		var invoice sql.NullString
		var due string
		var status string
		if err := rows.Scan(&m.ID, &m.ContractID, &m.MilestoneName, &m.Description, &invoice, &due,
			&m.Amount, &m.Percentage, &status, &m.PaymentReference, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan milestone")
		}
		m.InvoiceDate = parseDateText(invoice)
		if d := parseDateText(sql.NullString{String: due, Valid: true}); d != nil {
			m.DueDate = *d
		}
		m.Status = model.MilestoneStatus(status)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate milestones")
}

func (s *SQLiteStore) CountMilestones(ctx context.Context, contractID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_milestones WHERE contract_id = ?`, contractID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count milestones %s", contractID)
}

func (s *SQLiteStore) RefreshOverdue(ctx context.Context, today time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_milestones SET status = ? WHERE status = ? AND due_date < ?`,
		string(model.MilestoneOverdue), string(model.MilestonePending), model.Date(today).Format(dateLayout),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: refresh overdue")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: refresh overdue rows")
}

func (s *SQLiteStore) BackfillInvoiceDates(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_milestones
		SET invoice_date = COALESCE(
			(SELECT c.start_date FROM contracts c WHERE c.id = payment_milestones.contract_id),
			date(due_date, ?))
		WHERE invoice_date IS NULL`,
		fmt.Sprintf("-%d days", model.InvoiceLeadDays),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: backfill invoice dates")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: backfill rows")
}

// --- Terms ---

func (s *SQLiteStore) GetTerms(ctx context.Context, contractID string) (*model.PaymentTerms, error) {
	var t model.PaymentTerms
	var method, freq string
	err := s.db.QueryRowContext(ctx,
		`SELECT contract_id, payment_method, payment_frequency, late_fee_percentage, grace_period_days,
			early_payment_discount, bank_details FROM payment_terms WHERE contract_id = ?`,
		contractID,
	).Scan(&t.ContractID, &method, &freq, &t.LateFeePercentage, &t.GracePeriodDays, &t.EarlyPaymentDiscount, &t.BankDetails)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get terms %s", contractID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get terms %s", contractID)
	}
	t.PaymentMethod = model.PaymentMethod(method)
	t.PaymentFrequency = model.PaymentFrequency(freq)
	return &t, nil
}

// --- Clarifications ---

const sqliteClarificationColumns = `id, contract_id, field_name, ai_question, context_snippet, page_number,
	user_answer, answered, answered_at, created_at`

func (s *SQLiteStore) CreateClarification(ctx context.Context, c *model.Clarification) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contract_clarifications (`+sqliteClarificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ContractID, c.FieldName, c.AIQuestion, c.ContextSnippet, c.PageNumber,
		c.UserAnswer, c.Answered, c.AnsweredAt, c.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert clarification")
}

func (s *SQLiteStore) GetClarification(ctx context.Context, id string) (*model.Clarification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteClarificationColumns+` FROM contract_clarifications WHERE id = ?`, id)
	c, err := scanSQLiteClarification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get clarification %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get clarification %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListClarifications(ctx context.Context, contractID string, unansweredOnly bool) ([]model.Clarification, error) {
	query := `SELECT ` + sqliteClarificationColumns + ` FROM contract_clarifications WHERE contract_id = ?`
	if unansweredOnly {
		query += ` AND answered = 0`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list clarifications %s", contractID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Clarification
	for rows.Next() {
		c, err := scanSQLiteClarification(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clarification")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate clarifications")
}

func (s *SQLiteStore) AnswerClarification(ctx context.Context, c *model.Clarification) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contract_clarifications SET user_answer = ?, answered = ?, answered_at = ? WHERE id = ?`,
		c.UserAnswer, c.Answered, c.AnsweredAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: answer clarification %s", c.ID)
	}
	return checkRowsAffected(res, "clarification", c.ID)
}

func (s *SQLiteStore) CountUnanswered(ctx context.Context, contractID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contract_clarifications WHERE contract_id = ? AND answered = 0`, contractID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count unanswered %s", contractID)
}

func (s *SQLiteStore) DeleteClarifications(ctx context.Context, contractID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contract_clarifications WHERE contract_id = ?`, contractID)
	return eris.Wrapf(err, "sqlite: delete clarifications %s", contractID)
}

// --- Extraction ---

func (s *SQLiteStore) SaveExtraction(ctx context.Context, ex *Extraction) (*SaveReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	report, err := s.saveExtraction(ctx, tx, ex)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit extraction")
	}
	return report, nil
}

func (s *SQLiteStore) saveExtraction(ctx context.Context, tx *sql.Tx, ex *Extraction) (*SaveReport, error) {
	now := s.now()
	c := ex.Contract
	if err := updateSQLiteContract(ctx, tx, c, now); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM payment_milestones WHERE contract_id = ?`, c.ID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: clear milestones %s", c.ID)
	}

	exec := func(ctx context.Context, stmt string) error {
		_, err := tx.ExecContext(ctx, stmt)
		return err
	}

	report := &SaveReport{}
	for i := range ex.Milestones {
		m := &ex.Milestones[i]
		m.ContractID = c.ID
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.UTC()
		}
		m.RefreshStatus(now)

		err := db.Savepoint(ctx, exec, fmt.Sprintf("milestone_%d", i), func() error {
			if err := m.Validate(); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO payment_milestones (`+sqliteMilestoneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				m.ID, m.ContractID, m.MilestoneName, m.Description, dateArg(m.InvoiceDate), m.DueDate.Format(dateLayout),
				m.Amount, m.Percentage, string(m.Status), m.PaymentReference, m.CreatedAt,
			)
			return err
		})
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Failed to create milestone %q: %v", m.MilestoneName, err))
			continue
		}
		report.MilestonesSaved++
	}

	if ex.Terms != nil {
		t := ex.Terms
		t.ContractID = c.ID
		err := db.Savepoint(ctx, exec, "terms", func() error {
			_, err := tx.ExecContext(ctx, termsUpsertSQLite,
				t.ContractID, string(t.PaymentMethod), string(t.PaymentFrequency), t.LateFeePercentage,
				t.GracePeriodDays, t.EarlyPaymentDiscount, t.BankDetails,
			)
			return err
		})
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Failed to save payment terms: %v", err))
		} else {
			report.TermsSaved = true
		}
	}
	return report, nil
}

// --- helpers ---

var termsColumns = []string{
	"contract_id", "payment_method", "payment_frequency", "late_fee_percentage",
	"grace_period_days", "early_payment_discount", "bank_details",
}

var termsUpsertSQLite = mustUpsert(db.Question)

func mustUpsert(ph db.Placeholder) string {
	q, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "payment_terms",
		Columns:      termsColumns,
		ConflictKeys: []string{"contract_id"},
	}, ph)
	if err != nil {
		panic(err)
	}
	return q
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func sqliteConflict(err error, msg string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed: contracts.contract_number") {
		return eris.Wrap(ErrDuplicateContractNumber, msg)
	}
	return eris.Wrap(err, msg)
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func parseDateText(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteContract(row scannable) (*model.Contract, error) {
	var c model.Contract
	var start, end, raw sql.NullString
	var status, method string
	if err := row.Scan(&c.ID, &c.ContractName, &c.ContractNumber, &c.ClientName, &c.TotalValue, &c.Currency,
		&c.PONumber, &start, &end, &status, &method, &c.ConfidenceScore, &raw, &c.Notes,
		&c.SourceFile, &c.ArchiveKey, &c.UploadedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.StartDate = parseDateText(start)
	c.EndDate = parseDateText(end)
	c.Status = model.ContractStatus(status)
	c.ExtractionMethod = model.ExtractionMethod(method)
	if raw.Valid && raw.String != "" {
		c.RawExtractedData = []byte(raw.String)
	}
	return &c, nil
}

func scanSQLiteClarification(row scannable) (*model.Clarification, error) {
	var c model.Clarification
	var page sql.NullInt64
	var answer sql.NullString
	var answeredAt sql.NullTime
	if err := row.Scan(&c.ID, &c.ContractID, &c.FieldName, &c.AIQuestion, &c.ContextSnippet, &page,
		&answer, &c.Answered, &answeredAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	if page.Valid {
		p := int(page.Int64)
		c.PageNumber = &p
	}
	if answer.Valid {
		a := answer.String
		c.UserAnswer = &a
	}
	if answeredAt.Valid {
		t := answeredAt.Time
		c.AnsweredAt = &t
	}
	return &c, nil
}
