package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-payments/internal/db"
	"github.com/sells-group/contract-payments/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contracts (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	contract_name      TEXT NOT NULL,
	contract_number    TEXT NOT NULL UNIQUE,
	client_name        TEXT NOT NULL DEFAULT '',
	total_value        NUMERIC(15,2),
	currency           TEXT NOT NULL DEFAULT 'USD',
	po_number          TEXT NOT NULL DEFAULT '',
	start_date         DATE,
	end_date           DATE,
	status             TEXT NOT NULL DEFAULT 'uploaded',
	extraction_method  TEXT NOT NULL DEFAULT 'manual',
	confidence_score   NUMERIC(5,2) CHECK (confidence_score IS NULL OR (confidence_score >= 0 AND confidence_score <= 100)),
	raw_extracted_data JSONB,
	notes              TEXT NOT NULL DEFAULT '',
	source_file        TEXT NOT NULL DEFAULT '',
	archive_key        TEXT NOT NULL DEFAULT '',
	uploaded_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_milestones (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	contract_id       TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	milestone_name    TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	invoice_date      DATE,
	due_date          DATE NOT NULL,
	amount            NUMERIC(15,2) NOT NULL CHECK (amount > 0),
	percentage        NUMERIC(5,2) CHECK (percentage IS NULL OR (percentage > 0 AND percentage <= 100)),
	status            TEXT NOT NULL DEFAULT 'pending',
	payment_reference TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payment_terms (
	contract_id            TEXT PRIMARY KEY REFERENCES contracts(id) ON DELETE CASCADE,
	payment_method         TEXT NOT NULL DEFAULT 'wire_transfer',
	payment_frequency      TEXT NOT NULL DEFAULT 'one_time',
	late_fee_percentage    NUMERIC(5,2),
	grace_period_days      INTEGER NOT NULL DEFAULT 0,
	early_payment_discount NUMERIC(5,2),
	bank_details           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS contract_clarifications (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	contract_id     TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	field_name      TEXT NOT NULL,
	ai_question     TEXT NOT NULL,
	context_snippet TEXT NOT NULL DEFAULT '',
	page_number     INTEGER,
	user_answer     TEXT,
	answered        BOOLEAN NOT NULL DEFAULT false,
	answered_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts(status);
CREATE INDEX IF NOT EXISTS idx_milestones_contract_id ON payment_milestones(contract_id);
CREATE INDEX IF NOT EXISTS idx_milestones_status_due ON payment_milestones(status, due_date);
CREATE INDEX IF NOT EXISTS idx_clarifications_contract_id ON contract_clarifications(contract_id, answered);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// --- Contracts ---

const pgContractColumns = `id, contract_name, contract_number, client_name, total_value, currency, po_number,
	start_date, end_date, status, extraction_method, confidence_score, raw_extracted_data, notes,
	source_file, archive_key, uploaded_at, updated_at`

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.clock().UTC()
	if c.UploadedAt.IsZero() {
		c.UploadedAt = now
	}
	c.UpdatedAt = now
	if c.Currency == "" {
		c.Currency = model.DefaultCurrency
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts (`+pgContractColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.ContractName, c.ContractNumber, c.ClientName, c.TotalValue, c.Currency, c.PONumber,
		c.StartDate, c.EndDate, string(c.Status), string(c.ExtractionMethod), c.ConfidenceScore,
		jsonArg(c.RawExtractedData), c.Notes, c.SourceFile, c.ArchiveKey, c.UploadedAt, c.UpdatedAt,
	)
	if err != nil {
		return pgConflict(err, "postgres: insert contract")
	}
	return nil
}

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgContractColumns+` FROM contracts WHERE id = $1`, id)
	c, err := scanPgContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get contract %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contract %s", id)
	}
	return c, nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) UpdateContract(ctx context.Context, c *model.Contract) error {
	return updatePgContract(ctx, s.pool, c, s.clock())
}

func updatePgContract(ctx context.Context, ex pgExecer, c *model.Contract, now time.Time) error {
	c.UpdatedAt = now.UTC()
	tag, err := ex.Exec(ctx,
		`UPDATE contracts SET contract_name = $1, contract_number = $2, client_name = $3, total_value = $4,
			currency = $5, po_number = $6, start_date = $7, end_date = $8, status = $9, extraction_method = $10,
			confidence_score = $11, raw_extracted_data = $12, notes = $13, source_file = $14, archive_key = $15,
			updated_at = $16
		WHERE id = $17`,
		c.ContractName, c.ContractNumber, c.ClientName, c.TotalValue,
		c.Currency, c.PONumber, c.StartDate, c.EndDate, string(c.Status), string(c.ExtractionMethod),
		c.ConfidenceScore, jsonArg(c.RawExtractedData), c.Notes, c.SourceFile, c.ArchiveKey,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		return pgConflict(err, "postgres: update contract "+c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contract %s", c.ID)
	}
	return nil
}

func (s *PostgresStore) ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error) {
	query := `SELECT ` + pgContractColumns + ` FROM contracts`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY uploaded_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contracts")
	}
	defer rows.Close()

	var out []model.Contract
	for rows.Next() {
		c, err := scanPgContract(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan contract")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate contracts")
}

// --- Milestones ---

const pgMilestoneColumns = `id, contract_id, milestone_name, description, invoice_date, due_date, amount,
	percentage, status, payment_reference, created_at`

func (s *PostgresStore) ListMilestones(ctx context.Context, contractID string) ([]model.PaymentMilestone, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgMilestoneColumns+` FROM payment_milestones WHERE contract_id = $1 ORDER BY due_date, created_at`,
		contractID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list milestones %s", contractID)
	}
	defer rows.Close()

	var out []model.PaymentMilestone
	for rows.Next() {
		var m model.PaymentMilestone
		var status string
		if err := rows.Scan(&m.ID, &m.ContractID, &m.MilestoneName, &m.Description, &m.InvoiceDate, &m.DueDate,
			&m.Amount, &m.Percentage, &status, &m.PaymentReference, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan milestone")
		}
		m.Status = model.MilestoneStatus(status)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate milestones")
}

func (s *PostgresStore) CountMilestones(ctx context.Context, contractID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payment_milestones WHERE contract_id = $1`, contractID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count milestones %s", contractID)
}

func (s *PostgresStore) RefreshOverdue(ctx context.Context, today time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_milestones SET status = $1 WHERE status = $2 AND due_date < $3`,
		string(model.MilestoneOverdue), string(model.MilestonePending), model.Date(today),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: refresh overdue")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) BackfillInvoiceDates(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payment_milestones m
		SET invoice_date = COALESCE(c.start_date, m.due_date - $1::int)
		FROM contracts c
		WHERE c.id = m.contract_id AND m.invoice_date IS NULL`,
		model.InvoiceLeadDays,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: backfill invoice dates")
	}
	return int(tag.RowsAffected()), nil
}

// --- Terms ---

func (s *PostgresStore) GetTerms(ctx context.Context, contractID string) (*model.PaymentTerms, error) {
	var t model.PaymentTerms
	var method, freq string
	err := s.pool.QueryRow(ctx,
		`SELECT contract_id, payment_method, payment_frequency, late_fee_percentage, grace_period_days,
			early_payment_discount, bank_details FROM payment_terms WHERE contract_id = $1`,
		contractID,
	).Scan(&t.ContractID, &method, &freq, &t.LateFeePercentage, &t.GracePeriodDays, &t.EarlyPaymentDiscount, &t.BankDetails)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get terms %s", contractID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get terms %s", contractID)
	}
	t.PaymentMethod = model.PaymentMethod(method)
	t.PaymentFrequency = model.PaymentFrequency(freq)
	return &t, nil
}

// --- Clarifications ---

const pgClarificationColumns = `id, contract_id, field_name, ai_question, context_snippet, page_number,
	user_answer, answered, answered_at, created_at`

func (s *PostgresStore) CreateClarification(ctx context.Context, c *model.Clarification) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contract_clarifications (`+pgClarificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.ContractID, c.FieldName, c.AIQuestion, c.ContextSnippet, c.PageNumber,
		c.UserAnswer, c.Answered, c.AnsweredAt, c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert clarification")
}

func (s *PostgresStore) GetClarification(ctx context.Context, id string) (*model.Clarification, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgClarificationColumns+` FROM contract_clarifications WHERE id = $1`, id)
	c, err := scanPgClarification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get clarification %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get clarification %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListClarifications(ctx context.Context, contractID string, unansweredOnly bool) ([]model.Clarification, error) {
	query := `SELECT ` + pgClarificationColumns + ` FROM contract_clarifications WHERE contract_id = $1`
	if unansweredOnly {
		query += ` AND NOT answered`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, contractID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list clarifications %s", contractID)
	}
	defer rows.Close()

	var out []model.Clarification
	for rows.Next() {
		c, err := scanPgClarification(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan clarification")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate clarifications")
}

func (s *PostgresStore) AnswerClarification(ctx context.Context, c *model.Clarification) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contract_clarifications SET user_answer = $1, answered = $2, answered_at = $3 WHERE id = $4`,
		c.UserAnswer, c.Answered, c.AnsweredAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: answer clarification %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "clarification %s", c.ID)
	}
	return nil
}

func (s *PostgresStore) CountUnanswered(ctx context.Context, contractID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contract_clarifications WHERE contract_id = $1 AND NOT answered`, contractID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count unanswered %s", contractID)
}

func (s *PostgresStore) DeleteClarifications(ctx context.Context, contractID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM contract_clarifications WHERE contract_id = $1`, contractID)
	return eris.Wrapf(err, "postgres: delete clarifications %s", contractID)
}

// --- Extraction ---

var termsUpsertPostgres = mustUpsert(db.Dollar)

func (s *PostgresStore) SaveExtraction(ctx context.Context, ex *Extraction) (*SaveReport, error) {
	var report *SaveReport
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := s.saveExtraction(ctx, tx, ex)
		report = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *PostgresStore) saveExtraction(ctx context.Context, tx pgx.Tx, ex *Extraction) (*SaveReport, error) {
	now := s.clock()
	c := ex.Contract
	if err := updatePgContract(ctx, tx, c, now); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM payment_milestones WHERE contract_id = $1`, c.ID); err != nil {
		return nil, eris.Wrapf(err, "postgres: clear milestones %s", c.ID)
	}

	exec := db.PgxExec(tx)
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
			_, err := tx.Exec(ctx,
				`INSERT INTO payment_milestones (`+pgMilestoneColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				m.ID, m.ContractID, m.MilestoneName, m.Description, m.InvoiceDate, m.DueDate,
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
			_, err := tx.Exec(ctx, termsUpsertPostgres,
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

func pgConflict(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return eris.Wrap(ErrDuplicateContractNumber, msg)
	}
	return eris.Wrap(err, msg)
}

func scanPgContract(row scannable) (*model.Contract, error) {
	var c model.Contract
	var status, method string
	var raw []byte
	if err := row.Scan(&c.ID, &c.ContractName, &c.ContractNumber, &c.ClientName, &c.TotalValue, &c.Currency,
		&c.PONumber, &c.StartDate, &c.EndDate, &status, &method, &c.ConfidenceScore, &raw, &c.Notes,
		&c.SourceFile, &c.ArchiveKey, &c.UploadedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = model.ContractStatus(status)
	c.ExtractionMethod = model.ExtractionMethod(method)
	if len(raw) > 0 {
		c.RawExtractedData = raw
	}
	return &c, nil
}

func scanPgClarification(row scannable) (*model.Clarification, error) {
	var c model.Clarification
	if err := row.Scan(&c.ID, &c.ContractID, &c.FieldName, &c.AIQuestion, &c.ContextSnippet, &c.PageNumber,
		&c.UserAnswer, &c.Answered, &c.AnsweredAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
