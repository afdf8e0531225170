package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contract-payments/internal/model"
)

var fixedNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, now: func() time.Time { return fixedNow }}
	return s, mock
}

func TestPostgresStore_GetContract_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, contract_name, .* FROM contracts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetContract(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountUnanswered(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM contract_clarifications WHERE contract_id = \$1 AND NOT answered`).
		WithArgs("c-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountUnanswered(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RefreshOverdue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	today := time.Date(2025, 6, 15, 18, 30, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE payment_milestones SET status = \$1 WHERE status = \$2 AND due_date < \$3`).
		WithArgs("overdue", "pending", model.Date(today)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := s.RefreshOverdue(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateContract_DuplicateNumber(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE contracts SET`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "contracts_contract_number_key"})

	err := s.UpdateContract(context.Background(), &model.Contract{ID: "c-1", ContractNumber: "T-0615-deadbeef"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateContractNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateContract_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE contracts SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateContract(context.Background(), &model.Contract{ID: "gone"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction_SkipsBadMilestone(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	due := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	ex := &Extraction{
		Contract: &model.Contract{ID: "c-1", ContractNumber: "T-0615-deadbeef", Status: model.ContractStatusCompleted},
		Milestones: []model.PaymentMilestone{
			{MilestoneName: "Deposit", Amount: 5000, DueDate: due},
			{MilestoneName: "Broken", Amount: 0, DueDate: due},
		},
		Terms: &model.PaymentTerms{PaymentMethod: model.PaymentACH, PaymentFrequency: model.FrequencyMilestoneBased},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE contracts SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM payment_milestones WHERE contract_id = \$1`).
		WithArgs("c-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	mock.ExpectExec(`^SAVEPOINT "milestone_0"`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO payment_milestones`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT "milestone_0"`).WillReturnResult(pgxmock.NewResult("RELEASE", 0))

	// Validation fails before the insert so only the savepoint is unwound.
	mock.ExpectExec(`^SAVEPOINT "milestone_1"`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT "milestone_1"`).WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))

	mock.ExpectExec(`^SAVEPOINT "terms"`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO "payment_terms" .* ON CONFLICT \("contract_id"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT "terms"`).WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	report, err := s.SaveExtraction(context.Background(), ex)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MilestonesSaved)
	assert.True(t, report.TermsSaved)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], `"Broken"`)

	assert.Equal(t, "c-1", ex.Milestones[0].ContractID)
	assert.NotEmpty(t, ex.Milestones[0].ID)
	assert.Equal(t, model.MilestonePending, ex.Milestones[0].Status)
	assert.Equal(t, "c-1", ex.Terms.ContractID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction_ContractUpdateFailsRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE contracts SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := s.SaveExtraction(context.Background(), &Extraction{Contract: &model.Contract{ID: "gone"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExtraction_PastDueMilestoneIsOverdue(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	ex := &Extraction{
		Contract: &model.Contract{ID: "c-2"},
		Milestones: []model.PaymentMilestone{
			{MilestoneName: "Final", Amount: 100, DueDate: fixedNow.AddDate(0, -1, 0)},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE contracts SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM payment_milestones`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`^SAVEPOINT`).WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO payment_milestones`).
		WithArgs(pgxmock.AnyArg(), "c-2", "Final", "", pgxmock.AnyArg(), pgxmock.AnyArg(),
			100.0, pgxmock.AnyArg(), "overdue", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT`).WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectCommit()

	report, err := s.SaveExtraction(context.Background(), ex)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MilestonesSaved)
	assert.False(t, report.TermsSaved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BackfillInvoiceDates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE payment_milestones m\s+SET invoice_date = COALESCE`).
		WithArgs(model.InvoiceLeadDays).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := s.BackfillInvoiceDates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS contracts`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
