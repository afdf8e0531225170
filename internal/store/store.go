package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-payments/internal/config"
	"github.com/sells-group/contract-payments/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicateContractNumber is returned when a contract number is taken.
	ErrDuplicateContractNumber = eris.New("store: contract number already exists")
)

// ContractFilter specifies criteria for listing contracts.
type ContractFilter struct {
	Status model.ContractStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
}

// Extraction is everything one pipeline run writes for a contract.
type Extraction struct {
	Contract   *model.Contract
	Milestones []model.PaymentMilestone
	Terms      *model.PaymentTerms
}

// SaveReport describes a SaveExtraction call. Rows that could not be written
// are reported as warnings rather than failing the contract update.
type SaveReport struct {
	MilestonesSaved int
	TermsSaved      bool
	Warnings        []string
}

// Store defines the persistence interface for contracts and their payment
// data.
type Store interface {
	// Contracts
	CreateContract(ctx context.Context, c *model.Contract) error
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	UpdateContract(ctx context.Context, c *model.Contract) error
	ListContracts(ctx context.Context, filter ContractFilter) ([]model.Contract, error)

	// Milestones
	ListMilestones(ctx context.Context, contractID string) ([]model.PaymentMilestone, error)
	CountMilestones(ctx context.Context, contractID string) (int, error)
	RefreshOverdue(ctx context.Context, today time.Time) (int, error)
	BackfillInvoiceDates(ctx context.Context) (int, error)

	// Terms
	GetTerms(ctx context.Context, contractID string) (*model.PaymentTerms, error)

	// Clarifications
	CreateClarification(ctx context.Context, c *model.Clarification) error
	GetClarification(ctx context.Context, id string) (*model.Clarification, error)
	ListClarifications(ctx context.Context, contractID string, unansweredOnly bool) ([]model.Clarification, error)
	AnswerClarification(ctx context.Context, c *model.Clarification) error
	CountUnanswered(ctx context.Context, contractID string) (int, error)
	DeleteClarifications(ctx context.Context, contractID string) error

	// SaveExtraction writes the contract, replaces its milestones and upserts
	// its terms in one transaction.
	SaveExtraction(ctx context.Context, ex *Extraction) (*SaveReport, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns})
	case "sqlite", "":
		return NewSQLite(cfg.SQLitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

const dateLayout = "2006-01-02"
