package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder selects the bind parameter syntax of a dialect.
type Placeholder int

const (
	Dollar   Placeholder = iota // $1, $2 (Postgres)
	Question                    // ?, ? (SQLite)
)

func (p Placeholder) bind(i int) string {
	if p == Question {
		return "?"
	}
	return fmt.Sprintf("$%d", i)
}

// UpsertConfig defines a single-row upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "payment_terms")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// UpsertSQL builds INSERT ... ON CONFLICT (keys) DO UPDATE SET ... for one
// row. Both Postgres and SQLite (3.24+) accept the statement.
func UpsertSQL(cfg UpsertConfig, ph Placeholder) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	binds := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		binds[i] = ph.bind(i + 1)
	}

	action := "DO NOTHING"
	if len(updateCols) > 0 {
		sets := make([]string, len(updateCols))
		for i, col := range updateCols {
			q := pgx.Identifier{col}.Sanitize()
			sets[i] = fmt.Sprintf("%s = excluded.%s", q, q)
		}
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(binds, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	), nil
}

// sanitizeTable handles schema-qualified table names like "billing.contracts".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
