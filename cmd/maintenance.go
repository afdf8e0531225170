package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contract-payments/internal/clarify"
)

var fixStatusStuckAfter time.Duration

var fixStatusCmd = &cobra.Command{
	Use:   "fix-status",
	Short: "Complete contracts whose clarifications are all answered and recover stuck ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := clarify.New(st).FixStatus(cmd.Context(), fixStatusStuckAfter)
		if err != nil {
			return err
		}
		zap.L().Info("fix-status complete", zap.Int("completed", report.Completed), zap.Int("errored", report.Errored), zap.Int("skipped", report.Skipped))
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var refreshOverdueCmd = &cobra.Command{
	Use:   "refresh-overdue",
	Short: "Mark pending milestones past their due date as overdue",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.RefreshOverdue(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		zap.L().Info("overdue milestones refreshed", zap.Int("updated", n))
		return printJSON(cmd.OutOrStdout(), map[string]int{"updated": n})
	},
}

var backfillInvoiceDatesCmd = &cobra.Command{
	Use:   "backfill-invoice-dates",
	Short: "Fill missing milestone invoice dates",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.BackfillInvoiceDates(cmd.Context())
		if err != nil {
			return err
		}
		zap.L().Info("invoice dates backfilled", zap.Int("updated", n))
		return printJSON(cmd.OutOrStdout(), map[string]int{"updated": n})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("schema is up to date", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	fixStatusCmd.Flags().DurationVar(&fixStatusStuckAfter, "stuck-after", clarify.DefaultStuckAfter, "age after which a processing contract counts as stuck")
	rootCmd.AddCommand(fixStatusCmd, refreshOverdueCmd, backfillInvoiceDatesCmd, migrateCmd)
}
