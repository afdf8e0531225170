package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contract-payments/internal/processor"
)

var (
	batchConcurrency int
	batchReportPath  string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Process every contract PDF under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		files, err := processor.ListPDFs(args[0])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			zap.L().Info("no PDF files found", zap.String("dir", args[0]))
			return nil
		}

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency == 0 {
			concurrency = cfg.Batch.Concurrency
		}

		report, runErr := env.Processor.Batch(ctx, files, concurrency)
		if report != nil && batchReportPath != "" {
			if err := report.WriteReport(batchReportPath); err != nil {
				return err
			}
			zap.L().Info("batch report written", zap.String("path", batchReportPath))
		}
		if report != nil {
			if err := printJSON(cmd.OutOrStdout(), report.Stats); err != nil {
				return err
			}
		}
		if runErr != nil {
			return runErr
		}
		if report.Stats.Succeeded == 0 {
			return eris.Errorf("batch: all %d files failed", report.Stats.Failed)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "documents processed in parallel (default from config)")
	batchCmd.Flags().StringVar(&batchReportPath, "report", "", "write a .json or .yaml report to this path")
	rootCmd.AddCommand(batchCmd)
}
