package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <file.pdf>",
	Short: "Extract payment terms from one contract PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Processor.ProcessFile(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <contract-id>",
	Short: "Show the processing status of a contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Processor.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <contract-id>",
	Short: "Run extraction again on the archived source of a failed contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Processor.Reprocess(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(processCmd, statusCmd, reprocessCmd)
}
