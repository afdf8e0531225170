package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var clarificationsUnanswered bool

var clarificationsCmd = &cobra.Command{
	Use:     "clarifications",
	Aliases: []string{"clar"},
	Short:   "List, answer and apply clarification questions",
}

var clarificationsListCmd = &cobra.Command{
	Use:   "list <contract-id>",
	Short: "List the clarification questions of a contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetContract(cmd.Context(), args[0]); err != nil {
			return err
		}
		list, err := st.ListClarifications(cmd.Context(), args[0], clarificationsUnanswered)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), list)
	},
}

var clarificationsAnswerCmd = &cobra.Command{
	Use:   "answer <clarification-id> <answer...>",
	Short: "Answer a clarification question",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Resolver.Answer(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var clarificationsApplyCmd = &cobra.Command{
	Use:   "apply <contract-id>",
	Short: "Apply answered clarifications to the contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Resolver.Apply(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	clarificationsListCmd.Flags().BoolVar(&clarificationsUnanswered, "unanswered", false, "only show open questions")
	clarificationsCmd.AddCommand(clarificationsListCmd, clarificationsAnswerCmd, clarificationsApplyCmd)
	rootCmd.AddCommand(clarificationsCmd)
}
