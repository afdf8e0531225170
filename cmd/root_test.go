package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{
		"process", "batch", "status", "clarifications", "reprocess",
		"fix-status", "refresh-overdue", "backfill-invoice-dates", "migrate", "serve",
	}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "contracts", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestClarificationsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range clarificationsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "answer", "apply"} {
		assert.True(t, names[name], "expected clarifications subcommand %q", name)
	}

	flag := clarificationsListCmd.Flags().Lookup("unanswered")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag, "batch command should have --concurrency flag")
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, batchCmd.Flags().Lookup("report"))
	assert.Error(t, batchCmd.Args(batchCmd, nil))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestFixStatusCommand_Flags(t *testing.T) {
	flag := fixStatusCmd.Flags().Lookup("stuck-after")
	require.NotNil(t, flag)
	assert.Equal(t, "1h0m0s", flag.DefValue)
}

func TestProcessCommand_RequiresFile(t *testing.T) {
	assert.Error(t, processCmd.Args(processCmd, nil))
	assert.NoError(t, processCmd.Args(processCmd, []string{"a.pdf"}))
	assert.Error(t, clarificationsAnswerCmd.Args(clarificationsAnswerCmd, []string{"id"}))
	assert.NoError(t, clarificationsAnswerCmd.Args(clarificationsAnswerCmd, []string{"id", "March", "1"}))
}
