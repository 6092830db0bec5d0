package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-benefits/claimflow/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"run", "ingest", "serve", "exceptions", "ledger", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "claimflow", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("sender")
	require.NotNil(t, flag, "run command should have --sender flag")
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestExceptionsCommand_HasSubcommands(t *testing.T) {
	cmds := exceptionsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["approve"])
}

func TestExceptionsApprove_Flags(t *testing.T) {
	for _, name := range []string{"event-date", "amount", "invoice", "policy"} {
		assert.NotNil(t, exceptionsApproveCmd.Flags().Lookup(name), "missing --%s", name)
	}
}

func TestLedgerCommand_HasSubcommands(t *testing.T) {
	cmds := ledgerCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	assert.True(t, names["status"])
	assert.True(t, names["flush"])
}

func TestInitStore_UnknownDriver(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = &config.Config{}
	cfg.Store.Driver = "oracle"

	_, err := initStore(t.Context())
	assert.Error(t, err)
}

func TestInitBackend_UnknownBackend(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = &config.Config{}
	cfg.Claims.Backend = "fax"

	_, err := initBackend()
	assert.Error(t, err)
}
