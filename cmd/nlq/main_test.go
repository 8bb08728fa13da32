package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aman-zulfiqar/defi-nlq/internal/sqlguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestGuardCommand(t *testing.T) {
	out, err := run(t, "", "guard", "--limit", "100", "SELECT * FROM update.pool_yields_latest")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM update.pool_yields_latest\nLIMIT 100\n", out)

	_, err = run(t, "SELECT 1; DROP TABLE x;", "guard", "--limit", "100")
	assert.ErrorIs(t, err, sqlguard.ErrMultipleStatements)
}

func TestClassifyCommand(t *testing.T) {
	out, err := run(t, "", "classify", "What's the current APY for WETH-USDC on Aerodrome?")
	require.NoError(t, err)

	var report classifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "in_scope", string(report.Scope))
	assert.Equal(t, "pool_analysis", string(report.Intent))
	assert.Contains(t, report.Tables, "update.pool_yields_latest")
	assert.Empty(t, report.Doc)

	out, err = run(t, "", "classify", "What can I ask you?")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "meta", string(report.Scope))
}
