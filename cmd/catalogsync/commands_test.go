package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/auth"
	"github.com/utafrali/catalogsync/internal/domain"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"reindex", "embed", "serve", "token"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestReindexCmd_RecreateFlag(t *testing.T) {
	cmd := newReindexCmd()

	flag := cmd.Flags().Lookup("recreate")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)

	require.NoError(t, cmd.ParseFlags([]string{"--recreate"}))
	recreate, err := cmd.Flags().GetBool("recreate")
	require.NoError(t, err)
	assert.True(t, recreate)
}

func TestReindexCmd_RejectsArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"reindex", "products"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestReindexCmd_InvalidConfig(t *testing.T) {
	t.Setenv("SEARCH_ENGINE", "solr")
	root := newRootCmd()
	root.SetArgs([]string{"reindex"})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	report := domain.BackfillReport{
		RunID:      "run-1",
		Scanned:    3,
		Embedded:   2,
		Skipped:    1,
		StartedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC),
	}
	require.NoError(t, printJSON(cmd, report))

	assert.JSONEq(t, `{
		"run_id": "run-1",
		"scanned": 3,
		"embedded": 2,
		"skipped": 1,
		"started_at": "2026-03-01T12:00:00Z",
		"finished_at": "2026-03-01T12:01:00Z"
	}`, out.String())
}

func TestTokenCmd_IssuesAdminToken(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	t.Setenv("ADMIN_JWT_SECRET", secret)

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--subject", "ops", "--ttl", "10m"})

	require.NoError(t, root.Execute())

	claims, err := auth.NewJWTManager(secret).Validate(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"token"})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_JWT_SECRET")
}
