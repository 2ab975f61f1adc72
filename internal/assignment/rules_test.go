package assignment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadRules(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("loads and sorts a valid rule file", func(t *testing.T) {
		path := writeTempFile(t, "rules.yaml", `
rules:
  - name: fallback
    priority: 90
    require_reviewer: true
    sla_days: 10
  - name: big_money
    priority: 5
    min_abs_balance: 500000
    require_reviewer: true
    require_approver: true
    sla_days: 2
`)

		rules, err := LoadRules(path)
		require.NoError(t, err)
		require.Len(t, rules, 2)

		assert.Equal(t, "big_money", rules[0].Name)
		assert.InDelta(t, 500000.0, rules[0].MinAbsBalance, 0.001)
		assert.True(t, rules[0].RequireApprover)
		assert.Equal(t, "fallback", rules[1].Name)
	})

	t.Run("rule file without catch-all rejected", func(t *testing.T) {
		path := writeTempFile(t, "rules.yaml", `
rules:
  - name: only_big
    priority: 10
    min_abs_balance: 100
`)

		_, err := LoadRules(path)
		require.ErrorIs(t, err, ErrNoCatchAll)
	})

	t.Run("malformed yaml rejected", func(t *testing.T) {
		path := writeTempFile(t, "rules.yaml", "rules: [unclosed")

		_, err := LoadRules(path)
		require.Error(t, err)
	})

	t.Run("missing file rejected", func(t *testing.T) {
		_, err := LoadRules("/nonexistent/rules.yaml")
		require.Error(t, err)
	})
}

func TestLoadDirectory(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	path := writeTempFile(t, "directory.yaml", `
users:
  - id: u1
    name: Reviewer One
    entities: [acme, beta]
  - id: a1
    name: Approver One
    entities: [acme]
    approver: true
`)

	dir, err := LoadDirectory(path)
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("reviewers scoped by entity", func(t *testing.T) {
		reviewers, err := dir.Reviewers(ctx, "beta")
		require.NoError(t, err)
		require.Len(t, reviewers, 1)
		assert.Equal(t, "u1", reviewers[0].ID)
	})

	t.Run("approvers require the approver flag", func(t *testing.T) {
		approvers, err := dir.Approvers(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, approvers, 1)
		assert.Equal(t, "a1", approvers[0].ID)
	})

	t.Run("unknown entity yields no candidates", func(t *testing.T) {
		reviewers, err := dir.Reviewers(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, reviewers)
	})
}
