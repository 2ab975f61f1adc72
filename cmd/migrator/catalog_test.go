package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeMigrations creates a temp migrations directory with the given files.
func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()

	for name, content := range files {
		err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600)
		require.NoError(t, err)
	}

	return dir
}

func TestCatalogList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	dir := writeMigrations(t, map[string]string{
		"001_create_ledger_records.up.sql":   "CREATE TABLE ledger_records ();",
		"001_create_ledger_records.down.sql": "DROP TABLE ledger_records;",
		"notes.txt":                          "not a migration",
		"bad-name.sql":                       "SELECT 1;",
	})

	catalog := NewMigrationCatalog(dir)

	files, err := catalog.List()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"001_create_ledger_records.down.sql",
		"001_create_ledger_records.up.sql",
	}, files)
}

func TestCatalogValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("valid set passes", func(t *testing.T) {
		dir := writeMigrations(t, map[string]string{
			"001_create_ledger_records.up.sql":   "CREATE TABLE ledger_records ();",
			"001_create_ledger_records.down.sql": "DROP TABLE ledger_records;",
			"002_create_assignments.up.sql":      "CREATE TABLE assignments ();",
			"002_create_assignments.down.sql":    "DROP TABLE assignments;",
		})

		require.NoError(t, NewMigrationCatalog(dir).Validate())
	})

	t.Run("missing down migration fails", func(t *testing.T) {
		dir := writeMigrations(t, map[string]string{
			"001_create_ledger_records.up.sql": "CREATE TABLE ledger_records ();",
		})

		err := NewMigrationCatalog(dir).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing down migration")
	})

	t.Run("sequence gap fails", func(t *testing.T) {
		dir := writeMigrations(t, map[string]string{
			"001_create_ledger_records.up.sql":   "CREATE TABLE ledger_records ();",
			"001_create_ledger_records.down.sql": "DROP TABLE ledger_records;",
			"003_create_assignments.up.sql":      "CREATE TABLE assignments ();",
			"003_create_assignments.down.sql":    "DROP TABLE assignments;",
		})

		err := NewMigrationCatalog(dir).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gap in migration sequence")
	})

	t.Run("sequence not starting at 001 fails", func(t *testing.T) {
		dir := writeMigrations(t, map[string]string{
			"002_create_assignments.up.sql":   "CREATE TABLE assignments ();",
			"002_create_assignments.down.sql": "DROP TABLE assignments;",
		})

		err := NewMigrationCatalog(dir).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "should start with 001")
	})

	t.Run("empty directory fails", func(t *testing.T) {
		err := NewMigrationCatalog(t.TempDir()).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no migration files found")
	})

	t.Run("detects modified file across validations", func(t *testing.T) {
		dir := writeMigrations(t, map[string]string{
			"001_create_ledger_records.up.sql":   "CREATE TABLE ledger_records ();",
			"001_create_ledger_records.down.sql": "DROP TABLE ledger_records;",
		})

		catalog := NewMigrationCatalog(dir)
		require.NoError(t, catalog.Validate())

		err := os.WriteFile(
			filepath.Join(dir, "001_create_ledger_records.up.sql"),
			[]byte("CREATE TABLE tampered ();"), 0o600)
		require.NoError(t, err)

		err = catalog.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum mismatch")
	})
}
