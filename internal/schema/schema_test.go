package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline-io/ledgerline/internal/dataset"
)

func fullDataset() *dataset.Dataset {
	return &dataset.Dataset{
		Columns: []string{"account_code", "account_name", "balance", "classification", "entity", "period"},
		Rows: [][]string{
			{"1000", "Cash", "1,250.50", "BS", "acme", "2024-01"},
			{"4000", "Revenue", "(1,250.50)", "PL", "acme", "2024-01"},
		},
	}
}

func TestValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	contract := DefaultContract()

	t.Run("complete dataset is valid", func(t *testing.T) {
		v := Validate(fullDataset(), contract)

		assert.True(t, v.IsValid)
		assert.Empty(t, v.MissingRequired)
		assert.Empty(t, v.ExtraColumns)
	})

	t.Run("missing required columns listed in contract order", func(t *testing.T) {
		ds := &dataset.Dataset{
			Columns: []string{"balance", "entity", "account_name"},
		}

		v := Validate(ds, contract)

		assert.False(t, v.IsValid)
		assert.Equal(t, []string{"account_code", "classification", "period"}, v.MissingRequired)
	})

	t.Run("unknown columns reported as extra", func(t *testing.T) {
		ds := fullDataset()
		ds.Columns = append(ds.Columns, "department")
		ds.Rows[0] = append(ds.Rows[0], "ops")
		ds.Rows[1] = append(ds.Rows[1], "ops")

		v := Validate(ds, contract)

		assert.True(t, v.IsValid)
		assert.Equal(t, []string{"department"}, v.ExtraColumns)
	})

	t.Run("present optional columns reported", func(t *testing.T) {
		ds := fullDataset()
		ds.Columns = append(ds.Columns, "currency")
		ds.Rows[0] = append(ds.Rows[0], "EUR")
		ds.Rows[1] = append(ds.Rows[1], "EUR")

		v := Validate(ds, contract)

		assert.Equal(t, []string{"currency"}, v.PresentOptional)
	})
}

func TestNormalize(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	contract := DefaultContract()

	t.Run("fills absent optional columns with defaults", func(t *testing.T) {
		normalized, report := Normalize(fullDataset(), contract)

		assert.ElementsMatch(t, []string{"criticality", "currency", "status"}, report.FilledColumns)

		currency, err := normalized.Column("currency")
		require.NoError(t, err)
		assert.Equal(t, []string{"USD", "USD"}, currency)

		status, err := normalized.Column("status")
		require.NoError(t, err)
		assert.Equal(t, []string{"pending_review", "pending_review"}, status)
	})

	t.Run("canonicalizes balances to two decimals", func(t *testing.T) {
		normalized, report := Normalize(fullDataset(), contract)

		balances, err := normalized.Column("balance")
		require.NoError(t, err)
		assert.Equal(t, []string{"1250.50", "-1250.50"}, balances)
		assert.Zero(t, report.CoercedBalances)
	})

	t.Run("coerces blank and unparseable balances to zero", func(t *testing.T) {
		ds := fullDataset()
		ds.Rows[0][2] = ""
		ds.Rows[1][2] = "n/a"

		normalized, report := Normalize(ds, contract)

		balances, err := normalized.Column("balance")
		require.NoError(t, err)
		assert.Equal(t, []string{"0.00", "0.00"}, balances)
		assert.Equal(t, 2, report.CoercedBalances)
	})

	t.Run("strips float artifacts from account codes", func(t *testing.T) {
		ds := fullDataset()
		ds.Rows[0][0] = " 1000.0 "
		ds.Rows[1][0] = "0042.00"

		normalized, _ := Normalize(ds, contract)

		codes, err := normalized.Column("account_code")
		require.NoError(t, err)
		assert.Equal(t, []string{"1000", "0042"}, codes)
	})

	t.Run("never mutates the input dataset", func(t *testing.T) {
		ds := fullDataset()
		_, _ = Normalize(ds, contract)

		assert.Equal(t, "1,250.50", ds.Rows[0][2])
		assert.Len(t, ds.Columns, 6)
	})

	t.Run("is idempotent", func(t *testing.T) {
		once, _ := Normalize(fullDataset(), contract)
		twice, report := Normalize(once, contract)

		assert.Equal(t, once, twice)
		assert.Empty(t, report.FilledColumns)
		assert.Zero(t, report.CoercedBalances)
	})
}

func TestCanonicalAccountCode(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		raw  string
		want string
	}{
		{"1000", "1000"},
		{"1000.0", "1000"},
		{"1000.000", "1000"},
		{"0042.00", "0042"},
		{"  1000  ", "1000"},
		{"1000.5", "1000.5"}, // real fraction, not an artifact
		{"ABC", "ABC"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalAccountCode(tt.raw), "raw=%q", tt.raw)
	}
}
