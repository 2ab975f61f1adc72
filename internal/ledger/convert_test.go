package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline-io/ledgerline/internal/dataset"
)

func TestRecordsFromDataset(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ds := &dataset.Dataset{
		Columns: []string{
			"account_code", "account_name", "balance", "classification",
			"entity", "period", "currency", "status", "criticality",
		},
		Rows: [][]string{
			{"1000", "Cash", "1250.50", "BS", "acme", "2024-01", "USD", "pending_review", "standard"},
			{"", "Mystery", "bad", "PL", "acme", "2024-01", "USD", "pending_review", "standard"},
		},
	}

	records := RecordsFromDataset(ds)
	require.Len(t, records, 2)

	t.Run("clean row maps field by field", func(t *testing.T) {
		r := records[0]

		assert.Equal(t, "1000", r.AccountCode)
		assert.Equal(t, "Cash", r.AccountName)
		assert.InDelta(t, 1250.50, r.Balance, 0.001)
		assert.Equal(t, ClassificationBalanceSheet, r.Classification)
		assert.Equal(t, StatusPendingReview, r.Status)
		assert.Equal(t, CriticalityStandard, r.Criticality)
		assert.Equal(t, "USD", r.Currency)
		assert.Equal(t, "acme", r.Entity)
		assert.Equal(t, "2024-01", r.Period)
	})

	t.Run("blank identity fields stay blank for the rule battery", func(t *testing.T) {
		assert.Empty(t, records[1].AccountCode)
	})

	t.Run("unparseable balance maps to zero", func(t *testing.T) {
		assert.Zero(t, records[1].Balance)
	})
}

func TestRecordsFromDatasetMissingColumns(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ds := &dataset.Dataset{
		Columns: []string{"account_code", "balance"},
		Rows:    [][]string{{"1000", "10.00"}},
	}

	records := RecordsFromDataset(ds)
	require.Len(t, records, 1)

	assert.Equal(t, "1000", records[0].AccountCode)
	assert.Empty(t, records[0].Entity)
	assert.Empty(t, records[0].Period)
}
