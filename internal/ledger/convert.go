package ledger

import (
	"strings"

	"github.com/ledgerline-io/ledgerline/internal/dataset"
)

// columnGetter resolves a column index once and returns a per-row accessor
// that yields "" for absent columns.
func columnGetter(ds *dataset.Dataset, name string) func(row int) string {
	idx, err := ds.ColumnIndex(name)
	if err != nil {
		return func(int) string { return "" }
	}

	return func(row int) string { return ds.Rows[row][idx] }
}

// RecordsFromDataset converts a normalized dataset into typed ledger records.
//
// Cell values are carried over verbatim (trimmed) so the rule battery sees the
// data exactly as it will be persisted: blank identity fields stay blank and
// are flagged by the battery rather than silently repaired here. Balance cells
// that fail to parse map to zero, matching the normalization policy.
func RecordsFromDataset(ds *dataset.Dataset) []Record {
	get := map[string]func(int) string{}
	for _, col := range []string{
		"account_code", "account_name", "balance", "classification",
		"entity", "period", "currency", "status", "criticality",
	} {
		get[col] = columnGetter(ds, col)
	}

	records := make([]Record, ds.RowCount())

	for i := range records {
		balance, _, err := dataset.ParseFloat(get["balance"](i))
		if err != nil {
			balance = 0
		}

		records[i] = Record{
			AccountCode:    strings.TrimSpace(get["account_code"](i)),
			AccountName:    strings.TrimSpace(get["account_name"](i)),
			Balance:        balance,
			Classification: Classification(strings.TrimSpace(get["classification"](i))),
			Status:         ReviewStatus(strings.TrimSpace(get["status"](i))),
			Criticality:    Criticality(strings.TrimSpace(get["criticality"](i))),
			Currency:       strings.TrimSpace(get["currency"](i)),
			Entity:         strings.TrimSpace(get["entity"](i)),
			Period:         strings.TrimSpace(get["period"](i)),
		}
	}

	return records
}
