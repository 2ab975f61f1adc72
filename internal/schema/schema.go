// Package schema checks datasets against the versioned column contract and
// normalizes them into canonical form before validation and persistence.
package schema

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerline-io/ledgerline/internal/dataset"
)

type (
	// Contract is the fixed column contract of a ledger extract: an ordered
	// list of required columns plus optional columns with defaults. A dataset
	// that fails required-column presence must never reach persistence.
	Contract struct {
		// Required is the expected ordered list of mandatory columns.
		Required []string

		// Optional maps optional column names to their default values, filled
		// in during normalization when the column is absent.
		Optional map[string]string

		// BalanceColumn names the primary numeric column.
		BalanceColumn string

		// AccountCodeColumn names the account identifier column.
		AccountCodeColumn string
	}

	// Validation is the result of checking a dataset against a Contract.
	Validation struct {
		// IsValid is true iff MissingRequired is empty.
		IsValid bool

		// MissingRequired lists required columns absent from the dataset, in
		// contract order.
		MissingRequired []string

		// ExtraColumns lists dataset columns the contract does not know about.
		ExtraColumns []string

		// PresentOptional lists optional columns the dataset already carries.
		PresentOptional []string
	}

	// NormalizationReport describes what Normalize changed. The
	// balance-coercion policy (unparseable or blank balances become zero, not
	// a validation error) is deliberate but lossy, so the count is surfaced to
	// the caller for logging and audit metadata.
	NormalizationReport struct {
		// FilledColumns lists optional columns that were absent and got their
		// default value.
		FilledColumns []string

		// CoercedBalances counts balance cells that were blank or unparseable
		// and were coerced to zero.
		CoercedBalances int
	}
)

// DefaultContract returns the v1 ledger extract contract.
func DefaultContract() *Contract {
	return &Contract{
		Required: []string{
			"account_code",
			"account_name",
			"balance",
			"classification",
			"entity",
			"period",
		},
		Optional: map[string]string{
			"currency":    "USD",
			"status":      "pending_review",
			"criticality": "standard",
		},
		BalanceColumn:     "balance",
		AccountCodeColumn: "account_code",
	}
}

// Validate computes the set difference between the dataset's columns and the
// contract's required/optional sets.
func Validate(ds *dataset.Dataset, contract *Contract) *Validation {
	present := make(map[string]bool, len(ds.Columns))
	for _, col := range ds.Columns {
		present[col] = true
	}

	known := make(map[string]bool, len(contract.Required)+len(contract.Optional))
	for _, col := range contract.Required {
		known[col] = true
	}

	for col := range contract.Optional {
		known[col] = true
	}

	v := &Validation{}

	for _, col := range contract.Required {
		if !present[col] {
			v.MissingRequired = append(v.MissingRequired, col)
		}
	}

	for _, col := range ds.Columns {
		if !known[col] {
			v.ExtraColumns = append(v.ExtraColumns, col)
		}
	}

	for col := range contract.Optional {
		if present[col] {
			v.PresentOptional = append(v.PresentOptional, col)
		}
	}

	v.IsValid = len(v.MissingRequired) == 0

	return v
}

// decimalArtifactPattern matches account codes that went through a float
// round-trip upstream: "1000.0", "0042.00". The fractional part is stripped
// during canonicalization; leading zeros are preserved.
var decimalArtifactPattern = regexp.MustCompile(`^(\d+)\.0+$`)

// Normalize returns a normalized copy of ds:
//
//   - absent optional columns are appended with their declared default,
//   - the balance column is coerced to a canonical two-decimal form, with
//     blank/unparseable cells becoming "0.00" (counted in the report, not
//     treated as a validation error - see NormalizationReport),
//   - the account-code column is coerced to its canonical string form
//     (whitespace trimmed, float artifacts stripped, leading zeros kept).
//
// Normalize is idempotent: normalizing an already-normalized dataset returns
// an equal dataset and an empty report.
func Normalize(ds *dataset.Dataset, contract *Contract) (*dataset.Dataset, *NormalizationReport) {
	out := ds.Clone()
	report := &NormalizationReport{}

	for _, col := range sortedOptional(contract) {
		if out.HasColumn(col) {
			continue
		}

		defaultValue := contract.Optional[col]
		out.Columns = append(out.Columns, col)

		for i := range out.Rows {
			out.Rows[i] = append(out.Rows[i], defaultValue)
		}

		report.FilledColumns = append(report.FilledColumns, col)
	}

	if idx, err := out.ColumnIndex(contract.BalanceColumn); err == nil {
		for i := range out.Rows {
			canonical, coerced := canonicalBalance(out.Rows[i][idx])
			out.Rows[i][idx] = canonical

			if coerced {
				report.CoercedBalances++
			}
		}
	}

	if idx, err := out.ColumnIndex(contract.AccountCodeColumn); err == nil {
		for i := range out.Rows {
			out.Rows[i][idx] = CanonicalAccountCode(out.Rows[i][idx])
		}
	}

	return out, report
}

// CanonicalAccountCode returns the canonical string form of an account code:
// surrounding whitespace removed and float round-trip artifacts ("1000.0")
// stripped. Leading zeros are significant and preserved.
func CanonicalAccountCode(raw string) string {
	code := strings.TrimSpace(raw)

	if m := decimalArtifactPattern.FindStringSubmatch(code); m != nil {
		return m[1]
	}

	return code
}

// canonicalBalance coerces a balance cell to the canonical two-decimal form.
// Returns the canonical value and whether the cell had to be coerced to zero
// because it was blank or unparseable.
func canonicalBalance(raw string) (string, bool) {
	value, ok, err := dataset.ParseFloat(raw)
	if err != nil || !ok {
		return "0.00", true
	}

	return strconv.FormatFloat(value, 'f', 2, 64), false
}

// sortedOptional returns the optional column names in a stable order so that
// normalization output is deterministic across runs.
func sortedOptional(contract *Contract) []string {
	names := make([]string, 0, len(contract.Optional))
	for col := range contract.Optional {
		names = append(names, col)
	}

	sort.Strings(names)

	return names
}
