// Package profile computes descriptive statistics over a tabular dataset at
// ingestion time. Profiles are read-only snapshots persisted alongside the
// ingestion record.
package profile

import (
	"math"
	"sort"

	"github.com/ledgerline-io/ledgerline/internal/dataset"
)

// zeroEpsilon is the absolute tolerance below which a balance counts as zero.
// Exact float equality would miss values like 0.0000001 left over from
// upstream arithmetic.
const zeroEpsilon = 0.01

type (
	// DatasetProfile is a descriptive snapshot of a dataset. Created once per
	// ingestion attempt and never mutated.
	DatasetProfile struct {
		// RowCount is the number of data rows.
		RowCount int

		// ColumnCount is the number of columns.
		ColumnCount int

		// NullPercent maps column name to the percentage (0-100) of empty cells.
		NullPercent map[string]float64

		// Numeric maps column name to aggregate statistics, for columns whose
		// non-empty cells all coerce to numbers (plus the balance column).
		Numeric map[string]NumericStats

		// DistinctCounts maps categorical (non-numeric) column names to the
		// number of distinct non-empty values.
		DistinctCounts map[string]int

		// ZeroBalanceCount is the number of rows whose balance is zero within
		// the epsilon tolerance.
		ZeroBalanceCount int

		// ZeroBalancePercent is ZeroBalanceCount relative to RowCount (0-100).
		ZeroBalancePercent float64

		// FormatErrors lists per-column coercion failures encountered while
		// profiling. Profiling continues past them; callers decide whether the
		// errors matter.
		FormatErrors []ColumnError
	}

	// NumericStats are the aggregate statistics of one numeric column,
	// computed over the cells that coerced successfully.
	NumericStats struct {
		Sum    float64
		Mean   float64
		Median float64
		Min    float64
		Max    float64
		StdDev float64
	}

	// ColumnError reports a coercion failure in a named column.
	ColumnError struct {
		Column string
		Err    error
	}
)

// Profile computes a DatasetProfile for ds. balanceColumn names the primary
// numeric column used for zero-balance detection; it is profiled numerically
// even when some of its cells fail to coerce (the failures are reported in
// FormatErrors, per-column, rather than aborting the pass).
//
// Profile never mutates ds.
func Profile(ds *dataset.Dataset, balanceColumn string) *DatasetProfile {
	p := &DatasetProfile{
		RowCount:       ds.RowCount(),
		ColumnCount:    ds.ColumnCount(),
		NullPercent:    make(map[string]float64, ds.ColumnCount()),
		Numeric:        make(map[string]NumericStats),
		DistinctCounts: make(map[string]int),
	}

	for _, col := range ds.Columns {
		values, err := ds.Column(col)
		if err != nil {
			// Unreachable: col comes from ds.Columns.
			continue
		}

		p.NullPercent[col] = nullPercent(values)

		numbers, numeric, formatErr := coerceColumn(values)

		isBalance := col == balanceColumn
		if formatErr != nil && isBalance {
			p.FormatErrors = append(p.FormatErrors, ColumnError{Column: col, Err: formatErr})
		}

		switch {
		case (numeric || isBalance) && len(numbers) > 0:
			p.Numeric[col] = computeStats(numbers)
		case !numeric:
			p.DistinctCounts[col] = distinctCount(values)
		}

		if isBalance {
			for _, v := range numbers {
				if math.Abs(v) < zeroEpsilon {
					p.ZeroBalanceCount++
				}
			}

			if p.RowCount > 0 {
				p.ZeroBalancePercent = float64(p.ZeroBalanceCount) / float64(p.RowCount) * 100
			}
		}
	}

	return p
}

// coerceColumn parses every non-empty cell of a column. Returns the parsed
// values, whether the whole column is numeric, and the first coercion error
// encountered (nil when the column is clean).
func coerceColumn(values []string) ([]float64, bool, error) {
	numbers := make([]float64, 0, len(values))
	numeric := true

	var firstErr error

	for _, raw := range values {
		v, ok, err := dataset.ParseFloat(raw)
		if err != nil {
			numeric = false

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		if ok {
			numbers = append(numbers, v)
		}
	}

	return numbers, numeric, firstErr
}

func nullPercent(values []string) float64 {
	if len(values) == 0 {
		return 0
	}

	empty := 0

	for _, v := range values {
		if v == "" {
			empty++
		}
	}

	return float64(empty) / float64(len(values)) * 100
}

func distinctCount(values []string) int {
	seen := make(map[string]struct{}, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}

		seen[v] = struct{}{}
	}

	return len(seen)
}

func computeStats(numbers []float64) NumericStats {
	stats := NumericStats{
		Min: numbers[0],
		Max: numbers[0],
	}

	for _, v := range numbers {
		stats.Sum += v

		if v < stats.Min {
			stats.Min = v
		}

		if v > stats.Max {
			stats.Max = v
		}
	}

	n := float64(len(numbers))
	stats.Mean = stats.Sum / n

	var sqDiff float64

	for _, v := range numbers {
		d := v - stats.Mean
		sqDiff += d * d
	}

	stats.StdDev = math.Sqrt(sqDiff / n)
	stats.Median = median(numbers)

	return stats
}

// median returns the middle value (or midpoint of the two middle values)
// without mutating the input slice.
func median(numbers []float64) float64 {
	sorted := make([]float64, len(numbers))
	copy(sorted, numbers)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}

	return sorted[mid]
}
