package rules

import (
	"math"
	"sort"
	"strings"

	"github.com/ledgerline-io/ledgerline/internal/config"
	"github.com/ledgerline-io/ledgerline/internal/dataset"
	"github.com/ledgerline-io/ledgerline/internal/ledger"
)

// zeroEpsilon mirrors the profiler's zero-balance tolerance.
const zeroEpsilon = 0.01

const (
	defaultTrialBalanceTolerance = 0.01
	defaultZeroBalanceRatio      = 0.5
	defaultMagnitudePercentile   = 0.99
	defaultVarianceFactor        = 10.0
)

type (
	// Config tunes the rule battery thresholds.
	Config struct {
		// EntityAllowList is the set of approved reporting entities. An empty
		// list disables the allow-list check's membership test (every entity
		// passes), which is only appropriate in development.
		EntityAllowList []string

		// TrialBalanceTolerance is the band around zero the signed balance sum
		// must fall within.
		TrialBalanceTolerance float64

		// ZeroBalanceRatio is the zero-balance share above which the
		// zero_balance_ratio anomaly check fails.
		ZeroBalanceRatio float64

		// MagnitudePercentile is the |balance| percentile used as the extra
		// scrutiny cutoff.
		MagnitudePercentile float64

		// VarianceFactor is the stddev/|mean| ratio above which the
		// extreme_variance check fails.
		VarianceFactor float64
	}

	// Input is everything one battery run sees: the normalized dataset, the
	// typed records derived from it, the contract's expected column order and
	// the normalization coercion count.
	Input struct {
		Dataset         *dataset.Dataset
		Records         []ledger.Record
		ExpectedOrder   []string
		CoercedBalances int
	}

	// check is one expectation in the battery: an identifier, a target column,
	// a severity, a remediation hint and a pure evaluation function returning
	// the number of offending rows (dataset-level checks return 1 on failure,
	// reported as RowCount 0).
	check struct {
		id       string
		column   string
		severity Severity
		hint     string
		rowScope bool
		eval     func(v *Validator, in *Input) int
	}

	// Validator runs the fixed, ordered battery. It is deterministic:
	// identical input always yields an identical Outcome, and no check is ever
	// skipped because of a prior check's failure.
	Validator struct {
		cfg     Config
		battery []check
	}
)

// LoadConfig loads rule battery thresholds from environment variables with
// fallback to defaults.
func LoadConfig() Config {
	return Config{
		EntityAllowList: config.ParseCommaSeparatedList(
			config.GetEnvStr("LEDGERLINE_ENTITY_ALLOWLIST", "")),
		TrialBalanceTolerance: config.GetEnvFloat(
			"LEDGERLINE_TRIAL_BALANCE_TOLERANCE", defaultTrialBalanceTolerance),
		ZeroBalanceRatio: config.GetEnvFloat(
			"LEDGERLINE_ZERO_BALANCE_RATIO", defaultZeroBalanceRatio),
		MagnitudePercentile: config.GetEnvFloat(
			"LEDGERLINE_MAGNITUDE_PERCENTILE", defaultMagnitudePercentile),
		VarianceFactor: config.GetEnvFloat(
			"LEDGERLINE_VARIANCE_FACTOR", defaultVarianceFactor),
	}
}

// NewValidator creates a Validator with the full battery.
func NewValidator(cfg Config) *Validator {
	return &Validator{
		cfg:     cfg,
		battery: battery(),
	}
}

// Run executes every check in battery order and returns the Outcome.
func (v *Validator) Run(in *Input) *Outcome {
	outcome := &Outcome{
		TotalChecks:    len(v.battery),
		SeverityCounts: make(map[Severity]int),
	}

	for _, c := range v.battery {
		offending := c.eval(v, in)
		if offending == 0 {
			continue
		}

		rowCount := offending
		if !c.rowScope {
			rowCount = 0
		}

		outcome.FailedChecks++
		outcome.SeverityCounts[c.severity]++
		outcome.Failed = append(outcome.Failed, FailedCheck{
			CheckID:  c.id,
			Column:   c.column,
			Severity: c.severity,
			Hint:     c.hint,
			RowCount: rowCount,
		})
	}

	outcome.Passed = outcome.SeverityCounts[SeverityCritical] == 0

	return outcome
}

// battery returns the ordered expectation list. Order is fixed so outcomes are
// reproducible and diffs between runs line up check-by-check.
func battery() []check {
	return []check{
		// --- critical -------------------------------------------------------
		{
			id:       "identity_fields_not_null",
			column:   "account_code",
			severity: SeverityCritical,
			hint:     "every row must carry account_code, entity and period; fix the extract upstream",
			rowScope: true,
			eval: func(_ *Validator, in *Input) int {
				n := 0
				for i := range in.Records {
					r := &in.Records[i]
					if blank(r.AccountCode) || blank(r.Entity) || blank(r.Period) {
						n++
					}
				}

				return n
			},
		},
		{
			id:       "account_code_format",
			column:   "account_code",
			severity: SeverityCritical,
			hint:     "account codes must be 4-10 digits; check for truncated or alphanumeric codes",
			rowScope: true,
			eval: func(_ *Validator, in *Input) int {
				n := 0
				for i := range in.Records {
					code := in.Records[i].AccountCode
					// Blank codes are the nullity check's problem.
					if !blank(code) && !ledger.IsValidAccountCode(code) {
						n++
					}
				}

				return n
			},
		},
		{
			id:       "entity_allowlist",
			column:   "entity",
			severity: SeverityCritical,
			hint:     "entity is not on the approved allow-list; verify the extract source",
			rowScope: true,
			eval: func(v *Validator, in *Input) int {
				if len(v.cfg.EntityAllowList) == 0 {
					return 0
				}

				allowed := make(map[string]bool, len(v.cfg.EntityAllowList))
				for _, e := range v.cfg.EntityAllowList {
					allowed[e] = true
				}

				n := 0
				for i := range in.Records {
					entity := in.Records[i].Entity
					if !blank(entity) && !allowed[entity] {
						n++
					}
				}

				return n
			},
		},
		{
			id:       "column_order",
			severity: SeverityCritical,
			hint:     "required columns must appear in contract order; re-export the extract",
			eval: func(_ *Validator, in *Input) int {
				cols := in.Dataset.Columns
				if len(cols) < len(in.ExpectedOrder) {
					return 1
				}

				for i, want := range in.ExpectedOrder {
					if cols[i] != want {
						return 1
					}
				}

				return 0
			},
		},
		{
			id:       "duplicate_compound_key",
			column:   "account_code",
			severity: SeverityCritical,
			hint:     "duplicate (account_code, entity, period) keys within the batch; deduplicate upstream",
			rowScope: true,
			eval: func(_ *Validator, in *Input) int {
				seen := make(map[string]bool, len(in.Records))
				n := 0

				for i := range in.Records {
					key := in.Records[i].Key()
					if seen[key] {
						n++
					}

					seen[key] = true
				}

				return n
			},
		},
		// --- high -----------------------------------------------------------
		{
			id:       "period_format",
			column:   "period",
			severity: SeverityHigh,
			hint:     "period must be a calendar month in YYYY-MM form",
			rowScope: true,
			eval: func(_ *Validator, in *Input) int {
				n := 0
				for i := range in.Records {
					p := in.Records[i].Period
					if !blank(p) && !ledger.IsValidPeriod(p) {
						n++
					}
				}

				return n
			},
		},
		{
			id:       "classification_domain",
			column:   "classification",
			severity: SeverityHigh,
			hint:     "classification must be BS or PL",
			rowScope: true,
			eval: func(_ *Validator, in *Input) int {
				n := 0
				for i := range in.Records {
					c := in.Records[i].Classification
					if c != "" && !c.IsValid() {
						n++
					}
				}

				return n
			},
		},
		{
			id:       "status_domain",
			column:   "status",
			severity: SeverityHigh,
			hint:     "status must be one of pending_review, under_review, reviewed, approved",
			rowScope: true,
			eval: func(_ *Validator, in *Input) int {
				n := 0
				for i := range in.Records {
					s := in.Records[i].Status
					if s != "" && !s.IsValid() {
						n++
					}
				}

				return n
			},
		},
		{
			id:       "value_fields_not_null",
			column:   "classification",
			severity: SeverityHigh,
			hint:     "balance and classification must be populated for every row",
			rowScope: true,
			eval: func(_ *Validator, in *Input) int {
				n := 0
				for i := range in.Records {
					if in.Records[i].Classification == "" {
						n++
					}
				}

				// Blank balances were coerced to zero during normalization;
				// the coercion count stands in for balance nullity here.
				return n + in.CoercedBalances
			},
		},
		{
			id:       "trial_balance",
			column:   "balance",
			severity: SeverityHigh,
			hint:     "signed balance sum is outside the tolerance band; the ledger is out of balance",
			eval: func(v *Validator, in *Input) int {
				var sum float64
				for i := range in.Records {
					sum += in.Records[i].Balance
				}

				if math.Abs(sum) > v.cfg.TrialBalanceTolerance {
					return 1
				}

				return 0
			},
		},
		// --- medium ---------------------------------------------------------
		{
			id:       "balance_magnitude",
			column:   "balance",
			severity: SeverityMedium,
			hint:     "balances above the high-percentile cutoff require extra scrutiny",
			rowScope: true,
			eval: func(v *Validator, in *Input) int {
				cutoff := magnitudeCutoff(in.Records, v.cfg.MagnitudePercentile)
				if cutoff <= 0 {
					return 0
				}

				n := 0
				for i := range in.Records {
					if math.Abs(in.Records[i].Balance) > cutoff {
						n++
					}
				}

				return n
			},
		},
		{
			id:       "carry_forward",
			column:   "balance",
			severity: SeverityMedium,
			hint:     "opening_balance + movement does not reconcile to balance",
			rowScope: true,
			eval: func(_ *Validator, in *Input) int {
				return carryForwardMismatches(in.Dataset)
			},
		},
		// --- low ------------------------------------------------------------
		{
			id:       "zero_balance_ratio",
			column:   "balance",
			severity: SeverityLow,
			hint:     "an unusually large share of balances is zero; confirm the extract is complete",
			rowScope: true,
			eval: func(v *Validator, in *Input) int {
				if len(in.Records) == 0 {
					return 0
				}

				zeros := 0
				for i := range in.Records {
					if math.Abs(in.Records[i].Balance) < zeroEpsilon {
						zeros++
					}
				}

				if float64(zeros)/float64(len(in.Records)) > v.cfg.ZeroBalanceRatio {
					return zeros
				}

				return 0
			},
		},
		{
			id:       "extreme_variance",
			column:   "balance",
			severity: SeverityLow,
			hint:     "balance dispersion is extreme relative to the mean; check for unit mismatches",
			eval: func(v *Validator, in *Input) int {
				if extremeVariance(in.Records, v.cfg.VarianceFactor) {
					return 1
				}

				return 0
			},
		},
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// magnitudeCutoff returns the configured percentile of |balance| across the
// batch, or 0 when the batch is too small for a percentile to mean anything.
func magnitudeCutoff(records []ledger.Record, percentile float64) float64 {
	const minRows = 20

	if len(records) < minRows {
		return 0
	}

	magnitudes := make([]float64, len(records))
	for i := range records {
		magnitudes[i] = math.Abs(records[i].Balance)
	}

	sort.Float64s(magnitudes)

	idx := int(math.Ceil(percentile*float64(len(magnitudes)))) - 1
	if idx < 0 {
		idx = 0
	}

	if idx >= len(magnitudes) {
		idx = len(magnitudes) - 1
	}

	return magnitudes[idx]
}

// carryForwardMismatches counts rows where opening_balance + movement differs
// from balance beyond the zero tolerance. The check is inert when the paired
// columns are absent (they are not part of the required contract).
func carryForwardMismatches(ds *dataset.Dataset) int {
	opening, err := ds.Column("opening_balance")
	if err != nil {
		return 0
	}

	movement, err := ds.Column("movement")
	if err != nil {
		return 0
	}

	closing, err := ds.Column("balance")
	if err != nil {
		return 0
	}

	n := 0

	for i := range closing {
		o, okO, errO := dataset.ParseFloat(opening[i])
		m, okM, errM := dataset.ParseFloat(movement[i])
		c, okC, errC := dataset.ParseFloat(closing[i])

		if errO != nil || errM != nil || errC != nil || !okO || !okM || !okC {
			continue
		}

		if math.Abs(o+m-c) > zeroEpsilon {
			n++
		}
	}

	return n
}

// extremeVariance reports whether the balance stddev exceeds factor times the
// absolute mean. Small batches are exempt.
func extremeVariance(records []ledger.Record, factor float64) bool {
	const minRows = 10

	if len(records) < minRows {
		return false
	}

	var sum float64
	for i := range records {
		sum += records[i].Balance
	}

	mean := sum / float64(len(records))
	if math.Abs(mean) < zeroEpsilon {
		return false
	}

	var sqDiff float64

	for i := range records {
		d := records[i].Balance - mean
		sqDiff += d * d
	}

	stddev := math.Sqrt(sqDiff / float64(len(records)))

	return stddev > factor*math.Abs(mean)
}
