// Package rules runs the ordered data-quality rule battery against a
// normalized ledger extract and classifies failures by severity.
package rules

type (
	// Severity classifies a check's business impact. Only critical failures
	// block ingestion; high/medium/low failures are surfaced for remediation.
	Severity string

	// FailedCheck describes one failed expectation.
	FailedCheck struct {
		// CheckID identifies the expectation, e.g. "trial_balance".
		CheckID string

		// Column is the primary column the check targets ("" for
		// dataset-level checks).
		Column string

		// Severity is the check's classification.
		Severity Severity

		// Hint is the operator-facing remediation hint.
		Hint string

		// RowCount is the number of offending rows, where the check is
		// row-scoped; dataset-level checks report 0.
		RowCount int
	}

	// Outcome is the immutable result of one rule-battery run. One Outcome is
	// produced per ingestion attempt and persisted independently of whether
	// ingestion proceeds.
	Outcome struct {
		// TotalChecks is the number of checks executed. Checks are
		// independent: a failure never causes later checks to be skipped, so
		// this is constant for a given battery.
		TotalChecks int

		// FailedChecks is the number of checks that failed.
		FailedChecks int

		// SeverityCounts partitions the failures by severity.
		SeverityCounts map[Severity]int

		// Passed is true iff there were zero critical failures. High, medium
		// and low failures do not block.
		Passed bool

		// Failed lists every failed check in battery order.
		Failed []FailedCheck
	}
)

const (
	// SeverityCritical failures block persistence when the pipeline is
	// configured to fail on validation errors.
	SeverityCritical Severity = "critical"

	// SeverityHigh failures indicate likely data problems but do not block.
	SeverityHigh Severity = "high"

	// SeverityMedium failures flag records needing extra scrutiny.
	SeverityMedium Severity = "medium"

	// SeverityLow failures are informational anomaly signals.
	SeverityLow Severity = "low"
)

// IsValid checks if the Severity is a valid enum value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// String returns the string representation of Severity.
func (s Severity) String() string {
	return string(s)
}

// CriticalFailures returns the number of critical failures in the outcome.
func (o *Outcome) CriticalFailures() int {
	return o.SeverityCounts[SeverityCritical]
}
