// Package assignment matches persisted ledger records against a prioritized
// rule list and assigns reviewer/approver identities under least-loaded,
// deadline-bound rules.
package assignment

import (
	"errors"
	"math"
	"time"

	"github.com/ledgerline-io/ledgerline/internal/ledger"
)

// Sentinel errors for assignment operations.
var (
	// ErrNoEligibleReviewer is recorded on an Assignment when no reviewer
	// candidate exists for the record's entity. Never aborts the batch.
	ErrNoEligibleReviewer = errors.New("no eligible reviewer for entity")

	// ErrNoEligibleApprover is recorded on an Assignment when the matched rule
	// requires an approver and none is eligible.
	ErrNoEligibleApprover = errors.New("no eligible approver for entity")

	// ErrNoRuleMatched indicates a record fell through the entire rule list.
	// Unreachable when the catch-all default rule is present; kept as a guard
	// against misconfigured custom rule files.
	ErrNoRuleMatched = errors.New("no assignment rule matched")
)

type (
	// Rule is one prioritized routing rule: a data-driven predicate over a
	// ledger record plus the outcome to apply when it matches. Rules are
	// static configuration, loaded once and evaluated in ascending Priority
	// order; the first match wins.
	Rule struct {
		// Name identifies the rule in assignments and summaries.
		Name string `yaml:"name"`

		// Priority orders evaluation; lower numbers are evaluated first.
		Priority int `yaml:"priority"`

		// MinAbsBalance, when > 0, requires |balance| >= the threshold.
		MinAbsBalance float64 `yaml:"min_abs_balance"`

		// Classification, when set, requires an exact classification match.
		Classification ledger.Classification `yaml:"classification"`

		// Criticality, when set, requires an exact criticality match.
		Criticality ledger.Criticality `yaml:"criticality"`

		// Statuses, when non-empty, requires the record's status to be a member.
		Statuses []ledger.ReviewStatus `yaml:"statuses"`

		// RequireReviewer routes the record to a reviewer.
		RequireReviewer bool `yaml:"require_reviewer"`

		// RequireApprover additionally routes the record to an approver.
		RequireApprover bool `yaml:"require_approver"`

		// SLADays is the service-level-agreement day count; the due date is
		// the assignment time plus this many days.
		SLADays int `yaml:"sla_days"`
	}

	// Assignment is the result of applying the rule set to one record. One
	// active assignment exists per record per batch run; re-assigning is a
	// no-op unless explicitly forced.
	Assignment struct {
		// ID is a server-generated UUID.
		ID string

		// AccountCode, Entity, Period form the compound key of the record.
		AccountCode string
		Entity      string
		Period      string

		// ReviewerID is the resolved reviewer ("" when the rule required none
		// or resolution failed).
		ReviewerID string

		// ApproverID is the resolved approver; empty when not required.
		ApproverID string

		// RuleName names the rule that fired.
		RuleName string

		// AssignedAt is when the assignment was made (UTC).
		AssignedAt time.Time

		// DueDate is AssignedAt plus the rule's SLA days.
		DueDate time.Time

		// Status is "assigned" on success, "failed" otherwise.
		Status Status

		// Error carries the explanatory message for failed assignments.
		Error string
	}

	// Status is the success/error state of an Assignment.
	Status string
)

const (
	// StatusAssigned marks a successfully resolved assignment.
	StatusAssigned Status = "assigned"

	// StatusFailed marks an assignment that could not be resolved; the error
	// field explains why. Failed entries are recorded, never dropped.
	StatusFailed Status = "failed"
)

// Matches evaluates the rule's predicate against a record. Pure and
// side-effect-free: no predicate evaluation ever mutates state.
func (r *Rule) Matches(record *ledger.Record) bool {
	if r.MinAbsBalance > 0 && math.Abs(record.Balance) < r.MinAbsBalance {
		return false
	}

	if r.Classification != "" && record.Classification != r.Classification {
		return false
	}

	if r.Criticality != "" && record.Criticality != r.Criticality {
		return false
	}

	if len(r.Statuses) > 0 {
		member := false

		for _, s := range r.Statuses {
			if record.Status == s {
				member = true

				break
			}
		}

		if !member {
			return false
		}
	}

	return true
}
