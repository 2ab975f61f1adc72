// Package ledger provides the domain models for the ingestion, validation and
// assignment pipeline: ledger records, audit events and their enumerations.
package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type (
	// Record represents one general-ledger account balance for an (entity, period)
	// extract - Domain Model.
	//
	// Records are uniquely identified by the (AccountCode, Entity, Period) compound
	// key. Re-ingesting the same key updates the mutable fields (name, balance,
	// classification, workflow state) instead of duplicating rows; the storage
	// layer enforces this with an UPSERT on the compound key.
	//
	// This is a pure domain model without JSON tags. Loaders and stores map to it.
	Record struct {
		// AccountCode is the canonical account identifier: 4-10 digits with
		// leading zeros preserved. Part of the compound key.
		AccountCode string

		// AccountName is the display name of the account. Mutable.
		AccountName string

		// Balance is the signed period-end balance in the extract's currency unit.
		Balance float64

		// Classification marks the statement the account belongs to: BS or PL.
		Classification Classification

		// Status is the review workflow state of the record.
		Status ReviewStatus

		// Criticality drives reviewer routing: standard, elevated or high.
		Criticality Criticality

		// Currency is the ISO 4217 code of the balance. Defaults to USD.
		Currency string

		// Entity is the reporting entity the record belongs to. Part of the
		// compound key. Must be a member of the approved entity allow-list.
		Entity string

		// Period is the calendar month of the extract in YYYY-MM form. Part of
		// the compound key.
		Period string
	}

	// Classification distinguishes balance-sheet from profit-and-loss accounts.
	Classification string

	// ReviewStatus represents the review workflow states a record moves through.
	ReviewStatus string

	// Criticality represents the business criticality of a record.
	Criticality string
)

const (
	// ClassificationBalanceSheet marks a balance-sheet account.
	ClassificationBalanceSheet Classification = "BS"

	// ClassificationProfitLoss marks a profit-and-loss account.
	ClassificationProfitLoss Classification = "PL"
)

const (
	// StatusPendingReview is the initial workflow state after ingestion.
	StatusPendingReview ReviewStatus = "pending_review"

	// StatusUnderReview indicates an assigned reviewer is working the record.
	StatusUnderReview ReviewStatus = "under_review"

	// StatusReviewed indicates the reviewer signed off; approval may follow.
	StatusReviewed ReviewStatus = "reviewed"

	// StatusApproved is the terminal workflow state.
	StatusApproved ReviewStatus = "approved"
)

const (
	// CriticalityStandard is the default routing tier.
	CriticalityStandard Criticality = "standard"

	// CriticalityElevated marks records needing extra scrutiny.
	CriticalityElevated Criticality = "elevated"

	// CriticalityHigh marks records that always require dual sign-off.
	CriticalityHigh Criticality = "high"
)

// accountCodePattern constrains canonical account codes: 4-10 digits, leading
// zeros significant. Compiled once at package initialization.
var accountCodePattern = regexp.MustCompile(`^\d{4,10}$`)

// periodPattern constrains periods to a calendar month: YYYY-MM.
var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// Sentinel errors for domain validation (static for errors.Is checks).
var (
	// ErrAccountCodeEmpty indicates account_code is required.
	ErrAccountCodeEmpty = errors.New("account_code cannot be empty")

	// ErrAccountCodeFormat indicates account_code is not 4-10 digits.
	ErrAccountCodeFormat = errors.New("account_code must be 4-10 digits")

	// ErrEntityEmpty indicates entity is required.
	ErrEntityEmpty = errors.New("entity cannot be empty")

	// ErrPeriodEmpty indicates period is required.
	ErrPeriodEmpty = errors.New("period cannot be empty")

	// ErrPeriodFormat indicates period is not in YYYY-MM form.
	ErrPeriodFormat = errors.New("period must be in YYYY-MM format")

	// ErrClassificationInvalid indicates classification is not BS or PL.
	ErrClassificationInvalid = errors.New("classification must be one of: BS, PL")

	// ErrStatusInvalid indicates status is not a valid ReviewStatus.
	ErrStatusInvalid = errors.New(
		"status must be one of: pending_review, under_review, reviewed, approved")

	// ErrCriticalityInvalid indicates criticality is not a valid Criticality.
	ErrCriticalityInvalid = errors.New("criticality must be one of: standard, elevated, high")
)

// IsValid checks if the Classification is a valid enum value.
func (c Classification) IsValid() bool {
	return c == ClassificationBalanceSheet || c == ClassificationProfitLoss
}

// String returns the string representation of Classification.
func (c Classification) String() string {
	return string(c)
}

// ValidReviewStatuses returns all valid review workflow states.
func ValidReviewStatuses() []ReviewStatus {
	return []ReviewStatus{
		StatusPendingReview,
		StatusUnderReview,
		StatusReviewed,
		StatusApproved,
	}
}

// IsValid checks if the ReviewStatus is a valid enum value.
func (rs ReviewStatus) IsValid() bool {
	for _, valid := range ValidReviewStatuses() {
		if rs == valid {
			return true
		}
	}

	return false
}

// String returns the string representation of ReviewStatus.
func (rs ReviewStatus) String() string {
	return string(rs)
}

// IsValid checks if the Criticality is a valid enum value.
func (cr Criticality) IsValid() bool {
	switch cr {
	case CriticalityStandard, CriticalityElevated, CriticalityHigh:
		return true
	default:
		return false
	}
}

// String returns the string representation of Criticality.
func (cr Criticality) String() string {
	return string(cr)
}

// IsValidAccountCode reports whether code is a canonical account code
// (4-10 digits, leading zeros preserved).
func IsValidAccountCode(code string) bool {
	return accountCodePattern.MatchString(code)
}

// IsValidPeriod reports whether period is a calendar month in YYYY-MM form.
func IsValidPeriod(period string) bool {
	return periodPattern.MatchString(period)
}

// Key returns the compound uniqueness key for this record.
//
// Format: {account_code}/{entity}/{period}
//
// The key is used for in-batch duplicate detection and matches the UNIQUE
// constraint on the ledger_records table.
func (r *Record) Key() string {
	return r.AccountCode + "/" + r.Entity + "/" + r.Period
}

// Validate performs domain validation on the Record.
// Returns validation errors (not storage errors like constraint violations).
//
// Validation rules:
//   - account_code: required, 4-10 digits
//   - entity: required
//   - period: required, YYYY-MM
//   - classification: must be BS or PL
//   - status: must be a valid ReviewStatus
//   - criticality: must be a valid Criticality
//
// Storage-level validations (unique constraint, etc.) are handled by the
// storage layer.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.AccountCode) == "" {
		return ErrAccountCodeEmpty
	}

	if !IsValidAccountCode(r.AccountCode) {
		return fmt.Errorf("%w: got %q", ErrAccountCodeFormat, r.AccountCode)
	}

	if strings.TrimSpace(r.Entity) == "" {
		return ErrEntityEmpty
	}

	if strings.TrimSpace(r.Period) == "" {
		return ErrPeriodEmpty
	}

	if !IsValidPeriod(r.Period) {
		return fmt.Errorf("%w: got %q", ErrPeriodFormat, r.Period)
	}

	if !r.Classification.IsValid() {
		return fmt.Errorf("%w: got %q", ErrClassificationInvalid, r.Classification)
	}

	if !r.Status.IsValid() {
		return fmt.Errorf("%w: got %q", ErrStatusInvalid, r.Status)
	}

	if !r.Criticality.IsValid() {
		return fmt.Errorf("%w: got %q", ErrCriticalityInvalid, r.Criticality)
	}

	return nil
}

// ============================================================================
// Audit Event Domain Model
// ============================================================================

type (
	// AuditEvent is an append-only record of a pipeline-relevant occurrence.
	// Events are never mutated or deleted; the audit log is the system of record
	// for duplicate-ingestion detection and operational forensics.
	AuditEvent struct {
		// ID is a server-generated UUID for the event.
		ID string

		// Type categorizes the occurrence.
		Type EventType

		// Entity is the affected reporting entity.
		Entity string

		// Period is the affected period (YYYY-MM).
		Period string

		// Timestamp is when the event occurred (UTC).
		Timestamp time.Time

		// Metadata holds free-form structured context: fingerprints, row counts,
		// durations, error strings. Persisted as a nested document.
		Metadata map[string]interface{}
	}

	// EventType enumerates audit event categories.
	EventType string
)

const (
	// EventFileIngested records a completed (or skipped) file ingestion.
	// Carries the file fingerprint used for duplicate detection.
	EventFileIngested EventType = "file_ingested"

	// EventValidationCompleted records a finished rule-battery run.
	EventValidationCompleted EventType = "validation_completed"

	// EventRecordAssigned records a completed assignment batch.
	EventRecordAssigned EventType = "record_assigned"

	// EventErrorOccurred records a pipeline failure.
	EventErrorOccurred EventType = "error_occurred"
)

// IsValid checks if the EventType is a valid audit event category.
func (et EventType) IsValid() bool {
	switch et {
	case EventFileIngested, EventValidationCompleted, EventRecordAssigned, EventErrorOccurred:
		return true
	default:
		return false
	}
}

// String returns the string representation of EventType.
func (et EventType) String() string {
	return string(et)
}
