// Package pipeline runs one file through the ingestion sequence: load,
// profile, contract check, normalize, rule battery, duplicate check, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline-io/ledgerline/internal/config"
	"github.com/ledgerline-io/ledgerline/internal/dataset"
	"github.com/ledgerline-io/ledgerline/internal/docstore"
	"github.com/ledgerline-io/ledgerline/internal/events"
	"github.com/ledgerline-io/ledgerline/internal/fingerprint"
	"github.com/ledgerline-io/ledgerline/internal/ledger"
	"github.com/ledgerline-io/ledgerline/internal/profile"
	"github.com/ledgerline-io/ledgerline/internal/rules"
	"github.com/ledgerline-io/ledgerline/internal/schema"
	"github.com/ledgerline-io/ledgerline/internal/storage"
)

// Status is the terminal state of one pipeline run.
type Status string

const (
	// StatusSuccess means the file's records were persisted.
	StatusSuccess Status = "success"

	// StatusSkipped means the file was a byte-identical duplicate of a prior
	// ingestion and nothing was persisted.
	StatusSkipped Status = "skipped"

	// StatusFailed means the run aborted before persistence completed.
	StatusFailed Status = "failed"
)

// Terminal pipeline errors. A terminal failure is a property of the input
// file itself; retrying the same bytes cannot succeed. Everything else
// (storage, document store, broker) is treated as retryable infrastructure
// failure by the coordinator.
var (
	// ErrSchemaContract is returned when the dataset is missing required
	// contract columns. The dataset must never reach persistence.
	ErrSchemaContract = errors.New("schema contract violation")

	// ErrValidationFailed is returned when the rule battery reports critical
	// failures and the pipeline is configured to fail on them.
	ErrValidationFailed = errors.New("validation failed with critical findings")
)

type (
	// Config tunes pipeline behavior per run.
	Config struct {
		// ValidateBeforeInsert toggles the rule battery. Disabling it is only
		// appropriate for trusted backfills.
		ValidateBeforeInsert bool

		// FailOnValidationError aborts the run when the battery reports
		// critical failures. When false the findings are recorded and
		// persistence proceeds.
		FailOnValidationError bool
	}

	// Unit identifies one file to ingest for one (entity, period) batch.
	Unit struct {
		Path   string
		Entity string
		Period string
	}

	// Result reports what one run did.
	Result struct {
		Status        Status
		Fingerprint   fingerprint.Fingerprint
		RowCount      int
		Inserted      int
		Updated       int
		Profile       *profile.DatasetProfile
		Outcome       *rules.Outcome
		Normalization *schema.NormalizationReport
		Err           error
		Duration      time.Duration
	}

	// LedgerWriter is the relational persistence surface the pipeline needs.
	// Implemented by storage.LedgerStore.
	LedgerWriter interface {
		BulkUpsert(ctx context.Context, records []ledger.Record) (*storage.UpsertResult, error)
	}

	// MetadataStore is the document-store surface the pipeline needs.
	// Implemented by docstore.Store.
	MetadataStore interface {
		RecordIngestion(ctx context.Context, record *docstore.IngestionRecord) error
		RecordValidationOutcome(ctx context.Context, entity, period string, outcome *rules.Outcome) error
		AppendAuditEvent(ctx context.Context, event *ledger.AuditEvent) error
	}

	// Pipeline wires the ingestion stages together. One Pipeline is safe for
	// concurrent Run calls on distinct units.
	Pipeline struct {
		cfg           Config
		contract      *schema.Contract
		fingerprinter *fingerprint.Fingerprinter
		validator     *rules.Validator
		ledgerStore   LedgerWriter
		metadata      MetadataStore
		publisher     events.Publisher
		logger        *slog.Logger
	}
)

// LoadConfig loads pipeline configuration from environment variables with
// fallback to defaults.
func LoadConfig() Config {
	return Config{
		ValidateBeforeInsert:  config.GetEnvBool("LEDGERLINE_VALIDATE_BEFORE_INSERT", true),
		FailOnValidationError: config.GetEnvBool("LEDGERLINE_FAIL_ON_VALIDATION_ERROR", false),
	}
}

// New creates a Pipeline.
func New(
	cfg Config,
	contract *schema.Contract,
	fingerprinter *fingerprint.Fingerprinter,
	validator *rules.Validator,
	ledgerStore LedgerWriter,
	metadata MetadataStore,
	publisher events.Publisher,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:           cfg,
		contract:      contract,
		fingerprinter: fingerprinter,
		validator:     validator,
		ledgerStore:   ledgerStore,
		metadata:      metadata,
		publisher:     publisher,
		logger:        logger,
	}
}

// Retryable reports whether a pipeline error is worth retrying. Malformed
// input and contract violations are terminal; infrastructure failures are
// retryable.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSchemaContract),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, storage.ErrNoRecords),
		errors.Is(err, dataset.ErrDataFormat),
		errors.Is(err, dataset.ErrRaggedRow):
		return false
	default:
		return true
	}
}

// Run executes the full stage sequence for one unit. The returned Result
// always describes the run, including failed ones; the error mirrors
// Result.Err for callers that only care about success.
func (p *Pipeline) Run(ctx context.Context, unit Unit) (*Result, error) {
	startTime := time.Now()
	result := &Result{Status: StatusFailed}

	defer func() {
		result.Duration = time.Since(startTime)
	}()

	fp, byteLength, err := p.fingerprinter.File(unit.Path)
	if err != nil {
		return p.fail(ctx, unit, result, fmt.Errorf("fingerprint stage: %w", err))
	}

	result.Fingerprint = fp

	duplicate, err := p.fingerprinter.IsDuplicate(ctx, fp)
	if err != nil {
		return p.fail(ctx, unit, result, fmt.Errorf("duplicate check: %w", err))
	}

	if duplicate {
		return p.skip(ctx, unit, result, startTime)
	}

	ds, err := dataset.LoadCSV(unit.Path)
	if err != nil {
		return p.fail(ctx, unit, result, fmt.Errorf("load stage: %w", err))
	}

	result.RowCount = ds.RowCount()
	result.Profile = profile.Profile(ds, p.contract.BalanceColumn)

	validation := schema.Validate(ds, p.contract)
	if !validation.IsValid {
		return p.fail(ctx, unit, result,
			fmt.Errorf("%w: missing required columns %v", ErrSchemaContract, validation.MissingRequired))
	}

	normalized, report := schema.Normalize(ds, p.contract)
	result.Normalization = report

	if report.CoercedBalances > 0 {
		p.logger.Warn("Unparseable balances coerced to zero",
			"path", unit.Path,
			"entity", unit.Entity,
			"period", unit.Period,
			"coerced_balances", report.CoercedBalances,
		)
	}

	records := ledger.RecordsFromDataset(normalized)

	// A header-only extract is a valid, empty batch: nothing to validate or
	// persist, but the attempt is still recorded and audited.
	if len(records) == 0 {
		return p.succeedEmpty(ctx, unit, result, fp, byteLength, startTime)
	}

	if p.cfg.ValidateBeforeInsert {
		outcome := p.validator.Run(&rules.Input{
			Dataset:         normalized,
			Records:         records,
			ExpectedOrder:   p.contract.Required,
			CoercedBalances: report.CoercedBalances,
		})
		result.Outcome = outcome

		// The outcome is recorded whether or not ingestion proceeds.
		if err := p.metadata.RecordValidationOutcome(ctx, unit.Entity, unit.Period, outcome); err != nil {
			return p.fail(ctx, unit, result, fmt.Errorf("outcome persistence: %w", err))
		}

		p.append(ctx, unit, ledger.EventValidationCompleted, map[string]interface{}{
			"fingerprint":      fp.String(),
			"total_checks":     outcome.TotalChecks,
			"failed_checks":    outcome.FailedChecks,
			"passed":           outcome.Passed,
			"coerced_balances": report.CoercedBalances,
		})

		if !outcome.Passed && p.cfg.FailOnValidationError {
			return p.fail(ctx, unit, result,
				fmt.Errorf("%w: %d critical failures", ErrValidationFailed, outcome.CriticalFailures()))
		}
	}

	upsert, err := p.ledgerStore.BulkUpsert(ctx, records)
	if err != nil {
		return p.fail(ctx, unit, result, fmt.Errorf("persist stage: %w", err))
	}

	result.Inserted = upsert.Inserted
	result.Updated = upsert.Updated

	ingestion := &docstore.IngestionRecord{
		Fingerprint: fp.String(),
		Path:        unit.Path,
		ByteLength:  byteLength,
		Entity:      unit.Entity,
		Period:      unit.Period,
		RowCount:    result.RowCount,
		Profile:     result.Profile,
		DurationMs:  time.Since(startTime).Milliseconds(),
		IngestedAt:  time.Now().UTC(),
	}

	if err := p.metadata.RecordIngestion(ctx, ingestion); err != nil {
		return p.fail(ctx, unit, result, fmt.Errorf("ingestion metadata: %w", err))
	}

	// Exactly one file_ingested event per completed run; the duplicate check
	// above keys off its fingerprint metadata.
	p.append(ctx, unit, ledger.EventFileIngested, map[string]interface{}{
		"fingerprint": fp.String(),
		"row_count":   result.RowCount,
		"inserted":    upsert.Inserted,
		"updated":     upsert.Updated,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})

	result.Status = StatusSuccess

	p.logger.Info("Ingestion complete",
		"path", unit.Path,
		"entity", unit.Entity,
		"period", unit.Period,
		"rows", result.RowCount,
		"inserted", upsert.Inserted,
		"updated", upsert.Updated,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return result, nil
}

// succeedEmpty finalizes a run over a header-only extract. Zero records is a
// valid outcome, not a failure: the attempt is recorded and audited so the
// file's fingerprint still blocks re-ingestion.
func (p *Pipeline) succeedEmpty(
	ctx context.Context,
	unit Unit,
	result *Result,
	fp fingerprint.Fingerprint,
	byteLength int64,
	startTime time.Time,
) (*Result, error) {
	ingestion := &docstore.IngestionRecord{
		Fingerprint: fp.String(),
		Path:        unit.Path,
		ByteLength:  byteLength,
		Entity:      unit.Entity,
		Period:      unit.Period,
		Profile:     result.Profile,
		DurationMs:  time.Since(startTime).Milliseconds(),
		IngestedAt:  time.Now().UTC(),
	}

	if err := p.metadata.RecordIngestion(ctx, ingestion); err != nil {
		return p.fail(ctx, unit, result, fmt.Errorf("ingestion metadata: %w", err))
	}

	p.append(ctx, unit, ledger.EventFileIngested, map[string]interface{}{
		"fingerprint": fp.String(),
		"row_count":   0,
		"inserted":    0,
		"updated":     0,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})

	result.Status = StatusSuccess

	p.logger.Info("Empty extract ingested",
		"path", unit.Path,
		"entity", unit.Entity,
		"period", unit.Period,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return result, nil
}

// skip finalizes a duplicate run. Nothing is persisted to the ledger; the
// skip itself is audited.
func (p *Pipeline) skip(ctx context.Context, unit Unit, result *Result, startTime time.Time) (*Result, error) {
	result.Status = StatusSkipped

	p.append(ctx, unit, ledger.EventFileIngested, map[string]interface{}{
		"fingerprint": result.Fingerprint.String(),
		"row_count":   0,
		"duplicate":   true,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})

	p.logger.Info("Duplicate file skipped",
		"path", unit.Path,
		"entity", unit.Entity,
		"period", unit.Period,
		"fingerprint", result.Fingerprint.String(),
	)

	return result, nil
}

// fail finalizes a failed run and audits the failure.
func (p *Pipeline) fail(ctx context.Context, unit Unit, result *Result, err error) (*Result, error) {
	result.Status = StatusFailed
	result.Err = err

	p.append(ctx, unit, ledger.EventErrorOccurred, map[string]interface{}{
		"fingerprint": result.Fingerprint.String(),
		"error":       err.Error(),
		"retryable":   Retryable(err),
	})

	p.logger.Error("Ingestion failed",
		"path", unit.Path,
		"entity", unit.Entity,
		"period", unit.Period,
		"retryable", Retryable(err),
		"error", err,
	)

	return result, err
}

// append writes one audit event to the document store and mirrors it to the
// event stream. Audit append failures on the error path are logged, not
// compounded.
func (p *Pipeline) append(ctx context.Context, unit Unit, eventType ledger.EventType, metadata map[string]interface{}) {
	event := &ledger.AuditEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Entity:    unit.Entity,
		Period:    unit.Period,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	if err := p.metadata.AppendAuditEvent(ctx, event); err != nil {
		p.logger.Error("Failed to append audit event",
			"event_type", eventType.String(),
			"entity", unit.Entity,
			"period", unit.Period,
			"error", err,
		)
	}

	p.publisher.Publish(ctx, event)
}
