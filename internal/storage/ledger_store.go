package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/ledgerline-io/ledgerline/internal/ledger"
)

// Sentinel errors for ledger record storage operations.
var (
	// ErrLedgerStoreFailed is returned when a ledger upsert operation fails.
	// Failures at this level are transactional and retryable at the
	// coordinator: the failing chunk is rolled back in full.
	ErrLedgerStoreFailed = errors.New("ledger record storage failed")

	// ErrNoRecords is returned when BulkUpsert is called with an empty batch.
	ErrNoRecords = errors.New("no records to upsert")
)

// UpsertResult reports what one bulk upsert did.
type UpsertResult struct {
	// Inserted is the number of new rows created.
	Inserted int

	// Updated is the number of existing rows whose mutable fields changed
	// (same compound key re-ingested).
	Updated int

	// Failed is the number of rows in rolled-back chunks.
	Failed int
}

// LedgerStore persists ledger records with UPSERT semantics on the
// (account_code, entity, period) compound key.
type LedgerStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewLedgerStore creates a LedgerStore over an open connection.
func NewLedgerStore(conn *Connection, logger *slog.Logger) *LedgerStore {
	return &LedgerStore{conn: conn, logger: logger}
}

// upsertQuery inserts one ledger record, updating the mutable fields when the
// compound key already exists. RETURNING (xmax = 0) detects INSERT vs UPDATE:
//   - xmax = 0: new row inserted
//   - xmax != 0: existing row updated
const upsertQuery = `
	INSERT INTO ledger_records (
		account_code,
		account_name,
		balance,
		classification,
		status,
		criticality,
		currency,
		entity,
		period
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (account_code, entity, period)
	DO UPDATE SET
		account_name = EXCLUDED.account_name,
		balance = EXCLUDED.balance,
		classification = EXCLUDED.classification,
		status = EXCLUDED.status,
		criticality = EXCLUDED.criticality,
		currency = EXCLUDED.currency,
		updated_at = CURRENT_TIMESTAMP
	RETURNING (xmax = 0) AS inserted
`

// BulkUpsert persists a batch of records in chunked transactions. Chunk size
// bounds transaction size (Config.UpsertChunkSize); a failure inside a chunk
// rolls back that chunk only, counts its rows as Failed, and aborts the batch
// with ErrLedgerStoreFailed so the coordinator can retry the unit.
//
// Records that fail domain validation are persisted anyway - the rule battery
// already surfaced them and the caller decided to proceed - but each one is
// logged at Warn for forensics.
func (s *LedgerStore) BulkUpsert(ctx context.Context, records []ledger.Record) (*UpsertResult, error) {
	startTime := time.Now()

	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	for i := range records {
		if err := records[i].Validate(); err != nil {
			s.logger.Warn("Persisting record that fails domain validation",
				"error", err,
				"account_code", records[i].AccountCode,
				"entity", records[i].Entity,
				"period", records[i].Period,
			)
		}
	}

	chunkSize := s.conn.Config.UpsertChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultUpsertChunkSize
	}

	result := &UpsertResult{}

	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}

		chunk := records[start:end]

		if err := s.upsertChunk(ctx, chunk, result); err != nil {
			result.Failed += len(records) - start

			s.logger.Error("Ledger chunk upsert failed",
				"error", err,
				"chunk_start", start,
				"chunk_size", len(chunk),
				"duration_ms", time.Since(startTime).Milliseconds(),
			)

			return result, fmt.Errorf("%w: %w", ErrLedgerStoreFailed, err)
		}
	}

	s.logger.Info("Ledger batch upsert complete",
		"total", len(records),
		"inserted", result.Inserted,
		"updated", result.Updated,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return result, nil
}

// upsertChunk runs one chunk inside a single transaction.
func (s *LedgerStore) upsertChunk(ctx context.Context, chunk []ledger.Record, result *UpsertResult) error {
	tx, err := s.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("failed to prepare upsert: %w", err)
	}

	defer func() {
		_ = stmt.Close()
	}()

	inserted := 0
	updated := 0

	for i := range chunk {
		r := &chunk[i]

		var wasInsert bool

		err := stmt.QueryRowContext(ctx,
			r.AccountCode,
			r.AccountName,
			r.Balance,
			string(r.Classification),
			string(r.Status),
			string(r.Criticality),
			r.Currency,
			r.Entity,
			r.Period,
		).Scan(&wasInsert)
		if err != nil {
			_ = tx.Rollback()

			var pqErr *pq.Error
			if errors.As(err, &pqErr) {
				return fmt.Errorf("upsert of %s failed (%s): %w", r.Key(), pqErr.Code.Name(), err)
			}

			return fmt.Errorf("upsert of %s failed: %w", r.Key(), err)
		}

		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk: %w", err)
	}

	result.Inserted += inserted
	result.Updated += updated

	return nil
}

// CountRecords returns the number of persisted records for an (entity, period)
// batch. Used by duplicate-ingestion tests and operational checks.
func (s *LedgerStore) CountRecords(ctx context.Context, entity, period string) (int, error) {
	var count int

	err := s.conn.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_records WHERE entity = $1 AND period = $2`,
		entity, period,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count failed: %w", ErrLedgerStoreFailed, err)
	}

	return count, nil
}

// RecordsForAssignment returns the records of an (entity, period) batch in a
// stable order (account_code ascending) for the assignment engine.
func (s *LedgerStore) RecordsForAssignment(ctx context.Context, entity, period string) ([]ledger.Record, error) {
	rows, err := s.conn.DB.QueryContext(ctx, `
		SELECT account_code, account_name, balance, classification, status,
		       criticality, currency, entity, period
		FROM ledger_records
		WHERE entity = $1 AND period = $2
		ORDER BY account_code`,
		entity, period,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query failed: %w", ErrLedgerStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var records []ledger.Record

	for rows.Next() {
		var r ledger.Record

		var classification, status, criticality string

		err := rows.Scan(&r.AccountCode, &r.AccountName, &r.Balance, &classification,
			&status, &criticality, &r.Currency, &r.Entity, &r.Period)
		if err != nil {
			return nil, fmt.Errorf("%w: scan failed: %w", ErrLedgerStoreFailed, err)
		}

		r.Classification = ledger.Classification(classification)
		r.Status = ledger.ReviewStatus(status)
		r.Criticality = ledger.Criticality(criticality)

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iteration failed: %w", ErrLedgerStoreFailed, err)
	}

	return records, nil
}
