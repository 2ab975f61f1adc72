package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerline-io/ledgerline/internal/assignment"
)

// ErrAssignmentStoreFailed is returned when an assignment storage operation fails.
var ErrAssignmentStoreFailed = errors.New("assignment storage failed")

// Compile-time interface assertion: the engine's Store contract is satisfied.
var _ assignment.Store = (*AssignmentStore)(nil)

// AssignmentStore persists assignments with one active row per
// (account_code, entity, period) compound key.
type AssignmentStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewAssignmentStore creates an AssignmentStore over an open connection.
func NewAssignmentStore(conn *Connection, logger *slog.Logger) *AssignmentStore {
	return &AssignmentStore{conn: conn, logger: logger}
}

// Counts implements assignment.Store. Reviewer and approver roles both count
// toward a user's load for the batch.
func (s *AssignmentStore) Counts(ctx context.Context, entity, period string) (map[string]int, error) {
	rows, err := s.conn.DB.QueryContext(ctx, `
		SELECT assignee, COUNT(*) FROM (
			SELECT reviewer_id AS assignee
			FROM assignments
			WHERE entity = $1 AND period = $2 AND status = 'assigned' AND reviewer_id <> ''
			UNION ALL
			SELECT approver_id AS assignee
			FROM assignments
			WHERE entity = $1 AND period = $2 AND status = 'assigned' AND approver_id <> ''
		) roles
		GROUP BY assignee`,
		entity, period,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: counts query failed: %w", ErrAssignmentStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)

	for rows.Next() {
		var assignee string

		var count int

		if err := rows.Scan(&assignee, &count); err != nil {
			return nil, fmt.Errorf("%w: counts scan failed: %w", ErrAssignmentStoreFailed, err)
		}

		counts[assignee] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: counts iteration failed: %w", ErrAssignmentStoreFailed, err)
	}

	return counts, nil
}

// AssignedKeys implements assignment.Store.
func (s *AssignmentStore) AssignedKeys(ctx context.Context, entity, period string) (map[string]bool, error) {
	rows, err := s.conn.DB.QueryContext(ctx, `
		SELECT account_code FROM assignments
		WHERE entity = $1 AND period = $2 AND status = 'assigned'`,
		entity, period,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: keys query failed: %w", ErrAssignmentStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	keys := make(map[string]bool)

	for rows.Next() {
		var code string

		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("%w: keys scan failed: %w", ErrAssignmentStoreFailed, err)
		}

		keys[code] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: keys iteration failed: %w", ErrAssignmentStoreFailed, err)
	}

	return keys, nil
}

// insertQueryKeep leaves an existing assignment for the compound key in place:
// re-running assignment for an already-assigned record is a no-op unless forced.
const insertQueryKeep = `
	INSERT INTO assignments (
		id, account_code, entity, period, reviewer_id, approver_id,
		rule_name, assigned_at, due_date, status, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (account_code, entity, period) DO NOTHING
`

// insertQueryForce replaces an existing assignment for the compound key.
const insertQueryForce = `
	INSERT INTO assignments (
		id, account_code, entity, period, reviewer_id, approver_id,
		rule_name, assigned_at, due_date, status, error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (account_code, entity, period)
	DO UPDATE SET
		reviewer_id = EXCLUDED.reviewer_id,
		approver_id = EXCLUDED.approver_id,
		rule_name = EXCLUDED.rule_name,
		assigned_at = EXCLUDED.assigned_at,
		due_date = EXCLUDED.due_date,
		status = EXCLUDED.status,
		error = EXCLUDED.error
`

// Save implements assignment.Store. All assignments are written in one
// transaction: an assignment batch is atomic with respect to its persistence.
func (s *AssignmentStore) Save(ctx context.Context, assignments []assignment.Assignment, force bool) error {
	startTime := time.Now()

	if len(assignments) == 0 {
		return nil
	}

	query := insertQueryKeep
	if force {
		query = insertQueryForce
	}

	tx, err := s.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrAssignmentStoreFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("%w: failed to prepare insert: %w", ErrAssignmentStoreFailed, err)
	}

	defer func() {
		_ = stmt.Close()
	}()

	for i := range assignments {
		a := &assignments[i]

		_, err := stmt.ExecContext(ctx,
			a.ID,
			a.AccountCode,
			a.Entity,
			a.Period,
			a.ReviewerID,
			a.ApproverID,
			a.RuleName,
			a.AssignedAt,
			nullableTime(a.DueDate),
			string(a.Status),
			a.Error,
		)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("%w: insert for %s/%s/%s failed: %w",
				ErrAssignmentStoreFailed, a.AccountCode, a.Entity, a.Period, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", ErrAssignmentStoreFailed, err)
	}

	s.logger.Info("Assignments saved",
		"total", len(assignments),
		"forced", force,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return nil
}

// nullableTime returns sql NULL for zero timestamps (failed assignments have
// no due date).
func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{Valid: false}
	}

	return sql.NullTime{Time: t, Valid: true}
}
