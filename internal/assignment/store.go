package assignment

import (
	"context"

	"github.com/ledgerline-io/ledgerline/internal/ledger"
)

type (
	// Store is the persistence surface the engine needs for assignments.
	// Implemented by storage.AssignmentStore.
	Store interface {
		// Counts returns the number of existing active assignments per user ID
		// for the (entity, period) batch. Reviewer and approver roles both
		// count toward a user's load.
		Counts(ctx context.Context, entity, period string) (map[string]int, error)

		// AssignedKeys returns the account codes that already carry an active
		// assignment for the batch.
		AssignedKeys(ctx context.Context, entity, period string) (map[string]bool, error)

		// Save persists assignments. When force is false an existing
		// assignment for the same compound key is left untouched (no-op);
		// when true it is overwritten.
		Save(ctx context.Context, assignments []Assignment, force bool) error
	}

	// RecordSource is the read-only slice of the ledger store the engine
	// needs: the records of one batch in a stable order.
	RecordSource interface {
		RecordsForAssignment(ctx context.Context, entity, period string) ([]ledger.Record, error)
	}
)
