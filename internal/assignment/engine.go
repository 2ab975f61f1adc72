package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline-io/ledgerline/internal/ledger"
)

const hoursPerDay = 24

type (
	// Engine matches records against the prioritized rule list and resolves
	// reviewer/approver identities via least-loaded selection.
	//
	// An Engine processes one (entity, period) batch sequentially: load
	// balancing is non-commutative, since each decision changes the counts
	// the next decision depends on. Batches for different (entity, period)
	// pairs may run concurrently on separate Engine calls.
	Engine struct {
		rules     []Rule
		directory Directory
		store     Store
		records   RecordSource
		logger    *slog.Logger
	}

	// BatchSummary aggregates one AssignBatch run.
	BatchSummary struct {
		// Total is the number of records considered.
		Total int

		// Assigned is the number of successful assignments.
		Assigned int

		// Failed is the number of failed assignment entries (no eligible
		// candidate). Failures are recorded per record, never abort the batch.
		Failed int

		// Skipped is the number of records left alone because they already
		// carried an active assignment.
		Skipped int

		// ByRule counts successful assignments per matched rule name.
		ByRule map[string]int

		// Duration is the elapsed wall time of the batch run.
		Duration time.Duration
	}
)

// NewEngine creates an Engine. rules must be sorted by ascending priority
// (LoadRules and DefaultRules both guarantee this).
func NewEngine(
	rules []Rule,
	directory Directory,
	store Store,
	records RecordSource,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		rules:     rules,
		directory: directory,
		store:     store,
		records:   records,
		logger:    logger,
	}
}

// MatchRule returns the first rule (in ascending priority order) whose
// predicate matches the record. Evaluation is a pure linear scan; with the
// catch-all default rule in place every record matches something.
func (e *Engine) MatchRule(record *ledger.Record) (*Rule, error) {
	for i := range e.rules {
		if e.rules[i].Matches(record) {
			return &e.rules[i], nil
		}
	}

	return nil, ErrNoRuleMatched
}

// AssignAccount assigns a single record. Forced identities, when non-empty,
// override rule-computed resolution entirely (the manual override path); the
// matched rule still supplies the SLA and rule name. The assignment is
// persisted with force semantics, replacing any existing assignment for the
// record's compound key.
func (e *Engine) AssignAccount(
	ctx context.Context,
	record *ledger.Record,
	forcedReviewer, forcedApprover string,
) (*Assignment, error) {
	loads, err := e.store.Counts(ctx, record.Entity, record.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment counts: %w", err)
	}

	a := e.assignOne(ctx, record, forcedReviewer, forcedApprover, loads)

	if err := e.store.Save(ctx, []Assignment{a}, true); err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	return &a, nil
}

// AssignBatch assigns every record of the (entity, period) batch. When
// skipExisting is true, records that already carry an active assignment are
// skipped; otherwise they are reassigned. A record lacking any eligible
// candidate produces a failed Assignment entry with an explanatory error -
// it never aborts the batch.
func (e *Engine) AssignBatch(
	ctx context.Context,
	entity, period string,
	skipExisting bool,
) (*BatchSummary, error) {
	startTime := time.Now()

	records, err := e.records.RecordsForAssignment(ctx, entity, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load records for %s/%s: %w", entity, period, err)
	}

	loads, err := e.store.Counts(ctx, entity, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment counts: %w", err)
	}

	existing := map[string]bool{}

	if skipExisting {
		existing, err = e.store.AssignedKeys(ctx, entity, period)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing assignments: %w", err)
		}
	}

	summary := &BatchSummary{
		Total:  len(records),
		ByRule: make(map[string]int),
	}

	assignments := make([]Assignment, 0, len(records))

	for i := range records {
		record := &records[i]

		if skipExisting && existing[record.AccountCode] {
			summary.Skipped++

			continue
		}

		a := e.assignOne(ctx, record, "", "", loads)
		assignments = append(assignments, a)

		if a.Status == StatusAssigned {
			summary.Assigned++
			summary.ByRule[a.RuleName]++
		} else {
			summary.Failed++
		}
	}

	if len(assignments) > 0 {
		if err := e.store.Save(ctx, assignments, !skipExisting); err != nil {
			return nil, fmt.Errorf("failed to save assignments: %w", err)
		}
	}

	summary.Duration = time.Since(startTime)

	e.logger.Info("Assignment batch complete",
		"entity", entity,
		"period", period,
		"total", summary.Total,
		"assigned", summary.Assigned,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration_ms", summary.Duration.Milliseconds(),
	)

	return summary, nil
}

// assignOne resolves a single record against the rule list and the load map.
// loads is mutated: every resolved role increments the chosen user's count so
// later decisions within the batch see earlier ones.
func (e *Engine) assignOne(
	ctx context.Context,
	record *ledger.Record,
	forcedReviewer, forcedApprover string,
	loads map[string]int,
) Assignment {
	now := time.Now().UTC()

	a := Assignment{
		ID:          uuid.NewString(),
		AccountCode: record.AccountCode,
		Entity:      record.Entity,
		Period:      record.Period,
		AssignedAt:  now,
		Status:      StatusAssigned,
	}

	rule, err := e.MatchRule(record)
	if err != nil {
		a.Status = StatusFailed
		a.Error = err.Error()

		return a
	}

	a.RuleName = rule.Name
	a.DueDate = now.Add(time.Duration(rule.SLADays) * hoursPerDay * time.Hour)

	// Manual override path: forced identities bypass resolution entirely.
	if forcedReviewer != "" || forcedApprover != "" {
		a.ReviewerID = forcedReviewer
		a.ApproverID = forcedApprover

		return a
	}

	if rule.RequireReviewer {
		reviewers, err := e.directory.Reviewers(ctx, record.Entity)
		if err != nil || len(reviewers) == 0 {
			a.Status = StatusFailed
			a.Error = fmt.Sprintf("%v: %s", ErrNoEligibleReviewer, record.Entity)

			return a
		}

		chosen := leastLoaded(reviewers, loads)
		a.ReviewerID = chosen.ID
		loads[chosen.ID]++
	}

	if rule.RequireApprover {
		approvers, err := e.directory.Approvers(ctx, record.Entity)
		if err != nil || len(approvers) == 0 {
			a.Status = StatusFailed
			a.Error = fmt.Sprintf("%v: %s", ErrNoEligibleApprover, record.Entity)

			return a
		}

		chosen := leastLoaded(approvers, loads)
		a.ApproverID = chosen.ID
		loads[chosen.ID]++
	}

	return a
}

// leastLoaded selects the candidate with the fewest existing assignments for
// the batch, breaking ties by ascending user ID so selection is deterministic
// and reproducible under identical inputs.
func leastLoaded(candidates []User, loads map[string]int) User {
	best := candidates[0]
	bestLoad := loads[best.ID]

	for _, c := range candidates[1:] {
		load := loads[c.ID]
		if load < bestLoad || (load == bestLoad && c.ID < best.ID) {
			best = c
			bestLoad = load
		}
	}

	return best
}
