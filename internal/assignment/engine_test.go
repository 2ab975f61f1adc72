package assignment

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline-io/ledgerline/internal/ledger"
)

type (
	// fakeStore is an in-memory assignment.Store capturing Save calls.
	fakeStore struct {
		counts map[string]int
		keys   map[string]bool
		saved  []Assignment
		forced bool
	}

	// fakeRecords is a RecordSource over a fixed slice.
	fakeRecords struct {
		records []ledger.Record
	}
)

func (f *fakeStore) Counts(_ context.Context, _, _ string) (map[string]int, error) {
	counts := make(map[string]int, len(f.counts))
	for k, v := range f.counts {
		counts[k] = v
	}

	return counts, nil
}

func (f *fakeStore) AssignedKeys(_ context.Context, _, _ string) (map[string]bool, error) {
	return f.keys, nil
}

func (f *fakeStore) Save(_ context.Context, assignments []Assignment, force bool) error {
	f.saved = append(f.saved, assignments...)
	f.forced = force

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(code string, balance float64, cls ledger.Classification) ledger.Record {
	return ledger.Record{
		AccountCode:    code,
		AccountName:    "Account " + code,
		Balance:        balance,
		Classification: cls,
		Status:         ledger.StatusPendingReview,
		Criticality:    ledger.CriticalityStandard,
		Currency:       "USD",
		Entity:         "acme",
		Period:         "2024-01",
	}
}

func acmeDirectory() *StaticDirectory {
	return NewStaticDirectory([]User{
		{ID: "u1", Name: "Reviewer One", Entities: []string{"acme"}},
		{ID: "u2", Name: "Reviewer Two", Entities: []string{"acme"}},
		{ID: "a1", Name: "Approver One", Entities: []string{"acme"}, Approver: true},
	})
}

func newTestEngine(store *fakeStore, records []ledger.Record) *Engine {
	return NewEngine(DefaultRules(), acmeDirectory(), store, &fakeRecords{records: records}, testLogger())
}

func (f *fakeRecords) RecordsForAssignment(_ context.Context, _, _ string) ([]ledger.Record, error) {
	return f.records, nil
}

func TestMatchRule(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine := newTestEngine(&fakeStore{}, nil)

	tests := []struct {
		name   string
		record ledger.Record
		want   string
	}{
		{
			name:   "balance at threshold matches high_value regardless of classification",
			record: record("1000", 1_000_000, ledger.ClassificationProfitLoss),
			want:   "high_value",
		},
		{
			name:   "negative balance counts by magnitude",
			record: record("1000", -2_500_000, ledger.ClassificationBalanceSheet),
			want:   "high_value",
		},
		{
			name:   "balance sheet below threshold matches balance_sheet",
			record: record("1000", 500, ledger.ClassificationBalanceSheet),
			want:   "balance_sheet",
		},
		{
			name:   "material PL matches material_pl",
			record: record("4000", -150_000, ledger.ClassificationProfitLoss),
			want:   "material_pl",
		},
		{
			name:   "small PL falls through to default",
			record: record("4000", 50, ledger.ClassificationProfitLoss),
			want:   "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := engine.MatchRule(&tt.record)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.Name)
		})
	}

	t.Run("high criticality outranks classification rules", func(t *testing.T) {
		r := record("4000", 50, ledger.ClassificationProfitLoss)
		r.Criticality = ledger.CriticalityHigh

		rule, err := engine.MatchRule(&r)
		require.NoError(t, err)
		assert.Equal(t, "high_criticality", rule.Name)
	})
}

func TestLeastLoaded(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	candidates := []User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}}

	t.Run("picks the minimum load", func(t *testing.T) {
		chosen := leastLoaded(candidates, map[string]int{"u1": 3, "u2": 1, "u3": 2})
		assert.Equal(t, "u2", chosen.ID)
	})

	t.Run("breaks ties by ascending ID", func(t *testing.T) {
		chosen := leastLoaded(candidates, map[string]int{"u1": 3, "u2": 1, "u3": 1})
		assert.Equal(t, "u2", chosen.ID)
	})

	t.Run("zero loads fall back to first ID", func(t *testing.T) {
		chosen := leastLoaded(candidates, map[string]int{})
		assert.Equal(t, "u1", chosen.ID)
	})
}

func TestAssignBatch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()

	t.Run("distributes reviewer load evenly", func(t *testing.T) {
		records := []ledger.Record{
			record("1000", 10, ledger.ClassificationProfitLoss),
			record("2000", 20, ledger.ClassificationProfitLoss),
			record("3000", 30, ledger.ClassificationProfitLoss),
			record("4000", 40, ledger.ClassificationProfitLoss),
		}

		store := &fakeStore{counts: map[string]int{}}
		engine := newTestEngine(store, records)

		summary, err := engine.AssignBatch(ctx, "acme", "2024-01", false)
		require.NoError(t, err)

		assert.Equal(t, 4, summary.Total)
		assert.Equal(t, 4, summary.Assigned)
		assert.Equal(t, map[string]int{"default": 4}, summary.ByRule)

		perUser := map[string]int{}
		for _, a := range store.saved {
			perUser[a.ReviewerID]++
		}

		assert.Equal(t, map[string]int{"u1": 2, "u2": 2}, perUser)
	})

	t.Run("prior load shifts new work to the idle reviewer", func(t *testing.T) {
		records := []ledger.Record{record("1000", 10, ledger.ClassificationProfitLoss)}

		store := &fakeStore{counts: map[string]int{"u1": 3}}
		engine := newTestEngine(store, records)

		_, err := engine.AssignBatch(ctx, "acme", "2024-01", false)
		require.NoError(t, err)

		require.Len(t, store.saved, 1)
		assert.Equal(t, "u2", store.saved[0].ReviewerID)
	})

	t.Run("dual sign-off resolves reviewer and approver", func(t *testing.T) {
		records := []ledger.Record{record("1000", 500, ledger.ClassificationBalanceSheet)}

		store := &fakeStore{counts: map[string]int{}}
		engine := newTestEngine(store, records)

		_, err := engine.AssignBatch(ctx, "acme", "2024-01", false)
		require.NoError(t, err)

		require.Len(t, store.saved, 1)
		a := store.saved[0]
		assert.Equal(t, "balance_sheet", a.RuleName)
		assert.NotEmpty(t, a.ReviewerID)
		assert.Equal(t, "a1", a.ApproverID)
		assert.Equal(t, StatusAssigned, a.Status)
		assert.Equal(t, a.AssignedAt.Add(5*24*time.Hour), a.DueDate)
	})

	t.Run("skip existing leaves assigned records alone", func(t *testing.T) {
		records := []ledger.Record{
			record("1000", 10, ledger.ClassificationProfitLoss),
			record("2000", 20, ledger.ClassificationProfitLoss),
		}

		store := &fakeStore{
			counts: map[string]int{},
			keys:   map[string]bool{"1000": true},
		}
		engine := newTestEngine(store, records)

		summary, err := engine.AssignBatch(ctx, "acme", "2024-01", true)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, 1, summary.Assigned)
		require.Len(t, store.saved, 1)
		assert.Equal(t, "2000", store.saved[0].AccountCode)
		assert.False(t, store.forced)
	})

	t.Run("missing candidates record a failed entry without aborting", func(t *testing.T) {
		unknown := record("1000", 10, ledger.ClassificationProfitLoss)
		unknown.Entity = "ghost"
		ok := record("2000", 20, ledger.ClassificationProfitLoss)

		store := &fakeStore{counts: map[string]int{}}
		engine := newTestEngine(store, []ledger.Record{unknown, ok})

		summary, err := engine.AssignBatch(ctx, "ghost", "2024-01", false)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Failed)
		assert.Equal(t, 1, summary.Assigned)

		require.Len(t, store.saved, 2)
		failed := store.saved[0]
		assert.Equal(t, StatusFailed, failed.Status)
		assert.Contains(t, failed.Error, "no eligible reviewer")
		assert.Empty(t, failed.ReviewerID)
	})
}

func TestAssignAccount(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	r := record("1000", 500, ledger.ClassificationBalanceSheet)

	t.Run("forced identities bypass least-loaded selection", func(t *testing.T) {
		store := &fakeStore{counts: map[string]int{"u9": 99}}
		engine := newTestEngine(store, nil)

		a, err := engine.AssignAccount(ctx, &r, "u9", "a9")
		require.NoError(t, err)

		assert.Equal(t, "u9", a.ReviewerID)
		assert.Equal(t, "a9", a.ApproverID)
		assert.Equal(t, "balance_sheet", a.RuleName)
		assert.Equal(t, StatusAssigned, a.Status)
		assert.True(t, store.forced)
	})

	t.Run("without forced identities resolution applies", func(t *testing.T) {
		store := &fakeStore{counts: map[string]int{}}
		engine := newTestEngine(store, nil)

		a, err := engine.AssignAccount(ctx, &r, "", "")
		require.NoError(t, err)

		assert.Equal(t, "u1", a.ReviewerID)
		assert.Equal(t, "a1", a.ApproverID)
	})
}

func TestPrepareRules(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("default rules are valid and priority sorted", func(t *testing.T) {
		rules, err := prepareRules(DefaultRules())
		require.NoError(t, err)

		for i := 1; i < len(rules); i++ {
			assert.Less(t, rules[i-1].Priority, rules[i].Priority)
		}
	})

	t.Run("empty list rejected", func(t *testing.T) {
		_, err := prepareRules(nil)
		require.ErrorIs(t, err, ErrNoRules)
	})

	t.Run("duplicate priorities rejected", func(t *testing.T) {
		_, err := prepareRules([]Rule{
			{Name: "a", Priority: 10},
			{Name: "b", Priority: 10},
		})
		require.ErrorIs(t, err, ErrDuplicatePriority)
	})

	t.Run("missing catch-all rejected", func(t *testing.T) {
		_, err := prepareRules([]Rule{
			{Name: "bs_only", Priority: 10, Classification: ledger.ClassificationBalanceSheet},
		})
		require.ErrorIs(t, err, ErrNoCatchAll)
	})
}
