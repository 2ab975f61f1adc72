package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline-io/ledgerline/internal/pipeline"
)

// fakeRunner scripts per-path outcomes and records attempt counts.
type fakeRunner struct {
	mu       sync.Mutex
	attempts map[string]int

	// failures maps path -> error returned on every attempt.
	failures map[string]error

	// failuresUntil maps path -> number of failing attempts before success.
	failuresUntil map[string]int

	// skipped marks paths that report a duplicate skip.
	skipped map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		attempts:      make(map[string]int),
		failures:      make(map[string]error),
		failuresUntil: make(map[string]int),
		skipped:       make(map[string]bool),
	}
}

func (f *fakeRunner) Run(_ context.Context, unit pipeline.Unit) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[unit.Path]++

	if err, ok := f.failures[unit.Path]; ok {
		return &pipeline.Result{Status: pipeline.StatusFailed, Err: err}, err
	}

	if until, ok := f.failuresUntil[unit.Path]; ok && f.attempts[unit.Path] <= until {
		err := fmt.Errorf("transient failure %d", f.attempts[unit.Path])

		return &pipeline.Result{Status: pipeline.StatusFailed, Err: err}, err
	}

	if f.skipped[unit.Path] {
		return &pipeline.Result{Status: pipeline.StatusSkipped}, nil
	}

	return &pipeline.Result{Status: pipeline.StatusSuccess}, nil
}

func (f *fakeRunner) attemptCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attempts[path]
}

// recordedSleep captures backoff delays instead of waiting.
type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, d)

	return nil
}

func testConfig() Config {
	return Config{
		Workers:        2,
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		StartRate:      1000,
	}
}

func newTestCoordinator(runner Runner) (*Coordinator, *recordedSleep) {
	c := New(testConfig(), runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &recordedSleep{}
	c.sleep = rec.sleep

	return c, rec
}

func unitsOf(paths ...string) []pipeline.Unit {
	units := make([]pipeline.Unit, len(paths))
	for i, p := range paths {
		units[i] = pipeline.Unit{Path: p, Entity: "acme", Period: "2024-01"}
	}

	return units
}

func TestRunAllSuccessful(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runner := newFakeRunner()
	c, rec := newTestCoordinator(runner)

	summary, err := c.Run(context.Background(), unitsOf("a.csv", "b.csv", "c.csv"))
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Successful)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Skipped)
	assert.Empty(t, rec.delays)

	for _, u := range summary.Units {
		assert.Equal(t, StateSuccess, u.State)
		assert.Equal(t, 1, u.Attempts)
	}
}

func TestRunRetriesWithExponentialBackoff(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runner := newFakeRunner()
	runner.failures["flaky.csv"] = errors.New("connection refused")

	c, rec := newTestCoordinator(runner)

	summary, err := c.Run(context.Background(), unitsOf("flaky.csv", "ok.csv"))
	require.NoError(t, err)

	t.Run("summary splits success from failure", func(t *testing.T) {
		assert.Equal(t, 2, summary.Total)
		assert.Equal(t, 1, summary.Successful)
		assert.Equal(t, 1, summary.Failed)
		assert.Zero(t, summary.Skipped)
	})

	t.Run("failing unit exhausts the attempt budget", func(t *testing.T) {
		assert.Equal(t, 4, runner.attemptCount("flaky.csv"))
		assert.Equal(t, 1, runner.attemptCount("ok.csv"))
		assert.Equal(t, StateFailedTerminal, summary.Units[0].State)
		assert.Equal(t, 4, summary.Units[0].Attempts)
	})

	t.Run("backoff doubles per retry", func(t *testing.T) {
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
	})
}

func TestRunRecoversAfterTransientFailures(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runner := newFakeRunner()
	runner.failuresUntil["slow.csv"] = 2

	c, rec := newTestCoordinator(runner)

	summary, err := c.Run(context.Background(), unitsOf("slow.csv"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, StateSuccess, summary.Units[0].State)
	assert.Equal(t, 3, summary.Units[0].Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestRunTerminalFailureIsNotRetried(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runner := newFakeRunner()
	runner.failures["bad.csv"] = fmt.Errorf("load stage: %w", pipeline.ErrSchemaContract)

	c, rec := newTestCoordinator(runner)

	summary, err := c.Run(context.Background(), unitsOf("bad.csv"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, StateFailedTerminal, summary.Units[0].State)
	assert.Equal(t, 1, summary.Units[0].Attempts)
	assert.Empty(t, rec.delays)
}

func TestRunCountsSkippedDuplicates(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runner := newFakeRunner()
	runner.skipped["dup.csv"] = true

	c, _ := newTestCoordinator(runner)

	summary, err := c.Run(context.Background(), unitsOf("dup.csv", "new.csv"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, StateSkipped, summary.Units[0].State)
}

func TestRunCancellationAbandonsRetries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runner := newFakeRunner()
	runner.failures["flaky.csv"] = errors.New("connection refused")

	c := New(testConfig(), runner, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()

		return ctx.Err()
	}

	summary, err := c.Run(ctx, unitsOf("flaky.csv"))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, StateFailedTerminal, summary.Units[0].State)
	assert.Equal(t, 1, runner.attemptCount("flaky.csv"))
}

func TestRunCancellationLeavesUnstartedUnitsPending(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	runner := newFakeRunner()
	runner.failures["flaky.csv"] = errors.New("connection refused")

	cfg := testConfig()
	cfg.Workers = 1

	c := New(cfg, runner, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()

		return ctx.Err()
	}

	// With one worker the second unit waits for the pool slot and observes
	// the cancellation at its start gate; the third is never dispatched.
	summary, err := c.Run(ctx, unitsOf("flaky.csv", "gated.csv", "never-started.csv"))
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, runner.attemptCount("gated.csv"))
	assert.Zero(t, runner.attemptCount("never-started.csv"))

	assert.Equal(t, StateFailedTerminal, summary.Units[0].State)
	assert.Equal(t, StateFailedTerminal, summary.Units[1].State)
	assert.Equal(t, StatePending, summary.Units[2].State)
	assert.Zero(t, summary.Units[2].Attempts)
	assert.Equal(t, "never-started.csv", summary.Units[2].Unit.Path)
}
