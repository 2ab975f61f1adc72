// Package coordinator fans a manifest of ingestion units out over a bounded
// worker pool with retry, backoff and rate limiting.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ledgerline-io/ledgerline/internal/config"
	"github.com/ledgerline-io/ledgerline/internal/pipeline"
)

const (
	defaultWorkers        = 4
	defaultMaxAttempts    = 4
	defaultInitialBackoff = time.Second
	defaultStartRate      = 8.0
)

// State is the lifecycle state of one unit. Units move
// pending -> running -> one of the terminal states.
type State string

const (
	// StatePending means the unit has not started yet.
	StatePending State = "pending"

	// StateRunning means a worker is processing the unit.
	StateRunning State = "running"

	// StateSuccess means the unit's records were persisted.
	StateSuccess State = "success"

	// StateSkipped means the unit was a duplicate ingestion.
	StateSkipped State = "skipped"

	// StateFailedRetryable means the last attempt failed with a retryable
	// error and another attempt is pending.
	StateFailedRetryable State = "failed_retryable"

	// StateFailedTerminal means the unit will not be retried: either the
	// error was terminal or the attempt budget is exhausted.
	StateFailedTerminal State = "failed_terminal"
)

type (
	// Runner is the per-unit work the coordinator schedules. Implemented by
	// pipeline.Pipeline.
	Runner interface {
		Run(ctx context.Context, unit pipeline.Unit) (*pipeline.Result, error)
	}

	// Config tunes the worker pool.
	Config struct {
		// Workers bounds concurrent unit processing.
		Workers int

		// MaxAttempts is the total attempt budget per unit, first try
		// included. 4 attempts means up to 3 retries.
		MaxAttempts int

		// InitialBackoff is the delay before the first retry; each further
		// retry doubles it.
		InitialBackoff time.Duration

		// StartRate caps unit starts per second across all workers, so a
		// large manifest cannot stampede the stores.
		StartRate float64
	}

	// UnitResult is the terminal record of one unit.
	UnitResult struct {
		Unit     pipeline.Unit
		State    State
		Attempts int
		Result   *pipeline.Result
		Err      error
	}

	// Summary aggregates one coordinator run.
	Summary struct {
		Total      int
		Successful int
		Failed     int
		Skipped    int
		Duration   time.Duration
		Units      []UnitResult
	}

	// Coordinator schedules units over the pool. Units are independent; the
	// coordinator never aborts remaining units because one failed.
	Coordinator struct {
		cfg     Config
		runner  Runner
		limiter *rate.Limiter
		logger  *slog.Logger

		// sleep is the retry delay primitive, injectable for tests.
		sleep func(ctx context.Context, d time.Duration) error
	}
)

// LoadConfig loads coordinator configuration from environment variables with
// fallback to defaults.
func LoadConfig() Config {
	return Config{
		Workers:        config.GetEnvInt("LEDGERLINE_WORKERS", defaultWorkers),
		MaxAttempts:    config.GetEnvInt("LEDGERLINE_MAX_ATTEMPTS", defaultMaxAttempts),
		InitialBackoff: config.GetEnvDuration("LEDGERLINE_INITIAL_BACKOFF", defaultInitialBackoff),
		StartRate:      config.GetEnvFloat("LEDGERLINE_START_RATE", defaultStartRate),
	}
}

// New creates a Coordinator.
func New(cfg Config, runner Runner, logger *slog.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}

	if cfg.StartRate <= 0 {
		cfg.StartRate = defaultStartRate
	}

	return &Coordinator{
		cfg:     cfg,
		runner:  runner,
		limiter: rate.NewLimiter(rate.Limit(cfg.StartRate), cfg.Workers),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Run processes every unit and returns the aggregate summary. Worker count
// bounds concurrency; the rate limiter paces unit starts. Cancellation is
// cooperative: in-flight attempts finish (or observe ctx themselves), pending
// units and pending retries are abandoned.
func (c *Coordinator) Run(ctx context.Context, units []pipeline.Unit) (*Summary, error) {
	startTime := time.Now()

	summary := &Summary{
		Total: len(units),
		Units: make([]UnitResult, len(units)),
	}

	// Seed every slot so units abandoned by cancellation report pending
	// instead of a zero-value state.
	for i := range units {
		summary.Units[i] = UnitResult{Unit: units[i], State: StatePending}
	}

	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.Workers)

	for i := range units {
		if groupCtx.Err() != nil {
			break
		}

		group.Go(func() error {
			if err := c.limiter.Wait(groupCtx); err != nil {
				mu.Lock()
				summary.Units[i] = UnitResult{Unit: units[i], State: StateFailedTerminal, Err: err}
				summary.Failed++
				mu.Unlock()

				return nil
			}

			unitResult := c.processUnit(groupCtx, units[i])

			mu.Lock()
			summary.Units[i] = unitResult

			switch unitResult.State {
			case StateSuccess:
				summary.Successful++
			case StateSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
			mu.Unlock()

			return nil
		})
	}

	// Workers never return errors; Wait only observes cancellation.
	_ = group.Wait()

	summary.Duration = time.Since(startTime)

	c.logger.Info("Coordinator run complete",
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration_ms", summary.Duration.Milliseconds(),
	)

	return summary, ctx.Err()
}

// processUnit runs one unit through its attempt budget with exponential
// backoff between retryable failures.
func (c *Coordinator) processUnit(ctx context.Context, unit pipeline.Unit) UnitResult {
	unitResult := UnitResult{Unit: unit, State: StateRunning}
	backoff := c.cfg.InitialBackoff

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		unitResult.Attempts = attempt

		result, err := c.runner.Run(ctx, unit)
		unitResult.Result = result
		unitResult.Err = err

		if err == nil {
			if result != nil && result.Status == pipeline.StatusSkipped {
				unitResult.State = StateSkipped
			} else {
				unitResult.State = StateSuccess
			}

			return unitResult
		}

		if !pipeline.Retryable(err) {
			unitResult.State = StateFailedTerminal

			c.logger.Error("Unit failed terminally",
				"path", unit.Path,
				"entity", unit.Entity,
				"period", unit.Period,
				"attempt", attempt,
				"error", err,
			)

			return unitResult
		}

		unitResult.State = StateFailedRetryable

		if attempt == c.cfg.MaxAttempts {
			break
		}

		c.logger.Warn("Unit attempt failed, retrying",
			"path", unit.Path,
			"entity", unit.Entity,
			"period", unit.Period,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err,
		)

		if err := c.sleep(ctx, backoff); err != nil {
			unitResult.State = StateFailedTerminal
			unitResult.Err = err

			return unitResult
		}

		backoff *= 2
	}

	// Attempt budget exhausted.
	unitResult.State = StateFailedTerminal

	c.logger.Error("Unit failed after exhausting retries",
		"path", unit.Path,
		"entity", unit.Entity,
		"period", unit.Period,
		"attempts", unitResult.Attempts,
		"error", unitResult.Err,
	)

	return unitResult
}

// sleepCtx waits for d or for cancellation, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
