// Package main provides the LedgerLine assignment CLI.
//
// The assigner matches the persisted records of one (entity, period) batch
// against the prioritized rule list and distributes reviewer/approver work
// using least-loaded selection.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ledgerline-io/ledgerline/internal/assignment"
	"github.com/ledgerline-io/ledgerline/internal/config"
	"github.com/ledgerline-io/ledgerline/internal/docstore"
	"github.com/ledgerline-io/ledgerline/internal/ledger"
	"github.com/ledgerline-io/ledgerline/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "assigner"
)

func main() {
	var (
		versionFlag   = flag.Bool("version", false, "show version information")
		entity        = flag.String("entity", "", "reporting entity of the batch (required)")
		period        = flag.String("period", "", "period of the batch in YYYY-MM form (required)")
		skipExisting  = flag.Bool("skip-existing", true, "leave records that already carry an active assignment alone")
		rulesFile     = flag.String("rules", "", "path to a YAML rules file (default: built-in rules)")
		directoryFile = flag.String("directory", "", "path to the YAML user directory (required)")
		account       = flag.String("account", "", "assign a single account code instead of the whole batch")
		reviewer      = flag.String("reviewer", "", "forced reviewer ID for -account (overrides least-loaded selection)")
		approver      = flag.String("approver", "", "forced approver ID for -account (overrides least-loaded selection)")
	)

	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LEDGERLINE_LOG_LEVEL", slog.LevelInfo),
	}))

	if *entity == "" || *period == "" || *directoryFile == "" {
		logger.Error("Flags -entity, -period and -directory are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules := assignment.DefaultRules()

	if *rulesFile != "" {
		var err error

		rules, err = assignment.LoadRules(*rulesFile)
		if err != nil {
			logger.Error("Failed to load rules", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	directory, err := assignment.LoadDirectory(*directoryFile)
	if err != nil {
		logger.Error("Failed to load user directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	logger.Info("Assignment stores initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.String("entity", *entity),
		slog.String("period", *period),
	)

	docStore, err := docstore.Connect(ctx, docstore.LoadConfig(), logger)
	if err != nil {
		logger.Error("Failed to connect to document store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	defer func() {
		_ = docStore.Close(context.Background())
	}()

	ledgerStore := storage.NewLedgerStore(dbConn, logger)
	assignmentStore := storage.NewAssignmentStore(dbConn, logger)
	engine := assignment.NewEngine(rules, directory, assignmentStore, ledgerStore, logger)

	if *account != "" {
		assignSingle(ctx, engine, ledgerStore, logger, *entity, *period, *account, *reviewer, *approver)

		return
	}

	summary, err := engine.AssignBatch(ctx, *entity, *period, *skipExisting)
	if err != nil {
		logger.Error("Assignment batch failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	event := &ledger.AuditEvent{
		ID:        uuid.NewString(),
		Type:      ledger.EventRecordAssigned,
		Entity:    *entity,
		Period:    *period,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"total":    summary.Total,
			"assigned": summary.Assigned,
			"failed":   summary.Failed,
			"skipped":  summary.Skipped,
		},
	}

	if err := docStore.AppendAuditEvent(ctx, event); err != nil {
		logger.Error("Failed to append audit event", slog.String("error", err.Error()))
	}

	if summary.Failed > 0 {
		logger.Warn("Assignment batch finished with unassignable records",
			slog.Int("total", summary.Total),
			slog.Int("assigned", summary.Assigned),
			slog.Int("failed", summary.Failed),
			slog.Int("skipped", summary.Skipped),
		)
		os.Exit(1)
	}

	logger.Info("Assignment batch finished",
		slog.Int("total", summary.Total),
		slog.Int("assigned", summary.Assigned),
		slog.Int("skipped", summary.Skipped),
	)
}

// assignSingle handles the single-account path, including forced identities.
func assignSingle(
	ctx context.Context,
	engine *assignment.Engine,
	ledgerStore *storage.LedgerStore,
	logger *slog.Logger,
	entity, period, account, reviewer, approver string,
) {
	records, err := ledgerStore.RecordsForAssignment(ctx, entity, period)
	if err != nil {
		logger.Error("Failed to load records", slog.String("error", err.Error()))
		os.Exit(1)
	}

	for i := range records {
		if records[i].AccountCode != account {
			continue
		}

		a, err := engine.AssignAccount(ctx, &records[i], reviewer, approver)
		if err != nil {
			logger.Error("Failed to assign account", slog.String("error", err.Error()))
			os.Exit(1)
		}

		logger.Info("Account assigned",
			slog.String("account_code", a.AccountCode),
			slog.String("rule", a.RuleName),
			slog.String("reviewer_id", a.ReviewerID),
			slog.String("approver_id", a.ApproverID),
			slog.String("status", string(a.Status)),
		)

		return
	}

	logger.Error("Account not found in batch",
		slog.String("account_code", account),
		slog.String("entity", entity),
		slog.String("period", period),
	)
	os.Exit(1)
}
