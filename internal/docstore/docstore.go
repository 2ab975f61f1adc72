// Package docstore provides the document-store side of persistence: file-level
// ingestion metadata, validation outcomes and the append-only audit log, all
// backed by MongoDB.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ledgerline-io/ledgerline/internal/config"
	"github.com/ledgerline-io/ledgerline/internal/fingerprint"
	"github.com/ledgerline-io/ledgerline/internal/ledger"
	"github.com/ledgerline-io/ledgerline/internal/profile"
	"github.com/ledgerline-io/ledgerline/internal/rules"
)

const (
	collectionIngestedFiles      = "ingested_files"
	collectionValidationOutcomes = "validation_outcomes"
	collectionAuditEvents        = "audit_events"

	defaultConnectTimeout = 10 * time.Second
)

// Sentinel errors for document store operations.
var (
	// ErrMongoURIEmpty is returned when the Mongo URI is an empty string.
	ErrMongoURIEmpty = errors.New("mongo URI cannot be empty")

	// ErrDocStoreFailed is returned when a document store operation fails.
	ErrDocStoreFailed = errors.New("document store operation failed")
)

// Compile-time assertion: the Store answers the fingerprinter's duplicate queries.
var _ fingerprint.AuditQuerier = (*Store)(nil)

type (
	// Config holds MongoDB connection configuration.
	Config struct {
		URI            string
		Database       string
		ConnectTimeout time.Duration
	}

	// Store wraps the three collections. Appends are independent, lock-free
	// inserts; nothing in the store is ever mutated or deleted.
	Store struct {
		client *mongo.Client
		db     *mongo.Database
		logger *slog.Logger
	}

	// IngestionRecord is the file-level metadata document, keyed uniquely by
	// fingerprint.
	IngestionRecord struct {
		Fingerprint string                  `bson:"fingerprint"`
		Path        string                  `bson:"path"`
		ByteLength  int64                   `bson:"byte_length"`
		Entity      string                  `bson:"entity"`
		Period      string                  `bson:"period"`
		RowCount    int                     `bson:"row_count"`
		Profile     *profile.DatasetProfile `bson:"profile,omitempty"`
		DurationMs  int64                   `bson:"duration_ms"`
		IngestedAt  time.Time               `bson:"ingested_at"`
	}

	// OutcomeRecord is the validation outcome document, keyed by entity+period.
	OutcomeRecord struct {
		Entity    string         `bson:"entity"`
		Period    string         `bson:"period"`
		Outcome   *rules.Outcome `bson:"outcome"`
		CreatedAt time.Time      `bson:"created_at"`
	}

	// auditDocument is the persisted shape of a ledger.AuditEvent.
	auditDocument struct {
		ID        string                 `bson:"event_id"`
		Type      string                 `bson:"event_type"`
		Entity    string                 `bson:"entity"`
		Period    string                 `bson:"period"`
		Timestamp time.Time              `bson:"timestamp"`
		Metadata  map[string]interface{} `bson:"metadata,omitempty"`
	}
)

// LoadConfig loads MongoDB configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		URI:            config.GetEnvStr("MONGO_URI", ""),
		Database:       config.GetEnvStr("MONGO_DATABASE", "ledgerline"),
		ConnectTimeout: config.GetEnvDuration("MONGO_CONNECT_TIMEOUT", defaultConnectTimeout),
	}
}

// Validate checks if the MongoDB configuration is valid.
func (c *Config) Validate() error {
	if c.URI == "" {
		return ErrMongoURIEmpty
	}

	return nil
}

// Connect opens a MongoDB client, verifies connectivity and ensures the
// collection indexes.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	store := &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}

	if err := store.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(ctx)

		return nil, err
	}

	return store, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ensureIndexes creates the unique fingerprint index on ingested files, the
// entity+period index on validation outcomes, and the entity+period+timestamp
// index on the audit log.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(collectionIngestedFiles).Indexes().CreateOne(ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "fingerprint", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
	if err != nil {
		return fmt.Errorf("%w: ingested_files index: %w", ErrDocStoreFailed, err)
	}

	_, err = s.db.Collection(collectionValidationOutcomes).Indexes().CreateOne(ctx,
		mongo.IndexModel{
			Keys: bson.D{{Key: "entity", Value: 1}, {Key: "period", Value: 1}},
		})
	if err != nil {
		return fmt.Errorf("%w: validation_outcomes index: %w", ErrDocStoreFailed, err)
	}

	_, err = s.db.Collection(collectionAuditEvents).Indexes().CreateOne(ctx,
		mongo.IndexModel{
			Keys: bson.D{
				{Key: "entity", Value: 1},
				{Key: "period", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		})
	if err != nil {
		return fmt.Errorf("%w: audit_events index: %w", ErrDocStoreFailed, err)
	}

	return nil
}

// RecordIngestion inserts the file-level metadata document for one ingestion.
func (s *Store) RecordIngestion(ctx context.Context, record *IngestionRecord) error {
	startTime := time.Now()

	_, err := s.db.Collection(collectionIngestedFiles).InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("%w: ingestion record insert: %w", ErrDocStoreFailed, err)
	}

	s.logger.Debug("Ingestion metadata recorded",
		"fingerprint", record.Fingerprint,
		"entity", record.Entity,
		"period", record.Period,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return nil
}

// RecordValidationOutcome inserts one validation outcome document. Outcomes
// are persisted independently of whether ingestion proceeds.
func (s *Store) RecordValidationOutcome(ctx context.Context, entity, period string, outcome *rules.Outcome) error {
	doc := &OutcomeRecord{
		Entity:    entity,
		Period:    period,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := s.db.Collection(collectionValidationOutcomes).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%w: outcome insert: %w", ErrDocStoreFailed, err)
	}

	return nil
}

// AppendAuditEvent appends one event to the audit log. The log is append-only:
// there is no update or delete path anywhere in this package.
func (s *Store) AppendAuditEvent(ctx context.Context, event *ledger.AuditEvent) error {
	doc := auditDocument{
		ID:        event.ID,
		Type:      event.Type.String(),
		Entity:    event.Entity,
		Period:    event.Period,
		Timestamp: event.Timestamp,
		Metadata:  event.Metadata,
	}

	if _, err := s.db.Collection(collectionAuditEvents).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%w: audit append: %w", ErrDocStoreFailed, err)
	}

	return nil
}

// HasFileIngested implements fingerprint.AuditQuerier: whether a
// file_ingested audit event with the given fingerprint exists.
func (s *Store) HasFileIngested(ctx context.Context, fp fingerprint.Fingerprint) (bool, error) {
	filter := bson.M{
		"event_type":           ledger.EventFileIngested.String(),
		"metadata.fingerprint": fp.String(),
	}

	err := s.db.Collection(collectionAuditEvents).FindOne(ctx, filter).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: duplicate lookup: %w", ErrDocStoreFailed, err)
	}

	return true, nil
}
