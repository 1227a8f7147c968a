package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store for PostgreSQL databases.
type PostgresStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgresStore creates a new PostgreSQL usage store. It creates the
// usage table if it doesn't exist and starts a background cleanup goroutine
// when retention is configured.
func NewPostgresStore(pool *pgxpool.Pool, retentionDays int) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage (
			id UUID PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			binding_key TEXT NOT NULL,
			model TEXT NOT NULL,
			kind TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			estimated BOOLEAN NOT NULL DEFAULT FALSE,
			prompt_chars INTEGER NOT NULL DEFAULT 0,
			completion_chars INTEGER NOT NULL DEFAULT 0,
			cost DOUBLE PRECISION,
			currency TEXT,
			metadata JSONB
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_usage_correlation_id ON usage(correlation_id)",
		"CREATE INDEX IF NOT EXISTS idx_usage_binding_key ON usage(binding_key)",
		"CREATE INDEX IF NOT EXISTS idx_usage_model ON usage(model)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgresStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch appends multiple records to PostgreSQL.
func (s *PostgresStore) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	var errs []error
	for _, rec := range records {
		var metadata []byte
		if md := marshalMetadata(rec.Metadata, rec.ID); md != nil {
			metadata = md
		}

		_, err := s.pool.Exec(ctx, `
			INSERT INTO usage (id, correlation_id, binding_key, model, kind, timestamp,
				input_tokens, output_tokens, estimated, prompt_chars,
				completion_chars, cost, currency, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING
		`, rec.ID, rec.CorrelationID, rec.BindingKey, rec.Model, rec.Kind,
			rec.Timestamp, rec.InputTokens, rec.OutputTokens, rec.Estimated,
			rec.PromptChars, rec.CompletionChars, rec.Cost, rec.Currency, metadata)
		if err != nil {
			errs = append(errs, fmt.Errorf("insert record %s: %w", rec.ID, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgresStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The pool is owned by the caller.
// Safe to call multiple times.
func (s *PostgresStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

// cleanup deletes usage records older than the retention period.
func (s *PostgresStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC()

	tag, err := s.pool.Exec(ctx, "DELETE FROM usage WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old usage records", "error", err)
		return
	}

	if deleted := tag.RowsAffected(); deleted > 0 {
		slog.Info("cleaned up old usage records", "deleted", deleted)
	}
}
