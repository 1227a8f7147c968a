package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query. With 14
// columns per record we stay comfortably under it at 71 records per chunk.
const (
	maxSQLiteParams    = 999
	columnsPerRecord   = 14
	maxRecordsPerBatch = maxSQLiteParams / columnsPerRecord
)

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates a new SQLite usage store. It creates the usage
// table if it doesn't exist and starts a background cleanup goroutine when
// retention is configured.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			binding_key TEXT NOT NULL,
			model TEXT NOT NULL,
			kind TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			estimated INTEGER NOT NULL DEFAULT 0,
			prompt_chars INTEGER NOT NULL DEFAULT 0,
			completion_chars INTEGER NOT NULL DEFAULT 0,
			cost REAL,
			currency TEXT,
			metadata JSON
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
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch appends multiple records using batch insert. Records are
// chunked to stay within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	for i := 0; i < len(records); i += maxRecordsPerBatch {
		end := i + maxRecordsPerBatch
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerRecord)

		for j, rec := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

			var metadataValue interface{}
			if md := marshalMetadata(rec.Metadata, rec.ID); md != nil {
				metadataValue = string(md)
			}

			values = append(values,
				rec.ID,
				rec.CorrelationID,
				rec.BindingKey,
				rec.Model,
				rec.Kind,
				rec.Timestamp.UTC().Format(time.RFC3339Nano),
				rec.InputTokens,
				rec.OutputTokens,
				rec.Estimated,
				rec.PromptChars,
				rec.CompletionChars,
				rec.Cost,
				rec.Currency,
				metadataValue,
			)
		}

		query := `INSERT OR IGNORE INTO usage (id, correlation_id, binding_key, model, kind,
			timestamp, input_tokens, output_tokens, estimated, prompt_chars,
			completion_chars, cost, currency, metadata) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert usage batch %d: %w", i/maxRecordsPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The DB handle itself is owned by the
// caller. Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

// cleanup deletes usage records older than the retention period.
func (s *SQLiteStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(time.RFC3339Nano)

	result, err := s.db.Exec("DELETE FROM usage WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old usage records", "error", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		slog.Info("cleaned up old usage records", "deleted", rowsAffected)
	}
}

// marshalMetadata marshals metadata to JSON for SQL storage.
// Returns nil when the map is empty, or "{}" if marshaling fails.
func marshalMetadata(md map[string]string, recordID string) []byte {
	if len(md) == 0 {
		return nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		slog.Warn("failed to marshal usage metadata", "error", err, "id", recordID)
		return []byte("{}")
	}
	return data
}
