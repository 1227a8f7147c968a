// Package bindings provides BindingStore implementations over SQLite and a
// YAML seed file.
package bindings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modelgate/internal/core"
)

// SQLiteStore implements resolver.BindingStore over a SQLite database.
// Lookups hit the database on every call; bindings are deliberately not
// cached so configuration edits take effect on the next request.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the store and its table if missing.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS model_bindings (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			base_url TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			wire_mode TEXT NOT NULL DEFAULT 'auto',
			supports_reasoning INTEGER NOT NULL DEFAULT 0,
			price_input_per_mtok REAL,
			price_output_per_mtok REAL,
			currency TEXT NOT NULL DEFAULT 'USD'
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create model_bindings table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const bindingColumns = `id, key, name, kind, base_url, api_key, wire_mode,
	supports_reasoning, price_input_per_mtok, price_output_per_mtok, currency`

// GetByID looks up a binding by its primary identifier.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*core.ModelBinding, error) {
	return s.getWhere(ctx, "id = ?", id)
}

// GetByKey looks up a binding by its logical key.
func (s *SQLiteStore) GetByKey(ctx context.Context, key string) (*core.ModelBinding, error) {
	return s.getWhere(ctx, "key = ?", key)
}

// GetByName looks up a binding by its backend model name.
func (s *SQLiteStore) GetByName(ctx context.Context, name string) (*core.ModelBinding, error) {
	return s.getWhere(ctx, "name = ?", name)
}

func (s *SQLiteStore) getWhere(ctx context.Context, clause string, arg string) (*core.ModelBinding, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+bindingColumns+" FROM model_bindings WHERE "+clause, arg)

	var b core.ModelBinding
	var kind, wireMode string
	err := row.Scan(&b.ID, &b.Key, &b.Name, &kind, &b.BaseURL, &b.APIKey,
		&wireMode, &b.SupportsReasoning, &b.PriceInputPerMtok,
		&b.PriceOutputPerMtok, &b.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan binding: %w", err)
	}

	b.Kind = core.BindingKind(kind)
	b.WireMode = core.WireMode(wireMode)
	return &b, nil
}

// Put inserts or replaces a binding. Used by seeding and tests.
func (s *SQLiteStore) Put(ctx context.Context, b *core.ModelBinding) error {
	if b.ID == "" || b.Key == "" || b.Name == "" {
		return fmt.Errorf("binding id, key, and name are required")
	}
	if !b.Kind.Valid() {
		return fmt.Errorf("unknown binding kind %q", b.Kind)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO model_bindings
			(`+bindingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.Key, b.Name, string(b.Kind), b.BaseURL, b.APIKey,
		string(b.WireMode), b.SupportsReasoning, b.PriceInputPerMtok,
		b.PriceOutputPerMtok, b.Currency)
	if err != nil {
		return fmt.Errorf("failed to upsert binding %s: %w", b.Key, err)
	}
	return nil
}
