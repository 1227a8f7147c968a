// Package usage provides append-only usage accounting for the gateway.
// One record is written per completed or failed request that reached the
// backend call.
package usage

import (
	"context"
	"time"
)

// Store defines the interface for usage storage backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch appends multiple usage records to storage.
	// Called by the Recorder when flushing buffered records.
	WriteBatch(ctx context.Context, records []*Record) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// Record is a single append-only usage accounting record.
type Record struct {
	// ID is a unique identifier for this record (UUID).
	ID string `json:"id"`

	// CorrelationID links the record to the dispatch that produced it.
	CorrelationID string `json:"correlation_id"`

	// BindingKey is the logical key of the binding that served the request.
	BindingKey string `json:"binding_key"`

	// Model is the backend model name on the binding.
	Model string `json:"model"`

	// Kind is the wire protocol family that served the request.
	Kind string `json:"kind"`

	// Timestamp is when the request completed.
	Timestamp time.Time `json:"timestamp"`

	// Token counts. Estimated reports whether they came from the local
	// estimator rather than an authoritative backend figure.
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	Estimated    bool `json:"estimated"`

	// Character counts of the raw prompt and completion text.
	PromptChars     int `json:"prompt_chars"`
	CompletionChars int `json:"completion_chars"`

	// Cost in Currency. Nil means the binding was unpriced, never a
	// silently failed computation.
	Cost     *float64 `json:"cost,omitempty"`
	Currency string   `json:"currency,omitempty"`

	// Metadata is opaque caller-supplied context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config holds usage recording configuration.
type Config struct {
	// Enabled controls whether usage recording is active.
	Enabled bool

	// BufferSize is the number of records to buffer before flushing.
	BufferSize int

	// FlushInterval is how often to flush buffered records.
	FlushInterval time.Duration

	// RetentionDays is how long to keep usage data (0 = forever).
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}

// BatchFlushThreshold is the number of buffered records that triggers an
// immediate flush without waiting for the timer.
const BatchFlushThreshold = 100

// CleanupInterval is how often the retention cleanup goroutine runs.
const CleanupInterval = 1 * time.Hour

// RunCleanupLoop runs a cleanup function periodically until stop is closed.
// Cleanup runs once immediately, then at CleanupInterval intervals.
func RunCleanupLoop(stop <-chan struct{}, cleanupFn func()) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	cleanupFn()

	for {
		select {
		case <-ticker.C:
			cleanupFn()
		case <-stop:
			return
		}
	}
}
