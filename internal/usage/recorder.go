package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RecorderInterface is implemented by both the real and noop recorders.
type RecorderInterface interface {
	Record(rec *Record)
	Config() Config
	Close() error
}

// Recorder provides async buffered recording with batch writes. Records are
// collected in a channel and flushed to storage when the batch threshold is
// reached or at regular intervals. Enqueueing never blocks the request path;
// persistence failures are logged, never surfaced to the client.
type Recorder struct {
	store         Store
	config        Config
	buffer        chan *Record
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup // tracks in-flight Record calls
	flushInterval time.Duration
	closed        atomic.Bool
}

// NewRecorder creates a new async buffered Recorder and starts its
// background flush goroutine.
func NewRecorder(store Store, cfg Config) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	r := &Recorder{
		store:         store,
		config:        cfg,
		buffer:        make(chan *Record, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record queues a usage record for async writing. Non-blocking: if the
// buffer is full or the recorder is closed, the record is dropped with a
// warning rather than stalling the request.
func (r *Recorder) Record(rec *Record) {
	if rec == nil {
		return
	}

	if r.closed.Load() {
		return
	}

	// Track this call so Close cannot close the buffer mid-send.
	r.writes.Add(1)
	defer r.writes.Done()

	// Re-check after registering: Close may have flipped between the
	// first check and Add.
	if r.closed.Load() {
		return
	}

	select {
	case r.buffer <- rec:
	default:
		slog.Warn("usage buffer full, dropping record",
			"correlation_id", rec.CorrelationID,
			"binding_key", rec.BindingKey,
		)
	}
}

// Config returns the recorder configuration.
func (r *Recorder) Config() Config {
	return r.config
}

// Close stops the recorder and flushes remaining records. Idempotent.
func (r *Recorder) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	r.writes.Wait()
	close(r.done)
	r.wg.Wait()

	return r.store.Close()
}

// flushLoop runs in the background and periodically flushes the buffer.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, BatchFlushThreshold)

	for {
		select {
		case rec := <-r.buffer:
			batch = append(batch, rec)
			if len(batch) >= BatchFlushThreshold {
				r.flushBatch(batch)
				batch = make([]*Record, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.flushBatch(batch)
				batch = make([]*Record, 0, BatchFlushThreshold)
			}

		case <-r.done:
			// Shutdown: r.closed is already set, so no new sends can
			// race with closing the buffer.
			close(r.buffer)
			for rec := range r.buffer {
				batch = append(batch, rec)
			}
			if len(batch) > 0 {
				r.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := r.store.Flush(ctx); err != nil {
				slog.Error("failed to flush usage store", "error", err)
			}
			cancel()
			return
		}
	}
}

// flushBatch writes a batch of records to the store.
func (r *Recorder) flushBatch(batch []*Record) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write usage batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopRecorder discards all records (used when usage recording is disabled).
type NoopRecorder struct{}

// Record does nothing.
func (NoopRecorder) Record(_ *Record) {}

// Config returns a disabled config.
func (NoopRecorder) Config() Config {
	return Config{Enabled: false}
}

// Close does nothing.
func (NoopRecorder) Close() error {
	return nil
}
