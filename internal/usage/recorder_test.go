package usage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore collects batches in memory.
type memStore struct {
	mu      sync.Mutex
	records []*Record
	batches int
	flushed bool
	closed  bool
}

func (s *memStore) WriteBatch(_ context.Context, records []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	s.batches++
	return nil
}

func (s *memStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testRecord(id string) *Record {
	return &Record{
		ID:            id,
		CorrelationID: "corr-" + id,
		BindingKey:    "fast",
		Model:         "gpt-4o-mini",
		Kind:          "chat_completions",
		Timestamp:     time.Now().UTC(),
		InputTokens:   10,
		OutputTokens:  5,
		Estimated:     true,
	}
}

func TestRecorderFlushOnClose(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store, Config{BufferSize: 100, FlushInterval: time.Hour})

	for i := 0; i < 7; i++ {
		r.Record(testRecord(fmt.Sprintf("r-%d", i)))
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := store.count(); got != 7 {
		t.Errorf("records written = %d, want 7", got)
	}
	if !store.flushed {
		t.Error("store.Flush not called on shutdown")
	}
	if !store.closed {
		t.Error("store.Close not called on shutdown")
	}
}

func TestRecorderBatchThreshold(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store, Config{BufferSize: BatchFlushThreshold * 2, FlushInterval: time.Hour})
	defer r.Close()

	for i := 0; i < BatchFlushThreshold; i++ {
		r.Record(testRecord(fmt.Sprintf("r-%d", i)))
	}

	// The batch is flushed without waiting for the timer once the
	// threshold is hit.
	deadline := time.Now().Add(2 * time.Second)
	for store.count() < BatchFlushThreshold {
		if time.Now().After(deadline) {
			t.Fatalf("records written = %d after threshold, want %d", store.count(), BatchFlushThreshold)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecorderIntervalFlush(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store, Config{BufferSize: 100, FlushInterval: 20 * time.Millisecond})
	defer r.Close()

	r.Record(testRecord("solo"))

	deadline := time.Now().Add(2 * time.Second)
	for store.count() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("record not flushed by interval timer")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecorderDropsAfterClose(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store, Config{BufferSize: 10, FlushInterval: time.Hour})
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Must not panic or block.
	r.Record(testRecord("late"))

	if got := store.count(); got != 0 {
		t.Errorf("records written = %d, want 0", got)
	}
}

func TestRecorderCloseIdempotent(t *testing.T) {
	r := NewRecorder(&memStore{}, Config{BufferSize: 10, FlushInterval: time.Hour})
	if err := r.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestRecorderConcurrentRecord(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(store, Config{BufferSize: 1000, FlushInterval: 10 * time.Millisecond})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Record(testRecord(fmt.Sprintf("g%d-r%d", g, i)))
			}
		}(g)
	}
	wg.Wait()

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := store.count(); got != 400 {
		t.Errorf("records written = %d, want 400", got)
	}
}

func TestNoopRecorder(t *testing.T) {
	var r NoopRecorder
	r.Record(testRecord("ignored"))
	if r.Config().Enabled {
		t.Error("NoopRecorder.Config().Enabled = true, want false")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
