// Package backend defines the adapter contract every backend family
// implements: canonical request in, wire request out, and wire reply chunks
// back into the canonical event vocabulary.
package backend

import (
	"fmt"

	"modelgate/internal/core"
)

// WireRequest is a backend-native request ready to be sent by the client.
type WireRequest struct {
	Method   string
	Endpoint string
	Body     interface{}
}

// StreamDecoder normalizes one streaming session's wire chunks into
// canonical events. Implementations are stateful and must be used for a
// single session only. After emitting a Done or Error event, Feed returns
// no further events.
type StreamDecoder interface {
	// Feed consumes one wire chunk and returns zero or more events in
	// arrival order. Chunks may split protocol frames at any byte; the
	// decoder buffers partial frames internally.
	Feed(chunk []byte) []core.Event

	// Finished reports whether a terminal event has been emitted.
	Finished() bool

	// Usage returns the authoritative token usage carried on the wire,
	// or nil when the backend reported none.
	Usage() *core.TokenUsage

	// Malformed returns the number of wire chunks skipped because they
	// failed to parse.
	Malformed() int
}

// Extraction is the result of decoding a non-streaming reply body.
type Extraction struct {
	Text  string
	Usage *core.TokenUsage
}

// Adapter translates between the canonical request/event contract and one
// backend family's wire format. Adapters are stateless; per-session state
// lives in the StreamDecoder.
type Adapter interface {
	// Kind identifies the backend family this adapter serves.
	Kind() core.BindingKind

	// Encode translates a canonical chat request into the backend's wire
	// request. Reasoning-class parameter rules are applied here.
	Encode(req *core.ChatRequest) (*WireRequest, error)

	// NewStreamDecoder returns a fresh decoder for one streaming session.
	NewStreamDecoder() StreamDecoder

	// Extract pulls the completion text and any authoritative usage out
	// of a non-streaming reply body.
	Extract(body []byte) (*Extraction, error)
}

// registry maps binding kinds to their adapters. Populated by init() in the
// adapter packages via Register, read-only afterwards.
var registry = map[core.BindingKind]Adapter{}

// Register installs an adapter for its kind. Called from adapter package
// init(); duplicate registration panics.
func Register(a Adapter) {
	if _, dup := registry[a.Kind()]; dup {
		panic(fmt.Sprintf("backend: duplicate adapter for kind %q", a.Kind()))
	}
	registry[a.Kind()] = a
}

// ForKind returns the adapter for the given binding kind.
func ForKind(kind core.BindingKind) (Adapter, error) {
	a, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("backend: no adapter for kind %q", kind)
	}
	return a, nil
}
