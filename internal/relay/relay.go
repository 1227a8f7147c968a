// Package relay owns one client-facing streaming session: it pumps
// normalized events from a backend stream to the downstream sink and manages
// cancellation.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"modelgate/internal/backend"
	"modelgate/internal/core"
)

// State is the relay session state.
type State int

const (
	// StateIdle is the initial state before the backend stream is attached.
	StateIdle State = iota
	// StateStreaming means events are being forwarded downstream.
	StateStreaming
	// StateCompleted means the session ended with a Done event.
	StateCompleted
	// StateFailed means the session ended with an Error event.
	StateFailed
	// StateClientClosed means the downstream consumer disconnected.
	StateClientClosed
)

// String returns the state name for logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateClientClosed:
		return "client_closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state accepts no further events.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateClientClosed
}

// Sink receives each canonical event as it is produced. A Sink error means
// the downstream consumer is gone and ends the session as ClientClosed.
type Sink func(core.Event) error

// Observer is notified of every state transition. Used for metrics; may be nil.
type Observer func(from, to State)

// Result summarizes one finished session for accounting.
type Result struct {
	State State
	// Completion is the concatenated Delta text seen before the terminal
	// state was reached. On ClientClosed it holds whatever accumulated up
	// to cancellation.
	Completion string
	// Usage is the authoritative usage the wire carried, if any.
	Usage *core.TokenUsage
	// Malformed is the number of wire chunks skipped by the decoder.
	Malformed int
	// Err is set when State is Failed.
	Err error
}

// readChunkSize bounds the per-read buffer. Each event is forwarded before
// the next chunk is read, so downstream back-pressure pauses upstream reads.
const readChunkSize = 4096

// Relay drives one streaming session. Not reusable.
type Relay struct {
	state    State
	observer Observer
}

// New creates a relay in the Idle state.
func New(observer Observer) *Relay {
	return &Relay{state: StateIdle, observer: observer}
}

// State returns the current session state.
func (r *Relay) State() State {
	return r.state
}

func (r *Relay) transition(to State) {
	from := r.state
	if from == to {
		return
	}
	r.state = to
	slog.Debug("relay state transition", "from", from.String(), "to", to.String())
	if r.observer != nil {
		r.observer(from, to)
	}
}

// Run pumps the backend stream through the decoder to the sink until a
// terminal state is reached. The upstream body must be bound to ctx so that
// downstream cancellation stops the upstream read; Run additionally checks
// ctx before every read. The caller closes body.
func (r *Relay) Run(ctx context.Context, body io.Reader, dec backend.StreamDecoder, sink Sink) *Result {
	r.transition(StateStreaming)

	var completion strings.Builder
	res := &Result{}

	finish := func(s State) *Result {
		r.transition(s)
		res.State = s
		res.Completion = completion.String()
		res.Usage = dec.Usage()
		res.Malformed = dec.Malformed()
		return res
	}

	// forward delivers one event downstream. It returns false when the
	// session reached a terminal state.
	forward := func(ev core.Event) bool {
		if r.state.Terminal() {
			// Late-arriving upstream data after a terminal state is
			// discarded, never buffered.
			return false
		}
		if ev.Type == core.EventDelta {
			completion.WriteString(ev.Text)
		}
		if err := sink(ev); err != nil {
			finish(StateClientClosed)
			return false
		}
		switch ev.Type {
		case core.EventDone:
			finish(StateCompleted)
			return false
		case core.EventError:
			if res.Err == nil {
				res.Err = core.NewUpstreamProtocolError("", 0, ev.Message)
			}
			finish(StateFailed)
			return false
		}
		return true
	}

	buf := make([]byte, readChunkSize)
	for {
		if ctx.Err() != nil {
			return finish(StateClientClosed)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if !forward(ev) {
					return res
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				// Clean transport end without an explicit Done is an
				// implicit Done.
				forward(core.Done())
				if !r.state.Terminal() {
					finish(StateCompleted)
				}
				return res
			}
			if ctx.Err() != nil || errors.Is(readErr, context.Canceled) {
				return finish(StateClientClosed)
			}
			// Transport error mid-stream: the caller always receives an
			// explicit terminal event, never a silent drop.
			res.Err = core.NewUpstreamTransportError("", "stream read failed: "+readErr.Error(), readErr)
			forward(core.ErrorEvent("upstream transport error: " + readErr.Error()))
			if !r.state.Terminal() {
				finish(StateFailed)
			}
			return res
		}
	}
}
