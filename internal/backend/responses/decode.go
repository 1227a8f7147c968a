package responses

import (
	"bytes"
	"log/slog"

	"github.com/tidwall/gjson"

	"modelgate/internal/backend"
	"modelgate/internal/core"
)

// streamDecoder normalizes one Responses-API SSE session. Events are
// discriminated by the payload's "type" field, not the SSE event name, so
// "event:" lines are ignored and only "data:" payloads are inspected.
type streamDecoder struct {
	lines     backend.LineBuffer
	finished  bool
	usage     *core.TokenUsage
	malformed int
}

var dataPrefix = []byte("data: ")

// Feed consumes one wire chunk and returns events in arrival order.
func (d *streamDecoder) Feed(chunk []byte) []core.Event {
	if d.finished {
		return nil
	}

	var events []core.Event
	for _, line := range d.lines.Feed(chunk) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimPrefix(line, dataPrefix)

		if bytes.Equal(payload, []byte("[DONE]")) {
			// Some servers append the chat-completions sentinel after
			// response.completed; it is redundant here.
			continue
		}

		if !gjson.ValidBytes(payload) {
			d.malformed++
			slog.Warn("skipping malformed responses chunk", "bytes", len(payload))
			continue
		}

		eventType := gjson.GetBytes(payload, "type").String()
		switch {
		case eventType == "response.output_text.delta":
			if delta := gjson.GetBytes(payload, "delta").String(); delta != "" {
				events = append(events, core.Delta(delta))
			}

		case eventType == "response.completed", eventType == "response.done":
			if u := gjson.GetBytes(payload, "response.usage"); u.IsObject() {
				d.usage = &core.TokenUsage{
					InputTokens:  int(u.Get("input_tokens").Int()),
					OutputTokens: int(u.Get("output_tokens").Int()),
				}
			}
			d.finished = true
			events = append(events, core.Done())

		case eventType == "error":
			d.finished = true
			events = append(events, core.ErrorEvent(errorMessage(payload)))

		case gjson.GetBytes(payload, "error").IsObject():
			// Error envelopes have also shipped without a type tag.
			d.finished = true
			events = append(events, core.ErrorEvent(errorMessage(payload)))
		}

		if d.finished {
			break
		}
	}
	return events
}

// errorMessage digs the human-readable message out of an error payload.
func errorMessage(payload []byte) string {
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(payload, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return "backend reported an unspecified error"
}

// Finished reports whether a terminal event has been emitted.
func (d *streamDecoder) Finished() bool {
	return d.finished
}

// Usage returns authoritative usage from response.completed, if any.
func (d *streamDecoder) Usage() *core.TokenUsage {
	return d.usage
}

// Malformed returns the count of skipped unparsable chunks.
func (d *streamDecoder) Malformed() int {
	return d.malformed
}
