package chatcomp

import (
	"bytes"
	"log/slog"

	"github.com/tidwall/gjson"

	"modelgate/internal/backend"
	"modelgate/internal/core"
)

// streamDecoder normalizes one chat-completions SSE session.
// Frames arrive as "data: <json>" lines; "[DONE]" terminates the stream.
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
			// Comment lines and "event:" lines carry nothing here.
			continue
		}
		payload := bytes.TrimPrefix(line, dataPrefix)

		if bytes.Equal(payload, []byte("[DONE]")) {
			d.finished = true
			events = append(events, core.Done())
			break
		}

		if !gjson.ValidBytes(payload) {
			d.malformed++
			slog.Warn("skipping malformed chat-completions chunk", "bytes", len(payload))
			continue
		}

		if msg := gjson.GetBytes(payload, "error.message"); msg.Exists() {
			d.finished = true
			events = append(events, core.ErrorEvent(msg.String()))
			break
		}

		// The final chunk may carry usage when stream_options requested it.
		if u := gjson.GetBytes(payload, "usage"); u.IsObject() {
			d.usage = &core.TokenUsage{
				InputTokens:  int(u.Get("prompt_tokens").Int()),
				OutputTokens: int(u.Get("completion_tokens").Int()),
			}
		}

		if content := gjson.GetBytes(payload, "choices.0.delta.content"); content.Exists() && content.String() != "" {
			events = append(events, core.Delta(content.String()))
		}
	}
	return events
}

// Finished reports whether a terminal event has been emitted.
func (d *streamDecoder) Finished() bool {
	return d.finished
}

// Usage returns authoritative usage from the final chunk, if any.
func (d *streamDecoder) Usage() *core.TokenUsage {
	return d.usage
}

// Malformed returns the count of skipped unparsable chunks.
func (d *streamDecoder) Malformed() int {
	return d.malformed
}

// Extract pulls completion text and usage out of a non-streaming reply.
func (a *Adapter) Extract(body []byte) (*backend.Extraction, error) {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return nil, core.NewUpstreamProtocolError("chat_completions", 0, msg.String())
	}

	ext := &backend.Extraction{
		Text: gjson.GetBytes(body, "choices.0.message.content").String(),
	}
	if u := gjson.GetBytes(body, "usage"); u.IsObject() {
		ext.Usage = &core.TokenUsage{
			InputTokens:  int(u.Get("prompt_tokens").Int()),
			OutputTokens: int(u.Get("completion_tokens").Int()),
		}
	}
	return ext, nil
}
