package ndjson

import (
	"bytes"
	"log/slog"

	"github.com/tidwall/gjson"

	"modelgate/internal/backend"
	"modelgate/internal/core"
)

// streamDecoder normalizes one NDJSON session: one JSON object per line.
// A malformed line is skipped and logged; partial corruption of one line
// must not terminate an otherwise-healthy stream.
type streamDecoder struct {
	lines     backend.LineBuffer
	finished  bool
	usage     *core.TokenUsage
	malformed int
}

// Feed consumes one wire chunk and returns events in arrival order.
func (d *streamDecoder) Feed(chunk []byte) []core.Event {
	if d.finished {
		return nil
	}

	var events []core.Event
	for _, line := range d.lines.Feed(chunk) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if !gjson.ValidBytes(line) {
			d.malformed++
			slog.Warn("skipping malformed ndjson line", "bytes", len(line))
			continue
		}

		if e := gjson.GetBytes(line, "error"); e.Exists() && e.String() != "" {
			d.finished = true
			events = append(events, core.ErrorEvent(e.String()))
			break
		}

		if content := gjson.GetBytes(line, "message.content"); content.String() != "" {
			events = append(events, core.Delta(content.String()))
		}

		if gjson.GetBytes(line, "done").Bool() {
			// The final object carries eval counts when the server has them.
			if pe, ec := gjson.GetBytes(line, "prompt_eval_count"), gjson.GetBytes(line, "eval_count"); pe.Exists() || ec.Exists() {
				d.usage = &core.TokenUsage{
					InputTokens:  int(pe.Int()),
					OutputTokens: int(ec.Int()),
				}
			}
			d.finished = true
			events = append(events, core.Done())
			break
		}
	}
	return events
}

// Finished reports whether a terminal event has been emitted.
func (d *streamDecoder) Finished() bool {
	return d.finished
}

// Usage returns eval counts from the final object, if present.
func (d *streamDecoder) Usage() *core.TokenUsage {
	return d.usage
}

// Malformed returns the count of skipped unparsable lines.
func (d *streamDecoder) Malformed() int {
	return d.malformed
}

// Extract pulls completion text and usage out of a non-streaming reply.
func (a *Adapter) Extract(body []byte) (*backend.Extraction, error) {
	if e := gjson.GetBytes(body, "error"); e.Exists() && e.String() != "" {
		return nil, core.NewUpstreamProtocolError("local_ndjson", 0, e.String())
	}

	ext := &backend.Extraction{
		Text: gjson.GetBytes(body, "message.content").String(),
	}
	if pe, ec := gjson.GetBytes(body, "prompt_eval_count"), gjson.GetBytes(body, "eval_count"); pe.Exists() || ec.Exists() {
		ext.Usage = &core.TokenUsage{
			InputTokens:  int(pe.Int()),
			OutputTokens: int(ec.Int()),
		}
	}
	return ext, nil
}
