package backend

import "bytes"

// LineBuffer assembles complete lines out of arbitrarily split wire chunks.
// Both the SSE and NDJSON protocols are line-oriented, and chunk boundaries
// land mid-line routinely, so every decoder shares this.
type LineBuffer struct {
	pending []byte
}

// Feed appends chunk and returns all complete lines now available, in order.
// Returned lines have the trailing newline and any carriage return stripped.
// A partial trailing line is held until the next Feed.
func (b *LineBuffer) Feed(chunk []byte) [][]byte {
	b.pending = append(b.pending, chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(b.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(b.pending[:idx], []byte("\r"))
		// Copy out: pending is reused across Feed calls.
		lines = append(lines, append([]byte(nil), line...))
		b.pending = b.pending[idx+1:]
	}
	return lines
}

// Rest returns any buffered partial line without consuming it.
func (b *LineBuffer) Rest() []byte {
	return b.pending
}
