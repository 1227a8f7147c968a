package responses

import (
	"strings"

	"github.com/tidwall/gjson"

	"modelgate/internal/backend"
	"modelgate/internal/core"
)

// Extract pulls completion text and usage out of a non-streaming reply.
//
// The same logical backend has shipped incompatible payload shapes across
// versions, so extraction tries a fixed fallback order:
//
//  1. flat output_text array of strings
//  2. output[].content[] items of type text/output_text
//  3. a bare content or text string field
func (a *Adapter) Extract(body []byte) (*backend.Extraction, error) {
	if e := gjson.GetBytes(body, "error"); e.IsObject() {
		return nil, core.NewUpstreamProtocolError("responses", 0, errorMessage(body))
	}

	ext := &backend.Extraction{Text: extractText(body)}
	if u := gjson.GetBytes(body, "usage"); u.IsObject() {
		ext.Usage = &core.TokenUsage{
			InputTokens:  int(u.Get("input_tokens").Int()),
			OutputTokens: int(u.Get("output_tokens").Int()),
		}
	}
	return ext, nil
}

// extractText walks the known payload shapes in fallback order and returns
// the first text it finds.
func extractText(body []byte) string {
	// Shape 1: {"output_text": ["...", "..."]}
	if ot := gjson.GetBytes(body, "output_text"); ot.IsArray() {
		var sb strings.Builder
		for _, part := range ot.Array() {
			sb.WriteString(part.String())
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}

	// Shape 2: {"output": [{"type":"message","content":[{"type":"output_text","text":"..."}]}]}
	if out := gjson.GetBytes(body, "output"); out.IsArray() {
		var sb strings.Builder
		for _, item := range out.Array() {
			for _, part := range item.Get("content").Array() {
				switch part.Get("type").String() {
				case "output_text", "text":
					sb.WriteString(part.Get("text").String())
				}
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}

	// Shape 3: a bare content or text field.
	if c := gjson.GetBytes(body, "content"); c.Type == gjson.String && c.String() != "" {
		return c.String()
	}
	return gjson.GetBytes(body, "text").String()
}
