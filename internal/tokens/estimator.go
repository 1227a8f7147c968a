// Package tokens computes input/output token counts and derives monetary
// cost from a binding's price table.
//
// Counting uses a vendor-appropriate subword encoding selected by a naming
// convention on the model identifier. Chat-style counting adds a small fixed
// per-message overhead approximating vendor framing cost; the result is a
// deliberate approximation, not exact billing truth.
package tokens

import (
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"modelgate/internal/core"
)

const (
	encodingCL100K = "cl100k_base"
	encodingO200K  = "o200k_base"

	// Per-message framing overhead and reply priming, mirroring the
	// vendor's published chat counting recipe. Approximate.
	perMessageOverhead   = 3
	replyPrimingOverhead = 3
)

// o200kPrefixes are the model-name prefixes that use the newer encoding.
var o200kPrefixes = []string{"gpt-4o", "gpt-4.1", "gpt-5", "chatgpt-4o"}

// encodingForModel picks the subword encoding by model-name convention.
// Unknown models default to cl100k_base, the more common family across the
// configured backend set.
func encodingForModel(model string) string {
	m := strings.ToLower(model)
	for _, p := range o200kPrefixes {
		if strings.HasPrefix(m, p) {
			return encodingO200K
		}
	}
	// o-series reasoning models (o1, o3, o4). Names like "gpt-4o" start
	// with "gpt-", not "o", so this does not misfire on them.
	if len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9' {
		return encodingO200K
	}
	return encodingCL100K
}

// Estimate is the accounting outcome for one request.
type Estimate struct {
	InputTokens  int
	OutputTokens int
	// Cost is nil when the binding carries no pricing, distinguishing
	// "unpriced" from a computed cost of zero.
	Cost *float64
}

// Estimator counts tokens with cached encoders. Safe for concurrent use.
type Estimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewEstimator creates an estimator. Encoders are loaded lazily on first use
// per encoding family.
func NewEstimator() *Estimator {
	return &Estimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Estimate computes token counts for the prompt and completion and derives
// cost from the binding's price table. Identical inputs always yield
// identical results.
func (e *Estimator) Estimate(messages []core.Message, completion string, binding *core.ModelBinding) Estimate {
	in := e.CountMessages(binding.Name, messages)
	out := e.Count(binding.Name, completion)
	return Estimate{
		InputTokens:  in,
		OutputTokens: out,
		Cost:         Cost(in, out, binding),
	}
}

// Count returns the token count of text under the model's encoding.
func (e *Estimator) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := e.encoder(model)
	if enc == nil {
		// Deterministic fallback when the encoding data is unavailable.
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages counts a chat prompt: per-message overhead plus role and
// content tokens, plus the assistant reply priming.
func (e *Estimator) CountMessages(model string, messages []core.Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += e.Count(model, m.Role)
		total += e.Count(model, m.Content)
	}
	return total + replyPrimingOverhead
}

// encoder returns the cached encoder for the model's family, loading it on
// first use. Returns nil when loading fails.
func (e *Estimator) encoder(model string) *tiktoken.Tiktoken {
	name := encodingForModel(model)

	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encoders[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		slog.Warn("failed to load token encoding, falling back to byte estimate",
			"encoding", name,
			"error", err,
		)
		e.encoders[name] = nil
		return nil
	}
	e.encoders[name] = enc
	return enc
}

// Cost derives monetary cost from token counts and the binding's per-million
// prices, rounded to six decimal places. The result is nil (not zero) when
// the value is exactly 0 and no pricing was configured, so "free" and
// "unpriced" stay distinguishable. Backend-reported cost figures are never
// trusted; cost is always computed locally.
func Cost(inputTokens, outputTokens int, binding *core.ModelBinding) *float64 {
	var v float64
	if binding.PriceInputPerMtok != nil {
		v += float64(inputTokens) * *binding.PriceInputPerMtok / 1_000_000
	}
	if binding.PriceOutputPerMtok != nil {
		v += float64(outputTokens) * *binding.PriceOutputPerMtok / 1_000_000
	}
	if v == 0 && !binding.Priced() {
		return nil
	}
	v = round6(v)
	return &v
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
