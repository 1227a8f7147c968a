package core

// BindingKind identifies the wire protocol family of a backend.
type BindingKind string

const (
	// KindChatCompletions is the OpenAI-style /chat/completions protocol.
	KindChatCompletions BindingKind = "chat_completions"
	// KindResponses is the OpenAI-style /responses protocol.
	KindResponses BindingKind = "responses"
	// KindLocalNDJSON is the local-model newline-delimited JSON protocol.
	KindLocalNDJSON BindingKind = "local_ndjson"
)

// Valid reports whether k is a known binding kind.
func (k BindingKind) Valid() bool {
	switch k {
	case KindChatCompletions, KindResponses, KindLocalNDJSON:
		return true
	}
	return false
}

// WireMode controls whether a binding's wire protocol may be renegotiated
// per request.
type WireMode string

const (
	// WireModeAuto lets the caller select the Responses wire for a
	// chat-completions binding via the use_responses flag.
	WireModeAuto WireMode = "auto"
	// WireModeForced pins the binding to its configured kind.
	WireModeForced WireMode = "forced"
)

// ModelBinding is the resolved, concrete backend configuration for a logical
// model reference. It is immutable for the duration of one request and is
// re-read from the store on every request, so configuration changes take
// effect without a restart.
type ModelBinding struct {
	ID                 string
	Key                string
	Name               string
	Kind               BindingKind
	BaseURL            string
	APIKey             string
	WireMode           WireMode
	SupportsReasoning  bool
	PriceInputPerMtok  *float64
	PriceOutputPerMtok *float64
	Currency           string
}

// Priced reports whether the binding carries any pricing configuration.
func (b *ModelBinding) Priced() bool {
	return b.PriceInputPerMtok != nil || b.PriceOutputPerMtok != nil
}

// Message is a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the canonical chat request all backend adapters encode from.
// It is constructed once per inbound call and read-only thereafter.
type ChatRequest struct {
	Binding     *ModelBinding
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	Stream      bool

	// Reasoning marks the request for reasoning-class parameter handling
	// in addition to the binding's own flag.
	Reasoning bool
}

// ReasoningClass reports whether the request must be encoded with the
// reasoning-specific token budget field and without temperature.
func (r *ChatRequest) ReasoningClass() bool {
	return r.Reasoning || (r.Binding != nil && r.Binding.SupportsReasoning)
}

// TokenUsage is an authoritative token count reported by a backend.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}
