// Package responses implements the backend adapter for the OpenAI-style
// /responses wire protocol.
package responses

import (
	"net/http"

	"modelgate/internal/backend"
	"modelgate/internal/core"
)

func init() {
	backend.Register(&Adapter{})
}

// Adapter translates canonical requests to the Responses API wire format.
type Adapter struct{}

// Kind identifies the backend family.
func (a *Adapter) Kind() core.BindingKind {
	return core.KindResponses
}

// inputItem is one element of the request's input array.
type inputItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireRequest is the JSON body for the Responses API. The conversation
// travels in "input" rather than "messages".
type wireRequest struct {
	Model           string      `json:"model"`
	Input           []inputItem `json:"input"`
	Temperature     *float64    `json:"temperature,omitempty"`
	MaxOutputTokens *int        `json:"max_output_tokens,omitempty"`
	Stream          bool        `json:"stream,omitempty"`
}

// Encode translates a canonical chat request into the wire request.
// The output-token budget is already the Responses-native field; reasoning
// models additionally reject temperature, so it is dropped for them.
func (a *Adapter) Encode(req *core.ChatRequest) (*backend.WireRequest, error) {
	input := make([]inputItem, len(req.Messages))
	for i, m := range req.Messages {
		input[i] = inputItem{Role: m.Role, Content: m.Content}
	}

	body := &wireRequest{
		Model:           req.Binding.Name,
		Input:           input,
		MaxOutputTokens: req.MaxTokens,
		Stream:          req.Stream,
	}
	if !req.ReasoningClass() {
		body.Temperature = req.Temperature
	}

	return &backend.WireRequest{
		Method:   http.MethodPost,
		Endpoint: "/responses",
		Body:     body,
	}, nil
}

// NewStreamDecoder returns a decoder for one SSE session.
func (a *Adapter) NewStreamDecoder() backend.StreamDecoder {
	return &streamDecoder{}
}
