// Package chatcomp implements the backend adapter for OpenAI-style
// /chat/completions wire protocol.
package chatcomp

import (
	"net/http"

	"modelgate/internal/backend"
	"modelgate/internal/core"
)

func init() {
	backend.Register(&Adapter{})
}

// Adapter translates canonical requests to the chat-completions wire format.
type Adapter struct{}

// Kind identifies the backend family.
func (a *Adapter) Kind() core.BindingKind {
	return core.KindChatCompletions
}

// wireRequest is the JSON body sent for non-reasoning models.
type wireRequest struct {
	Model       string         `json:"model"`
	Messages    []core.Message `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
}

// reasoningWireRequest is the JSON body sent for reasoning-class models.
// They reject temperature and require max_completion_tokens instead of
// max_tokens.
type reasoningWireRequest struct {
	Model               string         `json:"model"`
	Messages            []core.Message `json:"messages"`
	MaxCompletionTokens *int           `json:"max_completion_tokens,omitempty"`
	Stream              bool           `json:"stream,omitempty"`
}

// Encode translates a canonical chat request into the wire request.
// Messages pass through verbatim.
func (a *Adapter) Encode(req *core.ChatRequest) (*backend.WireRequest, error) {
	var body interface{}
	if req.ReasoningClass() {
		body = &reasoningWireRequest{
			Model:               req.Binding.Name,
			Messages:            req.Messages,
			MaxCompletionTokens: req.MaxTokens,
			Stream:              req.Stream,
		}
	} else {
		body = &wireRequest{
			Model:       req.Binding.Name,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Stream:      req.Stream,
		}
	}

	return &backend.WireRequest{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
	}, nil
}

// NewStreamDecoder returns a decoder for one SSE session.
func (a *Adapter) NewStreamDecoder() backend.StreamDecoder {
	return &streamDecoder{}
}
