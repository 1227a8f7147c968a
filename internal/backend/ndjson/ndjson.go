// Package ndjson implements the backend adapter for local models speaking
// newline-delimited JSON (the Ollama-native chat protocol): one JSON object
// per line, no SSE framing.
package ndjson

import (
	"net/http"

	"modelgate/internal/backend"
	"modelgate/internal/core"
)

func init() {
	backend.Register(&Adapter{})
}

// Adapter translates canonical requests to the local NDJSON wire format.
type Adapter struct{}

// Kind identifies the backend family.
func (a *Adapter) Kind() core.BindingKind {
	return core.KindLocalNDJSON
}

// wireOptions carries sampling parameters in the local protocol's nested
// options object. num_predict is the output token budget.
type wireOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

// wireRequest is the JSON body for the local chat endpoint. Unlike the SSE
// protocols, stream defaults to true server-side, so it is always explicit.
type wireRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *wireOptions   `json:"options,omitempty"`
}

// Encode translates a canonical chat request into the wire request.
func (a *Adapter) Encode(req *core.ChatRequest) (*backend.WireRequest, error) {
	body := &wireRequest{
		Model:    req.Binding.Name,
		Messages: req.Messages,
		Stream:   req.Stream,
	}
	if req.Temperature != nil || req.MaxTokens != nil {
		body.Options = &wireOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}

	return &backend.WireRequest{
		Method:   http.MethodPost,
		Endpoint: "/api/chat",
		Body:     body,
	}, nil
}

// NewStreamDecoder returns a decoder for one NDJSON session.
func (a *Adapter) NewStreamDecoder() backend.StreamDecoder {
	return &streamDecoder{}
}
