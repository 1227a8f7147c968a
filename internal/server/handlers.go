package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"modelgate/internal/core"
	"modelgate/internal/dispatch"
	"modelgate/internal/resolver"
)

// Handler holds the HTTP handlers.
type Handler struct {
	dispatcher *dispatch.Dispatcher
}

// NewHandler creates a new handler over the dispatcher.
func NewHandler(d *dispatch.Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// chatRequest is the inbound request contract. The model may be referenced
// by binding id, binding key, or backend model name.
type chatRequest struct {
	Model        string            `json:"model"`
	ModelKey     string            `json:"model_key"`
	ModelID      string            `json:"model_id"`
	Messages     []core.Message    `json:"messages"`
	Temperature  *float64          `json:"temperature"`
	MaxTokens    *int              `json:"max_tokens"`
	Stream       bool              `json:"stream"`
	UseResponses bool              `json:"use_responses"`
	Reasoning    bool              `json:"reasoning"`
	Metadata     map[string]string `json:"metadata"`
}

// Chat handles POST /v1/chat.
func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if len(req.Messages) == 0 {
		return handleError(c, core.NewInvalidRequestError("messages are required", nil))
	}

	dreq := &dispatch.Request{
		Ref: resolver.Ref{
			ID:   req.ModelID,
			Key:  req.ModelKey,
			Name: req.Model,
		},
		Messages:     req.Messages,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Stream:       req.Stream,
		UseResponses: req.UseResponses,
		Reasoning:    req.Reasoning,
		Metadata:     req.Metadata,
	}

	if req.Stream {
		return h.chatStream(c, dreq)
	}

	result, err := h.dispatcher.Dispatch(c.Request().Context(), dreq)
	if err != nil {
		return handleError(c, err)
	}

	// Responses-kind backends pass the raw normalized payload through;
	// the other kinds return plain extracted content.
	if result.Raw != nil {
		return c.JSONBlob(http.StatusOK, result.Raw)
	}
	return c.JSON(http.StatusOK, map[string]string{"content": result.Content})
}

// chatStream relays canonical events to the client as SSE data frames.
// Headers are written lazily on the first event so pre-flight failures can
// still produce a regular JSON error response.
func (h *Handler) chatStream(c echo.Context, dreq *dispatch.Request) error {
	resp := c.Response()
	headersSent := false

	sink := func(ev core.Event) error {
		if !headersSent {
			headersSent = true
			resp.Header().Set("Content-Type", "text/event-stream")
			resp.Header().Set("Cache-Control", "no-cache")
			resp.Header().Set("Connection", "keep-alive")
			resp.WriteHeader(http.StatusOK)
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
			return err
		}
		resp.Flush()
		return nil
	}

	if err := h.dispatcher.DispatchStream(c.Request().Context(), dreq, sink); err != nil {
		if headersSent {
			// Too late for a status code; the relay already delivered a
			// terminal event or the client is gone.
			return nil
		}
		return handleError(c, err)
	}
	return nil
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleError converts gateway errors to appropriate HTTP responses.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
