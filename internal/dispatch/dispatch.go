// Package dispatch orchestrates one gateway request: resolve the binding,
// encode for the backend, relay or await the reply, and account usage.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"modelgate/internal/backend"
	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/metrics"
	"modelgate/internal/relay"
	"modelgate/internal/resolver"
	"modelgate/internal/tokens"
	"modelgate/internal/usage"

	// Adapter registration.
	_ "modelgate/internal/backend/chatcomp"
	_ "modelgate/internal/backend/ndjson"
	_ "modelgate/internal/backend/responses"
)

// Request is one inbound gateway call after HTTP binding.
type Request struct {
	Ref          resolver.Ref
	Messages     []core.Message
	Temperature  *float64
	MaxTokens    *int
	Stream       bool
	UseResponses bool
	Reasoning    bool
	Metadata     map[string]string
}

// Result is the outcome of a non-streaming dispatch.
type Result struct {
	// Kind is the wire protocol that served the request.
	Kind core.BindingKind
	// Content is the extracted completion text.
	Content string
	// Raw is the backend's reply body, passed through for responses-kind
	// backends whose callers want the full payload.
	Raw json.RawMessage
}

// Dispatcher ties resolver, adapters, relay, estimator, and recorder
// together. Safe for concurrent use; all per-request state is local.
type Dispatcher struct {
	resolver  *resolver.Resolver
	estimator *tokens.Estimator
	recorder  usage.RecorderInterface

	// httpClient overrides the shared transport, used by tests.
	httpClient *http.Client
}

// New creates a dispatcher.
func New(res *resolver.Resolver, est *tokens.Estimator, rec usage.RecorderInterface) *Dispatcher {
	return &Dispatcher{resolver: res, estimator: est, recorder: rec}
}

// SetHTTPClient overrides the upstream HTTP client. For tests.
func (d *Dispatcher) SetHTTPClient(c *http.Client) {
	d.httpClient = c
}

// wireKind selects the wire protocol for a binding. Forced bindings always
// use their configured kind; auto chat-completions bindings may be upgraded
// to the Responses wire by the caller.
func wireKind(b *core.ModelBinding, useResponses bool) core.BindingKind {
	if b.WireMode == core.WireModeForced {
		return b.Kind
	}
	if useResponses && b.Kind == core.KindChatCompletions {
		return core.KindResponses
	}
	return b.Kind
}

// prepare resolves the binding and builds the canonical request, adapter,
// and upstream client. All failures here are pre-flight: nothing has been
// sent downstream yet.
func (d *Dispatcher) prepare(ctx context.Context, req *Request, stream bool) (*core.ChatRequest, backend.Adapter, *llmclient.Client, *backend.WireRequest, error) {
	binding, err := d.resolver.Resolve(ctx, req.Ref)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	kind := wireKind(binding, req.UseResponses)
	adapter, err := backend.ForKind(kind)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	chatReq := &core.ChatRequest{
		Binding:     binding,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
		Reasoning:   req.Reasoning,
	}

	wire, err := adapter.Encode(chatReq)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	client := llmclient.NewWithHTTPClient(d.httpClient,
		llmclient.DefaultConfig(string(kind), binding.BaseURL),
		llmclient.BearerAuth(binding.APIKey))

	return chatReq, adapter, client, wire, nil
}

// Dispatch executes a non-streaming request: awaits the single reply,
// extracts the completion text, and writes exactly one usage record.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	chatReq, adapter, client, wire, err := d.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := client.DoRaw(ctx, llmclient.Request{
		Method:   wire.Method,
		Endpoint: wire.Endpoint,
		Body:     wire.Body,
	})
	if err != nil {
		// A protocol error means the backend was reached, so the request
		// is still accounted. Pure transport failures are not.
		var ge *core.GatewayError
		if errors.As(err, &ge) && ge.Type == core.ErrorTypeUpstreamProtocol {
			d.account(ctx, req, chatReq, adapter.Kind(), "", nil, "failed")
		}
		metrics.Dispatches.WithLabelValues(string(adapter.Kind()), "failed").Inc()
		return nil, err
	}

	ext, err := adapter.Extract(resp.Body)
	if err != nil {
		d.account(ctx, req, chatReq, adapter.Kind(), "", nil, "failed")
		metrics.Dispatches.WithLabelValues(string(adapter.Kind()), "failed").Inc()
		return nil, err
	}

	d.account(ctx, req, chatReq, adapter.Kind(), ext.Text, ext.Usage, "completed")
	metrics.Dispatches.WithLabelValues(string(adapter.Kind()), "completed").Inc()

	result := &Result{
		Kind:    adapter.Kind(),
		Content: ext.Text,
	}
	if adapter.Kind() == core.KindResponses {
		result.Raw = resp.Body
	}
	return result, nil
}

// DispatchStream executes a streaming request through the relay. Failures
// before the stream is opened return a synchronous error; once streaming
// has begun, all failures are delivered through the sink as terminal Error
// events and accounting uses whatever text accumulated.
func (d *Dispatcher) DispatchStream(ctx context.Context, req *Request, sink relay.Sink) error {
	chatReq, adapter, client, wire, err := d.prepare(ctx, req, true)
	if err != nil {
		return err
	}

	body, err := client.DoStream(ctx, llmclient.Request{
		Method:   wire.Method,
		Endpoint: wire.Endpoint,
		Body:     wire.Body,
	})
	if err != nil {
		var ge *core.GatewayError
		if errors.As(err, &ge) && ge.Type == core.ErrorTypeUpstreamProtocol {
			d.account(ctx, req, chatReq, adapter.Kind(), "", nil, "failed")
		}
		metrics.Dispatches.WithLabelValues(string(adapter.Kind()), "failed").Inc()
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	dec := adapter.NewStreamDecoder()
	rel := relay.New(func(from, to relay.State) {
		metrics.RelayTransitions.WithLabelValues(from.String(), to.String()).Inc()
	})

	res := rel.Run(ctx, body, dec, sink)

	if res.Malformed > 0 {
		metrics.MalformedChunks.WithLabelValues(string(adapter.Kind())).Add(float64(res.Malformed))
	}

	outcome := res.State.String()
	metrics.Dispatches.WithLabelValues(string(adapter.Kind()), outcome).Inc()
	if res.Err != nil {
		slog.Warn("stream dispatch ended with error",
			"kind", string(adapter.Kind()),
			"state", outcome,
			"error", res.Err,
		)
	}

	// Accounting runs for every session that opened a stream, including
	// client disconnects, using the text accumulated up to that point.
	d.account(ctx, req, chatReq, adapter.Kind(), res.Completion, res.Usage, outcome)
	return nil
}

// account derives token counts and cost and hands exactly one record to the
// recorder. Authoritative wire usage overrides the estimate for token
// counts; cost is always computed locally from the binding's price table.
func (d *Dispatcher) account(ctx context.Context, req *Request, chatReq *core.ChatRequest, kind core.BindingKind, completion string, wireUsage *core.TokenUsage, outcome string) {
	binding := chatReq.Binding

	est := d.estimator.Estimate(chatReq.Messages, completion, binding)
	inTokens, outTokens := est.InputTokens, est.OutputTokens
	estimated := true
	if wireUsage != nil {
		inTokens, outTokens = wireUsage.InputTokens, wireUsage.OutputTokens
		estimated = false
	}

	promptChars := 0
	for _, m := range chatReq.Messages {
		promptChars += len(m.Content)
	}

	metadata := req.Metadata
	if outcome != "completed" {
		if metadata == nil {
			metadata = map[string]string{}
		} else {
			// Copy: the caller's map is not ours to mutate.
			copied := make(map[string]string, len(metadata)+1)
			for k, v := range metadata {
				copied[k] = v
			}
			metadata = copied
		}
		metadata["outcome"] = outcome
	}

	rec := &usage.Record{
		ID:              uuid.New().String(),
		CorrelationID:   core.GetCorrelationID(ctx),
		BindingKey:      binding.Key,
		Model:           binding.Name,
		Kind:            string(kind),
		Timestamp:       time.Now().UTC(),
		InputTokens:     inTokens,
		OutputTokens:    outTokens,
		Estimated:       estimated,
		PromptChars:     promptChars,
		CompletionChars: len(completion),
		Cost:            tokens.Cost(inTokens, outTokens, binding),
		Currency:        binding.Currency,
		Metadata:        metadata,
	}

	d.recorder.Record(rec)
	metrics.UsageRecords.Inc()
}
