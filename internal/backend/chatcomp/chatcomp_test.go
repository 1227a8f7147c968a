package chatcomp

import (
	"encoding/json"
	"testing"

	"modelgate/internal/core"
)

func testBinding(reasoning bool) *core.ModelBinding {
	return &core.ModelBinding{
		ID:                "b-1",
		Key:               "fast",
		Name:              "gpt-4o-mini",
		Kind:              core.KindChatCompletions,
		BaseURL:           "https://api.example.com/v1",
		SupportsReasoning: reasoning,
	}
}

func TestEncode(t *testing.T) {
	temp := 0.7
	maxTok := 256
	a := &Adapter{}

	wire, err := a.Encode(&core.ChatRequest{
		Binding:     testBinding(false),
		Messages:    []core.Message{{Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   &maxTok,
		Stream:      true,
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if wire.Method != "POST" {
		t.Errorf("Method = %q, want POST", wire.Method)
	}
	if wire.Endpoint != "/chat/completions" {
		t.Errorf("Endpoint = %q, want /chat/completions", wire.Endpoint)
	}

	body, err := json.Marshal(wire.Body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if got["model"] != "gpt-4o-mini" {
		t.Errorf("model = %v, want gpt-4o-mini", got["model"])
	}
	if got["temperature"] != 0.7 {
		t.Errorf("temperature = %v, want 0.7", got["temperature"])
	}
	if got["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v, want 256", got["max_tokens"])
	}
	if got["stream"] != true {
		t.Errorf("stream = %v, want true", got["stream"])
	}
	if _, present := got["max_completion_tokens"]; present {
		t.Error("max_completion_tokens present on non-reasoning request")
	}
}

func TestEncodeReasoningClass(t *testing.T) {
	temp := 0.7
	maxTok := 512
	a := &Adapter{}

	wire, err := a.Encode(&core.ChatRequest{
		Binding:     testBinding(true),
		Messages:    []core.Message{{Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   &maxTok,
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	body, _ := json.Marshal(wire.Body)
	var got map[string]interface{}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if _, present := got["temperature"]; present {
		t.Error("temperature present on reasoning-class request")
	}
	if _, present := got["max_tokens"]; present {
		t.Error("max_tokens present on reasoning-class request")
	}
	if got["max_completion_tokens"] != float64(512) {
		t.Errorf("max_completion_tokens = %v, want 512", got["max_completion_tokens"])
	}
}

func TestStreamDecoder(t *testing.T) {
	tests := []struct {
		name       string
		chunks     []string
		wantEvents []core.Event
		wantUsage  *core.TokenUsage
		wantBad    int
	}{
		{
			name: "deltas then done",
			chunks: []string{
				"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
				"data: [DONE]\n\n",
			},
			wantEvents: []core.Event{core.Delta("Hel"), core.Delta("lo"), core.Done()},
		},
		{
			name: "usage on final chunk",
			chunks: []string{
				"data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n",
				"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":7}}\n\n",
				"data: [DONE]\n\n",
			},
			wantEvents: []core.Event{core.Delta("x"), core.Done()},
			wantUsage:  &core.TokenUsage{InputTokens: 12, OutputTokens: 7},
		},
		{
			name: "error envelope terminates",
			chunks: []string{
				"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n",
				"data: {\"error\":{\"message\":\"rate limited\"}}\n\n",
				"data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n\n",
			},
			wantEvents: []core.Event{core.Delta("a"), core.ErrorEvent("rate limited")},
		},
		{
			name: "malformed chunk skipped",
			chunks: []string{
				"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n",
				"data: {not json at all\n\n",
				"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n",
				"data: [DONE]\n\n",
			},
			wantEvents: []core.Event{core.Delta("a"), core.Delta("b"), core.Done()},
			wantBad:    1,
		},
		{
			name: "comment and event lines ignored",
			chunks: []string{
				": keepalive\n\n",
				"event: message\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n",
				"data: [DONE]\n\n",
			},
			wantEvents: []core.Event{core.Delta("ok"), core.Done()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &streamDecoder{}
			var events []core.Event
			for _, c := range tt.chunks {
				events = append(events, d.Feed([]byte(c))...)
			}

			if len(events) != len(tt.wantEvents) {
				t.Fatalf("got %d events, want %d: %+v", len(events), len(tt.wantEvents), events)
			}
			for i, want := range tt.wantEvents {
				if events[i] != want {
					t.Errorf("events[%d] = %+v, want %+v", i, events[i], want)
				}
			}
			if tt.wantUsage != nil {
				if d.Usage() == nil {
					t.Fatal("Usage() = nil, want value")
				}
				if *d.Usage() != *tt.wantUsage {
					t.Errorf("Usage() = %+v, want %+v", *d.Usage(), *tt.wantUsage)
				}
			}
			if d.Malformed() != tt.wantBad {
				t.Errorf("Malformed() = %d, want %d", d.Malformed(), tt.wantBad)
			}
		})
	}
}

func TestStreamDecoderFrameSplitAcrossChunks(t *testing.T) {
	d := &streamDecoder{}

	events := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"con"))
	if len(events) != 0 {
		t.Fatalf("partial frame produced %d events, want 0", len(events))
	}
	events = d.Feed([]byte("tent\":\"joined\"}}]}\n\ndata: [DONE]\n\n"))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if events[0] != core.Delta("joined") {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1] != core.Done() {
		t.Errorf("events[1] = %+v", events[1])
	}
}

func TestStreamDecoderNoEventsAfterTerminal(t *testing.T) {
	d := &streamDecoder{}
	d.Feed([]byte("data: [DONE]\n\n"))

	if !d.Finished() {
		t.Fatal("Finished() = false after [DONE]")
	}
	events := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ghost\"}}]}\n\n"))
	if len(events) != 0 {
		t.Errorf("got %d events after terminal, want 0", len(events))
	}
}

func TestExtract(t *testing.T) {
	a := &Adapter{}

	ext, err := a.Extract([]byte(`{
		"choices":[{"message":{"role":"assistant","content":"final answer"}}],
		"usage":{"prompt_tokens":5,"completion_tokens":3}
	}`))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if ext.Text != "final answer" {
		t.Errorf("Text = %q, want %q", ext.Text, "final answer")
	}
	if ext.Usage == nil || ext.Usage.InputTokens != 5 || ext.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", ext.Usage)
	}
}

func TestExtractErrorEnvelope(t *testing.T) {
	a := &Adapter{}

	_, err := a.Extract([]byte(`{"error":{"message":"model overloaded"}}`))
	if err == nil {
		t.Fatal("Extract() error = nil, want protocol error")
	}
	ge, ok := err.(*core.GatewayError)
	if !ok {
		t.Fatalf("error type = %T, want *core.GatewayError", err)
	}
	if ge.Type != core.ErrorTypeUpstreamProtocol {
		t.Errorf("Type = %q, want %q", ge.Type, core.ErrorTypeUpstreamProtocol)
	}
	if ge.Message != "model overloaded" {
		t.Errorf("Message = %q", ge.Message)
	}
}
