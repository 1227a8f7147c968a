package core

import (
	"encoding/json"
	"testing"
)

func TestEventConstructors(t *testing.T) {
	d := Delta("hi")
	if d.Type != EventDelta || d.Text != "hi" || d.Terminal() {
		t.Errorf("Delta = %+v", d)
	}

	done := Done()
	if done.Type != EventDone || !done.Terminal() {
		t.Errorf("Done = %+v", done)
	}

	e := ErrorEvent("boom")
	if e.Type != EventError || e.Message != "boom" || !e.Terminal() {
		t.Errorf("ErrorEvent = %+v", e)
	}
}

func TestEventJSONShape(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"delta", Delta("chunk"), `{"type":"delta","content":"chunk"}`},
		{"done", Done(), `{"type":"done"}`},
		{"error", ErrorEvent("bad"), `{"type":"error","message":"bad"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("json = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestChatRequestReasoningClass(t *testing.T) {
	plain := &ChatRequest{Binding: &ModelBinding{Name: "gpt-4o"}}
	if plain.ReasoningClass() {
		t.Error("ReasoningClass() = true for plain request")
	}

	flagged := &ChatRequest{Binding: &ModelBinding{Name: "gpt-4o"}, Reasoning: true}
	if !flagged.ReasoningClass() {
		t.Error("ReasoningClass() = false for request-level flag")
	}

	bindingLevel := &ChatRequest{Binding: &ModelBinding{Name: "o3-mini", SupportsReasoning: true}}
	if !bindingLevel.ReasoningClass() {
		t.Error("ReasoningClass() = false for binding-level flag")
	}
}

func TestBindingKindValid(t *testing.T) {
	for _, k := range []BindingKind{KindChatCompletions, KindResponses, KindLocalNDJSON} {
		if !k.Valid() {
			t.Errorf("%q.Valid() = false", k)
		}
	}
	if BindingKind("smoke_signals").Valid() {
		t.Error("unknown kind reported valid")
	}
}
