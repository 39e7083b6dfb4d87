package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
)

// fakeTool is a minimal Tool for engine tests.
type fakeTool struct {
	name    string
	result  string
	err     error
	calls   []json.RawMessage
	preview string
}

func (t *fakeTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.name,
		Description: "test tool: " + t.name,
		Schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}

func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.calls = append(t.calls, args)
	if t.err != nil {
		return "", t.err
	}
	return t.result, nil
}

func (t *fakeTool) Preview(args json.RawMessage) string {
	return t.preview
}

func drainStream(t *testing.T, stream Stream) ([]Event, error) {
	t.Helper()
	var events []Event
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

func TestEngine_TextOnly(t *testing.T) {
	p := NewMockProvider("test")
	p.AddTextResponse("plain answer")

	engine := NewEngine(p, NewToolRegistry())
	stream, err := engine.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}

	var text string
	for _, e := range events {
		if e.Type == EventTextDelta {
			text += e.Text
		}
	}
	if text != "plain answer" {
		t.Errorf("text = %q, want %q", text, "plain answer")
	}
	if len(p.Requests) != 1 {
		t.Errorf("expected 1 provider request, got %d", len(p.Requests))
	}
}

func TestEngine_ToolLoop(t *testing.T) {
	p := NewMockProvider("test")
	p.AddToolCall("call_1", "get_weather", map[string]string{"city": "Paris"})
	p.AddTextResponse("It is 18C in Paris.")

	registry := NewToolRegistry()
	weather := &fakeTool{name: "get_weather", result: `{"temp_c":18}`}
	if err := registry.Register(weather); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	engine := NewEngine(p, registry)
	stream, err := engine.Stream(context.Background(), Request{Messages: []Message{UserText("What's the weather in Paris?")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}

	// Exec start must precede exec end, which must precede the answer text.
	var order []EventType
	for _, e := range events {
		switch e.Type {
		case EventToolExecStart, EventToolExecEnd, EventTextDelta:
			if len(order) > 0 && order[len(order)-1] == e.Type {
				continue
			}
			order = append(order, e.Type)
		}
	}
	want := []EventType{EventToolExecStart, EventToolExecEnd, EventTextDelta}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("event order = %v, want %v", order, want)
	}

	if len(weather.calls) != 1 {
		t.Fatalf("expected 1 tool execution, got %d", len(weather.calls))
	}

	// Second provider request must carry the assistant tool call and its result.
	if len(p.Requests) != 2 {
		t.Fatalf("expected 2 provider requests, got %d", len(p.Requests))
	}
	msgs := p.Requests[1].Messages
	last := msgs[len(msgs)-1]
	if last.Role != RoleTool {
		t.Fatalf("last message role = %v, want %v", last.Role, RoleTool)
	}
	result := last.Parts[0].ToolResult
	if result == nil || result.Content != `{"temp_c":18}` || result.IsError {
		t.Errorf("unexpected tool result: %+v", result)
	}
}

func TestEngine_ToolResultsPerRequestInOrder(t *testing.T) {
	p := NewMockProvider("test")
	p.AddTurn(MockTurn{ToolCalls: []ToolCall{
		{ID: "call_a", Name: "alpha", Arguments: json.RawMessage(`{}`)},
		{ID: "call_b", Name: "beta", Arguments: json.RawMessage(`{}`)},
		{ID: "call_c", Name: "gamma", Arguments: json.RawMessage(`{}`)},
	}})
	p.AddTextResponse("done")

	registry := NewToolRegistry()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := registry.Register(&fakeTool{name: name, result: name + "-out"}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	engine := NewEngine(p, registry)
	stream, err := engine.Stream(context.Background(), Request{Messages: []Message{UserText("go")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	if _, err := drainStream(t, stream); err != nil {
		t.Fatalf("drain error = %v", err)
	}

	// Exactly one tool result per request, in request order.
	msgs := p.Requests[1].Messages
	var results []*ToolResult
	for _, msg := range msgs {
		if msg.Role != RoleTool {
			continue
		}
		for _, part := range msg.Parts {
			if part.ToolResult != nil {
				results = append(results, part.ToolResult)
			}
		}
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 tool results, got %d", len(results))
	}
	wantIDs := []string{"call_a", "call_b", "call_c"}
	for i, r := range results {
		if r.ID != wantIDs[i] {
			t.Errorf("result[%d].ID = %q, want %q", i, r.ID, wantIDs[i])
		}
	}
}

func TestEngine_UnregisteredToolBecomesErrorResult(t *testing.T) {
	p := NewMockProvider("test")
	p.AddToolCall("call_1", "no_such_tool", map[string]string{})
	p.AddTextResponse("I could not run that tool.")

	engine := NewEngine(p, NewToolRegistry())
	stream, err := engine.Stream(context.Background(), Request{
		Messages: []Message{UserText("go")},
		Tools:    []ToolSpec{{Name: "advertised", Schema: map[string]interface{}{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}

	var end *Event
	for i := range events {
		if events[i].Type == EventToolExecEnd {
			end = &events[i]
		}
	}
	if end == nil {
		t.Fatal("expected tool exec end event")
	}
	if end.ToolSuccess {
		t.Error("expected unregistered tool execution to be reported as failed")
	}

	msgs := p.Requests[1].Messages
	last := msgs[len(msgs)-1]
	result := last.Parts[0].ToolResult
	if result == nil || !result.IsError {
		t.Fatalf("expected error tool result, got %+v", result)
	}
}

func TestEngine_FailingToolBecomesErrorResult(t *testing.T) {
	p := NewMockProvider("test")
	p.AddToolCall("call_1", "broken", map[string]string{})
	p.AddTextResponse("the tool failed")

	registry := NewToolRegistry()
	if err := registry.Register(&fakeTool{name: "broken", err: errors.New("boom")}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	engine := NewEngine(p, registry)
	stream, err := engine.Stream(context.Background(), Request{Messages: []Message{UserText("go")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	if _, err := drainStream(t, stream); err != nil {
		t.Fatalf("drain error = %v", err)
	}

	result := p.Requests[1].Messages[len(p.Requests[1].Messages)-1].Parts[0].ToolResult
	if result == nil || !result.IsError {
		t.Fatalf("expected error tool result, got %+v", result)
	}
}

func TestEngine_UpstreamErrorMidStream(t *testing.T) {
	upstream := &UpstreamError{Provider: "mock", Err: errors.New("rate limited")}
	p := NewMockProvider("test")
	p.AddTurn(MockTurn{Text: "partial ", Err: upstream})

	engine := NewEngine(p, NewToolRegistry())
	stream, err := engine.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := drainStream(t, stream)
	if err == nil {
		t.Fatal("expected stream error")
	}
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Errorf("error = %v, want *UpstreamError", err)
	}
	for _, e := range events {
		if e.Type == EventDone {
			t.Error("stream must not complete after upstream error")
		}
	}
}

func TestEngine_CallbackFiresPerTurn(t *testing.T) {
	p := NewMockProvider("test")
	p.AddToolCall("call_1", "get_weather", map[string]string{"city": "Paris"})
	p.AddTurn(MockTurn{Text: "18C", Usage: &Usage{InputTokens: 20, OutputTokens: 7}})

	registry := NewToolRegistry()
	if err := registry.Register(&fakeTool{name: "get_weather", result: "18"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	engine := NewEngine(p, registry)

	var turns [][]Message
	var metrics []TurnMetrics
	engine.SetTurnCompletedCallback(func(ctx context.Context, turnIndex int, messages []Message, m TurnMetrics) error {
		turns = append(turns, messages)
		metrics = append(metrics, m)
		return nil
	})

	stream, err := engine.Stream(context.Background(), Request{Messages: []Message{UserText("weather?")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	if _, err := drainStream(t, stream); err != nil {
		t.Fatalf("drain error = %v", err)
	}

	if len(turns) != 2 {
		t.Fatalf("expected 2 completed turns, got %d", len(turns))
	}
	// Turn 0: assistant tool call + tool result.
	if turns[0][0].Role != RoleAssistant || turns[0][1].Role != RoleTool {
		t.Errorf("turn 0 roles = %v, %v", turns[0][0].Role, turns[0][1].Role)
	}
	if metrics[0].ToolCalls != 1 {
		t.Errorf("turn 0 tool calls = %d, want 1", metrics[0].ToolCalls)
	}
	// Turn 1: final assistant text.
	if turns[1][0].Role != RoleAssistant {
		t.Errorf("turn 1 role = %v, want assistant", turns[1][0].Role)
	}
	if metrics[1].OutputTokens != 7 {
		t.Errorf("turn 1 output tokens = %d, want 7", metrics[1].OutputTokens)
	}
}

func TestEngine_MaxTurnsFinishesCleanly(t *testing.T) {
	p := NewMockProvider("test")
	// The model never stops asking for the tool.
	for i := 0; i < 3; i++ {
		p.AddToolCall(fmt.Sprintf("call_%d", i), "echo", map[string]string{})
	}

	registry := NewToolRegistry()
	echo := &fakeTool{name: "echo", result: "ok"}
	if err := registry.Register(echo); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	engine := NewEngine(p, registry)
	stream, err := engine.Stream(context.Background(), Request{
		Messages: []Message{UserText("loop")},
		MaxTurns: 3,
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()

	events, err := drainStream(t, stream)
	if err != nil {
		t.Fatalf("drain error = %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Type != EventDone {
		t.Error("expected the stream to end with a done event at the turn cap")
	}
	// The cap stops the loop on the final turn without executing its calls.
	if len(p.Requests) != 3 {
		t.Errorf("provider requests = %d, want 3", len(p.Requests))
	}
	if len(echo.calls) != 2 {
		t.Errorf("tool executions = %d, want 2", len(echo.calls))
	}
}
