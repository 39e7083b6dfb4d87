package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wskish/toolchat/internal/llm"
)

type weatherTool struct {
	calls int
}

func (t *weatherTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "get_weather",
		Description: "Get the current weather for a city",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"city": map[string]interface{}{"type": "string"},
			},
			"required": []string{"city"},
		},
	}
}

func (t *weatherTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	t.calls++
	var in struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	return `{"temp_c":18}`, nil
}

func (t *weatherTool) Preview(args json.RawMessage) string {
	return "get_weather"
}

func newTestSession(t *testing.T, provider *llm.MockProvider, tools ...llm.Tool) *Session {
	t.Helper()
	conv, err := NewConversation(llm.DefaultModel, DefaultSystemPrompt(time.Now()))
	if err != nil {
		t.Fatalf("NewConversation() error = %v", err)
	}
	registry := llm.NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	return NewSession(conv, map[string]llm.Provider{llm.VendorAnthropic: provider}, registry)
}

func TestSendAlternatesUserAndAssistantTurns(t *testing.T) {
	provider := llm.NewMockProvider(llm.VendorAnthropic)
	session := newTestSession(t, provider)

	const n = 3
	for i := 0; i < n; i++ {
		provider.AddTextResponse(fmt.Sprintf("reply %d", i))
	}
	for i := 0; i < n; i++ {
		if _, err := session.Send(context.Background(), fmt.Sprintf("message %d", i), nil); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}

	turns := session.Conversation().Turns()
	if len(turns) != 1+2*n {
		t.Fatalf("len(turns) = %d, want %d", len(turns), 1+2*n)
	}
	if turns[0].Role != llm.RoleSystem {
		t.Fatalf("turns[0].Role = %q, want system", turns[0].Role)
	}
	for i := 0; i < n; i++ {
		if got := turns[1+2*i].Role; got != llm.RoleUser {
			t.Errorf("turns[%d].Role = %q, want user", 1+2*i, got)
		}
		if got := turns[2+2*i].Role; got != llm.RoleAssistant {
			t.Errorf("turns[%d].Role = %q, want assistant", 2+2*i, got)
		}
	}
}

func TestSendWeatherToolScenario(t *testing.T) {
	provider := llm.NewMockProvider(llm.VendorAnthropic)
	tool := &weatherTool{}
	session := newTestSession(t, provider, tool)

	provider.AddToolCall("call-1", "get_weather", map[string]string{"city": "Paris"})
	provider.AddTextResponse("It is 18C in Paris.")

	var events []llm.Event
	stats, err := session.Send(context.Background(), "What's the weather in Paris?", func(ev llm.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if tool.calls != 1 {
		t.Errorf("tool executed %d times, want 1", tool.calls)
	}
	if stats.Calls != 1 {
		t.Errorf("stats.Calls = %d, want 1", stats.Calls)
	}
	if stats.PromptTokens == 0 || stats.CompletionTokens == 0 {
		t.Errorf("stats tokens not accumulated: %+v", stats)
	}
	if stats.SessionCost < stats.Cost {
		t.Errorf("SessionCost %g < Cost %g", stats.SessionCost, stats.Cost)
	}

	// The stream must show tool execution before the final answer and end
	// without an error event.
	var sawExecStart, sawExecEnd, sawFinalText, sawDone bool
	for _, ev := range events {
		switch ev.Type {
		case llm.EventToolExecStart:
			sawExecStart = true
		case llm.EventToolExecEnd:
			if !sawExecStart {
				t.Error("tool_exec_end before tool_exec_start")
			}
			if !ev.ToolSuccess {
				t.Errorf("tool execution reported failure: %+v", ev)
			}
			sawExecEnd = true
		case llm.EventTextDelta:
			if sawExecEnd {
				sawFinalText = true
			}
		case llm.EventDone:
			sawDone = true
		case llm.EventError:
			t.Errorf("unexpected error event: %+v", ev)
		}
	}
	if !sawExecStart || !sawExecEnd || !sawFinalText || !sawDone {
		t.Errorf("missing events: start=%v end=%v text=%v done=%v", sawExecStart, sawExecEnd, sawFinalText, sawDone)
	}

	// The second provider request must contain exactly one tool result, in
	// the position after the assistant tool call.
	if len(provider.Requests) != 2 {
		t.Fatalf("provider saw %d requests, want 2", len(provider.Requests))
	}
	second := provider.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleTool {
		t.Fatalf("last message role = %q, want tool", last.Role)
	}
	if got := last.Parts[0].ToolResult.Content; got != `{"temp_c":18}` {
		t.Errorf("tool result content = %q", got)
	}

	turns := session.Conversation().Turns()
	final := turns[len(turns)-1]
	if final.Role != llm.RoleAssistant || final.Content != "It is 18C in Paris." {
		t.Errorf("final turn = %+v", final)
	}
}

func TestSendUpstreamErrorKeepsNoPartialTurn(t *testing.T) {
	provider := llm.NewMockProvider(llm.VendorAnthropic)
	session := newTestSession(t, provider)

	upstream := &llm.UpstreamError{Provider: llm.VendorAnthropic, Err: errors.New("rate limited")}
	provider.AddTurn(llm.MockTurn{Text: "partial answer that never fini", Err: upstream})

	before := len(session.Conversation().Turns())
	_, err := session.Send(context.Background(), "hello", nil)
	var ue *llm.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *llm.UpstreamError, got %v", err)
	}

	// The user turn is retained; the partial assistant output is not.
	turns := session.Conversation().Turns()
	if len(turns) != before+1 {
		t.Fatalf("len(turns) = %d, want %d: %+v", len(turns), before+1, turns)
	}
	if last := turns[len(turns)-1]; last.Role != llm.RoleUser || last.Content != "hello" {
		t.Errorf("last turn = %+v, want the user message", last)
	}

	// The conversation recovers on the next request.
	provider.AddTextResponse("recovered")
	if _, err := session.Send(context.Background(), "again", nil); err != nil {
		t.Fatalf("Send() after failure error = %v", err)
	}
}

func TestSendRejectsConcurrentRequest(t *testing.T) {
	provider := llm.NewMockProvider(llm.VendorAnthropic)
	session := newTestSession(t, provider)

	provider.AddTurn(llm.MockTurn{Text: "slow reply", Delay: 200 * time.Millisecond})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := session.Send(context.Background(), "first", nil)
		done <- err
	}()

	<-started
	time.Sleep(50 * time.Millisecond)

	_, err := session.Send(context.Background(), "second", nil)
	var busy *SessionBusyError
	if !errors.As(err, &busy) {
		t.Fatalf("expected *SessionBusyError, got %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("first Send() error = %v", err)
	}

	// The rejected request must not have touched the conversation.
	for _, turn := range session.Conversation().Turns() {
		if turn.Content == "second" {
			t.Error("rejected request leaked into the conversation")
		}
	}
}

func TestSetModelRequiresConfiguredProvider(t *testing.T) {
	provider := llm.NewMockProvider(llm.VendorAnthropic)
	session := newTestSession(t, provider)

	var cfgErr *llm.InvalidConfigError
	if err := session.SetModel("gpt-4o"); !errors.As(err, &cfgErr) {
		t.Fatalf("expected *llm.InvalidConfigError for unconfigured vendor, got %v", err)
	}
	if err := session.SetModel("claude-3-5-sonnet-20241022"); err != nil {
		t.Fatalf("SetModel() error = %v", err)
	}
	if err := session.SetModel("bogus"); !errors.As(err, &cfgErr) {
		t.Fatalf("expected *llm.InvalidConfigError for unknown model, got %v", err)
	}
}
