package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const defaultMaxTurns = 20

// getMaxTurns returns the max turns from request, with fallback to default
func getMaxTurns(req Request) int {
	if req.MaxTurns > 0 {
		return req.MaxTurns
	}
	return defaultMaxTurns
}

// TurnMetrics contains metrics collected during a turn.
type TurnMetrics struct {
	InputTokens  int // Tokens consumed as input this turn
	OutputTokens int // Tokens generated as output this turn
	ToolCalls    int // Number of tools executed this turn
}

// TurnCompletedCallback is called after each turn completes with the messages
// generated during that turn and metrics about the turn. turnIndex is 0-based;
// messages contains the assistant message and any tool results. A turn is only
// reported once it finished cleanly, so a stream failure never produces a
// partial turn.
type TurnCompletedCallback func(ctx context.Context, turnIndex int, messages []Message, metrics TurnMetrics) error

// Engine orchestrates provider calls and external tool execution.
type Engine struct {
	provider Provider
	tools    *ToolRegistry

	onTurnCompleted TurnCompletedCallback
	callbackMu      sync.RWMutex
}

func NewEngine(provider Provider, tools *ToolRegistry) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Engine{
		provider: provider,
		tools:    tools,
	}
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *ToolRegistry {
	return e.tools
}

// SetTurnCompletedCallback sets the callback invoked after each completed turn.
// Thread-safe: can be called while streaming is in progress.
func (e *Engine) SetTurnCompletedCallback(cb TurnCompletedCallback) {
	e.callbackMu.Lock()
	e.onTurnCompleted = cb
	e.callbackMu.Unlock()
}

func (e *Engine) getCallback() TurnCompletedCallback {
	e.callbackMu.RLock()
	cb := e.onTurnCompleted
	e.callbackMu.RUnlock()
	return cb
}

// Stream runs the agentic loop: call the provider, execute requested tools,
// feed results back, repeat until the model answers without tool calls.
func (e *Engine) Stream(ctx context.Context, req Request) (Stream, error) {
	if req.Tools == nil {
		req.Tools = e.tools.AllSpecs()
	}
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		return e.runLoop(ctx, req, events)
	}), nil
}

func (e *Engine) runLoop(ctx context.Context, req Request, events chan<- Event) error {
	maxTurns := getMaxTurns(req)

	// Copy callback at start - protects against concurrent modification.
	callback := e.getCallback()

	for attempt := 0; attempt < maxTurns; attempt++ {
		stream, err := e.provider.Stream(ctx, req)
		if err != nil {
			return err
		}

		// Collect tool calls and text, forward events, track metrics
		var toolCalls []ToolCall
		var textBuilder strings.Builder
		var thinkingBuilder strings.Builder
		var thinkingSig string
		var turnMetrics TurnMetrics
		for {
			event, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Close()
				return err
			}
			if event.Type == EventError && event.Err != nil {
				stream.Close()
				return event.Err
			}
			switch event.Type {
			case EventUsage:
				if event.Use != nil {
					turnMetrics.InputTokens += event.Use.InputTokens
					turnMetrics.OutputTokens += event.Use.OutputTokens
				}
			case EventTextDelta:
				textBuilder.WriteString(event.Text)
			case EventThinkingDelta:
				thinkingBuilder.WriteString(event.Text)
				if event.Signature != "" {
					thinkingSig = event.Signature
				}
			case EventToolCall:
				if event.Tool != nil {
					toolCalls = append(toolCalls, *event.Tool)
					continue
				}
			case EventDone:
				continue
			}
			events <- event
		}
		stream.Close()

		toolCalls = ensureToolCallIDs(toolCalls)
		toolCalls = dedupeToolCalls(toolCalls)

		if len(toolCalls) == 0 {
			// Final text-only response.
			if callback != nil && textBuilder.Len() > 0 {
				finalMsg := buildAssistantMessage(textBuilder.String(), thinkingBuilder.String(), thinkingSig, nil)
				if err := callback(ctx, attempt, []Message{finalMsg}, turnMetrics); err != nil {
					return err
				}
			}
			events <- Event{Type: EventDone}
			return nil
		}

		if attempt == maxTurns-1 {
			// Iteration cap reached: stop without executing the pending tool
			// calls and finish cleanly. Unexecuted calls are never surfaced,
			// so the conversation holds no unresolved tool call.
			if callback != nil && textBuilder.Len() > 0 {
				finalMsg := buildAssistantMessage(textBuilder.String(), thinkingBuilder.String(), thinkingSig, nil)
				if err := callback(ctx, attempt, []Message{finalMsg}, turnMetrics); err != nil {
					return err
				}
			}
			events <- Event{Type: EventDone}
			return nil
		}

		// Execute tool calls one at a time, in the order the model requested them.
		toolResults := make([]Message, 0, len(toolCalls))
		for _, call := range toolCalls {
			toolResults = append(toolResults, e.executeToolCall(ctx, call, events))
		}

		assistantMsg := buildAssistantMessage(textBuilder.String(), thinkingBuilder.String(), thinkingSig, toolCalls)
		req.Messages = append(req.Messages, assistantMsg)
		req.Messages = append(req.Messages, toolResults...)

		if callback != nil {
			turnMetrics.ToolCalls = len(toolCalls)
			turnMessages := append([]Message{assistantMsg}, toolResults...)
			if err := callback(ctx, attempt, turnMessages, turnMetrics); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("agentic loop ended unexpectedly")
}

// executeToolCall dispatches a single call through the registry and converts
// any failure into an error tool-result message. The model sees errors exactly
// like successful results and decides how to proceed.
func (e *Engine) executeToolCall(ctx context.Context, call ToolCall, events chan<- Event) Message {
	events <- Event{Type: EventToolExecStart, ToolCallID: call.ID, ToolName: call.Name, ToolInfo: e.getToolPreview(call)}

	output, err := e.tools.Dispatch(ctx, call.Name, call.Arguments)
	if err != nil {
		var unknown *UnknownToolError
		errMsg := fmt.Sprintf("Error: %v", err)
		if errors.As(err, &unknown) {
			errMsg = fmt.Sprintf("Error: tool not registered: %s", call.Name)
		}
		events <- Event{Type: EventToolExecEnd, ToolCallID: call.ID, ToolName: call.Name, ToolSuccess: false, ToolOutput: errMsg}
		return ToolErrorMessage(call.ID, call.Name, errMsg)
	}

	events <- Event{Type: EventToolExecEnd, ToolCallID: call.ID, ToolName: call.Name, ToolSuccess: true, ToolOutput: output}
	return ToolResultMessage(call.ID, call.Name, output)
}

// buildAssistantMessage creates an assistant message with text, thinking, and tool calls.
func buildAssistantMessage(text, thinking, thinkingSig string, toolCalls []ToolCall) Message {
	var parts []Part
	if text != "" || thinking != "" {
		parts = append(parts, Part{Type: PartText, Text: text, Thinking: thinking, ThinkingSig: thinkingSig})
	}
	for i := range toolCalls {
		call := toolCalls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

func ensureToolCallIDs(calls []ToolCall) []ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = fmt.Sprintf("toolcall-%d", i+1)
		}
	}
	return calls
}

func dedupeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			out = append(out, call)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, call)
	}
	return out
}

// getToolPreview returns a preview string for a tool call.
func (e *Engine) getToolPreview(call ToolCall) string {
	if tool, ok := e.tools.Get(call.Name); ok {
		return tool.Preview(call.Arguments)
	}
	return ""
}
