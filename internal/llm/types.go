package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	ThinkingBudget  int64 // 0 = disabled, >0 = extended thinking token budget
	MaxOutputTokens int
	MaxTurns        int // Max agentic turns for tool execution (0 = use default)
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type        PartType
	Text        string
	Thinking    string // Thinking content captured from the model (replayed on follow-up turns)
	ThinkingSig string // Signature accompanying thinking content (Anthropic requires it on replay)
	ToolCall    *ToolCall
	ToolResult  *ToolResult
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool // True if this result represents a tool execution error
}

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventThinkingDelta EventType = "thinking_delta"
	EventToolCall      EventType = "tool_call"
	EventToolExecStart EventType = "tool_exec_start" // Emitted when tool execution begins
	EventToolExecEnd   EventType = "tool_exec_end"   // Emitted when tool execution completes
	EventUsage         EventType = "usage"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event represents a streamed output update.
type Event struct {
	Type        EventType
	Text        string
	Signature   string // For EventThinkingDelta: thinking block signature
	Tool        *ToolCall
	ToolCallID  string // For EventToolExecStart/End: unique ID of this tool invocation
	ToolName    string // For EventToolExecStart/End: name of tool being executed
	ToolInfo    string // For EventToolExecStart/End: additional info (e.g., command being run)
	ToolSuccess bool   // For EventToolExecEnd: whether tool execution succeeded
	ToolOutput  string // For EventToolExecEnd: the tool's output
	Use         *Usage
	Err         error
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func SystemText(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func ToolResultMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: content,
			},
		}},
	}
}

// ToolErrorMessage creates a tool result message that indicates an error.
// The error is passed to the model so it can respond gracefully instead of failing the stream.
func ToolErrorMessage(id, name, errorText string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Name:    name,
				Content: errorText,
				IsError: true,
			},
		}},
	}
}

func collectTextParts(parts []Part) string {
	var texts []string
	for _, part := range parts {
		if part.Type == PartText && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// chooseModel prefers the request model over the provider default.
func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
