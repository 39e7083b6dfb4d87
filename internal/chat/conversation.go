package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/wskish/toolchat/internal/llm"
)

// Turn is the flattened view of one message unit in the conversation:
// user input, assistant output, an assistant tool call, or a tool result.
type Turn struct {
	Role       llm.Role
	Content    string
	ToolName   string
	ToolCallID string
	IsError    bool
}

// Conversation is the single live, append-only conversation state: the turn
// log, running token/cost counters, and the current model selection. It is
// created at process start and mutated in place; it is never persisted.
type Conversation struct {
	mu             sync.Mutex
	messages       []llm.Message
	model          string
	thinkingBudget int64
	usage          llm.Usage
	cost           float64
}

// NewConversation creates a conversation pinned to a supported model, with
// the given system prompt as its first message.
func NewConversation(model, systemPrompt string) (*Conversation, error) {
	if _, ok := llm.LookupModel(model); !ok {
		return nil, &llm.InvalidConfigError{Setting: "model", Value: model, Reason: "not in the supported model set"}
	}
	c := &Conversation{model: model}
	if systemPrompt != "" {
		c.messages = append(c.messages, llm.SystemText(systemPrompt))
	}
	return c, nil
}

// DefaultSystemPrompt returns the system prompt installed on a fresh conversation.
func DefaultSystemPrompt(now time.Time) string {
	return fmt.Sprintf(
		"You are a helpful assistant. Today's date is %s. Format your responses in markdown.",
		now.Format("January 2, 2006"),
	)
}

// Append adds a message to the log. Messages are immutable once appended;
// append order is the only sequencing guarantee.
func (c *Conversation) Append(msg llm.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
}

// Snapshot returns a copy of the message log for use in a provider call, so
// the adapter never observes concurrent mutation mid-call.
func (c *Conversation) Snapshot() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Turns returns the flattened turn log derived from the message history.
func (c *Conversation) Turns() []Turn {
	var turns []Turn
	for _, msg := range c.Snapshot() {
		switch msg.Role {
		case llm.RoleSystem, llm.RoleUser:
			for _, part := range msg.Parts {
				if part.Type == llm.PartText && part.Text != "" {
					turns = append(turns, Turn{Role: msg.Role, Content: part.Text})
				}
			}
		case llm.RoleAssistant:
			for _, part := range msg.Parts {
				switch part.Type {
				case llm.PartText:
					if part.Text != "" {
						turns = append(turns, Turn{Role: llm.RoleAssistant, Content: part.Text})
					}
				case llm.PartToolCall:
					if part.ToolCall != nil {
						turns = append(turns, Turn{
							Role:       llm.RoleAssistant,
							Content:    string(part.ToolCall.Arguments),
							ToolName:   part.ToolCall.Name,
							ToolCallID: part.ToolCall.ID,
						})
					}
				}
			}
		case llm.RoleTool:
			for _, part := range msg.Parts {
				if part.Type == llm.PartToolResult && part.ToolResult != nil {
					turns = append(turns, Turn{
						Role:       llm.RoleTool,
						Content:    part.ToolResult.Content,
						ToolName:   part.ToolResult.Name,
						ToolCallID: part.ToolResult.ID,
						IsError:    part.ToolResult.IsError,
					})
				}
			}
		}
	}
	return turns
}

// UpdateUsage accumulates token counts and cost. Counters only ever grow;
// negative deltas are ignored.
func (c *Conversation) UpdateUsage(u llm.Usage, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u.InputTokens > 0 {
		c.usage.InputTokens += u.InputTokens
	}
	if u.OutputTokens > 0 {
		c.usage.OutputTokens += u.OutputTokens
	}
	if cost > 0 {
		c.cost += cost
	}
}

// Usage returns the cumulative token counters.
func (c *Conversation) Usage() llm.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Cost returns the cumulative USD cost.
func (c *Conversation) Cost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cost
}

// Model returns the currently selected model.
func (c *Conversation) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// ThinkingBudget returns the currently selected thinking budget.
func (c *Conversation) ThinkingBudget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thinkingBudget
}

// SetModel switches to another supported model. Selecting a model without
// thinking support clears any configured thinking budget.
func (c *Conversation) SetModel(id string) error {
	spec, ok := llm.LookupModel(id)
	if !ok {
		return &llm.InvalidConfigError{Setting: "model", Value: id, Reason: "not in the supported model set"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = spec.ID
	if !spec.SupportsThinking {
		c.thinkingBudget = 0
	}
	return nil
}

// SetThinkingBudget sets the extended-thinking token budget. Only models with
// thinking support accept a non-zero budget; budgets below the vendor minimum
// are clamped up. Zero disables thinking.
func (c *Conversation) SetThinkingBudget(budget int64) error {
	if budget < 0 {
		return &llm.InvalidConfigError{Setting: "thinking_budget", Value: fmt.Sprint(budget), Reason: "must be >= 0"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	spec, _ := llm.LookupModel(c.model)
	if budget > 0 && !spec.SupportsThinking {
		return &llm.InvalidConfigError{Setting: "thinking_budget", Value: fmt.Sprint(budget), Reason: fmt.Sprintf("model %s does not support thinking", c.model)}
	}
	c.thinkingBudget = llm.ClampThinkingBudget(budget)
	return nil
}
