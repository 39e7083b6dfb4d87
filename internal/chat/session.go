package chat

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/wskish/toolchat/internal/llm"
	"github.com/wskish/toolchat/internal/usage"
)

// SessionBusyError is returned when a request arrives while another request
// is still streaming on the same session.
type SessionBusyError struct{}

func (e *SessionBusyError) Error() string {
	return "session is busy processing another request"
}

// Stats summarizes one completed request for the stats frame sent to clients.
type Stats struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	Cost             float64 `json:"cost"`
	SessionCost      float64 `json:"sessionCost"`
}

// Session owns the single live conversation and serializes requests against
// it. At most one request streams at a time; a second concurrent request is
// rejected with *SessionBusyError instead of queueing.
type Session struct {
	mu        sync.Mutex
	conv      *Conversation
	providers map[string]llm.Provider
	registry  *llm.ToolRegistry
	ledger    *usage.Store
	maxTurns  int
}

// NewSession creates a session over the given conversation. providers maps
// vendor names to configured adapters; only models whose vendor has an entry
// can be selected.
func NewSession(conv *Conversation, providers map[string]llm.Provider, registry *llm.ToolRegistry) *Session {
	if registry == nil {
		registry = llm.NewToolRegistry()
	}
	return &Session{
		conv:      conv,
		providers: providers,
		registry:  registry,
	}
}

// SetUsageStore attaches an optional usage ledger. Ledger failures are logged
// and never fail a request.
func (s *Session) SetUsageStore(store *usage.Store) {
	s.ledger = store
}

// SetMaxTurns caps the number of provider round-trips per request. Zero means
// the engine default.
func (s *Session) SetMaxTurns(n int) {
	s.maxTurns = n
}

func (s *Session) Conversation() *Conversation {
	return s.conv
}

func (s *Session) Tools() *llm.ToolRegistry {
	return s.registry
}

// SetModel switches the conversation to a supported model whose vendor has a
// configured provider.
func (s *Session) SetModel(id string) error {
	spec, ok := llm.LookupModel(id)
	if !ok {
		return &llm.InvalidConfigError{Setting: "model", Value: id, Reason: "not in the supported model set"}
	}
	if _, ok := s.providers[spec.Vendor]; !ok {
		return &llm.InvalidConfigError{Setting: "model", Value: id, Reason: fmt.Sprintf("no %s credentials configured", spec.Vendor)}
	}
	return s.conv.SetModel(id)
}

// SetThinkingBudget adjusts the extended-thinking budget on the conversation.
func (s *Session) SetThinkingBudget(budget int64) error {
	return s.conv.SetThinkingBudget(budget)
}

// Send appends the user message, runs the agentic loop to completion, and
// invokes emit for every streamed event. It returns the request stats on
// success. If another request is already in flight it returns
// *SessionBusyError without touching the conversation.
//
// Completed turns are committed to the conversation as they finish, so a
// mid-stream failure keeps every fully completed turn and drops only the
// partial one.
func (s *Session) Send(ctx context.Context, message string, emit func(llm.Event)) (Stats, error) {
	if !s.mu.TryLock() {
		return Stats{}, &SessionBusyError{}
	}
	defer s.mu.Unlock()

	model, ok := llm.LookupModel(s.conv.Model())
	if !ok {
		return Stats{}, &llm.InvalidConfigError{Setting: "model", Value: s.conv.Model(), Reason: "not in the supported model set"}
	}
	provider, ok := s.providers[model.Vendor]
	if !ok {
		return Stats{}, &llm.InvalidConfigError{Setting: "model", Value: model.ID, Reason: fmt.Sprintf("no %s credentials configured", model.Vendor)}
	}

	s.conv.Append(llm.UserText(message))

	var stats Stats
	engine := llm.NewEngine(provider, s.registry)
	engine.SetTurnCompletedCallback(func(ctx context.Context, turnIndex int, messages []llm.Message, metrics llm.TurnMetrics) error {
		for _, msg := range messages {
			s.conv.Append(msg)
		}
		cost := usage.Cost(model.ID, metrics.InputTokens, metrics.OutputTokens)
		s.conv.UpdateUsage(llm.Usage{InputTokens: metrics.InputTokens, OutputTokens: metrics.OutputTokens}, cost)
		stats.Calls += metrics.ToolCalls
		stats.PromptTokens += metrics.InputTokens
		stats.CompletionTokens += metrics.OutputTokens
		stats.Cost += cost
		return nil
	})

	req := llm.Request{
		Model:          model.ID,
		Messages:       s.conv.Snapshot(),
		Tools:          s.registry.AllSpecs(),
		ThinkingBudget: s.conv.ThinkingBudget(),
		MaxTurns:       s.maxTurns,
	}

	stream, err := engine.Stream(ctx, req)
	if err != nil {
		return stats, err
	}
	defer stream.Close()

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			stats.SessionCost = s.conv.Cost()
			s.logUsage(model, stats)
			return stats, err
		}
		if emit != nil {
			emit(event)
		}
	}

	stats.SessionCost = s.conv.Cost()
	s.logUsage(model, stats)
	return stats, nil
}

func (s *Session) logUsage(model llm.ModelSpec, stats Stats) {
	if s.ledger == nil {
		return
	}
	err := s.ledger.Log(usage.Entry{
		Model:        model.ID,
		Vendor:       model.Vendor,
		InputTokens:  stats.PromptTokens,
		OutputTokens: stats.CompletionTokens,
		ToolCalls:    stats.Calls,
		Cost:         stats.Cost,
	})
	if err != nil {
		log.Printf("usage ledger: %v", err)
	}
}
