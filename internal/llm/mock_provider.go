package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn describes one scripted model turn for MockProvider.
type MockTurn struct {
	Text      string
	Thinking  string
	ToolCalls []ToolCall
	Usage     *Usage
	Err       error // Emitted after any text, failing the stream
	Delay     time.Duration
}

// MockProvider is a scripted Provider for tests. Each Stream call consumes the
// next configured turn and records the request it was given.
type MockProvider struct {
	name string

	mu       sync.Mutex
	turns    []MockTurn
	turnIdx  int
	Requests []Request
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (p *MockProvider) Name() string {
	return p.name
}

// AddTextResponse queues a turn that streams the given text.
func (p *MockProvider) AddTextResponse(text string) {
	p.AddTurn(MockTurn{Text: text})
}

// AddToolCall queues a turn that requests a single tool call.
func (p *MockProvider) AddToolCall(id, name string, args any) {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	p.AddTurn(MockTurn{ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}}})
}

// AddError queues a turn that fails with the given error.
func (p *MockProvider) AddError(err error) {
	p.AddTurn(MockTurn{Err: err})
}

// AddTurn queues a fully specified turn.
func (p *MockProvider) AddTurn(turn MockTurn) {
	p.mu.Lock()
	p.turns = append(p.turns, turn)
	p.mu.Unlock()
}

// Reset clears recorded requests and rewinds to the first turn.
func (p *MockProvider) Reset() {
	p.mu.Lock()
	p.turnIdx = 0
	p.Requests = nil
	p.mu.Unlock()
}

// CurrentTurn returns the index of the next turn to be consumed.
func (p *MockProvider) CurrentTurn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turnIdx
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	if p.turnIdx >= len(p.turns) {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider: no more turns configured (got request %d)", len(p.Requests)+1)
	}
	turn := p.turns[p.turnIdx]
	p.turnIdx++
	p.Requests = append(p.Requests, req)
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-time.After(turn.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if turn.Thinking != "" {
			events <- Event{Type: EventThinkingDelta, Text: turn.Thinking}
		}
		for _, chunk := range chunkText(turn.Text, 10) {
			events <- Event{Type: EventTextDelta, Text: chunk}
		}
		if turn.Err != nil {
			return turn.Err
		}
		for i := range turn.ToolCalls {
			call := turn.ToolCalls[i]
			events <- Event{Type: EventToolCall, Tool: &call}
		}
		use := turn.Usage
		if use == nil {
			use = &Usage{InputTokens: 10, OutputTokens: 5}
		}
		events <- Event{Type: EventUsage, Use: use}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// chunkText splits text into fixed-size chunks to simulate streaming deltas.
func chunkText(text string, chunkSize int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > chunkSize {
		chunks = append(chunks, text[:chunkSize])
		text = text[chunkSize:]
	}
	chunks = append(chunks, text)
	return chunks
}
