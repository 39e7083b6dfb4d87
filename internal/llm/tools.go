package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// Tool describes a callable external tool.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (string, error)
	// Preview returns a human-readable description of what the tool will do,
	// shown to the consumer before execution starts (e.g., "psql -c \l").
	// Returns empty string if no preview is available.
	Preview(args json.RawMessage) string
}

// ToolRegistry stores tools by name for execution. Registration happens once
// at startup; names are unique and the first registration wins.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, failing with *DuplicateToolError if the name is taken.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Spec().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Dispatch executes the named tool. Absent names fail with *UnknownToolError;
// handler failures come back as *ToolExecutionError. Dispatch blocks until the
// handler finishes, even when the handler performs I/O.
func (r *ToolRegistry) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", &UnknownToolError{Name: name}
	}
	output, err := tool.Execute(ctx, args)
	if err != nil {
		return "", &ToolExecutionError{Name: name, Cause: err}
	}
	return output, nil
}

// AllSpecs returns the specs for all registered tools in registration order.
func (r *ToolRegistry) AllSpecs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}
