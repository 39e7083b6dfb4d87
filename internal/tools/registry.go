package tools

import (
	"fmt"

	"github.com/wskish/toolchat/internal/llm"
)

// Available lists the built-in tools by name.
var Available = []string{"exec", "psql", "pdf_to_text"}

// New constructs a built-in tool by name.
func New(name string) (llm.Tool, error) {
	switch name {
	case "exec":
		return NewExecTool(), nil
	case "psql":
		return NewPsqlTool(), nil
	case "pdf_to_text":
		return NewPDFToTextTool(), nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// BuildRegistry registers the named tools (all built-ins when names is empty)
// into a fresh registry.
func BuildRegistry(names []string) (*llm.ToolRegistry, error) {
	if len(names) == 0 {
		names = Available
	}
	registry := llm.NewToolRegistry()
	for _, name := range names {
		tool, err := New(name)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
