package llm

import "fmt"

// UpstreamError wraps a failed vendor API call (network, auth, rate limit).
// It is surfaced to the caller, never retried here: retry policy belongs to
// the vendor SDK.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// UnknownToolError reports a dispatch against a tool name that was never registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// DuplicateToolError reports an attempt to register a tool name twice.
// The first registration stays active.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// ToolExecutionError wraps a failure raised by a tool handler.
type ToolExecutionError struct {
	Name  string
	Cause error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Name, e.Cause)
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// InvalidConfigError reports a bad model or setting selection.
type InvalidConfigError struct {
	Setting string
	Value   string
	Reason  string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Setting, e.Value, e.Reason)
}
