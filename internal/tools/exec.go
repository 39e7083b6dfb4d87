package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/wskish/toolchat/internal/llm"
)

// maxOutputBytes caps tool output returned to the model.
const maxOutputBytes = 512 << 10

const defaultExecTimeout = 60 * time.Second

// ExecTool runs a shell command on behalf of the user.
type ExecTool struct {
	timeout time.Duration
}

func NewExecTool() *ExecTool {
	return &ExecTool{timeout: defaultExecTimeout}
}

// ExecArgs are the arguments for the exec tool.
type ExecArgs struct {
	Command string `json:"command"`
}

func (t *ExecTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "exec",
		Description: "Run a command line tool on behalf of the user.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The command to execute.",
				},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
	}
}

func (t *ExecTool) Preview(args json.RawMessage) string {
	var a ExecArgs
	if err := json.Unmarshal(args, &a); err != nil || a.Command == "" {
		return ""
	}
	return fmt.Sprintf("Executing '%s'", truncateCommand(a.Command))
}

func (t *ExecTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a ExecArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Command == "" {
		return "", fmt.Errorf("command is required")
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, detectShell(), "-c", a.Command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", t.timeout)
	}
	if err != nil {
		return "", fmt.Errorf("error executing command: %s", firstNonEmpty(stderr.String(), err.Error()))
	}

	return truncateOutput(stdout.String()), nil
}

// detectShell returns the user's shell.
func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "bash"
}

// truncateCommand truncates a command for previews and error messages.
func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}

func truncateOutput(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes] + "\n\n[Output truncated due to size limit]"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
