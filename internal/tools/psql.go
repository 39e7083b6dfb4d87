package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/wskish/toolchat/internal/llm"
)

const psqlDescription = "This tool invokes the 'psql' command line with the specified args. " +
	"Use this tool whenever the user needs to access their PostgreSQL database. " +
	`For example, use {"psql_args": ["-c", "\\l"]} to list all available databases or ` +
	`{"psql_args": ["-d", dbname, "-c", "\\dt+"]} to describe the dbname tables. ` +
	"The PGHOST, PGUSER, and PGPASSWORD environment variables are already set, so just supply the command args to send to psql. " +
	"Ignore system databases such as template0, template1, and postgres unless the user asks about them specifically."

// PsqlTool runs the psql client against the database configured through the
// standard PG* environment variables.
type PsqlTool struct {
	timeout time.Duration
}

func NewPsqlTool() *PsqlTool {
	return &PsqlTool{timeout: defaultExecTimeout}
}

// PsqlArgs are the arguments for the psql tool.
type PsqlArgs struct {
	PsqlArgs []string `json:"psql_args"`
}

func (t *PsqlTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "psql",
		Description: psqlDescription,
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"psql_args": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "The command line args to psql.",
				},
			},
			"required":             []string{"psql_args"},
			"additionalProperties": false,
		},
	}
}

func (t *PsqlTool) Preview(args json.RawMessage) string {
	var a PsqlArgs
	if err := json.Unmarshal(args, &a); err != nil || len(a.PsqlArgs) == 0 {
		return ""
	}
	return truncateCommand("psql " + strings.Join(a.PsqlArgs, " "))
}

func (t *PsqlTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a PsqlArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if len(a.PsqlArgs) == 0 {
		return "", fmt.Errorf("psql_args is required")
	}

	// Models sometimes include the binary name as the first arg.
	cmdArgs := a.PsqlArgs
	if cmdArgs[0] == "psql" {
		cmdArgs = cmdArgs[1:]
	}

	execCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "psql", cmdArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if execCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("psql timed out after %s", t.timeout)
	}
	if err != nil {
		return "", fmt.Errorf("error executing psql command: %s\n%s", stdout.String(), stderr.String())
	}

	return truncateOutput(stdout.String()), nil
}
