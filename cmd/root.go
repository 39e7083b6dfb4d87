package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "toolchat",
	Short: "Single-page web chat with LLM tool calling",
	Long: `toolchat serves a single-page chat UI backed by OpenAI and Anthropic
models. The assistant can run shell commands, query PostgreSQL via psql,
and extract text from PDFs on the user's behalf.

Examples:
  toolchat serve                       # start on 127.0.0.1:8000
  toolchat serve --port 9000
  toolchat usage                       # show the usage ledger totals`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
