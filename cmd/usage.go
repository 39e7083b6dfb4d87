package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wskish/toolchat/internal/config"
	"github.com/wskish/toolchat/internal/usage"
)

func init() {
	rootCmd.AddCommand(usageCmd)
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage ledger totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := usage.OpenStore(cfg.Usage.DBPath)
		if err != nil {
			return fmt.Errorf("open usage ledger: %w", err)
		}
		defer store.Close()

		totals, err := store.TotalsAll()
		if err != nil {
			return err
		}

		fmt.Printf("requests:          %d\n", totals.Requests)
		fmt.Printf("input tokens:      %d\n", totals.InputTokens)
		fmt.Printf("output tokens:     %d\n", totals.OutputTokens)
		fmt.Printf("tool calls:        %d\n", totals.ToolCalls)
		fmt.Printf("total cost:        $%.4f\n", totals.Cost)
		return nil
	},
}
