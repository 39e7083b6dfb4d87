package usage

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStoreLogAndTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	entries := []Entry{
		{Model: "gpt-4o", Vendor: "openai", InputTokens: 100, OutputTokens: 50, ToolCalls: 1, Cost: 0.00075},
		{Model: "claude-3-7-sonnet-20250219", Vendor: "anthropic", InputTokens: 200, OutputTokens: 80, Cost: 0.0018, Timestamp: time.Now()},
	}
	for _, e := range entries {
		if err := store.Log(e); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}

	totals, err := store.TotalsAll()
	if err != nil {
		t.Fatalf("TotalsAll() error = %v", err)
	}
	if totals.Requests != 2 {
		t.Errorf("Requests = %d, want 2", totals.Requests)
	}
	if totals.InputTokens != 300 {
		t.Errorf("InputTokens = %d, want 300", totals.InputTokens)
	}
	if totals.OutputTokens != 130 {
		t.Errorf("OutputTokens = %d, want 130", totals.OutputTokens)
	}
	if totals.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", totals.ToolCalls)
	}
	if totals.Cost <= 0 {
		t.Errorf("Cost = %g, want > 0", totals.Cost)
	}
}

func TestStoreEmptyTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	totals, err := store.TotalsAll()
	if err != nil {
		t.Fatalf("TotalsAll() error = %v", err)
	}
	if totals.Requests != 0 || totals.Cost != 0 {
		t.Errorf("expected zero totals, got %+v", totals)
	}
}
