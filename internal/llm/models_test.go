package llm

import "testing"

func TestLookupModel(t *testing.T) {
	m, ok := LookupModel("gpt-4o")
	if !ok {
		t.Fatal("expected gpt-4o to be supported")
	}
	if m.Vendor != VendorOpenAI {
		t.Errorf("vendor = %q, want %q", m.Vendor, VendorOpenAI)
	}

	if _, ok := LookupModel("gpt-2"); ok {
		t.Error("expected gpt-2 to be unsupported")
	}
}

func TestClampThinkingBudget(t *testing.T) {
	tests := []struct {
		in   int64
		want int64
	}{
		{0, 0},
		{1, MinThinkingBudget},
		{1023, MinThinkingBudget},
		{1024, 1024},
		{16000, 16000},
	}
	for _, tt := range tests {
		if got := ClampThinkingBudget(tt.in); got != tt.want {
			t.Errorf("ClampThinkingBudget(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
