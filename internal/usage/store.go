package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one logged model request.
type Entry struct {
	Timestamp    time.Time
	Model        string
	Vendor       string
	InputTokens  int
	OutputTokens int
	ToolCalls    int
	Cost         float64
}

// Totals aggregates the ledger.
type Totals struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	ToolCalls    int     `json:"toolCalls"`
	Cost         float64 `json:"cost"`
}

// Store is a SQLite-backed usage ledger. It records per-request token and
// cost rows for operational accounting; it never stores conversation content.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS usage_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    model TEXT NOT NULL,
    vendor TEXT NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    tool_calls INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_usage_log_timestamp ON usage_log(timestamp DESC);
`

// OpenStore opens (or creates) the ledger database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Log appends one entry to the ledger.
func (s *Store) Log(e Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO usage_log (timestamp, model, vendor, input_tokens, output_tokens, tool_calls, cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC(), e.Model, e.Vendor, e.InputTokens, e.OutputTokens, e.ToolCalls, e.Cost,
	)
	if err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}

// TotalsAll returns aggregate usage across the whole ledger.
func (s *Store) TotalsAll() (Totals, error) {
	var t Totals
	row := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(tool_calls), 0),
		        COALESCE(SUM(cost), 0)
		 FROM usage_log`,
	)
	if err := row.Scan(&t.Requests, &t.InputTokens, &t.OutputTokens, &t.ToolCalls, &t.Cost); err != nil {
		return Totals{}, fmt.Errorf("query totals: %w", err)
	}
	return t, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
