package prompts

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger persists per-template usage counters in sqlite.
type Ledger struct {
	db *sql.DB
}

// NewLedger opens (or creates) the ledger database at path. Use ":memory:"
// for an ephemeral ledger.
func NewLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage ledger: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS template_usage (
		name TEXT PRIMARY KEY,
		uses INTEGER NOT NULL DEFAULT 0,
		tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		last_used DATETIME
	);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init usage ledger: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Record adds one use of the named template to its counters.
func (l *Ledger) Record(name string, tokens int, costUSD float64) error {
	_, err := l.db.Exec(`INSERT INTO template_usage (name, uses, tokens, cost_usd, last_used)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			uses = uses + 1,
			tokens = tokens + excluded.tokens,
			cost_usd = cost_usd + excluded.cost_usd,
			last_used = excluded.last_used`,
		name, tokens, costUSD, time.Now().UTC())
	return err
}

// Usage is the accumulated counters for one template.
type Usage struct {
	Name     string
	Uses     int
	Tokens   int
	CostUSD  float64
	LastUsed time.Time
}

// UsageFor returns the counters for one template. A template that was never
// recorded returns zero counters, not an error.
func (l *Ledger) UsageFor(name string) (Usage, error) {
	row := l.db.QueryRow(
		`SELECT name, uses, tokens, cost_usd, last_used FROM template_usage WHERE name = ?`, name)

	var u Usage
	err := row.Scan(&u.Name, &u.Uses, &u.Tokens, &u.CostUSD, &u.LastUsed)
	if err == sql.ErrNoRows {
		return Usage{Name: name}, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read usage for %q: %w", name, err)
	}
	return u, nil
}

// TopUsage returns the most used templates, highest first.
func (l *Ledger) TopUsage(limit int) ([]Usage, error) {
	rows, err := l.db.Query(
		`SELECT name, uses, tokens, cost_usd, last_used FROM template_usage
		 ORDER BY uses DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var list []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.Name, &u.Uses, &u.Tokens, &u.CostUSD, &u.LastUsed); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
