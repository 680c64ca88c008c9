package db

import (
	"database/sql"
	"fmt"
)

// Sequence ties a friendly-ID counter table to the table whose id column
// it numbers. The next ID is one past the counter's high-water mark.
type Sequence struct {
	Counter string
	Table   string
	Prefix  string
}

// Sequences lists the friendly-ID counters created by the migrations.
var Sequences = []Sequence{
	{Counter: "merge_seq", Table: "merge_sessions", Prefix: "M-"},
	{Counter: "comparison_seq", Table: "comparisons", Prefix: "CMP-"},
}

// Drift reports a counter that would hand out an ID already in use.
type Drift struct {
	Sequence
	Highest   int // largest numeric suffix present in Table
	HighWater int // largest value the counter has allocated
}

func (d Drift) String() string {
	return fmt.Sprintf("%s: counter at %d, %s holds %s%05d", d.Counter, d.HighWater, d.Table, d.Prefix, d.Highest)
}

type queryExecer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// CheckSequences returns every counter that has fallen behind its table,
// usually because rows were inserted with explicit IDs or restored from a
// copy of another database.
func CheckSequences(q queryExecer) ([]Drift, error) {
	var drifts []Drift
	for _, s := range Sequences {
		highest, err := highestID(q, s)
		if err != nil {
			return nil, fmt.Errorf("failed to read highest %s id: %w", s.Table, err)
		}
		mark, err := highWater(q, s)
		if err != nil {
			return nil, fmt.Errorf("failed to read counter %s: %w", s.Counter, err)
		}
		if mark < highest {
			drifts = append(drifts, Drift{Sequence: s, Highest: highest, HighWater: mark})
		}
	}
	return drifts, nil
}

// RepairSequences advances each drifted counter to its table's highest ID
// and returns what it changed.
func RepairSequences(q queryExecer) ([]Drift, error) {
	drifts, err := CheckSequences(q)
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		// Allocating n explicitly moves both MAX(n) and sqlite_sequence.
		if _, err := q.Exec(fmt.Sprintf("INSERT INTO %s (n) VALUES (?)", d.Counter), d.Highest); err != nil {
			return nil, fmt.Errorf("failed to advance %s: %w", d.Counter, err)
		}
	}
	return drifts, nil
}

func highestID(q queryExecer, s Sequence) (int, error) {
	query := fmt.Sprintf(
		"SELECT COALESCE(MAX(CAST(SUBSTR(id, ?) AS INTEGER)), 0) FROM %s WHERE id LIKE ?", s.Table)
	var n int
	err := q.QueryRow(query, len(s.Prefix)+1, s.Prefix+"%").Scan(&n)
	return n, err
}

func highWater(q queryExecer, s Sequence) (int, error) {
	query := fmt.Sprintf(`SELECT MAX(
		COALESCE((SELECT MAX(n) FROM %s), 0),
		COALESCE((SELECT seq FROM sqlite_sequence WHERE name = ?), 0))`, s.Counter)
	var n int
	err := q.QueryRow(query, s.Counter).Scan(&n)
	return n, err
}
