package monitor

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// StatLog records statistics samples in a SQLite database so runs
// can be compared offline.
type StatLog struct {
	db     *sql.DB
	insert *sql.Stmt
}

const statLogSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id       INTEGER PRIMARY KEY,
	taken_at TEXT    NOT NULL,
	clock    INTEGER NOT NULL,
	count    INTEGER NOT NULL,
	sum      INTEGER NOT NULL,
	sumsq    INTEGER NOT NULL
);
`

// OpenStatLog opens a sample database at path, creating it if needed.
func OpenStatLog(path string) (*StatLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stat log: %w", err)
	}
	if _, err := db.Exec(statLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create samples table: %w", err)
	}
	insert, err := db.Prepare(
		"INSERT INTO samples (taken_at, clock, count, sum, sumsq) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	return &StatLog{db: db, insert: insert}, nil
}

// Record appends one sample.
func (l *StatLog) Record(s Sample) error {
	_, err := l.insert.Exec(s.When.Format(time.RFC3339Nano), s.Clock, s.Count, s.Sum, s.SumSq)
	return err
}

// Samples returns all recorded samples in insertion order.
func (l *StatLog) Samples() ([]Sample, error) {
	rows, err := l.db.Query("SELECT taken_at, clock, count, sum, sumsq FROM samples ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		var when string
		if err := rows.Scan(&when, &s.Clock, &s.Count, &s.Sum, &s.SumSq); err != nil {
			return nil, err
		}
		s.When, _ = time.Parse(time.RFC3339Nano, when)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the database.
func (l *StatLog) Close() error {
	l.insert.Close()
	return l.db.Close()
}
