package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koba/cqlsync/internal/database"
)

// Entry is one journaled statement.
type Entry struct {
	RunID      string
	Seq        int
	Table      string
	Statement  string
	Error      string
	ExecutedAt time.Time
}

// Journal is an Executor that records every statement it forwards.
type Journal struct {
	store *Store
	next  database.Executor
	runID string
	table string

	mu  sync.Mutex
	seq int
}

// NewJournal starts a journal run for table in front of next.
func (s *Store) NewJournal(next database.Executor, table string) *Journal {
	return &Journal{store: s, next: next, runID: uuid.NewString(), table: table}
}

// RunID identifies the journal run.
func (j *Journal) RunID() string {
	return j.runID
}

// Execute forwards stmt and records the outcome. A journal write failure is
// returned only when the statement itself succeeded.
func (j *Journal) Execute(ctx context.Context, stmt string, params []any, opts database.ExecOptions) (*database.ResultSet, error) {
	rs, execErr := j.next.Execute(ctx, stmt, params, opts)

	j.mu.Lock()
	j.seq++
	seq := j.seq
	j.mu.Unlock()

	errText := ""
	if execErr != nil {
		errText = execErr.Error()
	}
	_, err := j.store.db.ExecContext(ctx,
		j.store.rebind("INSERT INTO cqlsync_journal (run_id, seq, table_name, statement, error_text, executed_at) VALUES (?, ?, ?, ?, ?, ?)"),
		j.runID, seq, j.table, stmt, errText, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if execErr != nil {
		return nil, execErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to journal statement: %w", err)
	}
	return rs, nil
}

// Entries returns the statements of a run in order.
func (s *Store) Entries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT seq, table_name, statement, error_text, executed_at FROM cqlsync_journal WHERE run_id = ? ORDER BY seq"),
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{RunID: runID}
		var executed string
		if err := rows.Scan(&e.Seq, &e.Table, &e.Statement, &e.Error, &executed); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executed)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
