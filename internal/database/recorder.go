package database

import (
	"context"
	"sync"
)

// Recorded is a statement captured by a Recorder.
type Recorded struct {
	Stmt    string
	Params  []any
	Options ExecOptions
}

// Recorder is an Executor that records statements instead of running them.
// It backs dry runs and tests.
type Recorder struct {
	// Handler, when set, answers statements that have no registered failure.
	// It runs after the statement is recorded and may inspect Statements.
	Handler func(stmt string, params []any) (*ResultSet, error)

	mu         sync.Mutex
	statements []Recorded
	errs       map[string]error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{errs: map[string]error{}}
}

// Fail makes the recorder answer stmt with err.
func (r *Recorder) Fail(stmt string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[stmt] = err
}

// Execute records the statement.
func (r *Recorder) Execute(_ context.Context, stmt string, params []any, opts ExecOptions) (*ResultSet, error) {
	r.mu.Lock()
	r.statements = append(r.statements, Recorded{Stmt: stmt, Params: params, Options: opts})
	err, failed := r.errs[stmt]
	r.mu.Unlock()

	if failed {
		return nil, err
	}
	if r.Handler != nil {
		return r.Handler(stmt, params)
	}
	return &ResultSet{}, nil
}

// Statements returns the recorded statements in execution order.
func (r *Recorder) Statements() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.statements...)
}

// Queries returns the recorded statement texts.
func (r *Recorder) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.statements))
	for i, s := range r.statements {
		out[i] = s.Stmt
	}
	return out
}

// Reset forgets recorded statements.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = nil
}
