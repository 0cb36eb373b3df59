// Package model binds a compiled table to an executor. A Model reconciles
// its table on first use, then compiles and runs statements through the
// executor and rehydrates rows into records.
package model

import (
	"context"
	"log/slog"
	"sync"

	"github.com/koba/cqlsync/internal/cql"
	"github.com/koba/cqlsync/internal/database"
	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/generator"
	"github.com/koba/cqlsync/internal/migrate"
	"github.com/koba/cqlsync/internal/schema"
)

// Hooks run around statement execution. A non-nil error from a before hook
// aborts the statement; the statement is not executed.
type Hooks struct {
	BeforeSave   func(ctx context.Context, r *Record) error
	AfterSave    func(ctx context.Context, r *Record) error
	BeforeUpdate func(ctx context.Context, where, values cql.M) error
	AfterUpdate  func(ctx context.Context, where, values cql.M) error
	BeforeDelete func(ctx context.Context, where cql.M) error
	AfterDelete  func(ctx context.Context, where cql.M) error
}

// RecordFactory turns a raw row into a record.
type RecordFactory func(row map[string]any) *Record

// Options configure a Model.
type Options struct {
	Hooks   Hooks
	Factory RecordFactory
	Logger  *slog.Logger
}

// Model runs statements for one table.
type Model struct {
	table      *schema.Table
	gen        *generator.DMLGenerator
	exec       database.Executor
	reconciler *migrate.Reconciler
	hooks      Hooks
	factory    RecordFactory
	logger     *slog.Logger

	mu    sync.Mutex
	ready bool
}

// New creates a model. With a nil reconciler the table is assumed to be in
// sync already.
func New(t *schema.Table, exec database.Executor, reconciler *migrate.Reconciler, opts Options) *Model {
	m := &Model{
		table:      t,
		gen:        generator.NewDMLGenerator(t),
		exec:       exec,
		reconciler: reconciler,
		hooks:      opts.Hooks,
		factory:    opts.Factory,
		logger:     opts.Logger,
		ready:      reconciler == nil,
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.factory == nil {
		m.factory = m.Rehydrate
	}
	return m
}

// Table returns the compiled table.
func (m *Model) Table() *schema.Table {
	return m.table
}

// Ready reports whether the table has been reconciled.
func (m *Model) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Sync reconciles the table now. The ready flag is set on success and
// cleared on failure. Callers serialize Sync.
func (m *Model) Sync(ctx context.Context) (*migrate.Result, error) {
	if m.reconciler == nil {
		return &migrate.Result{Table: m.table.Name(), State: migrate.StateUnchanged}, nil
	}
	res, err := m.reconciler.Sync(ctx, m.table)

	m.mu.Lock()
	m.ready = err == nil
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("sync failed", "table", m.table.Name(), "error", err)
		return res, err
	}
	return res, nil
}

func (m *Model) ensureReady(ctx context.Context) error {
	if m.Ready() {
		return nil
	}
	_, err := m.Sync(ctx)
	return err
}

// run executes a compiled statement with its hooks.
func (m *Model) run(ctx context.Context, cs *CompiledStatement, opts database.ExecOptions) (*database.ResultSet, error) {
	if err := m.ensureReady(ctx); err != nil {
		return nil, err
	}
	if cs.BeforeHook != nil {
		if err := cs.BeforeHook(ctx); err != nil {
			return nil, err
		}
	}
	rs, err := m.execute(ctx, cs.Statement, opts)
	if err != nil {
		return nil, err
	}
	if cs.AfterHook != nil {
		if err := cs.AfterHook(ctx); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// execute runs st. A server side schema mismatch is retried exactly once as
// a definition query.
func (m *Model) execute(ctx context.Context, st generator.Statement, opts database.ExecOptions) (*database.ResultSet, error) {
	rs, err := m.exec.Execute(ctx, st.Query, st.Params, opts)
	if err != nil && database.IsSchemaMismatch(err) {
		m.logger.Warn("schema mismatch, retrying as definition query", "table", m.table.Name(), "stmt", st.Query)
		rs, err = m.exec.Execute(ctx, st.Query, st.Params, database.DefinitionQuery)
	}
	if err != nil {
		if errs.GetCategory(err) == "" {
			err = errs.DBError("failed to execute statement", err)
		}
		return nil, err
	}
	return rs, nil
}
