package model

import (
	"context"
	"slices"

	"github.com/koba/cqlsync/internal/cql"
	"github.com/koba/cqlsync/internal/database"
	"github.com/koba/cqlsync/internal/generator"
)

// CompiledStatement is a statement ready to run together with the hooks
// that surround it.
type CompiledStatement struct {
	generator.Statement
	BeforeHook func(ctx context.Context) error
	AfterHook  func(ctx context.Context) error
}

// FindResult holds the rows of a find. Records is nil for raw finds.
// PageState is empty on the last page; pass it back in FindOptions to read
// the next one.
type FindResult struct {
	Rows      []map[string]any
	Records   []*Record
	PageState []byte
}

var dmlOptions = database.ExecOptions{Prepare: true}

// CompileFind compiles a find without running it.
func (m *Model) CompileFind(q cql.M, opts generator.FindOptions) (*CompiledStatement, error) {
	st, err := m.gen.Find(q, opts)
	if err != nil {
		return nil, err
	}
	return &CompiledStatement{Statement: st}, nil
}

// Find runs a query and rehydrates the rows unless opts.Raw is set.
func (m *Model) Find(ctx context.Context, q cql.M, opts generator.FindOptions) (*FindResult, error) {
	cs, err := m.CompileFind(q, opts)
	if err != nil {
		return nil, err
	}
	execOpts := dmlOptions
	execOpts.FetchSize = opts.FetchSize
	execOpts.PageState = opts.PageState

	rs, err := m.run(ctx, cs, execOpts)
	if err != nil {
		return nil, err
	}

	res := &FindResult{Rows: rs.Rows, PageState: rs.PageState}
	if !opts.Raw {
		res.Records = make([]*Record, 0, len(rs.Rows))
		for _, row := range rs.Rows {
			res.Records = append(res.Records, m.factory(row))
		}
	}
	return res, nil
}

// FindOne returns the first matching record, or nil.
func (m *Model) FindOne(ctx context.Context, q cql.M, opts generator.FindOptions) (*Record, error) {
	opts.Raw = false
	res, err := m.Find(ctx, slices.Clone(q).Set("$limit", 1), opts)
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, nil
	}
	return res.Records[0], nil
}

// CompileUpdate compiles an update with its hooks.
func (m *Model) CompileUpdate(where, values cql.M, opts generator.UpdateOptions) (*CompiledStatement, error) {
	st, err := m.gen.Update(where, values, opts)
	if err != nil {
		return nil, err
	}
	cs := &CompiledStatement{Statement: st}
	if h := m.hooks.BeforeUpdate; h != nil {
		cs.BeforeHook = func(ctx context.Context) error { return h(ctx, where, values) }
	}
	if h := m.hooks.AfterUpdate; h != nil {
		cs.AfterHook = func(ctx context.Context) error { return h(ctx, where, values) }
	}
	return cs, nil
}

// Update runs an update.
func (m *Model) Update(ctx context.Context, where, values cql.M, opts generator.UpdateOptions) error {
	cs, err := m.CompileUpdate(where, values, opts)
	if err != nil {
		return err
	}
	_, err = m.run(ctx, cs, dmlOptions)
	return err
}

// CompileDelete compiles a delete with its hooks.
func (m *Model) CompileDelete(where cql.M) (*CompiledStatement, error) {
	st, err := m.gen.Delete(where)
	if err != nil {
		return nil, err
	}
	cs := &CompiledStatement{Statement: st}
	if h := m.hooks.BeforeDelete; h != nil {
		cs.BeforeHook = func(ctx context.Context) error { return h(ctx, where) }
	}
	if h := m.hooks.AfterDelete; h != nil {
		cs.AfterHook = func(ctx context.Context) error { return h(ctx, where) }
	}
	return cs, nil
}

// Delete removes the matching rows.
func (m *Model) Delete(ctx context.Context, where cql.M) error {
	cs, err := m.CompileDelete(where)
	if err != nil {
		return err
	}
	_, err = m.run(ctx, cs, dmlOptions)
	return err
}

// CompileInsert compiles a full row insert. Save hooks apply when r is not
// nil.
func (m *Model) CompileInsert(values cql.M, opts generator.InsertOptions, r *Record) (*CompiledStatement, error) {
	st, err := m.gen.Insert(values, opts)
	if err != nil {
		return nil, err
	}
	cs := &CompiledStatement{Statement: st}
	if r != nil {
		m.saveHooks(cs, r)
	}
	return cs, nil
}

// Insert writes a full row.
func (m *Model) Insert(ctx context.Context, values cql.M, opts generator.InsertOptions) error {
	cs, err := m.CompileInsert(values, opts, nil)
	if err != nil {
		return err
	}
	_, err = m.run(ctx, cs, dmlOptions)
	return err
}

// Truncate removes every row of the table.
func (m *Model) Truncate(ctx context.Context) error {
	_, err := m.run(ctx, &CompiledStatement{Statement: m.gen.Truncate()}, database.DefinitionQuery)
	return err
}

func (m *Model) saveHooks(cs *CompiledStatement, r *Record) {
	if h := m.hooks.BeforeSave; h != nil {
		cs.BeforeHook = func(ctx context.Context) error { return h(ctx, r) }
	}
	if h := m.hooks.AfterSave; h != nil {
		cs.AfterHook = func(ctx context.Context) error { return h(ctx, r) }
	}
}
