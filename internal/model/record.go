package model

import (
	"context"
	"maps"

	"github.com/koba/cqlsync/internal/cql"
	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/generator"
)

// Record is one row of a model with dirty tracking.
type Record struct {
	model     *Model
	values    map[string]any
	modified  map[string]bool
	persisted bool
}

// NewRecord creates an unsaved record. Every value goes through Set.
func (m *Model) NewRecord(values map[string]any) (*Record, error) {
	r := &Record{model: m, values: map[string]any{}, modified: map[string]bool{}}
	doc, _ := cql.AsDoc(values)
	for _, e := range doc {
		if err := r.Set(e.Key, e.Value); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Rehydrate is the default RecordFactory. The record starts persisted and
// unmodified.
func (m *Model) Rehydrate(row map[string]any) *Record {
	return &Record{model: m, values: maps.Clone(row), modified: map[string]bool{}, persisted: true}
}

// Get returns a field value. Virtual fields are computed.
func (r *Record) Get(name string) any {
	if f, ok := r.model.table.Field(name); ok && f.IsVirtual() {
		if f.Virtual.Get == nil {
			return nil
		}
		return f.Virtual.Get(r.values)
	}
	return r.values[name]
}

// Set validates and stores a field value and marks it modified.
func (r *Record) Set(name string, value any) error {
	f, ok := r.model.table.Field(name)
	if !ok {
		return errs.InvalidSchema("field %q is not defined on table %q", name, r.model.table.Name())
	}
	if f.IsVirtual() {
		if f.Virtual.Set == nil {
			return errs.InvalidSchema("virtual field %q is read only", name)
		}
		f.Virtual.Set(r.values, value)
		return nil
	}
	if err := r.model.table.Validate(name, value); err != nil {
		return err
	}
	r.values[name] = value
	r.modified[name] = true
	return nil
}

// Modified reports whether any of names, or any field when names is empty,
// changed since the record was loaded or saved.
func (r *Record) Modified(names ...string) bool {
	if len(names) == 0 {
		return len(r.modified) > 0
	}
	for _, n := range names {
		if r.modified[n] {
			return true
		}
	}
	return false
}

// Persisted reports whether the record was loaded or saved.
func (r *Record) Persisted() bool {
	return r.persisted
}

// Values returns a copy of the stored values.
func (r *Record) Values() map[string]any {
	return maps.Clone(r.values)
}

// Validate runs every field validator against the stored values.
func (r *Record) Validate() error {
	for _, f := range r.model.table.Fields() {
		if f.IsVirtual() {
			continue
		}
		if err := r.model.table.Validate(f.Name, r.values[f.Name]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) doc() cql.M {
	doc, _ := cql.AsDoc(r.values)
	return doc
}

// CompileSave compiles the full row insert Save would run.
func (r *Record) CompileSave(opts generator.InsertOptions) (*CompiledStatement, error) {
	return r.model.CompileInsert(r.doc(), opts, r)
}

// Save writes the full row. Writes are upserts so new and loaded records
// take the same path.
func (r *Record) Save(ctx context.Context, opts generator.InsertOptions) error {
	cs, err := r.CompileSave(opts)
	if err != nil {
		return err
	}
	if _, err := r.model.run(ctx, cs, dmlOptions); err != nil {
		return err
	}
	r.persisted = true
	clear(r.modified)
	return nil
}

// Delete removes the row identified by the record's key.
func (r *Record) Delete(ctx context.Context) error {
	var where cql.M
	for _, k := range r.model.table.Key().Columns() {
		v, ok := r.values[k]
		if !ok || cql.IsNull(v) {
			return errs.InvalidUpdate(errs.CodeUnsetKey, "primary key field %q must be set", k)
		}
		where = append(where, cql.E{Key: k, Value: v})
	}
	return r.model.Delete(ctx, where)
}
