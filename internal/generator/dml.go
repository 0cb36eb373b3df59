package generator

import (
	"fmt"
	"strings"

	"github.com/koba/cqlsync/internal/cql"
	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/schema"
)

// DMLGenerator compiles data statements for one table.
type DMLGenerator struct {
	table *schema.Table
}

// NewDMLGenerator creates a new DML generator
func NewDMLGenerator(t *schema.Table) *DMLGenerator {
	return &DMLGenerator{table: t}
}

// UpdateOptions control UPDATE generation.
type UpdateOptions struct {
	TTL        int
	Conditions cql.M
	IfExists   bool
}

// InsertOptions control INSERT generation.
type InsertOptions struct {
	TTL         int
	IfNotExists bool
}

// Update compiles an update document against the rows matched by where.
//
// Collection fields accept one mutation directive:
//
//	{"$add": v} / {"$append": v}  "f"="f" + ?
//	{"$prepend": v}               "f"=? + "f"   (lists only)
//	{"$remove": v}                "f"="f" - ?   (maps bind their keys)
//	{"$replace": {k: v}}          "f"[?]=?      (maps, one entry)
//	{"$replace": [i, v]}          "f"[?]=?      (lists)
func (g *DMLGenerator) Update(where, values cql.M, opts UpdateOptions) (Statement, error) {
	values = g.withAutoUpdateFields(values)

	var sets []string
	var params []any
	for _, e := range values {
		f, ok := g.table.Field(e.Key)
		if !ok || f.IsVirtual() {
			continue
		}
		value, include, err := g.resolve(f, e.Value, true)
		if err != nil {
			return Statement{}, err
		}
		if !include {
			continue
		}
		set, p, err := g.setClause(f, value)
		if err != nil {
			return Statement{}, err
		}
		sets = append(sets, set)
		params = append(params, p...)
	}

	w, err := CompilePredicate(g.table, where)
	if err != nil {
		return Statement{}, err
	}

	query := fmt.Sprintf("UPDATE %s", cql.Quote(g.table.Name()))
	if opts.TTL > 0 {
		query += fmt.Sprintf(" USING TTL %d", opts.TTL)
	}
	query += " SET " + strings.Join(sets, ", ")
	if s := w.Where(); s != "" {
		query += " " + s
	}
	params = append(params, w.Params...)

	if len(opts.Conditions) > 0 {
		cond, err := CompilePredicate(g.table, opts.Conditions)
		if err != nil {
			return Statement{}, err
		}
		query += " " + cond.If()
		params = append(params, cond.Params...)
	} else if opts.IfExists {
		query += " IF EXISTS"
	}

	return Statement{Query: query + ";", Params: params}, nil
}

// withAutoUpdateFields stamps the update time and version columns enabled by
// the table options unless the caller supplied them.
func (g *DMLGenerator) withAutoUpdateFields(values cql.M) cql.M {
	opts := g.table.Options()
	out := append(cql.M(nil), values...)
	if ts := opts.Timestamps; ts != nil && ts.UpdatedAt != "" && !out.Has(ts.UpdatedAt) {
		out = append(out, cql.E{Key: ts.UpdatedAt, Value: cql.Func("toTimestamp(now())")})
	}
	if v := opts.Versions; v != nil && v.Key != "" && !out.Has(v.Key) {
		out = append(out, cql.E{Key: v.Key, Value: cql.Func("now()")})
	}
	return out
}

func (g *DMLGenerator) setClause(f *schema.FieldSchema, value any) (string, []any, error) {
	name := cql.Quote(f.Name)
	typ, err := g.table.FieldType(f.Name)
	if err != nil {
		return "", nil, err
	}

	if doc, ok := cql.AsDoc(value); ok && len(doc) == 1 && (typ == "map" || typ == "list" || typ == "set") {
		op, operand := doc[0].Key, doc[0].Value
		switch op {
		case "$add", "$append":
			e, err := CompileValue(g.table, f.Name, operand)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s=%s + %s", name, name, e.Fragment), boundParams(e), nil
		case "$prepend":
			if typ != "list" {
				return "", nil, errs.InvalidUpdate(errs.CodeInvalidPrepend, "$prepend requires a list field, %q is %s", f.Name, typ)
			}
			e, err := CompileValue(g.table, f.Name, operand)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s=%s + %s", name, e.Fragment, name), boundParams(e), nil
		case "$remove":
			if typ == "map" {
				keys, ok := cql.AsDoc(operand)
				if !ok {
					return "", nil, errs.Newf(errs.CategoryValidator, errs.CodeInvalidValue,
						"$remove on map field %q requires a document", f.Name)
				}
				return fmt.Sprintf("%s=%s - ?", name, name), []any{keys.Keys()}, nil
			}
			e, err := CompileValue(g.table, f.Name, operand)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s=%s - %s", name, name, e.Fragment), boundParams(e), nil
		case "$replace":
			return replaceClause(name, f.Name, typ, operand)
		}
	}

	e, err := CompileValue(g.table, f.Name, value)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s=%s", name, e.Fragment), boundParams(e), nil
}

func replaceClause(quoted, field, typ string, operand any) (string, []any, error) {
	switch typ {
	case "map":
		entry, ok := cql.AsDoc(operand)
		if !ok || len(entry) != 1 {
			return "", nil, errs.InvalidUpdate(errs.CodeInvalidReplace,
				"$replace on map field %q requires exactly one entry", field)
		}
		return quoted + "[?]=?", []any{entry[0].Key, entry[0].Value}, nil
	case "list":
		items, ok := asSlice(operand)
		if !ok || len(items) != 2 {
			return "", nil, errs.InvalidUpdate(errs.CodeInvalidReplace,
				"$replace on list field %q requires an index and a value", field)
		}
		return quoted + "[?]=?", items, nil
	}
	return "", nil, errs.InvalidUpdate(errs.CodeInvalidReplace, "$replace requires a map or list field, %q is %s", field, typ)
}

// Insert compiles a full row insert. Every persisted field is resolved:
// supplied values win, then defaults; missing key or required fields fail.
func (g *DMLGenerator) Insert(values cql.M, opts InsertOptions) (Statement, error) {
	var cols, frags []string
	var params []any
	for _, f := range g.table.Fields() {
		if f.IsVirtual() {
			continue
		}
		supplied, ok := values.Get(f.Name)
		value, include, err := g.resolve(f, supplied, ok)
		if err != nil {
			return Statement{}, err
		}
		if !include {
			continue
		}
		e, err := CompileValue(g.table, f.Name, value)
		if err != nil {
			return Statement{}, err
		}
		cols = append(cols, cql.Quote(f.Name))
		frags = append(frags, e.Fragment)
		params = append(params, boundParams(e)...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		cql.Quote(g.table.Name()),
		strings.Join(cols, ", "),
		strings.Join(frags, ", "),
	)
	if opts.IfNotExists {
		query += " IF NOT EXISTS"
	}
	if opts.TTL > 0 {
		query += fmt.Sprintf(" USING TTL %d", opts.TTL)
	}
	return Statement{Query: query + ";", Params: params}, nil
}

// Delete compiles a DELETE of the rows matched by where.
func (g *DMLGenerator) Delete(where cql.M) (Statement, error) {
	w, err := CompilePredicate(g.table, where)
	if err != nil {
		return Statement{}, err
	}
	query := fmt.Sprintf("DELETE FROM %s", cql.Quote(g.table.Name()))
	if s := w.Where(); s != "" {
		query += " " + s
	}
	return Statement{Query: query + ";", Params: w.Params}, nil
}

// Truncate compiles a TRUNCATE of the table.
func (g *DMLGenerator) Truncate() Statement {
	return Statement{Query: fmt.Sprintf("TRUNCATE TABLE %s;", cql.Quote(g.table.Name()))}
}

// resolve picks the effective value of a field. The second result is false
// when the field is optional, unset and has no default.
func (g *DMLGenerator) resolve(f *schema.FieldSchema, value any, supplied bool) (any, bool, error) {
	if !supplied {
		def, ok := g.table.DefaultValue(f.Name)
		if !ok {
			if err := g.missing(f); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
		if !f.IgnoreDefault {
			if msg, ok := g.table.ValidationMessage(f.Name, def); !ok {
				return nil, false, errs.InvalidUpdate(errs.CodeInvalidDefaultValue,
					"invalid default value for field %q: %s", f.Name, msg)
			}
		}
		value = def
	}
	if cql.IsNull(value) {
		if err := g.missing(f); err != nil {
			return nil, false, err
		}
	}
	return value, true, nil
}

func (g *DMLGenerator) missing(f *schema.FieldSchema) error {
	if g.table.IsKey(f.Name) {
		return errs.InvalidUpdate(errs.CodeUnsetKey, "primary key field %q must be set", f.Name)
	}
	if f.Required {
		return errs.InvalidUpdate(errs.CodeUnsetRequired, "required field %q must be set", f.Name)
	}
	return nil
}

func boundParams(e Expr) []any {
	if e.Bound {
		return []any{e.Param}
	}
	return nil
}
