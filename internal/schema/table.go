package schema

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/koba/cqlsync/internal/cql"
	errs "github.com/koba/cqlsync/internal/errors"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type validator struct {
	fn      func(any) bool
	message MessageFunc
}

type field struct {
	*FieldSchema
	validators []validator
}

// Table is a registered, immutable table schema with validator chains built
// once. It is safe for concurrent use.
type Table struct {
	schema *TableSchema
	fields map[string]*field
}

// Compile validates s and registers it. The input is copied, later changes to
// s do not affect the returned Table.
func Compile(s *TableSchema) (*Table, error) {
	if s == nil {
		return nil, errs.InvalidSchema("schema is nil")
	}
	if err := ValidateTableName(s.Name); err != nil {
		return nil, err
	}
	s = s.Clone()
	addOptionFields(s)
	if err := validateSchema(s); err != nil {
		return nil, err
	}

	t := &Table{schema: s, fields: make(map[string]*field, len(s.Fields))}
	for _, fs := range t.schema.Fields {
		f := &field{FieldSchema: fs}
		if !fs.IsVirtual() {
			info, _ := LookupType(fs.Type)
			f.validators = append(f.validators, validator{fn: info.Validator, message: defaultMessage})
		}
		for _, r := range fs.Rules {
			msg := r.MessageFunc
			if msg == nil {
				text := r.Message
				if text == "" {
					msg = defaultMessage
				} else {
					msg = func(any, string, string) string { return text }
				}
			}
			f.validators = append(f.validators, validator{fn: r.Validator, message: msg})
		}
		t.fields[fs.Name] = f
	}
	return t, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(s *TableSchema) *Table {
	t, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return t
}

// ValidateTableName checks that name is a usable unquoted table identifier.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return errs.Newf(errs.CategoryModel, errs.CodeInvalidTableName, "invalid table name %q", name)
	}
	return nil
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.schema.Name
}

// Schema returns a copy of the registered schema.
func (t *Table) Schema() *TableSchema {
	return t.schema.Clone()
}

// Key returns the primary key.
func (t *Table) Key() PrimaryKey {
	return clonePrimaryKey(t.schema.Key)
}

// Options returns the table options.
func (t *Table) Options() TableOptions {
	return t.schema.Options
}

// Fields returns the field schemas in declaration order.
func (t *Table) Fields() []*FieldSchema {
	return slices.Clone(t.schema.Fields)
}

// Field returns the named field.
func (t *Table) Field(name string) (*FieldSchema, bool) {
	f, ok := t.fields[name]
	if !ok {
		return nil, false
	}
	return f.FieldSchema, true
}

// FieldType resolves the catalog type of a field.
func (t *Table) FieldType(name string) (string, error) {
	f, ok := t.fields[name]
	if !ok {
		return "", errs.InvalidSchema("field %q is not defined in table %q", name, t.schema.Name)
	}
	info, ok := LookupType(f.Type)
	if !ok {
		return "", errs.InvalidSchema("field %q has unknown type %q", name, f.Type)
	}
	return info.Name, nil
}

// IsKey reports whether name is part of the primary key.
func (t *Table) IsKey(name string) bool {
	return t.schema.Key.Contains(name)
}

// Validate runs the validator chain of a field against value and returns an
// InvalidValue error on the first failure. nil, unset and database function
// values always pass.
func (t *Table) Validate(name string, value any) error {
	if msg, ok := t.ValidationMessage(name, value); !ok {
		return errs.New(errs.CategoryValidator, errs.CodeInvalidValue, msg)
	}
	return nil
}

// ValidationMessage is Validate without the error wrapping. It returns the
// failure message and false when the value is rejected.
func (t *Table) ValidationMessage(name string, value any) (string, bool) {
	if cql.IsNull(value) {
		return "", true
	}
	if _, ok := value.(cql.Func); ok {
		return "", true
	}
	f, ok := t.fields[name]
	if !ok {
		return fmt.Sprintf("field %q is not defined", name), false
	}
	for _, v := range f.validators {
		if !v.fn(value) {
			return v.message(value, name, f.Type), false
		}
	}
	return "", true
}

// DefaultValue resolves the default of a field. Providers are invoked on each
// call. The second result is false when the field has no default.
func (t *Table) DefaultValue(name string) (any, bool) {
	f, ok := t.fields[name]
	if !ok || f.Default == nil {
		return nil, false
	}
	if fn, ok := f.Default.(func() any); ok {
		return fn(), true
	}
	return f.Default, true
}

// addOptionFields declares the timestamp and version columns enabled by the
// table options unless the schema already declares them.
func addOptionFields(s *TableSchema) {
	if ts := s.Options.Timestamps; ts != nil {
		for _, name := range []string{ts.CreatedAt, ts.UpdatedAt} {
			if _, ok := s.Field(name); name != "" && !ok {
				s.Fields = append(s.Fields, &FieldSchema{Name: name, Type: "timestamp", Default: cql.Func("toTimestamp(now())")})
			}
		}
	}
	if v := s.Options.Versions; v != nil && v.Key != "" {
		if _, ok := s.Field(v.Key); !ok {
			s.Fields = append(s.Fields, &FieldSchema{Name: v.Key, Type: "timeuuid", Default: cql.Func("now()")})
		}
	}
}

func validateSchema(s *TableSchema) error {
	if len(s.Fields) == 0 {
		return errs.InvalidSchema("table %q has no fields", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f == nil || f.Name == "" {
			return errs.InvalidSchema("table %q has an unnamed field", s.Name)
		}
		if seen[f.Name] {
			return errs.InvalidSchema("field %q is declared twice", f.Name)
		}
		seen[f.Name] = true
		for _, r := range f.Rules {
			if r.Validator == nil {
				return errs.Newf(errs.CategoryValidator, errs.CodeInvalidValidatorRule,
					"rule on field %q has no validator function", f.Name)
			}
		}
		if f.IsVirtual() {
			continue
		}
		info, ok := LookupType(f.Type)
		if !ok {
			return errs.InvalidSchema("field %q has unknown type %q", f.Name, f.Type)
		}
		if info.Collection && strings.TrimSpace(f.TypeDef) == "" {
			return errs.InvalidSchema("field %q of type %s requires a typeDef", f.Name, info.Name)
		}
	}

	if len(s.Key.Partition) == 0 {
		return errs.InvalidSchema("table %q has no partition key", s.Name)
	}
	keySeen := map[string]bool{}
	for _, k := range s.Key.Columns() {
		f, ok := s.Field(k)
		if !ok {
			return errs.InvalidSchema("key field %q is not defined", k)
		}
		if f.IsVirtual() || f.Static {
			return errs.InvalidSchema("key field %q cannot be virtual or static", k)
		}
		if keySeen[k] {
			return errs.InvalidSchema("key field %q appears twice", k)
		}
		keySeen[k] = true
	}
	if err := validateClusteringOrder(s.ClusteringOrder, s.Key); err != nil {
		return err
	}

	for _, idx := range s.Indexes {
		col := IndexColumn(idx)
		if f, ok := s.Field(col); !ok || f.IsVirtual() {
			return errs.InvalidSchema("index %q refers to unknown field %q", idx, col)
		}
	}
	for _, ci := range s.CustomIndexes {
		if f, ok := s.Field(strings.Trim(ci.On, `" `)); !ok || f.IsVirtual() {
			return errs.InvalidSchema("custom index refers to unknown field %q", ci.On)
		}
		if ci.Using == "" {
			return errs.InvalidSchema("custom index on %q has no implementation class", ci.On)
		}
	}

	for name, v := range s.MaterializedViews {
		if err := ValidateTableName(name); err != nil {
			return err
		}
		if len(v.Select) == 0 {
			return errs.InvalidSchema("materialized view %q selects no columns", name)
		}
		for _, col := range v.Select {
			if col == "*" {
				continue
			}
			if f, ok := s.Field(col); !ok || f.IsVirtual() {
				return errs.InvalidSchema("materialized view %q selects unknown field %q", name, col)
			}
		}
		if len(v.Key.Partition) == 0 {
			return errs.InvalidSchema("materialized view %q has no partition key", name)
		}
		for _, k := range v.Key.Columns() {
			if _, ok := s.Field(k); !ok {
				return errs.InvalidSchema("materialized view %q key field %q is not defined", name, k)
			}
		}
		for _, k := range s.Key.Columns() {
			if !v.Key.Contains(k) {
				return errs.InvalidSchema("materialized view %q key must include base key field %q", name, k)
			}
		}
		if err := validateClusteringOrder(v.ClusteringOrder, v.Key); err != nil {
			return err
		}
	}
	return nil
}

func validateClusteringOrder(order map[string]string, key PrimaryKey) error {
	for col, dir := range order {
		if !slices.Contains(key.Clustering, col) {
			return errs.InvalidSchema("clustering order refers to non clustering field %q", col)
		}
		switch strings.ToLower(dir) {
		case "asc", "desc":
		default:
			return errs.InvalidSchema("clustering order for %q must be asc or desc, got %q", col, dir)
		}
	}
	return nil
}
