package schema

import (
	"maps"
	"slices"
)

// MessageFunc produces a validation failure message.
type MessageFunc func(value any, field, typ string) string

// Rule is a user supplied validation rule.
type Rule struct {
	Validator func(value any) bool
	// Message is used when MessageFunc is nil.
	Message     string
	MessageFunc MessageFunc
}

// VirtualField is a computed field that is never persisted.
type VirtualField struct {
	Get func(values map[string]any) any
	Set func(values map[string]any, value any)
}

// FieldSchema describes a single column.
type FieldSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// TypeDef holds collection type parameters, e.g. "<text, int>".
	TypeDef string `json:"type_def,omitempty"`
	// Default is a value, a func() any provider or a cql.Func marker.
	Default       any           `json:"-"`
	Rules         []Rule        `json:"-"`
	Required      bool          `json:"required,omitempty"`
	IgnoreDefault bool          `json:"ignore_default,omitempty"`
	Virtual       *VirtualField `json:"-"`
	Static        bool          `json:"static,omitempty"`
}

// IsVirtual reports whether the field is computed.
func (f *FieldSchema) IsVirtual() bool {
	return f.Virtual != nil
}

// FullType returns the type with its parameters, e.g. "map<text, int>".
func (f *FieldSchema) FullType() string {
	return f.Type + f.TypeDef
}

// PrimaryKey is the partition key plus the ordered clustering key.
type PrimaryKey struct {
	Partition  []string `json:"partition"`
	Clustering []string `json:"clustering,omitempty"`
}

// Columns returns every key column, partition first.
func (k PrimaryKey) Columns() []string {
	return append(slices.Clone(k.Partition), k.Clustering...)
}

// Contains reports whether name is part of the key.
func (k PrimaryKey) Contains(name string) bool {
	return slices.Contains(k.Partition, name) || slices.Contains(k.Clustering, name)
}

// Equal reports structural equality.
func (k PrimaryKey) Equal(o PrimaryKey) bool {
	return slices.Equal(k.Partition, o.Partition) && slices.Equal(k.Clustering, o.Clustering)
}

// CustomIndex is an index backed by a pluggable implementation.
type CustomIndex struct {
	On      string            `json:"on"`
	Using   string            `json:"using"`
	Options map[string]string `json:"options"`
}

// MaterializedView describes a server maintained view of the table.
type MaterializedView struct {
	Select          []string          `json:"select"`
	Key             PrimaryKey        `json:"key"`
	ClusteringOrder map[string]string `json:"clustering_order,omitempty"`
}

// Timestamps enables automatic creation/update timestamp columns.
type Timestamps struct {
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Versions enables an automatic timeuuid version column.
type Versions struct {
	Key string `json:"key"`
}

// TableOptions holds optional table behaviors.
type TableOptions struct {
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Versions   *Versions   `json:"versions,omitempty"`
}

// TableSchema is a declared table.
type TableSchema struct {
	Name              string                      `json:"name"`
	Fields            []*FieldSchema              `json:"fields"`
	Key               PrimaryKey                  `json:"key"`
	ClusteringOrder   map[string]string           `json:"clustering_order,omitempty"`
	Indexes           []string                    `json:"indexes,omitempty"`
	CustomIndexes     []CustomIndex               `json:"custom_indexes,omitempty"`
	MaterializedViews map[string]MaterializedView `json:"materialized_views,omitempty"`
	Options           TableOptions                `json:"options"`
}

// Field returns the named field.
func (s *TableSchema) Field(name string) (*FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FieldNames returns the names of all non-virtual fields in declaration order.
func (s *TableSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.IsVirtual() {
			names = append(names, f.Name)
		}
	}
	return names
}

// Clone returns a deep copy. Function valued members are shared.
func (s *TableSchema) Clone() *TableSchema {
	if s == nil {
		return nil
	}
	out := &TableSchema{
		Name:            s.Name,
		Fields:          make([]*FieldSchema, len(s.Fields)),
		Key:             clonePrimaryKey(s.Key),
		ClusteringOrder: maps.Clone(s.ClusteringOrder),
		Indexes:         slices.Clone(s.Indexes),
		Options:         s.Options,
	}
	for i, f := range s.Fields {
		cp := *f
		cp.Rules = slices.Clone(f.Rules)
		out.Fields[i] = &cp
	}
	for _, ci := range s.CustomIndexes {
		out.CustomIndexes = append(out.CustomIndexes, CustomIndex{On: ci.On, Using: ci.Using, Options: maps.Clone(ci.Options)})
	}
	if s.MaterializedViews != nil {
		out.MaterializedViews = make(map[string]MaterializedView, len(s.MaterializedViews))
		for name, v := range s.MaterializedViews {
			out.MaterializedViews[name] = MaterializedView{
				Select:          slices.Clone(v.Select),
				Key:             clonePrimaryKey(v.Key),
				ClusteringOrder: maps.Clone(v.ClusteringOrder),
			}
		}
	}
	return out
}

func clonePrimaryKey(k PrimaryKey) PrimaryKey {
	return PrimaryKey{Partition: slices.Clone(k.Partition), Clustering: slices.Clone(k.Clustering)}
}

// LiveSchema is a table as introspected from the store. IndexNames maps a
// canonical index target to its index name and CustomIndexNames maps a custom
// index content hash to its index name; both are needed to drop by name.
type LiveSchema struct {
	TableSchema
	IndexNames       map[string]string `json:"index_names"`
	CustomIndexNames map[string]string `json:"custom_index_names"`
}

// Clone returns a deep copy.
func (l *LiveSchema) Clone() *LiveSchema {
	if l == nil {
		return nil
	}
	return &LiveSchema{
		TableSchema:      *l.TableSchema.Clone(),
		IndexNames:       maps.Clone(l.IndexNames),
		CustomIndexNames: maps.Clone(l.CustomIndexNames),
	}
}
