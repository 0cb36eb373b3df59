package schema

import (
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"

	errs "github.com/koba/cqlsync/internal/errors"
)

// NormalizedField is the canonical form of a persisted field.
type NormalizedField struct {
	Type    string `json:"type"`
	TypeDef string `json:"type_def,omitempty"`
	Static  bool   `json:"static,omitempty"`
}

// Normalized is the canonical form of a table used for structural comparison.
// Two schemas that differ only in ordering of indexes, custom indexes or view
// columns normalize to equal values.
type Normalized struct {
	Name              string
	Fields            map[string]NormalizedField
	Key               PrimaryKey
	ClusteringOrder   map[string]string
	Indexes           []string
	CustomIndexes     []NormalizedCustomIndex
	MaterializedViews map[string]MaterializedView
}

// NormalizedCustomIndex is a custom index keyed by its content hash.
type NormalizedCustomIndex struct {
	CustomIndex
	Hash string
}

// Normalize produces the canonical form of s.
func Normalize(s *TableSchema) (*Normalized, error) {
	n := &Normalized{
		Name:              s.Name,
		Fields:            make(map[string]NormalizedField, len(s.Fields)),
		Key:               normalizeKey(s.Key),
		ClusteringOrder:   normalizeClusteringOrder(s.ClusteringOrder, s.Key),
		Indexes:           []string{},
		CustomIndexes:     []NormalizedCustomIndex{},
		MaterializedViews: make(map[string]MaterializedView, len(s.MaterializedViews)),
	}

	var persisted []string
	for _, f := range s.Fields {
		if f.IsVirtual() {
			continue
		}
		info, ok := LookupType(f.Type)
		if !ok {
			return nil, errs.InvalidSchema("field %q has unknown type %q", f.Name, f.Type)
		}
		typ := info.Name
		if typ == "varchar" {
			typ = "text"
		}
		n.Fields[f.Name] = NormalizedField{Type: typ, TypeDef: NormalizeTypeDef(f.TypeDef), Static: f.Static}
		persisted = append(persisted, f.Name)
	}

	seen := map[string]bool{}
	for _, idx := range s.Indexes {
		c := CanonicalIndex(idx)
		if !seen[c] {
			seen[c] = true
			n.Indexes = append(n.Indexes, c)
		}
	}
	sort.Strings(n.Indexes)

	hashes := map[string]bool{}
	for _, ci := range s.CustomIndexes {
		canon := CustomIndex{On: strings.Trim(ci.On, `" `), Using: ci.Using, Options: maps.Clone(ci.Options)}
		if canon.Options == nil {
			canon.Options = map[string]string{}
		}
		h := CustomIndexHash(canon)
		if hashes[h] {
			continue
		}
		hashes[h] = true
		n.CustomIndexes = append(n.CustomIndexes, NormalizedCustomIndex{CustomIndex: canon, Hash: h})
	}
	sort.Slice(n.CustomIndexes, func(i, j int) bool { return n.CustomIndexes[i].Hash < n.CustomIndexes[j].Hash })

	for name, v := range s.MaterializedViews {
		cols := map[string]bool{}
		for _, c := range v.Select {
			if c == "*" {
				for _, p := range persisted {
					cols[p] = true
				}
				continue
			}
			cols[c] = true
		}
		for _, k := range v.Key.Columns() {
			cols[k] = true
		}
		sel := slices.Sorted(maps.Keys(cols))
		n.MaterializedViews[name] = MaterializedView{
			Select:          sel,
			Key:             normalizeKey(v.Key),
			ClusteringOrder: normalizeClusteringOrder(v.ClusteringOrder, v.Key),
		}
	}
	return n, nil
}

// Equal reports structural equality of two normalized schemas, ignoring the
// table name.
func (n *Normalized) Equal(o *Normalized) bool {
	if n == nil || o == nil {
		return n == o
	}
	return reflect.DeepEqual(n.Fields, o.Fields) &&
		n.Key.Equal(o.Key) &&
		maps.Equal(n.ClusteringOrder, o.ClusteringOrder) &&
		slices.Equal(n.Indexes, o.Indexes) &&
		reflect.DeepEqual(n.CustomIndexes, o.CustomIndexes) &&
		reflect.DeepEqual(n.MaterializedViews, o.MaterializedViews)
}

// FieldNames returns the persisted field names in sorted order.
func (n *Normalized) FieldNames() []string {
	return slices.Sorted(maps.Keys(n.Fields))
}

// Table converts the canonical form back into a declaration. Normalizing the
// result yields a value equal to n.
func (n *Normalized) Table() *TableSchema {
	s := &TableSchema{
		Name:            n.Name,
		Key:             clonePrimaryKey(n.Key),
		ClusteringOrder: maps.Clone(n.ClusteringOrder),
		Indexes:         slices.Clone(n.Indexes),
	}
	for _, name := range n.FieldNames() {
		f := n.Fields[name]
		s.Fields = append(s.Fields, &FieldSchema{Name: name, Type: f.Type, TypeDef: f.TypeDef, Static: f.Static})
	}
	for _, ci := range n.CustomIndexes {
		s.CustomIndexes = append(s.CustomIndexes, CustomIndex{On: ci.On, Using: ci.Using, Options: maps.Clone(ci.Options)})
	}
	if len(n.MaterializedViews) > 0 {
		s.MaterializedViews = make(map[string]MaterializedView, len(n.MaterializedViews))
		for name, v := range n.MaterializedViews {
			s.MaterializedViews[name] = MaterializedView{
				Select:          slices.Clone(v.Select),
				Key:             clonePrimaryKey(v.Key),
				ClusteringOrder: maps.Clone(v.ClusteringOrder),
			}
		}
	}
	return s
}

// NormalizeTypeDef canonicalizes collection type parameters:
// "<varchar, Int>" becomes "<text,int>".
func NormalizeTypeDef(def string) string {
	def = strings.ToLower(strings.Join(strings.Fields(def), ""))
	return strings.ReplaceAll(def, "varchar", "text")
}

// CanonicalIndex canonicalizes an index target. Quotes and whitespace are
// removed, values(x) collapses to x and other target functions are lowercased.
//
//	`keys("Tags")` -> `keys(Tags)`
//	`values(tags)` -> `tags`
func CanonicalIndex(target string) string {
	t := strings.ReplaceAll(strings.Join(strings.Fields(target), ""), `"`, "")
	open := strings.IndexByte(t, '(')
	if open <= 0 || !strings.HasSuffix(t, ")") {
		return t
	}
	fn := strings.ToLower(t[:open])
	col := t[open+1 : len(t)-1]
	if fn == "values" {
		return col
	}
	return fn + "(" + col + ")"
}

// IndexColumn returns the column an index target refers to.
func IndexColumn(target string) string {
	t := CanonicalIndex(target)
	if open := strings.IndexByte(t, '('); open > 0 {
		return t[open+1 : len(t)-1]
	}
	return t
}

func normalizeKey(k PrimaryKey) PrimaryKey {
	return PrimaryKey{
		Partition:  append([]string{}, k.Partition...),
		Clustering: append([]string{}, k.Clustering...),
	}
}

func normalizeClusteringOrder(order map[string]string, key PrimaryKey) map[string]string {
	out := make(map[string]string, len(key.Clustering))
	for _, c := range key.Clustering {
		dir := strings.ToUpper(order[c])
		if dir == "" {
			dir = "ASC"
		}
		out[c] = dir
	}
	return out
}
