package diff

import (
	"maps"
	"reflect"
	"slices"

	"github.com/koba/cqlsync/internal/schema"
)

// ChangeKind represents the type of change
type ChangeKind string

const (
	KindAdded   ChangeKind = "ADDED"
	KindRemoved ChangeKind = "REMOVED"
	KindChanged ChangeKind = "CHANGED"
)

// FieldChange represents a change to a single field. Path is the field name,
// followed by the changed attribute (type, typeDef or static) for changes.
type FieldChange struct {
	Kind ChangeKind
	Path []string
	Old  any
	New  any
}

// Field returns the name of the changed field.
func (c FieldChange) Field() string {
	return c.Path[0]
}

// Attribute returns the changed attribute, or "" for added and removed fields.
func (c FieldChange) Attribute() string {
	if len(c.Path) < 2 {
		return ""
	}
	return c.Path[1]
}

// SchemaDiff represents the differences between a live and a declared table.
// Derived sets are computed over normalized forms: index targets, custom
// index content hashes and materialized view definitions. A view whose
// definition changed appears in both ViewsRemoved and ViewsAdded.
type SchemaDiff struct {
	Table  string
	Fields []FieldChange

	KeyChanged bool

	IndexesAdded         []string
	IndexesRemoved       []string
	CustomIndexesAdded   []schema.NormalizedCustomIndex
	CustomIndexesRemoved []schema.NormalizedCustomIndex
	ViewsAdded           []string
	ViewsRemoved         []string
}

// Empty reports whether the two schemas are structurally equal.
func (d *SchemaDiff) Empty() bool {
	return len(d.Fields) == 0 && !d.KeyChanged &&
		len(d.IndexesAdded) == 0 && len(d.IndexesRemoved) == 0 &&
		len(d.CustomIndexesAdded) == 0 && len(d.CustomIndexesRemoved) == 0 &&
		len(d.ViewsAdded) == 0 && len(d.ViewsRemoved) == 0
}

// Compare computes the changes that turn live into declared.
func Compare(live, declared *schema.Normalized) *SchemaDiff {
	d := &SchemaDiff{
		Table:      declared.Name,
		Fields:     compareFields(live.Fields, declared.Fields),
		KeyChanged: !live.Key.Equal(declared.Key) || !maps.Equal(live.ClusteringOrder, declared.ClusteringOrder),
	}

	d.IndexesAdded = difference(declared.Indexes, live.Indexes)
	d.IndexesRemoved = difference(live.Indexes, declared.Indexes)

	liveHashes := customIndexHashes(live.CustomIndexes)
	declaredHashes := customIndexHashes(declared.CustomIndexes)
	for _, ci := range declared.CustomIndexes {
		if !liveHashes[ci.Hash] {
			d.CustomIndexesAdded = append(d.CustomIndexesAdded, ci)
		}
	}
	for _, ci := range live.CustomIndexes {
		if !declaredHashes[ci.Hash] {
			d.CustomIndexesRemoved = append(d.CustomIndexesRemoved, ci)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(declared.MaterializedViews)) {
		lv, ok := live.MaterializedViews[name]
		if !ok || !reflect.DeepEqual(lv, declared.MaterializedViews[name]) {
			d.ViewsAdded = append(d.ViewsAdded, name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(live.MaterializedViews)) {
		dv, ok := declared.MaterializedViews[name]
		if !ok || !reflect.DeepEqual(dv, live.MaterializedViews[name]) {
			d.ViewsRemoved = append(d.ViewsRemoved, name)
		}
	}

	return d
}

func compareFields(live, declared map[string]schema.NormalizedField) []FieldChange {
	names := map[string]bool{}
	for name := range live {
		names[name] = true
	}
	for name := range declared {
		names[name] = true
	}

	var changes []FieldChange
	for _, name := range slices.Sorted(maps.Keys(names)) {
		lf, inLive := live[name]
		df, inDeclared := declared[name]

		switch {
		case !inLive:
			changes = append(changes, FieldChange{Kind: KindAdded, Path: []string{name}, New: df})
		case !inDeclared:
			changes = append(changes, FieldChange{Kind: KindRemoved, Path: []string{name}, Old: lf})
		case lf.Type != df.Type:
			changes = append(changes, FieldChange{Kind: KindChanged, Path: []string{name, "type"}, Old: lf.Type, New: df.Type})
		case lf.TypeDef != df.TypeDef:
			changes = append(changes, FieldChange{Kind: KindChanged, Path: []string{name, "typeDef"}, Old: lf.TypeDef, New: df.TypeDef})
		case lf.Static != df.Static:
			changes = append(changes, FieldChange{Kind: KindChanged, Path: []string{name, "static"}, Old: lf.Static, New: df.Static})
		}
	}
	return changes
}

func difference(a, b []string) []string {
	var out []string
	for _, s := range a {
		if !slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}

func customIndexHashes(list []schema.NormalizedCustomIndex) map[string]bool {
	out := make(map[string]bool, len(list))
	for _, ci := range list {
		out[ci.Hash] = true
	}
	return out
}
