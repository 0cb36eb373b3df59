package database

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"

	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/schema"
)

const (
	columnsQuery = `SELECT column_name, type, kind, position, clustering_order FROM system_schema.columns WHERE keyspace_name = ? AND table_name = ?`
	indexesQuery = `SELECT index_name, kind, options FROM system_schema.indexes WHERE keyspace_name = ? AND table_name = ?`
	viewsQuery   = `SELECT view_name FROM system_schema.views WHERE keyspace_name = ? AND base_table_name = ? ALLOW FILTERING`
)

// Introspector implements SchemaOracle by reading the system_schema tables
// through an Executor.
type Introspector struct {
	exec     Executor
	keyspace string
}

// NewIntrospector creates an introspector for keyspace.
func NewIntrospector(exec Executor, keyspace string) *Introspector {
	return &Introspector{exec: exec, keyspace: keyspace}
}

type liveColumn struct {
	name     string
	typ      string
	kind     string
	position int
	order    string
}

// FetchLiveSchema returns the live definition of table, or nil when the table
// does not exist.
func (in *Introspector) FetchLiveSchema(ctx context.Context, table string) (*schema.LiveSchema, error) {
	cols, err := in.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}

	live := &schema.LiveSchema{
		TableSchema:      *tableFromColumns(table, cols),
		IndexNames:       map[string]string{},
		CustomIndexNames: map[string]string{},
	}

	if err := in.indexes(ctx, live); err != nil {
		return nil, err
	}
	if err := in.views(ctx, live); err != nil {
		return nil, err
	}
	return live, nil
}

func (in *Introspector) columns(ctx context.Context, table string) ([]liveColumn, error) {
	rs, err := in.exec.Execute(ctx, columnsQuery, []any{in.keyspace, table}, DefinitionQuery)
	if err != nil {
		return nil, errs.Phase(errs.CodeSchemaQuery, table, err)
	}

	cols := make([]liveColumn, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		cols = append(cols, liveColumn{
			name:     asString(row["column_name"]),
			typ:      asString(row["type"]),
			kind:     asString(row["kind"]),
			position: asInt(row["position"]),
			order:    asString(row["clustering_order"]),
		})
	}
	return cols, nil
}

// tableFromColumns orders key columns by position and the remaining columns
// by name.
func tableFromColumns(table string, cols []liveColumn) *schema.TableSchema {
	sort.SliceStable(cols, func(i, j int) bool {
		ri, rj := kindRank(cols[i].kind), kindRank(cols[j].kind)
		if ri != rj {
			return ri < rj
		}
		if ri < 2 {
			return cols[i].position < cols[j].position
		}
		return cols[i].name < cols[j].name
	})

	s := &schema.TableSchema{Name: table}
	for _, c := range cols {
		typ, def := schema.ParseType(c.typ)
		s.Fields = append(s.Fields, &schema.FieldSchema{
			Name:    c.name,
			Type:    typ,
			TypeDef: def,
			Static:  c.kind == "static",
		})
		switch c.kind {
		case "partition_key":
			s.Key.Partition = append(s.Key.Partition, c.name)
		case "clustering":
			s.Key.Clustering = append(s.Key.Clustering, c.name)
			if s.ClusteringOrder == nil {
				s.ClusteringOrder = map[string]string{}
			}
			order := strings.ToLower(c.order)
			if order != "desc" {
				order = "asc"
			}
			s.ClusteringOrder[c.name] = order
		}
	}
	return s
}

func kindRank(kind string) int {
	switch kind {
	case "partition_key":
		return 0
	case "clustering":
		return 1
	default:
		return 2
	}
}

func (in *Introspector) indexes(ctx context.Context, live *schema.LiveSchema) error {
	rs, err := in.exec.Execute(ctx, indexesQuery, []any{in.keyspace, live.Name}, DefinitionQuery)
	if err != nil {
		return errs.Phase(errs.CodeSchemaQuery, live.Name, err)
	}

	for _, row := range rs.Rows {
		name := asString(row["index_name"])
		options := asStringMap(row["options"])
		target := options["target"]

		if strings.EqualFold(asString(row["kind"]), "CUSTOM") {
			ci := schema.CustomIndex{
				On:      strings.Trim(target, `"`),
				Using:   options["class_name"],
				Options: maps.Clone(options),
			}
			delete(ci.Options, "target")
			delete(ci.Options, "class_name")
			live.CustomIndexes = append(live.CustomIndexes, ci)
			live.CustomIndexNames[schema.CustomIndexHash(ci)] = name
			continue
		}

		live.Indexes = append(live.Indexes, target)
		live.IndexNames[schema.CanonicalIndex(target)] = name
	}
	return nil
}

func (in *Introspector) views(ctx context.Context, live *schema.LiveSchema) error {
	rs, err := in.exec.Execute(ctx, viewsQuery, []any{in.keyspace, live.Name}, DefinitionQuery)
	if err != nil {
		return errs.Phase(errs.CodeSchemaQuery, live.Name, err)
	}

	for _, row := range rs.Rows {
		name := asString(row["view_name"])
		cols, err := in.columns(ctx, name)
		if err != nil {
			return err
		}
		vs := tableFromColumns(name, cols)
		if live.MaterializedViews == nil {
			live.MaterializedViews = map[string]schema.MaterializedView{}
		}
		live.MaterializedViews[name] = schema.MaterializedView{
			Select:          vs.FieldNames(),
			Key:             vs.Key,
			ClusteringOrder: vs.ClusteringOrder,
		}
	}
	return nil
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	default:
		return 0
	}
}

func asStringMap(v any) map[string]string {
	switch x := v.(type) {
	case map[string]string:
		return x
	case map[string]any:
		out := make(map[string]string, len(x))
		for k, val := range x {
			out[k] = asString(val)
		}
		return out
	default:
		return map[string]string{}
	}
}
