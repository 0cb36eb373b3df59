package generator

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/koba/cqlsync/internal/cql"
	"github.com/koba/cqlsync/internal/schema"
)

// DDLGenerator generates schema statements for one base table.
type DDLGenerator struct {
	table string
}

// NewDDLGenerator creates a new DDL generator
func NewDDLGenerator(table string) *DDLGenerator {
	return &DDLGenerator{table: table}
}

// CreateTable generates CREATE TABLE for the persisted fields of s.
func (g *DDLGenerator) CreateTable(s *schema.TableSchema) string {
	var cols []string
	for _, f := range s.Fields {
		if f.IsVirtual() {
			continue
		}
		cols = append(cols, g.columnDefinition(f.Name, f.FullType(), f.Static))
	}
	cols = append(cols, primaryKey(s.Key))

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", cql.Quote(g.table), strings.Join(cols, ", "))
	return stmt + clusteringOrder(s.Key, s.ClusteringOrder) + ";"
}

// DropTable generates DROP TABLE.
func (g *DDLGenerator) DropTable() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", cql.Quote(g.table))
}

// AddColumn generates ALTER TABLE ADD. typ includes collection parameters.
func (g *DDLGenerator) AddColumn(name, typ string, static bool) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s;", cql.Quote(g.table), g.columnDefinition(name, typ, static))
}

// DropColumn generates ALTER TABLE DROP.
func (g *DDLGenerator) DropColumn(name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP %s;", cql.Quote(g.table), cql.Quote(name))
}

// AlterColumnType generates ALTER TABLE ALTER ... TYPE.
func (g *DDLGenerator) AlterColumnType(name, typ string) string {
	return fmt.Sprintf("ALTER TABLE %s ALTER %s TYPE %s;", cql.Quote(g.table), cql.Quote(name), typ)
}

// CreateIndex generates a secondary index on a target such as "name" or
// "keys(attrs)".
func (g *DDLGenerator) CreateIndex(target string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS ON %s (%s);", cql.Quote(g.table), indexTarget(target))
}

// CreateCustomIndex generates a custom index. Options are emitted sorted by key.
func (g *DDLGenerator) CreateCustomIndex(ci schema.CustomIndex) string {
	stmt := fmt.Sprintf("CREATE CUSTOM INDEX IF NOT EXISTS ON %s (%s) USING '%s'",
		cql.Quote(g.table),
		cql.Quote(strings.Trim(ci.On, `" `)),
		cql.EscapeString(ci.Using),
	)
	if len(ci.Options) > 0 {
		var opts []string
		for _, k := range slices.Sorted(maps.Keys(ci.Options)) {
			opts = append(opts, fmt.Sprintf("'%s': '%s'", cql.EscapeString(k), cql.EscapeString(ci.Options[k])))
		}
		stmt += " WITH OPTIONS = {" + strings.Join(opts, ", ") + "}"
	}
	return stmt + ";"
}

// DropIndex generates DROP INDEX by index name.
func (g *DDLGenerator) DropIndex(name string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s;", cql.Quote(name))
}

// CreateMaterializedView generates a view over the base table. Every view key
// column is restricted to IS NOT NULL.
func (g *DDLGenerator) CreateMaterializedView(name string, v schema.MaterializedView) string {
	sel := "*"
	if !slices.Contains(v.Select, "*") {
		sel = strings.Join(cql.QuoteAll(v.Select), ", ")
	}
	var notNull []string
	for _, k := range v.Key.Columns() {
		notNull = append(notNull, cql.Quote(k)+" IS NOT NULL")
	}
	stmt := fmt.Sprintf("CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS SELECT %s FROM %s WHERE %s %s",
		cql.Quote(name),
		sel,
		cql.Quote(g.table),
		strings.Join(notNull, " AND "),
		primaryKey(v.Key),
	)
	return stmt + clusteringOrder(v.Key, v.ClusteringOrder) + ";"
}

// DropMaterializedView generates DROP MATERIALIZED VIEW.
func (g *DDLGenerator) DropMaterializedView(name string) string {
	return fmt.Sprintf("DROP MATERIALIZED VIEW IF EXISTS %s;", cql.Quote(name))
}

func (g *DDLGenerator) columnDefinition(name, typ string, static bool) string {
	def := cql.Quote(name) + " " + typ
	if static {
		def += " STATIC"
	}
	return def
}

// primaryKey renders PRIMARY KEY(("pk1","pk2"),"ck1","ck2").
func primaryKey(k schema.PrimaryKey) string {
	def := "((" + strings.Join(cql.QuoteAll(k.Partition), ",") + ")"
	for _, c := range k.Clustering {
		def += "," + cql.Quote(c)
	}
	return "PRIMARY KEY" + def + ")"
}

func clusteringOrder(k schema.PrimaryKey, order map[string]string) string {
	var terms []string
	for _, c := range k.Clustering {
		if dir, ok := order[c]; ok {
			terms = append(terms, fmt.Sprintf("%s %s", cql.Quote(c), strings.ToUpper(dir)))
		}
	}
	if len(terms) == 0 {
		return ""
	}
	return " WITH CLUSTERING ORDER BY (" + strings.Join(terms, ", ") + ")"
}

func indexTarget(target string) string {
	t := schema.CanonicalIndex(target)
	if open := strings.IndexByte(t, '('); open > 0 {
		return t[:open] + "(" + cql.Quote(t[open+1:len(t)-1]) + ")"
	}
	return cql.Quote(t)
}
