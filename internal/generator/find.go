package generator

import (
	"fmt"
	"strings"

	"github.com/koba/cqlsync/internal/cql"
	errs "github.com/koba/cqlsync/internal/errors"
)

// FindOptions control SELECT generation.
type FindOptions struct {
	Select           []string
	Distinct         bool
	AllowFiltering   bool
	MaterializedView string
	// Raw, FetchSize and PageState are execution options and do not affect
	// the text. PageState resumes a paged find from a previous result.
	Raw       bool
	FetchSize int
	PageState []byte
}

// Find compiles a query document into a SELECT statement.
//
// Besides field relations the document accepts $orderby, $limit,
// $per_partition_limit and $groupby.
func (g *DMLGenerator) Find(q cql.M, opts FindOptions) (Statement, error) {
	where, err := CompilePredicate(g.table, relationsOnly(q))
	if err != nil {
		return Statement{}, err
	}

	cols, err := selectList(opts.Select)
	if err != nil {
		return Statement{}, err
	}

	from := g.table.Name()
	if opts.MaterializedView != "" {
		from = opts.MaterializedView
	}

	parts := []string{"SELECT"}
	if opts.Distinct {
		parts = append(parts, "DISTINCT")
	}
	parts = append(parts, cols, "FROM", cql.Quote(from))
	if w := where.Where(); w != "" {
		parts = append(parts, w)
	}

	if v, ok := q.Get("$groupby"); ok {
		group, err := groupBy(v)
		if err != nil {
			return Statement{}, err
		}
		parts = append(parts, group)
	}
	if v, ok := q.Get("$orderby"); ok {
		order, err := orderBy(v)
		if err != nil {
			return Statement{}, err
		}
		if order != "" {
			parts = append(parts, order)
		}
	}
	if v, ok := q.Get("$per_partition_limit"); ok {
		n, err := limitValue("$per_partition_limit", v)
		if err != nil {
			return Statement{}, err
		}
		parts = append(parts, fmt.Sprintf("PER PARTITION LIMIT %d", n))
	}
	if v, ok := q.Get("$limit"); ok {
		n, err := limitValue("$limit", v)
		if err != nil {
			return Statement{}, err
		}
		parts = append(parts, fmt.Sprintf("LIMIT %d", n))
	}
	if opts.AllowFiltering {
		parts = append(parts, "ALLOW FILTERING")
	}

	return Statement{Query: strings.Join(parts, " ") + ";", Params: where.Params}, nil
}

func orderBy(v any) (string, error) {
	doc, ok := cql.AsDoc(v)
	if !ok {
		return "", errs.InvalidQuery(errs.CodeInvalidOrder, "$orderby must be a document")
	}
	var terms []string
	for _, e := range doc {
		var dir string
		switch strings.ToLower(e.Key) {
		case "$asc":
			dir = "ASC"
		case "$desc":
			dir = "DESC"
		default:
			return "", errs.InvalidQuery(errs.CodeInvalidOrder, "invalid order direction %q, use $asc or $desc", e.Key)
		}
		fields, err := stringList(e.Value)
		if err != nil {
			return "", errs.InvalidQuery(errs.CodeInvalidOrder, "$orderby %s: %v", e.Key, err)
		}
		for _, f := range fields {
			terms = append(terms, cql.Quote(f)+" "+dir)
		}
	}
	if len(terms) == 0 {
		return "", nil
	}
	return "ORDER BY " + strings.Join(terms, ", "), nil
}

func groupBy(v any) (string, error) {
	fields, err := stringList(v)
	if err != nil || len(fields) == 0 {
		return "", errs.InvalidQuery(errs.CodeInvalidGroup, "$groupby must be a field or a list of fields")
	}
	return "GROUP BY " + strings.Join(cql.QuoteAll(fields), ", "), nil
}

func limitValue(key string, v any) (int64, error) {
	n, ok := toInt64(v)
	if !ok || n < 0 {
		return 0, errs.InvalidQuery(errs.CodeInvalidLimit, "%s must be a non negative integer, got %v", key, v)
	}
	return n, nil
}

func stringList(v any) ([]string, error) {
	if s, ok := v.(string); ok {
		return []string{s}, nil
	}
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("expected a field name or a list of field names")
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a field name, got %T", item)
		}
		out[i] = s
	}
	return out, nil
}

func selectList(sel []string) (string, error) {
	if len(sel) == 0 {
		return "*", nil
	}
	cols := make([]string, len(sel))
	for i, s := range sel {
		c, err := selection(s)
		if err != nil {
			return "", err
		}
		cols[i] = c
	}
	return strings.Join(cols, ","), nil
}

// selection renders one projection:
//
//	name               -> "name"
//	count(*)           -> count(*)
//	writetime(name)    -> writetime("name")
//	token(a, b)        -> token("a","b")
//	max(age) as oldest -> max("age") AS "oldest"
//	attrs['k']         -> "attrs"['k']
//	address.city       -> "address"."city"
func selection(s string) (string, error) {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return r == '(' || r == ')' || r == ',' || r == ' '
	})
	switch n := len(tokens); {
	case n == 0:
		return "", errs.InvalidQuery(errs.CodeInvalidSelect, "empty selection")
	case n == 1:
		return column(tokens[0]), nil
	case n >= 3 && strings.EqualFold(tokens[n-2], "as"):
		return fmt.Sprintf("%s AS %s", call(tokens[:n-2]), cql.Quote(tokens[n-1])), nil
	default:
		return call(tokens), nil
	}
}

func call(tokens []string) string {
	if len(tokens) == 1 {
		return column(tokens[0])
	}
	args := make([]string, len(tokens)-1)
	for i, a := range tokens[1:] {
		args[i] = column(a)
	}
	return fmt.Sprintf("%s(%s)", tokens[0], strings.Join(args, ","))
}

func column(name string) string {
	switch {
	case name == "*":
		return name
	case strings.Contains(name, "["):
		i := strings.Index(name, "[")
		return cql.Quote(name[:i]) + name[i:]
	case strings.Contains(name, "."):
		return strings.Join(cql.QuoteAll(strings.Split(name, ".")), ".")
	}
	return cql.Quote(name)
}
