package generator

import (
	"fmt"
	"strings"

	"github.com/koba/cqlsync/internal/cql"
	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/schema"
)

// Clause is a compiled list of relations with their bound parameters.
type Clause struct {
	Relations []string
	Params    []any
}

// Where renders the clause as a WHERE clause, or "" when it is empty.
func (c Clause) Where() string {
	return c.render("WHERE")
}

// If renders the clause as a lightweight transaction condition.
func (c Clause) If() string {
	return c.render("IF")
}

func (c Clause) render(keyword string) string {
	if len(c.Relations) == 0 {
		return ""
	}
	return keyword + " " + strings.Join(c.Relations, " AND ")
}

var operators = map[string]string{
	"$eq":           "=",
	"$ne":           "!=",
	"$gt":           ">",
	"$lt":           "<",
	"$gte":          ">=",
	"$lte":          "<=",
	"$in":           "IN",
	"$like":         "LIKE",
	"$token":        "token",
	"$contains":     "CONTAINS",
	"$contains_key": "CONTAINS KEY",
}

// Keys consumed by the find compiler rather than the predicate compiler.
var findMetaKeys = map[string]bool{
	"$orderby":             true,
	"$limit":               true,
	"$per_partition_limit": true,
	"$groupby":             true,
}

// CompilePredicate compiles a query document into relations. Relations follow
// the document order; several operators on one field are ANDed. The find
// modifiers ($orderby, $limit, $per_partition_limit, $groupby) are rejected.
func CompilePredicate(t *schema.Table, q cql.M) (Clause, error) {
	var c Clause
	for _, e := range q {
		switch {
		case e.Key == "$expr":
			rel, err := exprRelation(e.Value)
			if err != nil {
				return Clause{}, err
			}
			c.Relations = append(c.Relations, rel)
		case e.Key == "$solr_query":
			query, ok := e.Value.(string)
			if !ok {
				return Clause{}, errs.InvalidQuery(errs.CodeInvalidSolrQuery, "$solr_query must be a string")
			}
			c.Relations = append(c.Relations, fmt.Sprintf("solr_query='%s'", cql.EscapeString(query)))
		case findMetaKeys[e.Key]:
			return Clause{}, errs.InvalidQuery(errs.CodeInvalidOperator, "%s is only valid in find queries", e.Key)
		case strings.HasPrefix(e.Key, "$"):
			return Clause{}, errs.InvalidQuery(errs.CodeInvalidOperator, "invalid query key %q", e.Key)
		default:
			if err := c.addField(t, e.Key, e.Value); err != nil {
				return Clause{}, err
			}
		}
	}
	return c, nil
}

// relationsOnly returns q without the find modifiers.
func relationsOnly(q cql.M) cql.M {
	out := make(cql.M, 0, len(q))
	for _, e := range q {
		if !findMetaKeys[e.Key] {
			out = append(out, e)
		}
	}
	return out
}

func exprRelation(v any) (string, error) {
	doc, ok := cql.AsDoc(v)
	if !ok {
		return "", errs.InvalidQuery(errs.CodeInvalidExpr, "$expr must be a document with index and query")
	}
	index, _ := doc.Get("index")
	query, _ := doc.Get("query")
	is, ok1 := index.(string)
	qs, ok2 := query.(string)
	if !ok1 || !ok2 || is == "" {
		return "", errs.InvalidQuery(errs.CodeInvalidExpr, "$expr requires string index and query")
	}
	return fmt.Sprintf("expr(%s,'%s')", is, cql.EscapeString(qs)), nil
}

// operatorDoc reports whether v is an operator document: a non-empty document
// whose keys all start with "$". Other values are implicit equality.
func operatorDoc(v any) (cql.M, bool) {
	doc, ok := cql.AsDoc(v)
	if !ok || len(doc) == 0 {
		return nil, false
	}
	for _, e := range doc {
		if !strings.HasPrefix(e.Key, "$") {
			return nil, false
		}
	}
	return doc, true
}

func (c *Clause) addField(t *schema.Table, field string, value any) error {
	relations := []any{value}
	if items, ok := asSlice(value); ok {
		relations = items
	}

	for _, rel := range relations {
		doc, ok := operatorDoc(rel)
		if !ok {
			doc = cql.M{{Key: "$eq", Value: rel}}
		}
		for _, op := range doc {
			if err := c.addRelation(t, field, op.Key, op.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Clause) addRelation(t *schema.Table, field, op string, operand any) error {
	opText, ok := operators[op]
	if !ok {
		return errs.InvalidQuery(errs.CodeInvalidOperator, "invalid operator %q on field %q", op, field)
	}

	switch op {
	case "$token":
		return c.addToken(t, field, operand)
	case "$in":
		if _, ok := asSlice(operand); !ok {
			return errs.InvalidQuery(errs.CodeInvalidInOperand, "$in on field %q requires an array", field)
		}
	case "$contains":
		typ, err := t.FieldType(field)
		if err != nil {
			return err
		}
		if !schema.IsCollection(typ) {
			return errs.InvalidQuery(errs.CodeInvalidContains, "$contains requires a collection field, %q is %s", field, typ)
		}
		if entry, ok := cql.AsDoc(operand); ok && typ == "map" && len(entry) == 1 {
			c.Relations = append(c.Relations, fmt.Sprintf("%s[?] = ?", cql.Quote(field)))
			c.Params = append(c.Params, entry[0].Key, entry[0].Value)
			return nil
		}
		c.Relations = append(c.Relations, fmt.Sprintf("%s CONTAINS ?", cql.Quote(field)))
		c.Params = append(c.Params, operand)
		return nil
	case "$contains_key":
		typ, err := t.FieldType(field)
		if err != nil {
			return err
		}
		if typ != "map" {
			return errs.InvalidQuery(errs.CodeInvalidContainsKey, "$contains_key requires a map field, %q is %s", field, typ)
		}
		c.Relations = append(c.Relations, fmt.Sprintf("%s CONTAINS KEY ?", cql.Quote(field)))
		c.Params = append(c.Params, operand)
		return nil
	}

	e, err := CompileValue(t, field, operand)
	if err != nil {
		return err
	}
	c.Relations = append(c.Relations, fmt.Sprintf("%s %s %s", cql.Quote(field), opText, e.Fragment))
	if e.Bound {
		c.Params = append(c.Params, e.Param)
	}
	return nil
}

// addToken compiles token comparisons. A comma separated field list compares
// the composite partition token and takes one value per field:
//
//	{"a,b": {"$gt": [1, 2]}} -> token("a","b") > token(?,?)
func (c *Clause) addToken(t *schema.Table, field string, operand any) error {
	doc, ok := cql.AsDoc(operand)
	if !ok {
		return errs.InvalidQuery(errs.CodeInvalidTokenOperand, "$token on %q requires an operator document", field)
	}

	names := strings.Split(field, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}

	for _, e := range doc {
		opText, ok := operators[e.Key]
		if !ok || e.Key == "$token" || e.Key == "$in" || e.Key == "$contains" || e.Key == "$contains_key" {
			return errs.InvalidQuery(errs.CodeInvalidTokenOperator, "invalid operator %q inside $token", e.Key)
		}

		values := []any{e.Value}
		if len(names) > 1 {
			items, ok := asSlice(e.Value)
			if !ok || len(items) != len(names) {
				return errs.InvalidQuery(errs.CodeInvalidTokenOperand,
					"$token on %q requires %d values", field, len(names))
			}
			values = items
		}

		frags := make([]string, len(names))
		var params []any
		for i, name := range names {
			ex, err := CompileValue(t, name, values[i])
			if err != nil {
				return err
			}
			frags[i] = ex.Fragment
			if ex.Bound {
				params = append(params, ex.Param)
			}
		}
		c.Relations = append(c.Relations, fmt.Sprintf("token(%s) %s token(%s)",
			strings.Join(cql.QuoteAll(names), ","), opText, strings.Join(frags, ",")))
		c.Params = append(c.Params, params...)
	}
	return nil
}
