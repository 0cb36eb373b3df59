package generator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/cqlsync/internal/cql"
	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/schema"
)

func testTable(t *testing.T) *schema.Table {
	t.Helper()
	tbl, err := schema.Compile(&schema.TableSchema{
		Name: "t",
		Fields: []*schema.FieldSchema{
			{Name: "id", Type: "uuid"},
			{Name: "name", Type: "text"},
			{Name: "age", Type: "int"},
			{Name: "email", Type: "text", Required: true},
			{Name: "status", Type: "text", Default: "active"},
			{Name: "attrs", Type: "map", TypeDef: "<text, int>"},
			{Name: "tags", Type: "set", TypeDef: "<text>"},
			{Name: "history", Type: "list", TypeDef: "<text>"},
			{Name: "visits", Type: "counter"},
			{Name: "label", Virtual: &schema.VirtualField{
				Get: func(values map[string]any) any { return values["name"] },
			}},
		},
		Key: schema.PrimaryKey{Partition: []string{"id"}},
	})
	require.NoError(t, err)
	return tbl
}

const testID = "5d8a1e4c-3b7f-4c1a-9e2d-0f6b8a7c9d10"

func TestCompileValue(t *testing.T) {
	tbl := testTable(t)

	tests := []struct {
		name  string
		field string
		value any
		want  Expr
	}{
		{"plain value", "name", "alice", Expr{Fragment: "?", Param: "alice", Bound: true}},
		{"nil", "name", nil, Expr{Fragment: "?", Param: nil, Bound: true}},
		{"unset", "age", cql.Unset, Expr{Fragment: "?", Param: cql.Unset, Bound: true}},
		{"database function", "id", cql.Func("uuid()"), Expr{Fragment: "uuid()"}},
		{"counter increment", "visits", 5, Expr{Fragment: `"visits" + ?`, Param: int64(5), Bound: true}},
		{"counter decrement", "visits", -5, Expr{Fragment: `"visits" - ?`, Param: int64(5), Bound: true}},
		{"counter zero", "visits", 0, Expr{Fragment: `"visits" + ?`, Param: int64(0), Bound: true}},
		{"array on scalar field", "age", []any{1, 2, 3}, Expr{Fragment: "?", Param: []any{1, 2, 3}, Bound: true}},
		{"typed slice on scalar field", "name", []string{"a", "b"}, Expr{Fragment: "?", Param: []any{"a", "b"}, Bound: true}},
		{"slice on set field", "tags", []string{"a"}, Expr{Fragment: "?", Param: []string{"a"}, Bound: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompileValue(tbl, tt.field, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileValue_Invalid(t *testing.T) {
	tbl := testTable(t)

	_, err := CompileValue(tbl, "age", "old")
	assert.ErrorIs(t, err, errs.ErrInvalidValue)

	_, err = CompileValue(tbl, "age", []any{1, "two"})
	assert.ErrorIs(t, err, errs.ErrInvalidValue)

	_, err = CompileValue(tbl, "nope", 1)
	assert.ErrorIs(t, err, errs.ErrInvalidSchema)

	// the decrement of MinInt64 has no positive int64 operand
	_, err = CompileValue(tbl, "visits", int64(math.MinInt64))
	assert.ErrorIs(t, err, errs.ErrInvalidValue)

	got, err := CompileValue(tbl, "visits", int64(math.MinInt64+1))
	require.NoError(t, err)
	assert.Equal(t, Expr{Fragment: `"visits" - ?`, Param: int64(math.MaxInt64), Bound: true}, got)
}
