package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/cqlsync/internal/cql"
	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/schema"
)

var byID = cql.M{{Key: "id", Value: testID}}

func TestUpdate(t *testing.T) {
	g := NewDMLGenerator(testTable(t))

	tests := []struct {
		name   string
		values cql.M
		opts   UpdateOptions
		want   string
		params []any
	}{
		{
			name:   "assignment",
			values: cql.M{{Key: "name", Value: "bob"}, {Key: "age", Value: 40}},
			want:   `UPDATE "t" SET "name"=?, "age"=? WHERE "id" = ?;`,
			params: []any{"bob", 40, testID},
		},
		{
			name:   "unknown and virtual fields are skipped",
			values: cql.M{{Key: "name", Value: "bob"}, {Key: "nope", Value: 1}, {Key: "label", Value: "x"}},
			want:   `UPDATE "t" SET "name"=? WHERE "id" = ?;`,
			params: []any{"bob", testID},
		},
		{
			name:   "null on optional field",
			values: cql.M{{Key: "name", Value: nil}},
			want:   `UPDATE "t" SET "name"=? WHERE "id" = ?;`,
			params: []any{nil, testID},
		},
		{
			name:   "function value",
			values: cql.M{{Key: "name", Value: cql.Func("'fixed'")}},
			want:   `UPDATE "t" SET "name"='fixed' WHERE "id" = ?;`,
			params: []any{testID},
		},
		{
			name:   "counter",
			values: cql.M{{Key: "visits", Value: -2}},
			want:   `UPDATE "t" SET "visits"="visits" - ? WHERE "id" = ?;`,
			params: []any{int64(2), testID},
		},
		{
			name:   "add to set",
			values: cql.M{{Key: "tags", Value: cql.M{{Key: "$add", Value: []string{"a"}}}}},
			want:   `UPDATE "t" SET "tags"="tags" + ? WHERE "id" = ?;`,
			params: []any{[]string{"a"}, testID},
		},
		{
			name:   "append to list",
			values: cql.M{{Key: "history", Value: cql.M{{Key: "$append", Value: []string{"x"}}}}},
			want:   `UPDATE "t" SET "history"="history" + ? WHERE "id" = ?;`,
			params: []any{[]string{"x"}, testID},
		},
		{
			name:   "prepend to list",
			values: cql.M{{Key: "history", Value: cql.M{{Key: "$prepend", Value: []string{"x"}}}}},
			want:   `UPDATE "t" SET "history"=? + "history" WHERE "id" = ?;`,
			params: []any{[]string{"x"}, testID},
		},
		{
			name:   "remove map keys",
			values: cql.M{{Key: "attrs", Value: cql.M{{Key: "$remove", Value: cql.M{{Key: "a", Value: 1}}}}}},
			want:   `UPDATE "t" SET "attrs"="attrs" - ? WHERE "id" = ?;`,
			params: []any{[]string{"a"}, testID},
		},
		{
			name:   "remove from set",
			values: cql.M{{Key: "tags", Value: cql.M{{Key: "$remove", Value: []string{"a"}}}}},
			want:   `UPDATE "t" SET "tags"="tags" - ? WHERE "id" = ?;`,
			params: []any{[]string{"a"}, testID},
		},
		{
			name:   "replace map entry",
			values: cql.M{{Key: "attrs", Value: cql.M{{Key: "$replace", Value: cql.M{{Key: "a", Value: 2}}}}}},
			want:   `UPDATE "t" SET "attrs"[?]=? WHERE "id" = ?;`,
			params: []any{"a", 2, testID},
		},
		{
			name:   "replace list element",
			values: cql.M{{Key: "history", Value: cql.M{{Key: "$replace", Value: []any{0, "y"}}}}},
			want:   `UPDATE "t" SET "history"[?]=? WHERE "id" = ?;`,
			params: []any{0, "y", testID},
		},
		{
			name:   "ttl and conditions",
			values: cql.M{{Key: "name", Value: "bob"}},
			opts:   UpdateOptions{TTL: 60, Conditions: cql.M{{Key: "name", Value: "alice"}}},
			want:   `UPDATE "t" USING TTL 60 SET "name"=? WHERE "id" = ? IF "name" = ?;`,
			params: []any{"bob", testID, "alice"},
		},
		{
			name:   "if exists",
			values: cql.M{{Key: "name", Value: "bob"}},
			opts:   UpdateOptions{IfExists: true},
			want:   `UPDATE "t" SET "name"=? WHERE "id" = ? IF EXISTS;`,
			params: []any{"bob", testID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := g.Update(byID, tt.values, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stmt.Query)
			assert.Equal(t, tt.params, stmt.Params)
		})
	}
}

func TestUpdate_Errors(t *testing.T) {
	g := NewDMLGenerator(testTable(t))

	tests := []struct {
		name   string
		values cql.M
		want   error
		code   string
	}{
		{"null key", cql.M{{Key: "id", Value: nil}}, errs.ErrUnsetKey, errs.CodeUnsetKey},
		{"unset required", cql.M{{Key: "email", Value: cql.Unset}}, errs.ErrUnsetRequired, errs.CodeUnsetRequired},
		{"invalid value", cql.M{{Key: "age", Value: "x"}}, errs.ErrInvalidValue, errs.CodeInvalidValue},
		{"prepend on set", cql.M{{Key: "tags", Value: cql.M{{Key: "$prepend", Value: []string{"a"}}}}}, nil, errs.CodeInvalidPrepend},
		{"replace map with two entries", cql.M{{Key: "attrs", Value: cql.M{{Key: "$replace", Value: cql.M{{Key: "a", Value: 1}, {Key: "b", Value: 2}}}}}}, nil, errs.CodeInvalidReplace},
		{"replace list with one value", cql.M{{Key: "history", Value: cql.M{{Key: "$replace", Value: []any{0}}}}}, nil, errs.CodeInvalidReplace},
		{"replace on set", cql.M{{Key: "tags", Value: cql.M{{Key: "$replace", Value: []any{0, "a"}}}}}, nil, errs.CodeInvalidReplace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Update(byID, tt.values, UpdateOptions{})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, tt.code, errs.GetCode(err))
		})
	}
}

func TestUpdate_AutoFields(t *testing.T) {
	tbl, err := schema.Compile(&schema.TableSchema{
		Name: "docs",
		Fields: []*schema.FieldSchema{
			{Name: "id", Type: "uuid"},
			{Name: "body", Type: "text"},
		},
		Key: schema.PrimaryKey{Partition: []string{"id"}},
		Options: schema.TableOptions{
			Timestamps: &schema.Timestamps{CreatedAt: "created_at", UpdatedAt: "updated_at"},
			Versions:   &schema.Versions{Key: "__v"},
		},
	})
	require.NoError(t, err)

	stmt, err := NewDMLGenerator(tbl).Update(byID, cql.M{{Key: "body", Value: "hi"}}, UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "docs" SET "body"=?, "updated_at"=toTimestamp(now()), "__v"=now() WHERE "id" = ?;`, stmt.Query)
	assert.Equal(t, []any{"hi", testID}, stmt.Params)
}

func TestInsert(t *testing.T) {
	g := NewDMLGenerator(testTable(t))

	stmt, err := g.Insert(cql.M{
		{Key: "email", Value: "a@b.c"},
		{Key: "id", Value: testID},
		{Key: "name", Value: nil},
		{Key: "label", Value: "ignored"},
	}, InsertOptions{IfNotExists: true, TTL: 30})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "t" ("id", "name", "email", "status") VALUES (?, ?, ?, ?) IF NOT EXISTS USING TTL 30;`,
		stmt.Query)
	assert.Equal(t, []any{testID, nil, "a@b.c", "active"}, stmt.Params)
}

func TestInsert_Errors(t *testing.T) {
	g := NewDMLGenerator(testTable(t))

	_, err := g.Insert(cql.M{{Key: "email", Value: "a@b.c"}}, InsertOptions{})
	assert.ErrorIs(t, err, errs.ErrUnsetKey)

	_, err = g.Insert(cql.M{{Key: "id", Value: testID}}, InsertOptions{})
	assert.ErrorIs(t, err, errs.ErrUnsetRequired)

	tbl, err := schema.Compile(&schema.TableSchema{
		Name: "t",
		Fields: []*schema.FieldSchema{
			{Name: "id", Type: "uuid"},
			{Name: "n", Type: "int", Default: "zero"},
			{Name: "m", Type: "int", Default: "zero", IgnoreDefault: true},
		},
		Key: schema.PrimaryKey{Partition: []string{"id"}},
	})
	require.NoError(t, err)
	_, err = NewDMLGenerator(tbl).Insert(cql.M{{Key: "id", Value: testID}}, InsertOptions{})
	assert.Equal(t, errs.CodeInvalidDefaultValue, errs.GetCode(err))
}

func TestInsert_DefaultProvider(t *testing.T) {
	tbl, err := schema.Compile(&schema.TableSchema{
		Name: "t",
		Fields: []*schema.FieldSchema{
			{Name: "id", Type: "uuid", Default: cql.Func("uuid()")},
			{Name: "n", Type: "int", Default: func() any { return 7 }},
		},
		Key: schema.PrimaryKey{Partition: []string{"id"}},
	})
	require.NoError(t, err)

	stmt, err := NewDMLGenerator(tbl).Insert(nil, InsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "t" ("id", "n") VALUES (uuid(), ?);`, stmt.Query)
	assert.Equal(t, []any{7}, stmt.Params)
}

func TestDelete(t *testing.T) {
	g := NewDMLGenerator(testTable(t))

	stmt, err := g.Delete(byID)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "t" WHERE "id" = ?;`, stmt.Query)
	assert.Equal(t, []any{testID}, stmt.Params)

	_, err = g.Delete(cql.M{{Key: "id", Value: cql.M{{Key: "$bogus", Value: 1}}}})
	assert.True(t, errs.IsQueryError(err))

	_, err = g.Delete(cql.M{{Key: "id", Value: testID}, {Key: "$limit", Value: 3}})
	assert.Equal(t, errs.CodeInvalidOperator, errs.GetCode(err))
}

func TestFindModifiersOutsideFind(t *testing.T) {
	g := NewDMLGenerator(testTable(t))
	values := cql.M{{Key: "age", Value: 3}}

	_, err := g.Update(cql.M{{Key: "id", Value: testID}, {Key: "$orderby", Value: cql.M{{Key: "$asc", Value: "age"}}}}, values, UpdateOptions{})
	assert.Equal(t, errs.CodeInvalidOperator, errs.GetCode(err))

	_, err = g.Update(byID, values, UpdateOptions{Conditions: cql.M{{Key: "age", Value: 2}, {Key: "$limit", Value: 1}}})
	assert.Equal(t, errs.CodeInvalidOperator, errs.GetCode(err))

	stmt, err := g.Find(cql.M{{Key: "id", Value: testID}, {Key: "$limit", Value: 3}}, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "t" WHERE "id" = ? LIMIT 3;`, stmt.Query)
	assert.Equal(t, []any{testID}, stmt.Params)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, `TRUNCATE TABLE "t";`, NewDMLGenerator(testTable(t)).Truncate().Query)
}

func TestGenerateScript(t *testing.T) {
	out := GenerateScript([]Statement{
		{Query: `DROP INDEX IF EXISTS "i";`},
		{},
		{Query: `DELETE FROM "t" WHERE "id" = ?;`, Params: []any{1}},
	})
	assert.Equal(t, "DROP INDEX IF EXISTS \"i\";\nDELETE FROM \"t\" WHERE \"id\" = ?; -- params: [1]", out)
}
