package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/cqlsync/internal/cql"
)

const declYAML = `
tables:
  users:
    fields:
      id: uuid
      created: {type: timestamp, default: {$db_function: toTimestamp(now())}}
      name: {type: text, required: true}
      tags: set<text>
      attrs: {type: map, typedef: "<text, int>"}
      status: {type: text, default: active}
    key: [[id], created]
    clustering_order: {created: desc}
    indexes: [name, keys(attrs)]
    custom_indexes:
      - on: name
        using: org.apache.cassandra.index.sasi.SASIIndex
        options: {mode: CONTAINS}
    materialized_views:
      users_by_name:
        select: ["*"]
        key: [[name], id, created]
    options:
      timestamps: {created_at: createdAt, updated_at: updatedAt}
  accounts:
    fields:
      email: text
    key: email
`

func TestLoad(t *testing.T) {
	tables, err := Load(strings.NewReader(declYAML))
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Equal(t, "accounts", tables[0].Name)
	assert.Equal(t, PrimaryKey{Partition: []string{"email"}}, tables[0].Key)

	users := tables[1]
	assert.Equal(t, []string{"id", "created", "name", "tags", "attrs", "status"}, users.FieldNames())
	assert.Equal(t, PrimaryKey{Partition: []string{"id"}, Clustering: []string{"created"}}, users.Key)

	created, _ := users.Field("created")
	assert.Equal(t, cql.Func("toTimestamp(now())"), created.Default)

	tags, _ := users.Field("tags")
	assert.Equal(t, "set", tags.Type)
	assert.Equal(t, "<text>", tags.TypeDef)

	name, _ := users.Field("name")
	assert.True(t, name.Required)

	require.Len(t, users.CustomIndexes, 1)
	assert.Equal(t, "CONTAINS", users.CustomIndexes[0].Options["mode"])

	view := users.MaterializedViews["users_by_name"]
	assert.Equal(t, []string{"name"}, view.Key.Partition)
	assert.Equal(t, []string{"id", "created"}, view.Key.Clustering)

	require.NotNil(t, users.Options.Timestamps)
	assert.Equal(t, "updatedAt", users.Options.Timestamps.UpdatedAt)

	_, err = Compile(users)
	assert.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"fields not a mapping", "tables:\n  t:\n    fields: [a]\n    key: a\n"},
		{"missing key", "tables:\n  t:\n    fields: {a: text}\n"},
		{"nested clustering", "tables:\n  t:\n    fields: {a: text}\n    key: [a, [b]]\n"},
		{"malformed", "tables: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}
