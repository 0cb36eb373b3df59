package diff

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koba/cqlsync/internal/schema"
)

func baseSchema() *schema.TableSchema {
	return &schema.TableSchema{
		Name: "users",
		Fields: []*schema.FieldSchema{
			{Name: "id", Type: "uuid"},
			{Name: "name", Type: "text"},
			{Name: "age", Type: "int"},
			{Name: "tags", Type: "set", TypeDef: "<text>"},
			{Name: "bio", Type: "text"},
		},
		Key:     schema.PrimaryKey{Partition: []string{"id"}},
		Indexes: []string{"name"},
		CustomIndexes: []schema.CustomIndex{
			{On: "bio", Using: "org.apache.cassandra.index.sasi.SASIIndex", Options: map[string]string{"mode": "CONTAINS"}},
		},
		MaterializedViews: map[string]schema.MaterializedView{
			"users_by_name": {Select: []string{"name", "age"}, Key: schema.PrimaryKey{Partition: []string{"name"}, Clustering: []string{"id"}}},
		},
	}
}

func normalize(t *testing.T, s *schema.TableSchema) *schema.Normalized {
	t.Helper()
	n, err := schema.Normalize(s)
	require.NoError(t, err)
	return n
}

func TestCompare_Equal(t *testing.T) {
	d := Compare(normalize(t, baseSchema()), normalize(t, baseSchema()))
	assert.True(t, d.Empty())
	assert.Empty(t, d.Fields)
}

func TestCompare_Fields(t *testing.T) {
	live := baseSchema()
	declared := baseSchema()
	declared.Fields = append(declared.Fields, &schema.FieldSchema{Name: "email", Type: "text"})
	declared.Fields[2].Type = "varint"
	declared.Fields[3].TypeDef = "<int>"
	declared.Fields[4].Static = true
	declared.Fields = append(declared.Fields[:1], declared.Fields[2:]...)

	d := Compare(normalize(t, live), normalize(t, declared))

	require.Len(t, d.Fields, 5)
	assert.Equal(t, FieldChange{Kind: KindChanged, Path: []string{"age", "type"}, Old: "int", New: "varint"}, d.Fields[0])
	assert.Equal(t, FieldChange{Kind: KindChanged, Path: []string{"bio", "static"}, Old: false, New: true}, d.Fields[1])
	assert.Equal(t, KindAdded, d.Fields[2].Kind)
	assert.Equal(t, "email", d.Fields[2].Field())
	assert.Equal(t, schema.NormalizedField{Type: "text"}, d.Fields[2].New)
	assert.Equal(t, FieldChange{Kind: KindRemoved, Path: []string{"name"}, Old: schema.NormalizedField{Type: "text"}}, d.Fields[3])
	assert.Equal(t, "typeDef", d.Fields[4].Attribute())
	assert.False(t, d.KeyChanged)
}

func TestCompare_TypeChangeWinsOverTypeDef(t *testing.T) {
	live := baseSchema()
	declared := baseSchema()
	declared.Fields[3].Type = "list"
	declared.Fields[3].TypeDef = "<int>"

	d := Compare(normalize(t, live), normalize(t, declared))
	require.Len(t, d.Fields, 1)
	assert.Equal(t, []string{"tags", "type"}, d.Fields[0].Path)
}

func TestCompare_DerivedSets(t *testing.T) {
	live := baseSchema()
	declared := baseSchema()
	declared.Indexes = []string{"values(tags)"}
	declared.CustomIndexes[0].Options["mode"] = "PREFIX"
	declared.MaterializedViews["users_by_name"] = schema.MaterializedView{
		Select: []string{"*"},
		Key:    schema.PrimaryKey{Partition: []string{"name"}, Clustering: []string{"id"}},
	}
	declared.MaterializedViews["users_by_age"] = schema.MaterializedView{
		Select: []string{"age"},
		Key:    schema.PrimaryKey{Partition: []string{"age"}, Clustering: []string{"id"}},
	}

	d := Compare(normalize(t, live), normalize(t, declared))

	assert.Empty(t, d.Fields)
	assert.Equal(t, []string{"tags"}, d.IndexesAdded)
	assert.Equal(t, []string{"name"}, d.IndexesRemoved)
	require.Len(t, d.CustomIndexesAdded, 1)
	require.Len(t, d.CustomIndexesRemoved, 1)
	assert.Equal(t, "PREFIX", d.CustomIndexesAdded[0].Options["mode"])
	assert.Equal(t, "CONTAINS", d.CustomIndexesRemoved[0].Options["mode"])
	assert.Equal(t, []string{"users_by_age", "users_by_name"}, d.ViewsAdded)
	assert.Equal(t, []string{"users_by_name"}, d.ViewsRemoved)
}

func TestCompare_KeyChanged(t *testing.T) {
	live := baseSchema()
	declared := baseSchema()
	declared.Key = schema.PrimaryKey{Partition: []string{"id"}, Clustering: []string{"name"}}
	declared.MaterializedViews = nil
	live.MaterializedViews = nil

	d := Compare(normalize(t, live), normalize(t, declared))
	assert.True(t, d.KeyChanged)
	assert.False(t, d.Empty())
}

func TestProperty_CompareSelfIsEmpty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	types := []string{"text", "int", "bigint", "uuid", "timestamp", "blob", "boolean", "varchar"}

	properties.Property("diff(S, S) is empty", prop.ForAll(
		func(typeIdx []int, indexed bool) bool {
			s := &schema.TableSchema{
				Name:   "t",
				Fields: []*schema.FieldSchema{{Name: "id", Type: "uuid"}},
				Key:    schema.PrimaryKey{Partition: []string{"id"}},
			}
			for i, ti := range typeIdx {
				name := string(rune('a' + i%26))
				if _, ok := s.Field(name); ok {
					continue
				}
				s.Fields = append(s.Fields, &schema.FieldSchema{Name: name, Type: types[ti%len(types)]})
				if indexed {
					s.Indexes = append(s.Indexes, name)
				}
			}
			n, err := schema.Normalize(s)
			if err != nil {
				return false
			}
			d := Compare(n, n)
			return d.Empty() && len(d.Fields) == 0
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestRender(t *testing.T) {
	live := baseSchema()
	declared := baseSchema()
	declared.Fields = append(declared.Fields, &schema.FieldSchema{Name: "email", Type: "text"})
	declared.Indexes = nil

	var buf bytes.Buffer
	Render(&buf, Compare(normalize(t, live), normalize(t, declared)))
	out := buf.String()
	assert.Contains(t, out, "Table: users")
	assert.Contains(t, out, "email")
	assert.Contains(t, out, string(KindAdded))
	assert.Contains(t, out, string(KindRemoved))

	buf.Reset()
	Render(&buf, Compare(normalize(t, live), normalize(t, live)))
	assert.Equal(t, "Table users: no differences found.\n", buf.String())
}
