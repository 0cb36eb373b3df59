package schema

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func richSchema() *TableSchema {
	return &TableSchema{
		Name: "events",
		Fields: []*FieldSchema{
			{Name: "tenant", Type: "text"},
			{Name: "day", Type: "date"},
			{Name: "at", Type: "timestamp"},
			{Name: "id", Type: "timeuuid"},
			{Name: "kind", Type: "varchar"},
			{Name: "attrs", Type: "map", TypeDef: "<varchar, Int>"},
			{Name: "labels", Type: "set", TypeDef: "<text>"},
			{Name: "owner", Type: "text", Static: true},
			{Name: "body", Type: "blob"},
		},
		Key:             PrimaryKey{Partition: []string{"tenant", "day"}, Clustering: []string{"at", "id"}},
		ClusteringOrder: map[string]string{"at": "desc"},
		Indexes:         []string{"kind", `keys("attrs")`, "values(labels)", "entries(attrs)"},
		CustomIndexes: []CustomIndex{
			{On: "body", Using: "org.example.BodyIndex", Options: map[string]string{"mode": "CONTAINS", "analyzed": "true"}},
			{On: `"owner"`, Using: "org.example.SASI", Options: map[string]string{"mode": "PREFIX"}},
		},
		MaterializedViews: map[string]MaterializedView{
			"events_by_kind": {
				Select: []string{"*"},
				Key:    PrimaryKey{Partition: []string{"kind"}, Clustering: []string{"tenant", "day", "at", "id"}},
			},
			"events_by_owner": {
				Select:          []string{"owner", "body"},
				Key:             PrimaryKey{Partition: []string{"owner"}, Clustering: []string{"tenant", "day", "at", "id"}},
				ClusteringOrder: map[string]string{"at": "Desc"},
			},
		},
	}
}

// permute shuffles every order-insensitive part of s.
func permute(s *TableSchema, seed int64) *TableSchema {
	out := s.Clone()
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(out.Fields), func(i, j int) { out.Fields[i], out.Fields[j] = out.Fields[j], out.Fields[i] })
	r.Shuffle(len(out.Indexes), func(i, j int) { out.Indexes[i], out.Indexes[j] = out.Indexes[j], out.Indexes[i] })
	r.Shuffle(len(out.CustomIndexes), func(i, j int) {
		out.CustomIndexes[i], out.CustomIndexes[j] = out.CustomIndexes[j], out.CustomIndexes[i]
	})
	for name, v := range out.MaterializedViews {
		r.Shuffle(len(v.Select), func(i, j int) { v.Select[i], v.Select[j] = v.Select[j], v.Select[i] })
		out.MaterializedViews[name] = v
	}
	return out
}

func TestProperty_NormalizeOrderInsensitive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base, err := Normalize(richSchema())
	require.NoError(t, err)

	properties.Property("permuted declarations normalize to the same value", prop.ForAll(
		func(seed int64) bool {
			n, err := Normalize(permute(richSchema(), seed))
			if err != nil {
				return false
			}
			return n.Equal(base)
		},
		gen.Int64(),
	))

	properties.Property("normalize is idempotent", prop.ForAll(
		func(seed int64) bool {
			once, err := Normalize(permute(richSchema(), seed))
			if err != nil {
				return false
			}
			twice, err := Normalize(once.Table())
			if err != nil {
				return false
			}
			return twice.Equal(once)
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestNormalize(t *testing.T) {
	n, err := Normalize(richSchema())
	require.NoError(t, err)

	assert.Equal(t, NormalizedField{Type: "text"}, n.Fields["kind"])
	assert.Equal(t, NormalizedField{Type: "map", TypeDef: "<text,int>"}, n.Fields["attrs"])
	assert.True(t, n.Fields["owner"].Static)
	assert.Equal(t, map[string]string{"at": "DESC", "id": "ASC"}, n.ClusteringOrder)
	assert.Equal(t, []string{"entries(attrs)", "keys(attrs)", "kind", "labels"}, n.Indexes)

	require.Len(t, n.CustomIndexes, 2)
	assert.Less(t, n.CustomIndexes[0].Hash, n.CustomIndexes[1].Hash)

	byKind := n.MaterializedViews["events_by_kind"]
	assert.Equal(t, []string{"at", "attrs", "body", "day", "id", "kind", "labels", "owner", "tenant"}, byKind.Select)
	assert.Equal(t, map[string]string{"tenant": "ASC", "day": "ASC", "at": "ASC", "id": "ASC"}, byKind.ClusteringOrder)

	byOwner := n.MaterializedViews["events_by_owner"]
	assert.Equal(t, []string{"at", "body", "day", "id", "owner", "tenant"}, byOwner.Select)
	assert.Equal(t, "DESC", byOwner.ClusteringOrder["at"])
}

func TestNormalize_SkipsVirtualFields(t *testing.T) {
	n, err := Normalize(usersSchema())
	require.NoError(t, err)
	assert.NotContains(t, n.Fields, "display")
	assert.Len(t, n.Fields, 7)
}

func TestNormalize_UnknownType(t *testing.T) {
	s := richSchema()
	s.Fields[0].Type = "string"
	_, err := Normalize(s)
	assert.Error(t, err)
}

func TestCanonicalIndex(t *testing.T) {
	tests := []struct {
		in, want, column string
	}{
		{"name", "name", "name"},
		{`"Name"`, "Name", "Name"},
		{"values(tags)", "tags", "tags"},
		{`KEYS( "attrs" )`, "keys(attrs)", "attrs"},
		{"entries(attrs)", "entries(attrs)", "attrs"},
		{"full(frozen_list)", "full(frozen_list)", "frozen_list"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalIndex(tt.in))
			assert.Equal(t, tt.column, IndexColumn(tt.in))
		})
	}
}

func TestCustomIndexHash(t *testing.T) {
	a := CustomIndex{On: "body", Using: "cls", Options: map[string]string{"a": "1", "b": "2"}}
	b := CustomIndex{On: `"body"`, Using: "cls", Options: map[string]string{"b": "2", "a": "1"}}
	c := CustomIndex{On: "body", Using: "cls", Options: map[string]string{"a": "1"}}

	assert.Equal(t, CustomIndexHash(a), CustomIndexHash(b))
	assert.NotEqual(t, CustomIndexHash(a), CustomIndexHash(c))
	assert.Len(t, CustomIndexHash(a), 32)
	assert.Equal(t, CustomIndexHash(CustomIndex{On: "x", Using: "y"}),
		CustomIndexHash(CustomIndex{On: "x", Using: "y", Options: map[string]string{}}))
}
