package schema

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/koba/cqlsync/internal/cql"
)

// Declaration file layout:
//
//	tables:
//	  users:
//	    fields:
//	      id: uuid
//	      name: {type: text, required: true}
//	      tags: set<text>
//	      created: {type: timestamp, default: {$db_function: toTimestamp(now())}}
//	    key: [[id], created]
//	    clustering_order: {created: desc}
//	    indexes: [name, keys(tags)]
//	    materialized_views:
//	      users_by_name:
//	        select: ["*"]
//	        key: [[name], id, created]
type declFile struct {
	Tables map[string]tableDecl `yaml:"tables"`
}

type tableDecl struct {
	Fields            yaml.Node           `yaml:"fields"`
	Key               yaml.Node           `yaml:"key"`
	ClusteringOrder   map[string]string   `yaml:"clustering_order"`
	Indexes           []string            `yaml:"indexes"`
	CustomIndexes     []customIndexDecl   `yaml:"custom_indexes"`
	MaterializedViews map[string]viewDecl `yaml:"materialized_views"`
	Options           optionsDecl         `yaml:"options"`
}

type fieldDecl struct {
	Type          string `yaml:"type"`
	TypeDef       string `yaml:"typedef"`
	Default       any    `yaml:"default"`
	Required      bool   `yaml:"required"`
	IgnoreDefault bool   `yaml:"ignore_default"`
	Static        bool   `yaml:"static"`
}

type customIndexDecl struct {
	On      string            `yaml:"on"`
	Using   string            `yaml:"using"`
	Options map[string]string `yaml:"options"`
}

type viewDecl struct {
	Select          []string          `yaml:"select"`
	Key             yaml.Node         `yaml:"key"`
	ClusteringOrder map[string]string `yaml:"clustering_order"`
}

type optionsDecl struct {
	Timestamps *struct {
		CreatedAt string `yaml:"created_at"`
		UpdatedAt string `yaml:"updated_at"`
	} `yaml:"timestamps"`
	Versions *struct {
		Key string `yaml:"key"`
	} `yaml:"versions"`
}

// LoadFile reads table declarations from a YAML file.
func LoadFile(path string) ([]*TableSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads table declarations from YAML. Tables are returned sorted by name
// with fields in file order.
func Load(r io.Reader) ([]*TableSchema, error) {
	var file declFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode schema file: %w", err)
	}

	names := make([]string, 0, len(file.Tables))
	for name := range file.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make([]*TableSchema, 0, len(names))
	for _, name := range names {
		t, err := file.Tables[name].build(name)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (d tableDecl) build(name string) (*TableSchema, error) {
	s := &TableSchema{
		Name:            name,
		ClusteringOrder: d.ClusteringOrder,
		Indexes:         d.Indexes,
	}

	if d.Fields.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("fields must be a mapping")
	}
	for i := 0; i+1 < len(d.Fields.Content); i += 2 {
		f, err := decodeField(d.Fields.Content[i].Value, d.Fields.Content[i+1])
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, f)
	}

	key, err := decodeKey(&d.Key)
	if err != nil {
		return nil, err
	}
	s.Key = key

	for _, ci := range d.CustomIndexes {
		s.CustomIndexes = append(s.CustomIndexes, CustomIndex(ci))
	}
	if len(d.MaterializedViews) > 0 {
		s.MaterializedViews = make(map[string]MaterializedView, len(d.MaterializedViews))
		for vname, v := range d.MaterializedViews {
			vkey, err := decodeKey(&v.Key)
			if err != nil {
				return nil, fmt.Errorf("materialized view %s: %w", vname, err)
			}
			s.MaterializedViews[vname] = MaterializedView{Select: v.Select, Key: vkey, ClusteringOrder: v.ClusteringOrder}
		}
	}
	if ts := d.Options.Timestamps; ts != nil {
		s.Options.Timestamps = &Timestamps{CreatedAt: ts.CreatedAt, UpdatedAt: ts.UpdatedAt}
	}
	if v := d.Options.Versions; v != nil {
		s.Options.Versions = &Versions{Key: v.Key}
	}
	return s, nil
}

func decodeField(name string, node *yaml.Node) (*FieldSchema, error) {
	var fd fieldDecl
	switch node.Kind {
	case yaml.ScalarNode:
		fd.Type = node.Value
	case yaml.MappingNode:
		if err := node.Decode(&fd); err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("field %s: expected a type or a mapping", name)
	}
	if fd.TypeDef == "" {
		fd.Type, fd.TypeDef = ParseType(fd.Type)
	}
	return &FieldSchema{
		Name:          name,
		Type:          fd.Type,
		TypeDef:       fd.TypeDef,
		Default:       decodeDefault(fd.Default),
		Required:      fd.Required,
		IgnoreDefault: fd.IgnoreDefault,
		Static:        fd.Static,
	}, nil
}

func decodeDefault(v any) any {
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		if fn, ok := m["$db_function"].(string); ok {
			return cql.Func(fn)
		}
	}
	return v
}

// decodeKey accepts "id", [id, ck] and [[pk1, pk2], ck].
func decodeKey(node *yaml.Node) (PrimaryKey, error) {
	var key PrimaryKey
	switch node.Kind {
	case yaml.ScalarNode:
		key.Partition = []string{node.Value}
	case yaml.SequenceNode:
		for i, item := range node.Content {
			switch {
			case i == 0 && item.Kind == yaml.SequenceNode:
				if err := item.Decode(&key.Partition); err != nil {
					return key, fmt.Errorf("invalid partition key: %w", err)
				}
			case i == 0 && item.Kind == yaml.ScalarNode:
				key.Partition = []string{item.Value}
			case item.Kind == yaml.ScalarNode:
				key.Clustering = append(key.Clustering, item.Value)
			default:
				return key, fmt.Errorf("invalid key element at position %d", i)
			}
		}
	case 0:
		return key, fmt.Errorf("key is required")
	default:
		return key, fmt.Errorf("key must be a column or a list")
	}
	return key, nil
}
