package migrate

import "slices"

// wideningSources maps a target type to the types it can be altered from in
// place. Names are normalized (varchar is text).
var wideningSources = map[string][]string{
	"blob": {
		"ascii", "bigint", "boolean", "date", "decimal", "double", "float", "inet",
		"int", "smallint", "text", "time", "timestamp", "timeuuid", "tinyint", "uuid", "varint",
	},
	"varint": {"bigint", "int", "smallint", "tinyint"},
	"text":   {"ascii"},
	"uuid":   {"timeuuid"},
}

// CanWiden reports whether a column of type from can be altered to type to
// without rewriting data.
func CanWiden(from, to string) bool {
	return slices.Contains(wideningSources[to], from)
}
