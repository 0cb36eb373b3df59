package schema

import (
	"fmt"
	"math"
	"math/big"
	"net"
	"net/netip"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/koba/cqlsync/internal/cql"
)

// TypeInfo is a type catalog entry.
type TypeInfo struct {
	Name string
	// Collection types take type parameters and support collection operators.
	Collection bool
	Validator  func(value any) bool
}

var catalog = map[string]TypeInfo{
	"ascii":     {Name: "ascii", Validator: isASCII},
	"bigint":    {Name: "bigint", Validator: intRange(math.MinInt64, math.MaxInt64)},
	"blob":      {Name: "blob", Validator: isBlob},
	"boolean":   {Name: "boolean", Validator: isBool},
	"counter":   {Name: "counter", Validator: intRange(math.MinInt64, math.MaxInt64)},
	"date":      {Name: "date", Validator: isTime},
	"decimal":   {Name: "decimal", Validator: isDecimal},
	"double":    {Name: "double", Validator: isNumber},
	"duration":  {Name: "duration", Validator: isDuration},
	"float":     {Name: "float", Validator: isNumber},
	"frozen":    {Name: "frozen", Collection: true, Validator: isFrozen},
	"inet":      {Name: "inet", Validator: isInet},
	"int":       {Name: "int", Validator: intRange(math.MinInt32, math.MaxInt32)},
	"list":      {Name: "list", Collection: true, Validator: isSequence},
	"map":       {Name: "map", Collection: true, Validator: isMap},
	"set":       {Name: "set", Collection: true, Validator: isSequence},
	"smallint":  {Name: "smallint", Validator: intRange(math.MinInt16, math.MaxInt16)},
	"text":      {Name: "text", Validator: isString},
	"time":      {Name: "time", Validator: isDuration},
	"timestamp": {Name: "timestamp", Validator: isTimestamp},
	"timeuuid":  {Name: "timeuuid", Validator: isTimeUUID},
	"tinyint":   {Name: "tinyint", Validator: intRange(math.MinInt8, math.MaxInt8)},
	"tuple":     {Name: "tuple", Collection: true, Validator: isSequence},
	"uuid":      {Name: "uuid", Validator: isUUID},
	"varchar":   {Name: "varchar", Validator: isString},
	"varint":    {Name: "varint", Validator: isVarint},
}

// LookupType resolves a type name in the catalog.
func LookupType(name string) (TypeInfo, bool) {
	t, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// IsCollection reports whether typ accepts collection operators.
func IsCollection(typ string) bool {
	switch strings.ToLower(typ) {
	case "map", "list", "set", "frozen":
		return true
	}
	return false
}

// ParseType splits a full type such as "map<text, int>" into "map" and
// "<text, int>".
func ParseType(full string) (typ, typeDef string) {
	full = strings.TrimSpace(full)
	if i := strings.IndexByte(full, '<'); i >= 0 {
		return strings.ToLower(strings.TrimSpace(full[:i])), full[i:]
	}
	return strings.ToLower(full), ""
}

func defaultMessage(value any, field, typ string) string {
	return fmt.Sprintf("invalid value %v for field %q (type %s)", value, field, typ)
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isASCII(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isBlob(v any) bool {
	_, ok := v.([]byte)
	return ok
}

func isTime(v any) bool {
	_, ok := v.(time.Time)
	return ok
}

func isTimestamp(v any) bool {
	switch v.(type) {
	case time.Time, int64:
		return true
	}
	return false
}

func isDuration(v any) bool {
	_, ok := v.(time.Duration)
	return ok
}

// intRange accepts Go integers, and integral floats coming from decoded
// documents, within [lo, hi].
func intRange(lo, hi int64) func(any) bool {
	return func(v any) bool {
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n := rv.Int()
			return n >= lo && n <= hi
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n := rv.Uint()
			return n <= math.MaxInt64 && int64(n) <= hi
		case reflect.Float32, reflect.Float64:
			f := rv.Float()
			return f == math.Trunc(f) && f >= float64(lo) && f <= float64(hi)
		}
		return false
	}
}

func isNumber(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isDecimal(v any) bool {
	switch v.(type) {
	case *big.Float, *big.Rat, *big.Int:
		return true
	}
	return isNumber(v)
}

func isVarint(v any) bool {
	if _, ok := v.(*big.Int); ok {
		return true
	}
	return intRange(math.MinInt64, math.MaxInt64)(v)
}

func isInet(v any) bool {
	switch t := v.(type) {
	case net.IP:
		return t != nil
	case netip.Addr:
		return t.IsValid()
	case string:
		return net.ParseIP(t) != nil
	}
	return false
}

// Strings are accepted for uuid and timeuuid columns and parsed by the
// driver at bind time; typed values are checked here.
func parseUUID(v any) (uuid.UUID, bool) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, true
	case [16]byte:
		return uuid.UUID(t), true
	}
	return uuid.Nil, false
}

func isUUID(v any) bool {
	if _, ok := v.(string); ok {
		return true
	}
	_, ok := parseUUID(v)
	return ok
}

func isTimeUUID(v any) bool {
	if _, ok := v.(string); ok {
		return true
	}
	u, ok := parseUUID(v)
	return ok && u.Version() == 1
}

func isSequence(v any) bool {
	if _, ok := v.([]byte); ok {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	}
	return false
}

func isMap(v any) bool {
	if reflect.ValueOf(v).Kind() == reflect.Map {
		return true
	}
	_, ok := cql.AsDoc(v)
	return ok
}

func isFrozen(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct, reflect.Pointer:
		return true
	}
	return false
}
