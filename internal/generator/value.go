package generator

import (
	"fmt"
	"math"
	"reflect"

	"github.com/koba/cqlsync/internal/cql"
	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/schema"
)

// Expr is a compiled value. Bound expressions carry one parameter for their
// placeholder; unbound ones are literal fragments such as database functions.
type Expr struct {
	Fragment string
	Param    any
	Bound    bool
}

func bound(fragment string, param any) Expr {
	return Expr{Fragment: fragment, Param: param, Bound: true}
}

// CompileValue compiles a single field value.
//
// nil and cql.Unset bind as-is, cql.Func is emitted verbatim, a slice on a
// non-collection field is flattened into one bound slice (IN operands) and a
// counter field compiles to an increment or decrement by the absolute value.
// Anything else is validated and bound.
func CompileValue(t *schema.Table, field string, value any) (Expr, error) {
	if cql.IsNull(value) {
		return bound("?", value), nil
	}
	if fn, ok := value.(cql.Func); ok {
		return Expr{Fragment: string(fn)}, nil
	}

	typ, err := t.FieldType(field)
	if err != nil {
		return Expr{}, err
	}

	if items, ok := asSlice(value); ok && !schema.IsCollection(typ) {
		params := make([]any, 0, len(items))
		for _, item := range items {
			e, err := CompileValue(t, field, item)
			if err != nil {
				return Expr{}, err
			}
			if e.Bound {
				params = append(params, e.Param)
			} else {
				params = append(params, e.Fragment)
			}
		}
		return bound("?", params), nil
	}

	if err := t.Validate(field, value); err != nil {
		return Expr{}, err
	}

	if typ == "counter" {
		n, ok := toInt64(value)
		if !ok {
			return Expr{}, errs.Newf(errs.CategoryValidator, errs.CodeInvalidValue,
				"counter field %q requires an integer, got %T", field, value)
		}
		if n >= 0 {
			return bound(fmt.Sprintf("%s + ?", cql.Quote(field)), n), nil
		}
		if n == math.MinInt64 {
			return Expr{}, errs.Newf(errs.CategoryValidator, errs.CodeInvalidValue,
				"counter field %q decrement %d is out of range", field, n)
		}
		return bound(fmt.Sprintf("%s - ?", cql.Quote(field)), -n), nil
	}

	return bound("?", value), nil
}

// asSlice returns the elements of a slice value. Byte slices are blobs and
// documents are not sequences.
func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []byte, cql.M:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		return int64(u), u <= math.MaxInt64
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}
