// Package value classifies raw field values into a small closed set of shapes
// and compares them the way a polling monitor needs: tag-like lists compare as
// sets, attachment-like lists compare position by position, and blank values
// (nil, "", 0, false, empty list) never differ from each other.
package value

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"time"
)

// Kind is the structural shape of a field value
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	PrimitiveList
	ObjectList
	Object
	// MixedList is a list whose elements mix objects with primitives or hold
	// nested lists. Only its length takes part in comparisons.
	MixedList
	Unsupported
)

var kindNames = [...]string{
	Null:          "null",
	Bool:          "bool",
	Number:        "number",
	String:        "string",
	PrimitiveList: "primitive_list",
	ObjectList:    "object_list",
	Object:        "object",
	MixedList:     "mixed_list",
	Unsupported:   "unsupported",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is a field value tagged with its shape. Only the members matching Kind are set.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	// Exact is the reduced fraction of a Number known without rounding
	// (integers and decimal literals); empty for binary floats.
	Exact  string
	String string
	List   []Value
	Object map[string]Value
}

func ofInt(i int64) Value {
	return Value{Kind: Number, Number: float64(i), Exact: strconv.FormatInt(i, 10)}
}

func ofUint(u uint64) Value {
	return Value{Kind: Number, Number: float64(u), Exact: strconv.FormatUint(u, 10)}
}

// ofDecimal parses a decimal literal such as json.Number or a NUMERIC column.
// Literals that are not numbers become strings.
func ofDecimal(s string) Value {
	if r, ok := new(big.Rat).SetString(s); ok {
		f, _ := r.Float64()
		return Value{Kind: Number, Number: f, Exact: r.RatString()}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Value{Kind: Number, Number: f}
	}
	return Value{Kind: String, String: s}
}

// Of classifies a raw value as produced by a JSON decoder or an SQL scan
func Of(raw interface{}) Value {
	switch v := raw.(type) {
	case nil:
		return Value{Kind: Null}
	case Value:
		return v
	case bool:
		return Value{Kind: Bool, Bool: v}
	case string:
		return Value{Kind: String, String: v}
	case []byte:
		return Value{Kind: String, String: string(v)}
	case json.Number:
		return ofDecimal(v.String())
	case time.Time:
		return Value{Kind: String, String: v.UTC().Format(time.RFC3339Nano)}
	case float64:
		return Value{Kind: Number, Number: v}
	case float32:
		return Value{Kind: Number, Number: float64(v)}
	case int:
		return ofInt(int64(v))
	case int8:
		return ofInt(int64(v))
	case int16:
		return ofInt(int64(v))
	case int32:
		return ofInt(int64(v))
	case int64:
		return ofInt(int64(v))
	case uint:
		return ofUint(uint64(v))
	case uint8:
		return ofUint(uint64(v))
	case uint16:
		return ofUint(uint64(v))
	case uint32:
		return ofUint(uint64(v))
	case uint64:
		return ofUint(uint64(v))
	case []string:
		list := make([]Value, len(v))
		for i, s := range v {
			list[i] = Value{Kind: String, String: s}
		}
		return Value{Kind: PrimitiveList, List: list}
	case []interface{}:
		return ofList(v)
	case []map[string]interface{}:
		items := make([]interface{}, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return ofList(items)
	case map[string]interface{}:
		obj := make(map[string]Value, len(v))
		for key, item := range v {
			obj[key] = Of(item)
		}
		return Value{Kind: Object, Object: obj}
	}
	return ofReflect(raw)
}

// ofList picks the list shape from its elements. Lists mixing objects and
// primitives, or holding nested lists, are MixedList.
func ofList(items []interface{}) Value {
	list := make([]Value, len(items))
	objects, primitives, others := 0, 0, 0
	for i, item := range items {
		list[i] = Of(item)
		switch list[i].Kind {
		case Object:
			objects++
		case Null, Bool, Number, String:
			primitives++
		default:
			others++
		}
	}
	switch {
	case others > 0 || (objects > 0 && primitives > 0):
		return Value{Kind: MixedList, List: list}
	case objects > 0:
		return Value{Kind: ObjectList, List: list}
	}
	return Value{Kind: PrimitiveList, List: list}
}

// IsList reports whether the value is a sequence of any element shape
func (v Value) IsList() bool {
	switch v.Kind {
	case PrimitiveList, ObjectList, MixedList:
		return true
	}
	return false
}

// ofReflect handles named types and typed slices or maps the fast path does not cover
func ofReflect(raw interface{}) Value {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Value{Kind: Null}
		}
		return Of(rv.Elem().Interface())
	case reflect.Bool:
		return Value{Kind: Bool, Bool: rv.Bool()}
	case reflect.String:
		return Value{Kind: String, String: rv.String()}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ofInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ofUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return Value{Kind: Number, Number: rv.Float()}
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return ofList(items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{Kind: Unsupported}
		}
		obj := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			obj[iter.Key().String()] = Of(iter.Value().Interface())
		}
		return Value{Kind: Object, Object: obj}
	}
	return Value{Kind: Unsupported}
}

// IsBlank reports whether the value is one the source would omit or treat as
// empty: null, false, zero, the empty string or an empty list.
func (v Value) IsBlank() bool {
	switch v.Kind {
	case Null:
		return true
	case Bool:
		return !v.Bool
	case Number:
		return v.Number == 0 || math.IsNaN(v.Number)
	case String:
		return v.String == ""
	case PrimitiveList, ObjectList, MixedList:
		return len(v.List) == 0
	}
	return false
}
