package script

import (
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// ObjectType is the cty capsule type carrying a host object handle. Two
// values are equal when they refer to the same object.
var ObjectType = cty.CapsuleWithOps("object", reflect.TypeOf(ObjectID(0)), &cty.CapsuleOps{
	Equals: func(a, b interface{}) cty.Value {
		return cty.BoolVal(*a.(*ObjectID) == *b.(*ObjectID))
	},
	RawEquals: func(a, b interface{}) bool {
		return *a.(*ObjectID) == *b.(*ObjectID)
	},
	GoString: func(v interface{}) string {
		return fmt.Sprintf("script.ObjectVal(%d)", uint64(*v.(*ObjectID)))
	},
})

var (
	vector2Attrs = []string{"x", "y"}
	vector3Attrs = []string{"x", "y", "z"}
	colorAttrs   = []string{"a", "b", "g", "r"}
)

// ObjectVal wraps a host object handle as a boundary value
func ObjectVal(id ObjectID) cty.Value {
	return cty.CapsuleVal(ObjectType, &id)
}

// Vector2Val builds the boundary form of a Vector2
func Vector2Val(v Vector2) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"x": cty.NumberFloatVal(v.X),
		"y": cty.NumberFloatVal(v.Y),
	})
}

// Vector3Val builds the boundary form of a Vector3
func Vector3Val(v Vector3) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"x": cty.NumberFloatVal(v.X),
		"y": cty.NumberFloatVal(v.Y),
		"z": cty.NumberFloatVal(v.Z),
	})
}

// ColorVal builds the boundary form of a Color
func ColorVal(c Color) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"r": cty.NumberFloatVal(c.R),
		"g": cty.NumberFloatVal(c.G),
		"b": cty.NumberFloatVal(c.B),
		"a": cty.NumberFloatVal(c.A),
	})
}

// ZeroValue returns the value a property of type t holds when no default is declared
func ZeroValue(t VariantType) cty.Value {
	switch t {
	case TypeBool:
		return cty.False
	case TypeInt:
		return cty.NumberIntVal(0)
	case TypeFloat:
		return cty.NumberFloatVal(0)
	case TypeString:
		return cty.StringVal("")
	case TypeVector2:
		return Vector2Val(Vector2{})
	case TypeVector3:
		return Vector3Val(Vector3{})
	case TypeColor:
		return ColorVal(Color{A: 1})
	case TypeArray:
		return cty.EmptyTupleVal
	case TypeDictionary:
		return cty.EmptyObjectVal
	case TypeObject:
		return cty.NullVal(ObjectType)
	default:
		return cty.NullVal(cty.DynamicPseudoType)
	}
}

// TypeOf reports the most specific tag describing v. Whole numbers report
// as int, vector and color shapes report as their own tags.
func TypeOf(v cty.Value) VariantType {
	if v == cty.NilVal || v.IsNull() {
		if v != cty.NilVal && v.Type().Equals(ObjectType) {
			return TypeObject
		}
		return TypeNil
	}
	if !v.IsKnown() {
		return TypeVariant
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return TypeBool
	case ty == cty.Number:
		if v.AsBigFloat().IsInt() {
			return TypeInt
		}
		return TypeFloat
	case ty == cty.String:
		return TypeString
	case ty.Equals(ObjectType):
		return TypeObject
	case ty.IsObjectType() || ty.IsMapType():
		switch {
		case hasNumericShape(v, vector2Attrs):
			return TypeVector2
		case hasNumericShape(v, vector3Attrs):
			return TypeVector3
		case hasNumericShape(v, colorAttrs):
			return TypeColor
		}
		return TypeDictionary
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		return TypeArray
	}
	return TypeVariant
}

// Coerce validates v against the declared type want and returns its
// normalized form. Coercion is strict: int widens to float, float narrows
// to int only when whole, and strings never parse into numbers.
func Coerce(v cty.Value, want VariantType) (cty.Value, error) {
	out, ok := coerce(v, want)
	if !ok {
		return cty.NilVal, NewTypeMismatch("", "", noArg, want, TypeOf(v))
	}
	return out, nil
}

// Coercible reports whether v can be represented as want
func Coercible(v cty.Value, want VariantType) bool {
	_, ok := coerce(v, want)
	return ok
}

func coerce(v cty.Value, want VariantType) (cty.Value, bool) {
	if v == cty.NilVal {
		v = cty.NullVal(cty.DynamicPseudoType)
	}
	if !v.IsWhollyKnown() {
		return cty.NilVal, false
	}

	if v.IsNull() {
		switch want {
		case TypeNil, TypeVariant:
			return cty.NullVal(cty.DynamicPseudoType), true
		case TypeObject:
			return cty.NullVal(ObjectType), true
		}
		return cty.NilVal, false
	}

	ty := v.Type()
	switch want {
	case TypeVariant:
		if !representable(v) {
			return cty.NilVal, false
		}
		return v, true

	case TypeBool:
		if ty != cty.Bool {
			return cty.NilVal, false
		}
		return v, true

	case TypeInt:
		if ty != cty.Number {
			return cty.NilVal, false
		}
		var i int64
		if err := gocty.FromCtyValue(v, &i); err != nil {
			return cty.NilVal, false
		}
		return cty.NumberIntVal(i), true

	case TypeFloat:
		if ty != cty.Number {
			return cty.NilVal, false
		}
		f, _ := v.AsBigFloat().Float64()
		return cty.NumberFloatVal(f), true

	case TypeString:
		if ty != cty.String {
			return cty.NilVal, false
		}
		return v, true

	case TypeVector2:
		return coerceShape(v, vector2Attrs)
	case TypeVector3:
		return coerceShape(v, vector3Attrs)
	case TypeColor:
		return coerceShape(v, colorAttrs)

	case TypeArray:
		if !(ty.IsTupleType() || ty.IsListType() || ty.IsSetType()) {
			return cty.NilVal, false
		}
		if v.LengthInt() == 0 {
			return cty.EmptyTupleVal, true
		}
		elems := v.AsValueSlice()
		for _, e := range elems {
			if !representable(e) {
				return cty.NilVal, false
			}
		}
		return cty.TupleVal(elems), true

	case TypeDictionary:
		if !(ty.IsObjectType() || ty.IsMapType()) {
			return cty.NilVal, false
		}
		if length(v) == 0 {
			return cty.EmptyObjectVal, true
		}
		attrs := v.AsValueMap()
		for _, e := range attrs {
			if !representable(e) {
				return cty.NilVal, false
			}
		}
		return cty.ObjectVal(attrs), true

	case TypeObject:
		if !ty.Equals(ObjectType) {
			return cty.NilVal, false
		}
		return v, true
	}

	// TypeNil only accepts null, handled above.
	return cty.NilVal, false
}

func coerceShape(v cty.Value, attrs []string) (cty.Value, bool) {
	if !hasNumericShape(v, attrs) {
		return cty.NilVal, false
	}
	out := make(map[string]cty.Value, len(attrs))
	for _, name := range attrs {
		f, _ := element(v, name).AsBigFloat().Float64()
		out[name] = cty.NumberFloatVal(f)
	}
	return cty.ObjectVal(out), true
}

// hasNumericShape reports whether v is an object or map with exactly the
// given keys, each holding a known, non-null number.
func hasNumericShape(v cty.Value, attrs []string) bool {
	ty := v.Type()
	if !(ty.IsObjectType() || ty.IsMapType()) || v.IsNull() || !v.IsKnown() {
		return false
	}
	if length(v) != len(attrs) {
		return false
	}
	for _, name := range attrs {
		if ty.IsObjectType() && !ty.HasAttribute(name) {
			return false
		}
		if ty.IsMapType() && v.HasIndex(cty.StringVal(name)).False() {
			return false
		}
		elem := element(v, name)
		if elem.IsNull() || !elem.IsKnown() || elem.Type() != cty.Number {
			return false
		}
	}
	return true
}

// element reads a named entry from an object or map
func element(v cty.Value, name string) cty.Value {
	if v.Type().IsObjectType() {
		return v.GetAttr(name)
	}
	return v.Index(cty.StringVal(name))
}

func length(v cty.Value) int {
	if v.Type().IsObjectType() {
		return len(v.Type().AttributeTypes())
	}
	return v.LengthInt()
}

func representable(v cty.Value) bool {
	if !v.IsKnown() {
		return false
	}
	if v.IsNull() {
		return true
	}
	ty := v.Type()
	switch {
	case ty.IsPrimitiveType(), ty.Equals(ObjectType):
		return true
	case ty.IsCapsuleType():
		return false
	case ty.IsObjectType(), ty.IsMapType(), ty.IsTupleType(), ty.IsListType(), ty.IsSetType():
		it := v.ElementIterator()
		for it.Next() {
			_, e := it.Element()
			if !representable(e) {
				return false
			}
		}
		return true
	}
	return false
}

// ToNative converts a boundary value into the Go value script code works with.
// hint selects float64 over int64 for whole numbers declared as float.
func ToNative(v cty.Value, hint VariantType) any {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return v.True()
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if hint != TypeFloat && bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i
			}
		}
		f, _ := bf.Float64()
		return f
	case ty == cty.String:
		return v.AsString()
	case ty.Equals(ObjectType):
		return *(v.EncapsulatedValue().(*ObjectID))
	}

	if hint != TypeDictionary {
		switch TypeOf(v) {
		case TypeVector2:
			return Vector2{X: numberAttr(v, "x"), Y: numberAttr(v, "y")}
		case TypeVector3:
			return Vector3{X: numberAttr(v, "x"), Y: numberAttr(v, "y"), Z: numberAttr(v, "z")}
		case TypeColor:
			return Color{R: numberAttr(v, "r"), G: numberAttr(v, "g"), B: numberAttr(v, "b"), A: numberAttr(v, "a")}
		}
	}

	switch {
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, length(v))
		it := v.ElementIterator()
		for it.Next() {
			k, e := it.Element()
			out[k.AsString()] = ToNative(e, TypeVariant)
		}
		return out
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, e := it.Element()
			out = append(out, ToNative(e, TypeVariant))
		}
		return out
	}
	return nil
}

func numberAttr(v cty.Value, name string) float64 {
	f, _ := element(v, name).AsBigFloat().Float64()
	return f
}

// FromNative converts a Go value produced by script code into a boundary value
func FromNative(x any) (cty.Value, error) {
	switch val := x.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return val, nil
	case bool:
		return cty.BoolVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case ObjectID:
		return ObjectVal(val), nil
	case *ObjectID:
		if val == nil {
			return cty.NullVal(ObjectType), nil
		}
		return ObjectVal(*val), nil
	case Vector2:
		return Vector2Val(val), nil
	case Vector3:
		return Vector3Val(val), nil
	case Color:
		return ColorVal(val), nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return gocty.ToCtyValue(x, cty.Number)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return cty.EmptyTupleVal, nil
		}
		if rv.Len() == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, rv.Len())
		for i := range elems {
			e, err := FromNative(rv.Index(i).Interface())
			if err != nil {
				return cty.NilVal, fmt.Errorf("index %d: %w", i, err)
			}
			elems[i] = e
		}
		return cty.TupleVal(elems), nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return cty.NilVal, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		if rv.Len() == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := iter.Key().String()
			e, err := FromNative(iter.Value().Interface())
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", key, err)
			}
			attrs[key] = e
		}
		return cty.ObjectVal(attrs), nil

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return cty.NullVal(cty.DynamicPseudoType), nil
		}
		return FromNative(rv.Elem().Interface())
	}
	return cty.NilVal, fmt.Errorf("unsupported value of type %T", x)
}

// FormatValue renders v for logs, inspectors and the CLI
func FormatValue(v cty.Value) string {
	if v == cty.NilVal || v.IsNull() {
		return "null"
	}
	if !v.IsKnown() {
		return "(unknown)"
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return fmt.Sprintf("%q", v.AsString())
	case ty == cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case ty == cty.Bool:
		return fmt.Sprintf("%t", v.True())
	case ty.Equals(ObjectType):
		return (*(v.EncapsulatedValue().(*ObjectID))).String()
	case ty.IsObjectType() || ty.IsMapType():
		m := v.AsValueMap()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + FormatValue(m[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		parts := make([]string, 0, v.LengthInt())
		for _, e := range v.AsValueSlice() {
			parts = append(parts, FormatValue(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ty.FriendlyName()
}
