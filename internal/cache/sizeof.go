package cache

import (
	"reflect"

	"github.com/roach88/ndicore/internal/ir"
)

// Sizer is implemented by values that know their own memory footprint.
type Sizer interface {
	SizeBytes() int64
}

// SizeOf estimates the number of bytes data occupies. Numeric slices and
// strings are exact; other values are walked by reflection.
func SizeOf(data any) int64 {
	switch v := data.(type) {
	case nil:
		return 0
	case Sizer:
		return v.SizeBytes()
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	case []float64:
		return 8 * int64(len(v))
	case []float32:
		return 4 * int64(len(v))
	case []int64:
		return 8 * int64(len(v))
	case []int32:
		return 4 * int64(len(v))
	case []int:
		return 8 * int64(len(v))
	case ir.IRValue:
		return sizeOfIR(v)
	}
	return sizeOfValue(reflect.ValueOf(data), 0)
}

func sizeOfIR(v ir.IRValue) int64 {
	switch val := v.(type) {
	case ir.IRString:
		return int64(len(val))
	case ir.IRArray:
		var n int64
		for _, e := range val {
			n += sizeOfIR(e)
		}
		return n
	case ir.IRObject:
		var n int64
		for k, e := range val {
			n += int64(len(k)) + sizeOfIR(e)
		}
		return n
	case ir.IRNull:
		return 0
	case ir.IRBool:
		return 1
	default:
		return 8
	}
}

const maxSizeDepth = 32

func sizeOfValue(v reflect.Value, depth int) int64 {
	if !v.IsValid() || depth > maxSizeDepth {
		return 0
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return 0
		}
		return sizeOfValue(v.Elem(), depth+1)
	case reflect.String:
		return int64(v.Len())
	case reflect.Slice, reflect.Array:
		elem := v.Type().Elem()
		if isFlat(elem) {
			return int64(v.Len()) * int64(elem.Size())
		}
		var n int64
		for i := 0; i < v.Len(); i++ {
			n += sizeOfValue(v.Index(i), depth+1)
		}
		return n
	case reflect.Map:
		var n int64
		iter := v.MapRange()
		for iter.Next() {
			n += sizeOfValue(iter.Key(), depth+1) + sizeOfValue(iter.Value(), depth+1)
		}
		return n
	case reflect.Struct:
		var n int64
		for i := 0; i < v.NumField(); i++ {
			n += sizeOfValue(v.Field(i), depth+1)
		}
		return n
	default:
		return int64(v.Type().Size())
	}
}

func isFlat(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}
