package vardir

import (
	"encoding/binary"
	"math"
	"strconv"
)

// Value enumerates the Go types storable in scalar variables. The mapping to
// tags is exact: declare a variable with the Go type you will access it with.
type Value interface {
	bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// TypeFor returns the tag corresponding to the Go scalar type T.
func TypeFor[T Value]() Type {
	var zero T
	switch any(zero).(type) {
	case bool:
		return TBool
	case int8:
		return TInt8
	case int16:
		return TInt16
	case int32:
		return TInt32
	case int64:
		return TInt64
	case uint8:
		return TUint8
	case uint16:
		return TUint16
	case uint32:
		return TUint32
	case uint64:
		return TUint64
	case float32:
		return TFloat32
	case float64:
		return TFloat64
	default:
		panic("unreachable")
	}
}

// Scalar values travel through a uint64 lane: integers sign-extend on the way
// in and truncate to their width on the way out, floats carry their bit
// pattern at their natural width. Only the low Width() bytes of the lane are
// ever stored.

func scalarOf[T Value](value T) uint64 {
	switch v := any(value).(type) {
	case bool:
		if v {
			return 1
		}
		return 0
	case int8:
		return uint64(v)
	case int16:
		return uint64(v)
	case int32:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint8:
		return uint64(v)
	case uint16:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case float32:
		return uint64(math.Float32bits(v))
	case float64:
		return math.Float64bits(v)
	default:
		panic("unreachable")
	}
}

func valueOf[T Value](s uint64) T {
	var zero T
	switch p := any(&zero).(type) {
	case *bool:
		*p = s != 0
	case *int8:
		*p = int8(s)
	case *int16:
		*p = int16(s)
	case *int32:
		*p = int32(s)
	case *int64:
		*p = int64(s)
	case *uint8:
		*p = uint8(s)
	case *uint16:
		*p = uint16(s)
	case *uint32:
		*p = uint32(s)
	case *uint64:
		*p = s
	case *float32:
		*p = math.Float32frombits(uint32(s))
	case *float64:
		*p = math.Float64frombits(s)
	default:
		panic("unreachable")
	}
	return zero
}

// Windows hold scalars little-endian at the type's width.

func storeScalar(b []byte, s uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(s)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(s))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(s))
	case 8:
		binary.LittleEndian.PutUint64(b, s)
	default:
		panic("bad scalar width")
	}
}

func loadScalar(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		panic("bad scalar width")
	}
}

// formatScalar renders the scalar s of type t for logs and dumps.
func formatScalar(t Type, s uint64) string {
	switch t {
	case TBool:
		if s != 0 {
			return "true"
		}
		return "false"
	case TInt8:
		return strconv.FormatInt(int64(int8(s)), 10)
	case TInt16:
		return strconv.FormatInt(int64(int16(s)), 10)
	case TInt32:
		return strconv.FormatInt(int64(int32(s)), 10)
	case TInt64:
		return strconv.FormatInt(int64(s), 10)
	case TUint8, TUint16, TUint32, TUint64:
		return strconv.FormatUint(s, 10)
	case TFloat32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(s))), 'g', -1, 32)
	case TFloat64:
		return strconv.FormatFloat(math.Float64frombits(s), 'g', -1, 64)
	default:
		return "?scalar(0x" + strconv.FormatUint(s, 16) + ")"
	}
}

// scalarToFloat widens the scalar s of type t to float64 for metric export.
func scalarToFloat(t Type, s uint64) float64 {
	switch t {
	case TBool:
		if s != 0 {
			return 1
		}
		return 0
	case TInt8:
		return float64(int8(s))
	case TInt16:
		return float64(int16(s))
	case TInt32:
		return float64(int32(s))
	case TInt64:
		return float64(int64(s))
	case TUint8, TUint16, TUint32, TUint64:
		return float64(s)
	case TFloat32:
		return float64(math.Float32frombits(uint32(s)))
	case TFloat64:
		return math.Float64frombits(s)
	default:
		return 0
	}
}
