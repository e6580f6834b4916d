package vardir

import "fmt"

// Type is a value-type tag of a directory variable. The set of tags is
// closed; persisted files rely on the numeric values, so they never change.
type Type uint8

const (
	TInvalid Type = 0
	TBool    Type = 1
	TInt8    Type = 2
	TInt16   Type = 3
	TInt32   Type = 4
	TInt64   Type = 5
	TUint8   Type = 6
	TUint16  Type = 7
	TUint32  Type = 8
	TUint64  Type = 9
	TFloat32 Type = 10
	TFloat64 Type = 11
	TBlob    Type = 12
	TString  Type = 13

	tFuncBit Type = 0x80
)

// FuncOf returns the tag of a function entry backed by getter/setter calls
// returning values of elem, which must be a scalar tag.
func FuncOf(elem Type) Type {
	if !elem.Fixed() {
		panic(fmt.Errorf("FuncOf: %v is not a scalar type", elem))
	}
	return elem | tFuncBit
}

// IsFunc reports whether t tags a function entry.
func (t Type) IsFunc() bool {
	return t&tFuncBit != 0
}

// Elem returns t with the function flag stripped, i.e. the value type a
// function entry produces and consumes.
func (t Type) Elem() Type {
	return t &^ tFuncBit
}

// Width returns the fixed byte width of values of this type, or 0 where the
// width is not a property of the type (blob and string sizes are declared
// per variable; function entries have no storage).
func (t Type) Width() int {
	if t.IsFunc() {
		return 0
	}
	switch t {
	case TBool, TInt8, TUint8:
		return 1
	case TInt16, TUint16:
		return 2
	case TInt32, TUint32, TFloat32:
		return 4
	case TInt64, TUint64, TFloat64:
		return 8
	default:
		return 0
	}
}

// Fixed reports whether the type has a statically known byte width.
// True exactly for the scalar tags; false for blob, string and function
// entries.
func (t Type) Fixed() bool {
	return t.Width() != 0
}

func (t Type) String() string {
	if t.IsFunc() {
		return "func:" + t.Elem().String()
	}
	switch t {
	case TBool:
		return "bool"
	case TInt8:
		return "int8"
	case TInt16:
		return "int16"
	case TInt32:
		return "int32"
	case TInt64:
		return "int64"
	case TUint8:
		return "uint8"
	case TUint16:
		return "uint16"
	case TUint32:
		return "uint32"
	case TUint64:
		return "uint64"
	case TFloat32:
		return "float32"
	case TFloat64:
		return "float64"
	case TBlob:
		return "blob"
	case TString:
		return "string"
	default:
		return fmt.Sprintf("?type(0x%02x)", uint8(t))
	}
}
