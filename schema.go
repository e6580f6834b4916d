package vardir

import (
	"fmt"
	"strings"
)

// Schema is the declaration phase of a directory: a program (usually
// generated declaration code) registers every variable up front, then builds
// the directory once with New. The zero value is ready to use. Declaration
// order is significant: enumeration follows it and keys are assigned in it.
//
// Registration problems are programmer errors and panic; there is nothing a
// caller can do about a duplicate path at runtime.
type Schema struct {
	vars   []*Var
	byPath map[string]*Var
	dir    *Directory // set once the schema is built; a schema binds to exactly one directory
}

func (scm *Schema) init() {
	if scm.byPath == nil {
		scm.byPath = make(map[string]*Var)
	}
}

// Vars returns the declared variables in declaration order.
func (scm *Schema) Vars() []*Var {
	return append([]*Var(nil), scm.vars...)
}

func (scm *Schema) add(path string, typ Type, size int) *Var {
	scm.init()
	if scm.dir != nil {
		panic(fmt.Errorf("cannot add %s: schema is already bound to a directory", path))
	}
	validatePath(path)
	if scm.byPath[path] != nil {
		panic(fmt.Errorf("duplicate variable path %q", path))
	}
	v := &Var{
		path: path,
		typ:  typ,
		size: size,
		off:  -1,
	}
	scm.vars = append(scm.vars, v)
	scm.byPath[path] = v
	return v
}

// Add declares a scalar variable with a default value and returns a typed
// reference to it.
func Add[T Value](scm *Schema, path string, def T) Ref[T] {
	typ := TypeFor[T]()
	v := scm.add(path, typ, typ.Width())
	v.def = make([]byte, v.size)
	storeScalar(v.def, scalarOf(def))
	return Ref[T]{v}
}

// AddString declares a string variable with a fixed capacity of size bytes.
// Strings are stored NUL-terminated, so the longest storable value is size-1
// bytes.
func AddString(scm *Schema, path string, size int, def string) StringRef {
	if size < 2 {
		panic(fmt.Errorf("%s: string capacity must be at least 2, got %d", path, size))
	}
	if len(def) > size-1 {
		panic(fmt.Errorf("%s: default %q does not fit capacity %d", path, def, size))
	}
	if strings.IndexByte(def, 0) >= 0 {
		panic(fmt.Errorf("%s: default %q contains a NUL byte", path, def))
	}
	v := scm.add(path, TString, size)
	v.def = make([]byte, size)
	copy(v.def, def)
	return StringRef{v}
}

// AddBlob declares a raw byte window of the given size, initially zeroed.
func AddBlob(scm *Schema, path string, size int) BlobRef {
	if size < 1 {
		panic(fmt.Errorf("%s: blob size must be positive, got %d", path, size))
	}
	v := scm.add(path, TBlob, size)
	v.def = make([]byte, size)
	return BlobRef{v}
}

// AddFunc declares a function entry: reads invoke get, writes invoke set with
// the value. Function entries have no backing buffer and no key, and writes
// to them never run the notification chain. A nil set makes the entry
// read-only.
func AddFunc[T Value](scm *Schema, path string, get func() T, set func(T)) FuncRef[T] {
	if get == nil {
		panic(fmt.Errorf("%s: function entry requires a getter", path))
	}
	v := scm.add(path, FuncOf(TypeFor[T]()), 0)
	v.ro = set == nil
	v.call = func(scalar uint64, isSet bool) uint64 {
		if isSet {
			set(valueOf[T](scalar))
			return 0
		}
		return scalarOf(get())
	}
	return FuncRef[T]{v}
}

func validatePath(path string) {
	if path == "" {
		panic("variable path cannot be empty")
	}
	if path[0] != '/' {
		panic(fmt.Errorf("variable path %q must start with a slash", path))
	}
	rem := path[1:]
	for {
		seg, rest, more := strings.Cut(rem, "/")
		if seg == "" {
			panic(fmt.Errorf("variable path %q has an empty segment", path))
		}
		if !more {
			break
		}
		rem = rest
	}
}
