package vardir

import "strings"

// Get reads a scalar variable. The Go type T must match the variable's
// declared type exactly (for function entries, the declared element type);
// otherwise ErrTypeMismatch. Reading a function entry invokes its getter.
func Get[T Value](v *Var) (T, error) {
	want := TypeFor[T]()
	d := v.dir
	if v.typ.IsFunc() {
		if v.typ.Elem() != want {
			var zero T
			return zero, typeMismatchErr(v, want)
		}
		d.CallCount.Add(1)
		s := v.call(0, false)
		if d.verbose {
			d.logf("vardir: GET %s => %s", v.path, formatScalar(want, s))
		}
		return valueOf[T](s), nil
	}
	if v.typ != want {
		var zero T
		return zero, typeMismatchErr(v, want)
	}
	d.GetCount.Add(1)
	s := loadScalar(v.window())
	if d.verbose {
		d.logf("vardir: GET %s => %s", v.path, formatScalar(want, s))
	}
	return valueOf[T](s), nil
}

// Set writes a scalar variable. The Go type T must match the declared type
// exactly; otherwise ErrTypeMismatch and nothing is written. Writing a
// function entry invokes its setter with the value and never touches any
// buffer or hook. For storage variables, a write that leaves the bytes equal
// is suppressed: no window write and no notification.
func Set[T Value](v *Var, value T) error {
	want := TypeFor[T]()
	d := v.dir
	if v.typ.IsFunc() {
		if v.typ.Elem() != want {
			return typeMismatchErr(v, want)
		}
		if v.ro {
			return varErrf(v.path, ErrReadOnly, "function entry has no setter")
		}
		d.CallCount.Add(1)
		if d.verbose {
			d.logf("vardir: CALL %s(%s)", v.path, formatScalar(want, scalarOf(value)))
		}
		v.call(scalarOf(value), true)
		return nil
	}
	if v.typ != want {
		return typeMismatchErr(v, want)
	}
	var buf [8]byte
	data := buf[:v.size]
	storeScalar(data, scalarOf(value))
	v.commit(data)
	return nil
}

// GetString reads a string variable.
func GetString(v *Var) (string, error) {
	if v.typ != TString {
		return "", typeMismatchErr(v, TString)
	}
	v.dir.GetCount.Add(1)
	return cstr(v.window()), nil
}

// SetString writes a string variable. The longest storable value is one byte
// short of the declared capacity (NUL terminator); longer values fail with
// ErrTooLarge. NUL is the terminator, so a value containing one fails with
// ErrBadValue. Nothing is written on failure.
func SetString(v *Var, s string) error {
	if v.typ != TString {
		return typeMismatchErr(v, TString)
	}
	if len(s) > v.size-1 {
		return varErrf(v.path, ErrTooLarge, "%d bytes into capacity %d", len(s), v.size)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return varErrf(v.path, ErrBadValue, "string contains a NUL byte")
	}
	data := make([]byte, v.size)
	copy(data, s)
	v.commit(data)
	return nil
}

// GetBlob returns a copy of the variable's whole window.
func GetBlob(v *Var) ([]byte, error) {
	if v.typ != TBlob {
		return nil, typeMismatchErr(v, TBlob)
	}
	v.dir.GetCount.Add(1)
	w := v.window()
	return append([]byte(nil), w...), nil
}

// SetBlob writes a blob variable. Shorter data zero-fills the tail of the
// window; data longer than the window fails with ErrTooLarge and nothing is
// written.
func SetBlob(v *Var, b []byte) error {
	if v.typ != TBlob {
		return typeMismatchErr(v, TBlob)
	}
	if len(b) > v.size {
		return varErrf(v.path, ErrTooLarge, "%d bytes into capacity %d", len(b), v.size)
	}
	data := make([]byte, v.size)
	copy(data, b)
	v.commit(data)
	return nil
}

// GetRaw returns a copy of the raw window bytes of a storage variable.
// Function entries have no raw form.
func GetRaw(v *Var) ([]byte, error) {
	if v.typ.IsFunc() {
		return nil, varErrf(v.path, ErrTypeMismatch, "function entry has no storage")
	}
	v.dir.GetCount.Add(1)
	return append([]byte(nil), v.window()...), nil
}

// SetRaw writes raw window bytes: the escape hatch for parameter restore,
// trace replay and debug pokes. Fixed-size types require exactly Size bytes
// (ErrWrongSize otherwise); blob and string accept up to Size with the tail
// zero-filled (ErrTooLarge beyond). String windows must arrive in canonical
// form, terminated and zero-padded (ErrBadValue otherwise). Change detection
// and the notification chain apply as for any other write.
func SetRaw(v *Var, data []byte) error {
	if v.typ.IsFunc() {
		return varErrf(v.path, ErrTypeMismatch, "function entry has no storage")
	}
	if v.typ.Fixed() {
		if len(data) != v.size {
			return varErrf(v.path, ErrWrongSize, "raw %v value must be %d bytes, got %d", v.typ, v.size, len(data))
		}
		v.commit(data)
		return nil
	}
	if len(data) > v.size {
		return varErrf(v.path, ErrTooLarge, "%d bytes into capacity %d", len(data), v.size)
	}
	w := data
	if len(data) < v.size {
		w = make([]byte, v.size)
		copy(w, data)
	}
	if v.typ == TString {
		if err := checkStringWindow(v, w); err != nil {
			return err
		}
	}
	v.commit(w)
	return nil
}

// Ref is a typed reference to a scalar variable, returned by Add. Generated
// declaration code holds refs for compile-time-safe access: the type always
// matches, so Get cannot fail.
type Ref[T Value] struct {
	v *Var
}

func (r Ref[T]) Var() *Var { return r.v }

func (r Ref[T]) Get() T {
	return must(Get[T](r.v))
}

func (r Ref[T]) Set(value T) error {
	return Set(r.v, value)
}

// StringRef is a typed reference to a string variable, returned by AddString.
type StringRef struct {
	v *Var
}

func (r StringRef) Var() *Var { return r.v }

func (r StringRef) Get() string {
	return must(GetString(r.v))
}

// Set fails with ErrTooLarge when s exceeds the declared capacity.
func (r StringRef) Set(s string) error {
	return SetString(r.v, s)
}

// BlobRef is a typed reference to a blob variable, returned by AddBlob.
type BlobRef struct {
	v *Var
}

func (r BlobRef) Var() *Var { return r.v }

func (r BlobRef) Get() []byte {
	return must(GetBlob(r.v))
}

func (r BlobRef) Set(b []byte) error {
	return SetBlob(r.v, b)
}

// FuncRef is a typed reference to a function entry, returned by AddFunc.
type FuncRef[T Value] struct {
	v *Var
}

func (r FuncRef[T]) Var() *Var { return r.v }

func (r FuncRef[T]) Get() T {
	return must(Get[T](r.v))
}

// Set fails with ErrReadOnly when the entry was declared without a setter.
func (r FuncRef[T]) Set(value T) error {
	return Set(r.v, value)
}
