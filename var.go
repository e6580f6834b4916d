package vardir

import (
	"bytes"
	"strconv"
)

// Var is a single directory entry: a named, typed variable backed by a window
// of the directory's arena, or by a getter/setter pair for function entries.
// Vars are created during schema declaration and owned by the directory after
// New; all fields are fixed for the directory's lifetime except the value
// bytes and the modification counter.
type Var struct {
	dir  *Directory
	path string
	typ  Type
	size int // window size in bytes; 0 for function entries
	off  int // arena offset; -1 for function entries
	key  int // dense key from 1; 0 for function entries

	// function entries only
	call func(scalar uint64, set bool) uint64
	ro   bool

	def      []byte // default window contents, written at New
	modCount uint64
}

// Path returns the full '/'-delimited name, e.g. "/drive/status/speed".
func (v *Var) Path() string { return v.path }

func (v *Var) Type() Type { return v.typ }

// Size returns the byte size of the backing window: the type's width for
// scalars, the declared capacity for blobs and strings, 0 for function
// entries.
func (v *Var) Size() int { return v.size }

// Key returns the stable dense integer key assigned at New, or 0 for
// function entries, which have none.
func (v *Var) Key() int { return v.key }

func (v *Var) IsFunc() bool { return v.typ.IsFunc() }

// Buffer returns the variable's storage location, or a zero Buffer for
// function entries.
func (v *Var) Buffer() Buffer {
	if v.typ.IsFunc() {
		return Buffer{}
	}
	return Buffer{v.dir, v.off, v.size}
}

// ModCount returns the number of value-changing writes since New. Equal-bytes
// sets do not count.
func (v *Var) ModCount() uint64 { return v.modCount }

func (v *Var) String() string {
	return v.path
}

// window returns the live arena bytes backing v. Never call for function
// entries.
func (v *Var) window() []byte {
	return v.dir.arena[v.off : v.off+v.size]
}

// commit is the single mutation path: every set funnels through here after
// type checks. Writes data into the window unless it matches the current
// bytes, then runs the notification chain. data must be exactly v.size bytes.
func (v *Var) commit(data []byte) {
	d := v.dir
	w := v.window()
	if bytes.Equal(w, data) {
		d.NoopCount.Add(1)
		if d.verbose {
			d.logf("vardir: SET.NOOP %s => %s", v.path, v.FormatValue())
		}
		return
	}
	copy(w, data)
	v.modCount++
	d.SetCount.Add(1)
	if d.verbose {
		d.logf("vardir: SET %s => %s m=%d", v.path, v.FormatValue(), v.modCount)
	}
	d.hook.OnChanged(v)
}

// Float returns the current value of a numeric or bool storage variable
// widened to float64, for export to metrics systems. ok is false for function
// entries, strings and blobs. Does not touch the access counters.
func (v *Var) Float() (value float64, ok bool) {
	if !v.typ.Fixed() {
		return 0, false
	}
	return scalarToFloat(v.typ, loadScalar(v.window())), true
}

// FormatValue renders the current value for logs and dumps. Function entries
// invoke their getter. Does not touch the access counters.
func (v *Var) FormatValue() string {
	t := v.typ
	if t.IsFunc() {
		return formatScalar(t.Elem(), v.call(0, false))
	}
	switch t {
	case TBlob:
		return hexstr(v.window())
	case TString:
		return strconv.Quote(cstr(v.window()))
	default:
		return formatScalar(t, loadScalar(v.window()))
	}
}

// Buffer is a storage location inside a directory's arena: the window backing
// one variable. It is a location, not a snapshot; Bytes returns the live
// window. Function entries have no buffer and yield the zero Buffer.
type Buffer struct {
	dir *Directory
	off int
	n   int
}

func (b Buffer) IsZero() bool { return b.dir == nil }

func (b Buffer) Offset() int { return b.off }

func (b Buffer) Size() int { return b.n }

// Bytes returns the live backing window. Reading it directly is fine under
// the synchronous access model; mutations must go through the accessors so
// that change detection and the notification chain work.
func (b Buffer) Bytes() []byte {
	return b.dir.arena[b.off : b.off+b.n]
}

// cstr reads a NUL-terminated string out of a window.
func cstr(w []byte) string {
	if i := bytes.IndexByte(w, 0); i >= 0 {
		return string(w[:i])
	}
	return string(w)
}

// checkStringWindow verifies the canonical window form of a string value: a
// terminator within the capacity and only zeroes after it. Equal logical
// values must be equal bytes, or change detection breaks.
func checkStringWindow(v *Var, w []byte) error {
	i := bytes.IndexByte(w, 0)
	if i < 0 {
		return varErrf(v.path, ErrBadValue, "string window has no terminator")
	}
	for _, b := range w[i:] {
		if b != 0 {
			return varErrf(v.path, ErrBadValue, "string window has data past the terminator")
		}
	}
	return nil
}
