package vardir

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Directory is the built form of a schema: a fixed set of typed variables
// over a single backing arena, addressable by path and by dense integer key.
//
// Access is synchronous: accessors and notification hooks run on the calling
// goroutine, and callers serialize access themselves if they share a
// directory across goroutines. The op counters are atomics so monitoring
// surfaces may read them concurrently with access.
type Directory struct {
	schema  *Schema
	vars    []*Var
	byPath  map[string]*Var
	byKey   []*Var // dense, index = key, [0] unused
	byOff   map[int]*Var
	arena   []byte
	hook    Hook
	logf    func(format string, args ...any)
	verbose bool

	epoch       uuid.UUID
	fingerprint uint64

	GetCount  atomic.Uint64
	SetCount  atomic.Uint64
	NoopCount atomic.Uint64
	CallCount atomic.Uint64
}

type Options struct {
	Logf    func(format string, args ...any)
	Verbose bool

	// OnChange, when set, becomes the base of the notification chain instead
	// of the package no-op: the innermost hook, invoked after every layer.
	OnChange func(v *Var)

	// Layers wrap the base outermost-first and are fixed for the directory's
	// lifetime.
	Layers []Layer
}

// New builds a directory from a fully declared schema. Keys are assigned to
// storage variables in declaration order, densely from 1; function entries
// keep key 0. Defaults are written without running the notification chain.
// A schema binds to exactly one directory; a second New panics.
func New(scm *Schema, opt Options) *Directory {
	scm.init()
	if scm.dir != nil {
		panic("schema is already bound to a directory")
	}
	if opt.Logf == nil {
		opt.Logf = log.Printf
	}

	d := &Directory{
		schema:  scm,
		vars:    scm.vars,
		byPath:  scm.byPath,
		byOff:   make(map[int]*Var),
		logf:    opt.Logf,
		verbose: opt.Verbose,
		epoch:   uuid.New(),
	}
	scm.dir = d

	var arenaSize int
	key := 0
	d.byKey = append(d.byKey, nil)
	for _, v := range d.vars {
		v.dir = d
		if v.typ.IsFunc() {
			continue
		}
		key++
		v.key = key
		v.off = arenaSize
		arenaSize += v.size
		d.byKey = append(d.byKey, v)
		d.byOff[v.off] = v
	}
	d.arena = make([]byte, arenaSize)
	for _, v := range d.vars {
		if v.typ.IsFunc() {
			continue
		}
		copy(v.window(), v.def)
	}
	d.fingerprint = fingerprintVars(d.vars)

	base := Hook(nopHook{})
	if opt.OnChange != nil {
		base = HookFunc(opt.OnChange)
	}
	d.hook = chainHooks(base, opt.Layers)

	if d.verbose {
		d.logf("vardir: NEW %d vars, %d bytes, fp=%016x epoch=%v", len(d.vars), arenaSize, d.fingerprint, d.epoch)
	}
	return d
}

// Find returns the variable declared under exactly the given path. Matching
// is case-sensitive over the full string; there is no prefix or pattern
// matching. Misses return ErrNotFound wrapped with the path.
func (d *Directory) Find(path string) (*Var, error) {
	v := d.byPath[path]
	if v == nil {
		if d.verbose {
			d.logf("vardir: FIND.NOTFOUND %s", path)
		}
		return nil, varErrf(path, ErrNotFound, "")
	}
	return v, nil
}

// Vars returns every variable exactly once, in declaration order. Function
// entries appear like any other, with key 0 and a zero Buffer.
func (d *Directory) Vars() []*Var {
	return append([]*Var(nil), d.vars...)
}

func (d *Directory) Len() int {
	return len(d.vars)
}

// ByKey returns the variable with the given key, or nil when the key is 0 or
// out of range. Keys are dense, so replay and wire adapters can index
// directly.
func (d *Directory) ByKey(key int) *Var {
	if key <= 0 || key >= len(d.byKey) {
		return nil
	}
	return d.byKey[key]
}

// KeyOf resolves a storage location to the key of the variable it backs.
// Distinct variables never share a key. Zero Buffers, buffers of other
// directories and unregistered locations return ErrUnknownBuffer.
func (d *Directory) KeyOf(b Buffer) (int, error) {
	if b.dir != d {
		return 0, fmt.Errorf("vardir: %w", ErrUnknownBuffer)
	}
	v := d.byOff[b.off]
	if v == nil || v.size != b.n {
		return 0, fmt.Errorf("vardir: %w: off=%d size=%d", ErrUnknownBuffer, b.off, b.n)
	}
	return v.key, nil
}

// Epoch identifies this directory incarnation: two runs of the same program
// build directories with equal fingerprints but distinct epochs.
func (d *Directory) Epoch() uuid.UUID {
	return d.epoch
}

// Fingerprint is a hash of the ordered layout (paths, types, sizes). Two
// directories built from identical declarations agree; any layout change
// disagrees. Gates persisted-parameter restore and trace replay.
func (d *Directory) Fingerprint() uint64 {
	return d.fingerprint
}

func fingerprintVars(vars []*Var) uint64 {
	var h xxhash.Digest
	h.Reset()
	var buf [binary.MaxVarintLen64]byte
	for _, v := range vars {
		h.WriteString(v.path)
		h.Write([]byte{0, byte(v.typ)})
		n := binary.PutUvarint(buf[:], uint64(v.size))
		h.Write(buf[:n])
	}
	return h.Sum64()
}
