// Package tracelog records variable mutations into append-only trace files.
//
// Intended use cases:
//
//  1. Flight-recorder debugging: capture every change leading up to a fault.
//  2. Feeding captured tuning sessions into offline visualization tools.
//  3. Replaying a sequence of parameter changes against a fresh process.
//
// A trace carries the layout fingerprint and epoch of the directory it was
// captured from, a base timestamp, and a flat sequence of mutation frames.
// Commit frames carry a running checksum; readers keep only records covered
// by a valid commit and trim everything after the first torn or corrupted
// frame.
//
// File format:
//
//   - file = traceHeader frame*
//   - traceHeader = magic:64 version:8 pad:8 flags:16 pad:32 fingerprint:64
//     epoch:128 startedAt:64 reserved:64 checksum:64
//   - frame = record | commit
//   - record = size<<1:uvarint msDelta:uvarint key:uvarint bytes*
//   - commit = checksum:64 (low bit of the first byte forced to 1)
package tracelog

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/andreyvit/vardir"
)

var (
	ErrIncompatible       = fmt.Errorf("incompatible trace")
	ErrUnsupportedVersion = fmt.Errorf("unsupported trace version")
	errCorruptedFile      = fmt.Errorf("corrupted trace file")
)

type Options struct {
	DebugName string
	Now       func() time.Time

	Logger  *slog.Logger
	Verbose bool
}

const (
	magic          = 0x4543415254524156 // "VARTRACE" as little-endian uint64
	version0 uint8 = 0
)

const traceHeaderSize = 8 * 8

type traceHeader struct {
	Magic       uint64
	Version     uint8
	_           uint8
	Flags       uint16
	_           uint32
	Fingerprint uint64
	Epoch       [16]byte
	StartedAt   int64 // unix microseconds
	_           uint64
	Checksum    uint64
}

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
)

const maxRecordDataSize = 1 << 24

// Writer appends mutation frames to a trace file. Safe for concurrent use.
// Write failures latch: the first error is logged, and every later call
// returns it.
type Writer struct {
	debugName string
	now       func() time.Time
	logger    *slog.Logger
	verbose   bool

	mu          sync.Mutex
	f           *os.File
	err         error
	last        time.Time
	hash        xxhash.Digest
	uncommitted bool
}

// Create starts a new trace of d, truncating whatever is at path.
func Create(path string, d *vardir.Directory, o Options) (*Writer, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DebugName == "" {
		o.DebugName = "trace"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, err
	}
	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	w := &Writer{
		debugName: o.DebugName,
		now:       o.Now,
		logger:    o.Logger,
		verbose:   o.Verbose,
		f:         f,
		last:      o.Now(),
	}
	w.hash.Reset()

	var hbuf [traceHeaderSize]byte
	fillTraceHeader(hbuf[:], d, w.last, &w.hash)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	ok = true
	return w, nil
}

// A Tap is a notification layer that can be pointed at a Writer after the
// directory is built. vardir.New fixes the chain before Create can run (the
// trace header needs the directory's fingerprint), so the tap sits in the
// chain from the start and begins recording once Attach is called.
//
//	var tap tracelog.Tap
//	d := vardir.New(scm, vardir.Options{Layers: []vardir.Layer{tap.Layer()}})
//	w, err := tracelog.Create(path, d, tracelog.Options{})
//	tap.Attach(w)
type Tap struct {
	w atomic.Pointer[Writer]
}

// Layer returns the chain layer. Mutations pass through unrecorded until a
// writer is attached. Write failures latch inside Record and surface on
// Commit or Close.
func (t *Tap) Layer() vardir.Layer {
	return func(next vardir.Hook) vardir.Hook {
		return vardir.HookFunc(func(v *vardir.Var) {
			if w := t.w.Load(); w != nil {
				w.Record(v.Key(), v.Buffer().Bytes())
			}
			next.OnChanged(v)
		})
	}
}

// Attach starts recording mutations into w. Attach(nil) stops recording,
// which allows rotating to a fresh trace file.
func (t *Tap) Attach(w *Writer) {
	t.w.Store(w)
}

// Record appends one mutation frame. The frame is not durable until the next
// Commit.
func (w *Writer) Record(key int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	if w.f == nil {
		return os.ErrClosed
	}

	var deltaMS int64
	if d := w.now().Sub(w.last); d > 0 {
		deltaMS = int64(d / time.Millisecond)
		w.last = w.last.Add(time.Duration(deltaMS) * time.Millisecond)
	}

	var hbuf [3 * binary.MaxVarintLen64]byte
	h := hbuf[:0]
	h = binary.AppendUvarint(h, uint64(len(data))<<recordFlagShift)
	h = binary.AppendUvarint(h, uint64(deltaMS))
	h = binary.AppendUvarint(h, uint64(key))

	w.uncommitted = true

	w.hash.Write(h)
	if _, err := w.f.Write(h); err != nil {
		return w.fail(err)
	}
	w.hash.Write(data)
	if _, err := w.f.Write(data); err != nil {
		return w.fail(err)
	}

	if w.verbose {
		w.logger.LogAttrs(context.Background(), slog.LevelDebug, "tracelog: REC", slog.String("trace", w.debugName), slog.Int("key", key), slog.Int("size", len(data)))
	}
	return nil
}

// Commit writes a commit frame covering everything recorded so far. Readers
// discard records past the last valid commit frame.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commit_locked()
}

func (w *Writer) commit_locked() error {
	if w.err != nil {
		return w.err
	}
	if !w.uncommitted {
		return nil
	}
	w.uncommitted = false

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], w.hash.Sum64())
	buf[0] |= recordFlagCommit

	w.hash.Write(buf[:])
	if _, err := w.f.Write(buf[:]); err != nil {
		return w.fail(err)
	}

	if w.verbose {
		w.logger.LogAttrs(context.Background(), slog.LevelDebug, "tracelog: COMMIT", slog.String("trace", w.debugName))
	}
	return nil
}

// Close commits pending records and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return w.err
	}
	err := w.commit_locked()
	if cerr := w.f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	w.f = nil
	return err
}

func (w *Writer) fail(err error) error {
	if err == nil {
		return nil
	}

	w.logger.LogAttrs(context.Background(), slog.LevelError, "tracelog: failed", slog.String("trace", w.debugName), slog.Any("err", err))

	if w.err == nil {
		w.err = err
	}
	return err
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillTraceHeader(buf []byte, d *vardir.Directory, startedAt time.Time, hash *xxhash.Digest) {
	h := traceHeader{
		Magic:       magic,
		Version:     version0,
		Fingerprint: d.Fingerprint(),
		Epoch:       d.Epoch(),
		StartedAt:   startedAt.UnixMicro(),
	}

	b := bytes.NewBuffer(buf[:0])
	if err := binary.Write(b, binary.LittleEndian, h); err != nil {
		panic(err)
	}
	if b.Len() != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:traceHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[traceHeaderSize-8:], hash.Sum64())
	hash.Write(buf[traceHeaderSize-8 : traceHeaderSize])
}

// Trace is a fully parsed trace file. Records holds committed mutations only.
type Trace struct {
	Fingerprint uint64
	Epoch       uuid.UUID
	StartedAt   time.Time
	Records     []Record
}

// Record is a single captured mutation: the full window content of the
// variable with the given key, at the given reconstructed time.
type Record struct {
	At   time.Time
	Key  int
	Data []byte
}

// Read parses a trace file. A torn tail or a checksum mismatch drops the
// uncommitted suffix with a warning rather than failing the whole read.
func Read(path string, o Options) (*Trace, error) {
	if o.DebugName == "" {
		o.DebugName = "trace"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < traceHeaderSize {
		return nil, errCorruptedFile
	}

	var h traceHeader
	hr := bytes.NewReader(data[:traceHeaderSize])
	if err := binary.Read(hr, binary.LittleEndian, &h); err != nil {
		panic(err)
	}
	if hr.Len() != 0 {
		panic("internal size mismatch")
	}

	if h.Magic != magic {
		return nil, ErrIncompatible
	}
	if xxhash.Sum64(data[:traceHeaderSize-8]) != h.Checksum {
		return nil, errCorruptedFile
	}
	if h.Version > version0 {
		return nil, ErrUnsupportedVersion
	}

	t := &Trace{
		Fingerprint: h.Fingerprint,
		Epoch:       uuid.UUID(h.Epoch),
		StartedAt:   time.UnixMicro(h.StartedAt),
	}

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(data[:traceHeaderSize])

	var (
		pos       = traceHeaderSize
		cur       = t.StartedAt
		committed = 0
	)
	for pos < len(data) {
		if data[pos]&recordFlagCommit != 0 {
			if pos+8 > len(data) {
				break
			}
			var cbuf [8]byte
			binary.LittleEndian.PutUint64(cbuf[:], hash.Sum64())
			cbuf[0] |= recordFlagCommit
			if !bytes.Equal(data[pos:pos+8], cbuf[:]) {
				break
			}
			hash.Write(data[pos : pos+8])
			pos += 8
			committed = len(t.Records)
			continue
		}

		frameStart := pos
		sizeAndFlags, n1 := binary.Uvarint(data[pos:])
		if n1 <= 0 {
			break
		}
		pos += n1
		size := int(sizeAndFlags >> recordFlagShift)
		if size > maxRecordDataSize {
			break
		}
		deltaMS, n2 := binary.Uvarint(data[pos:])
		if n2 <= 0 {
			break
		}
		pos += n2
		key, n3 := binary.Uvarint(data[pos:])
		if n3 <= 0 {
			break
		}
		pos += n3
		if pos+size > len(data) {
			break
		}

		cur = cur.Add(time.Duration(deltaMS) * time.Millisecond)
		t.Records = append(t.Records, Record{
			At:   cur,
			Key:  int(key),
			Data: append([]byte(nil), data[pos:pos+size]...),
		})
		hash.Write(data[frameStart : pos+size])
		pos += size
	}

	dropped := len(t.Records) - committed
	if dropped > 0 || pos < len(data) {
		o.Logger.LogAttrs(context.Background(), slog.LevelWarn, "tracelog: dropping uncommitted tail",
			slog.String("trace", o.DebugName), slog.Int("dropped_records", dropped), slog.Int("dropped_bytes", len(data)-pos))
		t.Records = t.Records[:committed]
	}

	if o.Verbose {
		o.Logger.LogAttrs(context.Background(), slog.LevelDebug, "tracelog: READ", slog.String("trace", o.DebugName), slog.Int("records", len(t.Records)))
	}
	return t, nil
}

// Replay applies a trace to a directory built from the same declarations,
// gated by the layout fingerprint. Every applied record runs the directory's
// notification chain the same way a live mutation would.
func Replay(d *vardir.Directory, t *Trace, o Options) (int, error) {
	if o.DebugName == "" {
		o.DebugName = "trace"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if t.Fingerprint != d.Fingerprint() {
		return 0, fmt.Errorf("%w: trace fp %016x, directory fp %016x", ErrIncompatible, t.Fingerprint, d.Fingerprint())
	}

	var n int
	for _, rec := range t.Records {
		v := d.ByKey(rec.Key)
		if v == nil {
			o.Logger.LogAttrs(context.Background(), slog.LevelWarn, "tracelog: REPLAY.SKIP", slog.String("trace", o.DebugName), slog.Int("key", rec.Key))
			continue
		}
		if err := vardir.SetRaw(v, rec.Data); err != nil {
			return n, err
		}
		n++
	}

	if o.Verbose {
		o.Logger.LogAttrs(context.Background(), slog.LevelDebug, "tracelog: REPLAY", slog.String("trace", o.DebugName), slog.Int("records", n))
	}
	return n, nil
}
