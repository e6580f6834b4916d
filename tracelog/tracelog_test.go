package tracelog_test

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/vardir"
	"github.com/andreyvit/vardir/tracelog"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type rig struct {
	t     testing.TB
	d     *vardir.Directory
	tap   tracelog.Tap
	speed vardir.Ref[int32]
	ratio vardir.Ref[float64]
	label vardir.StringRef

	now time.Time
}

func newRig(t testing.TB, onChange func(v *vardir.Var)) *rig {
	r := &rig{t: t, now: start}
	scm := &vardir.Schema{}
	r.speed = vardir.Add[int32](scm, "/drive/speed", 0)
	r.ratio = vardir.Add(scm, "/drive/ratio", 1.0)
	r.label = vardir.AddString(scm, "/drive/label", 8, "")
	r.d = vardir.New(scm, vardir.Options{
		Logf:     t.Logf,
		OnChange: onChange,
		Layers:   []vardir.Layer{r.tap.Layer()},
	})
	return r
}

func (r *rig) advance(d time.Duration) {
	r.now = r.now.Add(d)
}

func (r *rig) options() tracelog.Options {
	return tracelog.Options{
		Now: func() time.Time { return r.now },
		Logger: slog.New(slog.NewTextHandler(&logWriter{r.t}, &slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelDebug,
		})),
		Verbose: true,
	}
}

func (r *rig) create() (*tracelog.Writer, string) {
	fn := filepath.Join(r.t.TempDir(), "test.vartrace")
	w := must(tracelog.Create(fn, r.d, r.options()))
	r.tap.Attach(w)
	return w, fn
}

func TestTraceRoundTrip(t *testing.T) {
	r := newRig(t, nil)
	w, fn := r.create()

	ensure(r.speed.Set(100))
	r.advance(250 * time.Millisecond)
	ensure(r.ratio.Set(0.5))
	r.advance(time.Second)
	ensure(r.label.Set("unit-7"))
	ensure(w.Commit())
	ensure(w.Close())

	tr := must(tracelog.Read(fn, r.options()))
	deepEq(t, tr.Fingerprint, r.d.Fingerprint())
	deepEq(t, tr.Epoch, r.d.Epoch())
	deepEq(t, tr.StartedAt.UnixMicro(), start.UnixMicro())
	deepEq(t, len(tr.Records), 3)

	deepEq(t, tr.Records[0].Key, r.speed.Var().Key())
	deepEq(t, tr.Records[0].At.UnixMilli(), start.UnixMilli())
	deepEq(t, tr.Records[0].Data, []byte{100, 0, 0, 0})

	deepEq(t, tr.Records[1].Key, r.ratio.Var().Key())
	deepEq(t, tr.Records[1].At.UnixMilli(), start.Add(250*time.Millisecond).UnixMilli())
	deepEq(t, tr.Records[1].Data, []byte{0, 0, 0, 0, 0, 0, 0xE0, 0x3F})

	deepEq(t, tr.Records[2].Key, r.label.Var().Key())
	deepEq(t, tr.Records[2].At.UnixMilli(), start.Add(1250*time.Millisecond).UnixMilli())
	deepEq(t, tr.Records[2].Data, []byte{'u', 'n', 'i', 't', '-', '7', 0, 0})
}

func TestReplay(t *testing.T) {
	a := newRig(t, nil)
	w, fn := a.create()

	ensure(a.speed.Set(1500))
	ensure(a.ratio.Set(0.25))
	ensure(a.label.Set("run-2"))
	ensure(a.speed.Set(1600))
	ensure(w.Close())

	tr := must(tracelog.Read(fn, a.options()))
	deepEq(t, len(tr.Records), 4)

	var paths []string
	b := newRig(t, func(v *vardir.Var) {
		paths = append(paths, v.Path())
	})
	n := must(tracelog.Replay(b.d, tr, b.options()))
	deepEq(t, n, 4)
	deepEq(t, b.speed.Get(), 1600)
	deepEq(t, b.ratio.Get(), 0.25)
	deepEq(t, b.label.Get(), "run-2")
	deepEq(t, paths, []string{"/drive/speed", "/drive/ratio", "/drive/label", "/drive/speed"})
}

func TestReplayRejectsOtherLayout(t *testing.T) {
	a := newRig(t, nil)
	w, fn := a.create()
	ensure(a.speed.Set(5))
	ensure(w.Close())

	tr := must(tracelog.Read(fn, a.options()))

	scm := &vardir.Schema{}
	vardir.Add[int64](scm, "/drive/speed", 0)
	b := vardir.New(scm, vardir.Options{Logf: t.Logf})

	_, err := tracelog.Replay(b, tr, a.options())
	if !errors.Is(err, tracelog.ErrIncompatible) {
		t.Fatalf("err = %v, wanted ErrIncompatible", err)
	}
}

func TestReadDropsTornTail(t *testing.T) {
	r := newRig(t, nil)
	w, fn := r.create()

	ensure(r.speed.Set(1))
	ensure(r.ratio.Set(2.0))
	ensure(w.Commit())
	ensure(r.speed.Set(3))
	ensure(w.Close())

	st := must(os.Stat(fn))
	ensure(os.Truncate(fn, st.Size()-3))

	tr := must(tracelog.Read(fn, r.options()))
	deepEq(t, len(tr.Records), 2)
	deepEq(t, tr.Records[0].Data, []byte{1, 0, 0, 0})
	deepEq(t, tr.Records[1].Data, []byte{0, 0, 0, 0, 0, 0, 0, 0x40})
}

func TestReadDropsCorruptedRecords(t *testing.T) {
	r := newRig(t, nil)
	w, fn := r.create()

	ensure(r.speed.Set(1))
	ensure(r.ratio.Set(2.0))
	ensure(w.Close())

	data := must(os.ReadFile(fn))
	data[64+5] ^= 0xFF // inside the first record's window bytes
	ensure(os.WriteFile(fn, data, 0o666))

	tr := must(tracelog.Read(fn, r.options()))
	deepEq(t, len(tr.Records), 0)
}

func TestReadRejectsForeignFile(t *testing.T) {
	r := newRig(t, nil)
	fn := filepath.Join(t.TempDir(), "bogus.vartrace")

	ensure(os.WriteFile(fn, make([]byte, 128), 0o666))
	_, err := tracelog.Read(fn, r.options())
	if !errors.Is(err, tracelog.ErrIncompatible) {
		t.Fatalf("err = %v, wanted ErrIncompatible", err)
	}

	ensure(os.WriteFile(fn, []byte("VARTRACE"), 0o666))
	_, err = tracelog.Read(fn, r.options())
	if err == nil {
		t.Fatalf("wanted an error for a truncated header")
	}
}

func TestReadRejectsNewerVersion(t *testing.T) {
	r := newRig(t, nil)
	w, fn := r.create()
	ensure(r.speed.Set(1))
	ensure(w.Close())

	// Bump the version byte, keeping the header checksum valid.
	data := must(os.ReadFile(fn))
	data[8] = 9
	binary.LittleEndian.PutUint64(data[56:64], xxhash.Sum64(data[:56]))
	ensure(os.WriteFile(fn, data, 0o666))

	_, err := tracelog.Read(fn, r.options())
	if !errors.Is(err, tracelog.ErrUnsupportedVersion) {
		t.Fatalf("err = %v, wanted ErrUnsupportedVersion", err)
	}
}

func TestEmptyTrace(t *testing.T) {
	r := newRig(t, nil)
	w, fn := r.create()
	ensure(w.Close())

	tr := must(tracelog.Read(fn, r.options()))
	deepEq(t, tr.Fingerprint, r.d.Fingerprint())
	deepEq(t, len(tr.Records), 0)
}

func TestTapDetach(t *testing.T) {
	r := newRig(t, nil)
	w, fn := r.create()

	ensure(r.speed.Set(1))
	r.tap.Attach(nil)
	ensure(r.speed.Set(2))
	ensure(w.Close())

	deepEq(t, r.speed.Get(), 2)

	tr := must(tracelog.Read(fn, r.options()))
	deepEq(t, len(tr.Records), 1)
	deepEq(t, tr.Records[0].Data, []byte{1, 0, 0, 0})
}

func TestRecordAfterClose(t *testing.T) {
	r := newRig(t, nil)
	w, _ := r.create()
	ensure(w.Close())

	err := w.Record(1, []byte{1, 0, 0, 0})
	if err == nil {
		t.Fatalf("wanted an error for a closed writer")
	}
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	msg := string(buf)
	origLen := len(msg)
	msg = strings.TrimSuffix(msg, "\n")
	c.t.Log(msg)
	return origLen, nil
}

func deepEq[T any](t testing.TB, a, e T) bool {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
		return false
	}
	return true
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}
