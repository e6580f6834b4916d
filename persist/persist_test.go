package persist_test

import (
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/andreyvit/vardir"
	"github.com/andreyvit/vardir/persist"
)

type rig struct {
	d     *vardir.Directory
	speed vardir.Ref[int32]
	ratio vardir.Ref[float64]
	label vardir.StringRef
	image vardir.BlobRef
	gain  vardir.FuncRef[float64]
}

func newRig(t testing.TB) *rig {
	t.Helper()
	var gainValue float64
	r := &rig{}
	scm := &vardir.Schema{}
	r.speed = vardir.Add[int32](scm, "/drive/speed", 0)
	r.ratio = vardir.Add(scm, "/drive/ratio", 1.0)
	r.label = vardir.AddString(scm, "/drive/label", 16, "dev")
	r.image = vardir.AddBlob(scm, "/drive/image", 4)
	r.gain = vardir.AddFunc(scm, "/drive/gain",
		func() float64 { return gainValue },
		func(v float64) { gainValue = v })
	r.d = vardir.New(scm, vardir.Options{Logf: t.Logf})
	return r
}

func openStore(t testing.TB) *persist.Store {
	t.Helper()
	f := must(os.CreateTemp("", "persist_test_*.db"))
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	s := must(persist.Open(f.Name(), persist.Options{
		Logf:      t.Logf,
		Verbose:   true,
		IsTesting: true,
	}))
	t.Cleanup(func() { ensure(s.Close()) })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openStore(t)

	a := newRig(t)
	ensure(a.speed.Set(1500))
	ensure(a.ratio.Set(0.75))
	ensure(a.label.Set("unit-4"))
	ensure(a.image.Set([]byte{0xDE, 0xAD}))
	ensure(s.Save(a.d))

	b := newRig(t)
	n := must(s.Load(b.d))
	deepEq(t, n, 4)
	deepEq(t, b.speed.Get(), 1500)
	deepEq(t, b.ratio.Get(), 0.75)
	deepEq(t, b.label.Get(), "unit-4")
	deepEq(t, b.image.Get(), []byte{0xDE, 0xAD, 0, 0})
}

func TestLoadRunsChain(t *testing.T) {
	s := openStore(t)

	a := newRig(t)
	ensure(a.speed.Set(99))
	ensure(s.Save(a.d))

	var changed []string
	var gainValue float64
	scm := &vardir.Schema{}
	speed := vardir.Add[int32](scm, "/drive/speed", 0)
	vardir.Add(scm, "/drive/ratio", 1.0)
	vardir.AddString(scm, "/drive/label", 16, "dev")
	vardir.AddBlob(scm, "/drive/image", 4)
	vardir.AddFunc(scm, "/drive/gain",
		func() float64 { return gainValue },
		func(v float64) { gainValue = v })
	d := vardir.New(scm, vardir.Options{
		Logf:     t.Logf,
		OnChange: func(v *vardir.Var) { changed = append(changed, v.Path()) },
	})

	n := must(s.Load(d))
	deepEq(t, n, 4)
	deepEq(t, speed.Get(), 99)
	// Only /drive/speed differs from the defaults, so only it notifies.
	deepEq(t, changed, []string{"/drive/speed"})
}

func TestLoadRejectsOtherLayout(t *testing.T) {
	s := openStore(t)

	a := newRig(t)
	ensure(s.Save(a.d))

	scm := &vardir.Schema{}
	vardir.Add[int64](scm, "/drive/speed", 0)
	d := vardir.New(scm, vardir.Options{Logf: t.Logf})

	_, err := s.Load(d)
	if !errors.Is(err, persist.ErrIncompatible) {
		t.Fatalf("err = %v, wanted ErrIncompatible", err)
	}
	deepEq(t, must(vardir.Get[int64](must(d.Find("/drive/speed")))), 0)
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	s := openStore(t)

	a := newRig(t)
	ensure(a.speed.Set(77))
	ensure(s.Save(a.d))

	// Rewrite the state record as a later format release would have.
	ensure(s.Bolt().Update(func(btx *bbolt.Tx) error {
		meta := btx.Bucket([]byte("meta"))
		var state map[string]any
		ensure(msgpack.Unmarshal(meta.Get([]byte("_state")), &state))
		state["v"] = 99
		return meta.Put([]byte("_state"), must(msgpack.Marshal(state)))
	}))

	b := newRig(t)
	_, err := s.Load(b.d)
	if !errors.Is(err, persist.ErrUnsupportedVersion) {
		t.Fatalf("err = %v, wanted ErrUnsupportedVersion", err)
	}
	deepEq(t, b.speed.Get(), 0)
}

func TestLoadWithoutSave(t *testing.T) {
	s := openStore(t)
	d := newRig(t).d

	_, err := s.Load(d)
	if !errors.Is(err, persist.ErrNoState) {
		t.Fatalf("err = %v, wanted ErrNoState", err)
	}
}

func TestLoadSkipsStrayRecords(t *testing.T) {
	s := openStore(t)

	a := newRig(t)
	ensure(a.speed.Set(44))
	ensure(s.Save(a.d))

	// A record under an unknown path must not break restore.
	ensure(s.Bolt().Update(func(btx *bbolt.Tx) error {
		return btx.Bucket([]byte("params")).Put([]byte("/stray"), []byte{0xC0})
	}))

	b := newRig(t)
	n := must(s.Load(b.d))
	deepEq(t, n, 4)
	deepEq(t, b.speed.Get(), 44)
}

func TestSaveOverwrites(t *testing.T) {
	s := openStore(t)

	a := newRig(t)
	ensure(a.speed.Set(1))
	ensure(s.Save(a.d))
	ensure(a.speed.Set(2))
	ensure(s.Save(a.d))

	b := newRig(t)
	n := must(s.Load(b.d))
	deepEq(t, n, 4)
	deepEq(t, b.speed.Get(), 2)
}

func deepEq[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
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
