// Package persist saves and restores directory parameter values across
// process runs, on a Bolt file with msgpack records. A layout fingerprint
// gates restore: parameters saved under a different declaration set never
// load.
package persist

import (
	"bytes"
	"fmt"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/andreyvit/vardir"
)

var (
	ErrIncompatible       = fmt.Errorf("incompatible parameter store")
	ErrUnsupportedVersion = fmt.Errorf("unsupported parameter store version")
	ErrNoState            = fmt.Errorf("no saved parameters")
)

const formatVersion = 1

var (
	metaBucket   = []byte("meta")
	paramsBucket = []byte("params")
	stateKey     = []byte("_state")
)

type Options struct {
	Logf      func(format string, args ...any)
	Verbose   bool
	IsTesting bool
}

// Store is an open parameter store file. One store holds the latest saved
// value set of one directory layout; Save overwrites the previous set.
type Store struct {
	bdb     *bbolt.DB
	logf    func(format string, args ...any)
	verbose bool
}

func Open(path string, opt Options) (*Store, error) {
	if opt.Logf == nil {
		opt.Logf = log.Printf
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 16
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0o666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("persist: %w", err)
	}
	return &Store{
		bdb:     bdb,
		logf:    opt.Logf,
		verbose: opt.Verbose,
	}, nil
}

func (s *Store) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *Store) Close() error {
	return s.bdb.Close()
}

// storeState is the meta document written alongside the values, analogous to
// a table state: it pins the format and the layout the values belong to.
type storeState struct {
	FormatVersion int       `msgpack:"v"`
	Fingerprint   uint64    `msgpack:"fp"`
	Epoch         []byte    `msgpack:"e"`
	SavedAt       time.Time `msgpack:"t"`
	Count         int       `msgpack:"n"`
}

type varRecord struct {
	Type     uint8  `msgpack:"y"`
	Size     int    `msgpack:"s"`
	Data     []byte `msgpack:"d"`
	ModCount uint64 `msgpack:"m"`
}

// Save writes the current value of every storage variable. Function entries
// have no stored value and are skipped. The previous saved set is replaced
// wholesale, so no stale paths survive a layout change.
func (s *Store) Save(d *vardir.Directory) error {
	now := time.Now()
	epoch := d.Epoch()

	err := s.bdb.Update(func(btx *bbolt.Tx) error {
		if btx.Bucket(paramsBucket) != nil {
			if err := btx.DeleteBucket(paramsBucket); err != nil {
				return err
			}
		}
		params, err := btx.CreateBucketIfNotExists(paramsBucket)
		if err != nil {
			return err
		}
		meta, err := btx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}

		var count int
		for _, v := range d.Vars() {
			if v.IsFunc() {
				continue
			}
			rec := varRecord{
				Type:     uint8(v.Type()),
				Size:     v.Size(),
				Data:     v.Buffer().Bytes(),
				ModCount: v.ModCount(),
			}
			if err := params.Put([]byte(v.Path()), encodeMsgpack(rec)); err != nil {
				return err
			}
			count++
		}

		state := storeState{
			FormatVersion: formatVersion,
			Fingerprint:   d.Fingerprint(),
			Epoch:         epoch[:],
			SavedAt:       now,
			Count:         count,
		}
		return meta.Put(stateKey, encodeMsgpack(state))
	})
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if s.verbose {
		s.logf("persist: SAVE %d vars, fp=%016x", d.Len(), d.Fingerprint())
	}
	return nil
}

// Load restores saved values into d and returns the number of variables
// restored. The saved fingerprint must match d's; otherwise ErrIncompatible
// and nothing changes. Unknown paths and shape drift are skipped with a log
// line. Restores are ordinary mutations and run d's notification chain.
func (s *Store) Load(d *vardir.Directory) (int, error) {
	var n int
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		meta := btx.Bucket(metaBucket)
		if meta == nil {
			return ErrNoState
		}
		stateRaw := meta.Get(stateKey)
		if stateRaw == nil {
			return ErrNoState
		}
		var state storeState
		if err := decodeMsgpack(stateRaw, &state); err != nil {
			return fmt.Errorf("decoding store state: %w", err)
		}
		if state.FormatVersion > formatVersion {
			return ErrUnsupportedVersion
		}
		if state.Fingerprint != d.Fingerprint() {
			return fmt.Errorf("%w: saved fp %016x, directory fp %016x", ErrIncompatible, state.Fingerprint, d.Fingerprint())
		}

		params := btx.Bucket(paramsBucket)
		if params == nil {
			return ErrNoState
		}
		return params.ForEach(func(k, raw []byte) error {
			path := string(k)
			v, err := d.Find(path)
			if err != nil {
				s.logf("persist: LOAD.SKIP %s: %v", path, err)
				return nil
			}
			var rec varRecord
			if err := decodeMsgpack(raw, &rec); err != nil {
				s.logf("persist: LOAD.SKIP %s: %v", path, err)
				return nil
			}
			if vardir.Type(rec.Type) != v.Type() || rec.Size != v.Size() {
				s.logf("persist: LOAD.SKIP %s: saved %v[%d], directory has %v[%d]", path, vardir.Type(rec.Type), rec.Size, v.Type(), v.Size())
				return nil
			}
			if err := vardir.SetRaw(v, rec.Data); err != nil {
				s.logf("persist: LOAD.SKIP %s: %v", path, err)
				return nil
			}
			n++
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("persist: %w", err)
	}
	if s.verbose {
		s.logf("persist: LOAD %d vars, fp=%016x", n, d.Fingerprint())
	}
	return n, nil
}

func encodeMsgpack(v any) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("persist: failed to encode %T: %w", v, err))
	}
	return buf.Bytes()
}

func decodeMsgpack(raw []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(raw)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	return err
}
