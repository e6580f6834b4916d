package vardir

import (
	"fmt"
	"strconv"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpValues
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the directory for debugging: one line per variable in
// declaration order, with DumpValues adding current values (function entries
// invoke their getters) and DumpStats appending the op counters.
func (d *Directory) Dump(f DumpFlags) string {
	var buf strings.Builder
	if f.Contains(DumpHeader) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "directory %v (%d vars, %d bytes, fp %016x)\n", d.epoch, len(d.vars), len(d.arena), d.fingerprint)
		fmt.Fprintln(&buf, dumpSep2)
	}
	for _, v := range d.vars {
		key := "-"
		if v.key != 0 {
			key = strconv.Itoa(v.key)
		}
		fmt.Fprintf(&buf, "%s %s %s[%d]", rpad(key, 4, ' '), rpad(v.path, 32, ' '), v.typ, v.size)
		if f.Contains(DumpValues) {
			fmt.Fprintf(&buf, " = %s (m%d)", v.FormatValue(), v.modCount)
		}
		fmt.Fprintln(&buf)
	}
	if f.Contains(DumpStats) {
		s := d.Stats()
		fmt.Fprintln(&buf, dumpSep2)
		fmt.Fprintf(&buf, "stats: gets = %d, sets = %d, noops = %d, calls = %d\n", s.Gets, s.Sets, s.Noops, s.Calls)
	}
	return buf.String()
}
