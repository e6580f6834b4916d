package vardir

// Stats is a point-in-time snapshot of directory shape and op counters.
type Stats struct {
	Vars      int
	FuncVars  int
	ArenaSize int

	Gets  uint64
	Sets  uint64
	Noops uint64
	Calls uint64
}

func (s *Stats) TotalOps() uint64 {
	return s.Gets + s.Sets + s.Noops + s.Calls
}

func (d *Directory) Stats() Stats {
	result := Stats{
		Vars:      len(d.vars),
		ArenaSize: len(d.arena),
		Gets:      d.GetCount.Load(),
		Sets:      d.SetCount.Load(),
		Noops:     d.NoopCount.Load(),
		Calls:     d.CallCount.Load(),
	}
	for _, v := range d.vars {
		if v.typ.IsFunc() {
			result.FuncVars++
		}
	}
	return result
}
