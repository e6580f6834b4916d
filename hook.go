package vardir

import "sync"

// Hook observes value-changing writes. OnChanged runs on the goroutine
// performing the write, after the new bytes are in the window, so reading the
// variable from a hook observes the new value. Equal-bytes writes never reach
// hooks.
type Hook interface {
	OnChanged(v *Var)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(v *Var)

func (f HookFunc) OnChanged(v *Var) { f(v) }

// Layer wraps a hook with another, middleware style. Layers are composed
// once at New around the chain base; Options.Layers[0] ends up outermost, so
// on every changed write the layers run first-to-last and the base runs last.
type Layer func(next Hook) Hook

type nopHook struct{}

func (nopHook) OnChanged(v *Var) {}

func chainHooks(base Hook, layers []Layer) Hook {
	h := base
	for i := len(layers) - 1; i >= 0; i-- {
		h = layers[i](h)
	}
	return h
}

// LogLayer logs every change through logf before forwarding it.
func LogLayer(logf func(format string, args ...any)) Layer {
	return func(next Hook) Hook {
		return HookFunc(func(v *Var) {
			logf("vardir: CHANGE %s => %s", v.Path(), v.FormatValue())
			next.OnChanged(v)
		})
	}
}

// ChangeCounter counts changes per variable path. The counter itself is
// mutex-guarded so dashboards may snapshot it while the owning goroutine
// keeps writing.
type ChangeCounter struct {
	mu     sync.Mutex
	counts map[string]uint64
}

// Layer returns a chain layer that bumps the per-path count and forwards.
func (c *ChangeCounter) Layer() Layer {
	return func(next Hook) Hook {
		return HookFunc(func(v *Var) {
			c.mu.Lock()
			if c.counts == nil {
				c.counts = make(map[string]uint64)
			}
			c.counts[v.Path()]++
			c.mu.Unlock()
			next.OnChanged(v)
		})
	}
}

// Count returns the number of changes recorded for path.
func (c *ChangeCounter) Count(path string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[path]
}

// Counts returns a snapshot of all per-path counts.
func (c *ChangeCounter) Counts() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(map[string]uint64, len(c.counts))
	for k, n := range c.counts {
		m[k] = n
	}
	return m
}
