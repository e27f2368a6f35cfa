package registry

import (
	"sync"
	"sync/atomic"

	"github.com/lightforgemedia/go-jsonipc/pkg/reactive"
)

// Property is one cached remote property.
type Property struct {
	State *reactive.State[any]
	gen   atomic.Uint64

	fetchMu sync.Mutex
}

// Begin starts a fetch and returns its generation.
func (p *Property) Begin() uint64 {
	return p.gen.Add(1)
}

// Fetch begins a fetch and runs send with its generation while holding the
// property's fetch lock, so generations are issued in the order their
// requests are written.
func (p *Property) Fetch(send func(gen uint64) error) error {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()
	return send(p.Begin())
}

// Commit stores v unless a newer fetch began after gen. It reports whether
// the value was applied.
func (p *Property) Commit(gen uint64, v any) bool {
	if p.gen.Load() != gen {
		return false
	}
	p.State.Set(v)
	return true
}

// Props is the per-object property cache and call chain.
type Props struct {
	mu         sync.Mutex
	entries    map[string]*Property
	unwatchers []func()
	tail       chan struct{}
	disposed   bool
}

func newProps() *Props {
	return &Props{entries: make(map[string]*Property)}
}

// Property returns the cache entry for name, creating it seeded with dflt.
// created is true for the caller that installed the entry. A disposed bag
// hands out detached entries that are never stored.
func (p *Props) Property(name string, dflt any) (prop *Property, created bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return &Property{State: reactive.NewState(dflt)}, false
	}
	if prop, ok := p.entries[name]; ok {
		return prop, false
	}
	prop = &Property{State: reactive.NewState(dflt)}
	p.entries[name] = prop
	return prop, true
}

// Lookup returns an existing entry.
func (p *Props) Lookup(name string) (*Property, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prop, ok := p.entries[name]
	return prop, ok
}

// Len is the number of cached properties.
func (p *Props) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// OnDispose queues fn for teardown. On a disposed bag fn runs right away.
func (p *Props) OnDispose(fn func()) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		fn()
		return
	}
	p.unwatchers = append(p.unwatchers, fn)
	p.mu.Unlock()
}

// Disposed reports whether Dispose has run.
func (p *Props) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// Dispose clears all entries and runs the queued unwatchers, last in first
// out. Only the first call has an effect.
func (p *Props) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	fns := p.unwatchers
	p.unwatchers = nil
	entries := p.entries
	p.entries = make(map[string]*Property)
	p.mu.Unlock()

	for len(fns) > 0 {
		fn := fns[len(fns)-1]
		fns = fns[:len(fns)-1]
		fn()
	}
	for _, prop := range entries {
		prop.State.Reset()
	}
}

// Enqueue appends a turn to the object's call chain. prev is closed once the
// preceding turn finished (nil if there is none). finish completes this turn
// and clears the chain slot when this turn is still the tail; it is safe to
// call more than once.
func (p *Props) Enqueue() (prev <-chan struct{}, finish func()) {
	own := make(chan struct{})
	p.mu.Lock()
	if p.tail != nil {
		prev = p.tail
	}
	p.tail = own
	p.mu.Unlock()

	finish = sync.OnceFunc(func() {
		p.mu.Lock()
		if p.tail == own {
			p.tail = nil
		}
		p.mu.Unlock()
		close(own)
	})
	return prev, finish
}

// InFlight reports whether a chained call is still pending.
func (p *Props) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tail != nil
}
