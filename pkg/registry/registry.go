package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"weak"

	"github.com/lightforgemedia/go-jsonipc/pkg/wire"
	"github.com/puzpuzpuz/xsync/v3"
)

// ClassTable maps $class tags to proxy factories.
type ClassTable struct {
	factories *xsync.MapOf[string, Factory]
}

// NewClassTable returns an empty table.
func NewClassTable() *ClassTable {
	return &ClassTable{factories: xsync.NewMapOf[string, Factory]()}
}

// Register installs f for class, replacing any previous factory.
func (t *ClassTable) Register(class string, f Factory) {
	t.factories.Store(class, f)
}

// Deregister removes class. Proxies already alive keep working.
func (t *ClassTable) Deregister(class string) {
	t.factories.Delete(class)
}

// Lookup returns the factory for class.
func (t *ClassTable) Lookup(class string) (Factory, bool) {
	return t.factories.Load(class)
}

type entry struct {
	ref     weak.Pointer[Handle]
	cleanup runtime.Cleanup
}

type collected struct {
	id    int64
	ref   weak.Pointer[Handle]
	props *Props
}

// Registry holds at most one live proxy per remote id.
type Registry struct {
	classes *ClassTable
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[int64]*entry
}

// New returns a registry that builds proxies from classes.
func New(classes *ClassTable, logger *slog.Logger) *Registry {
	if classes == nil {
		classes = NewClassTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{classes: classes, logger: logger, entries: make(map[int64]*entry)}
}

// Classes returns the class table the registry builds from.
func (r *Registry) Classes() *ClassTable { return r.classes }

func (r *Registry) live(id int64) *Handle {
	if e, ok := r.entries[id]; ok {
		return e.ref.Value()
	}
	return nil
}

// Revive returns the live proxy for (id, class), building one when none is
// alive. ok is false for unregistered classes and non-positive ids; callers
// then keep the literal value.
func (r *Registry) Revive(id int64, class string) (obj Object, ok bool) {
	if id <= 0 {
		return nil, false
	}
	factory, found := r.classes.Lookup(class)
	if !found {
		return nil, false
	}

	r.mu.Lock()
	if h := r.live(id); h != nil {
		r.mu.Unlock()
		if h.class != class {
			r.logger.Warn(fmt.Sprintf("Registry: $id %d revived as %s but is %s", id, class, h.class))
		}
		return h.self, true
	}
	r.mu.Unlock()

	// The factory runs unlocked so it may revive other objects itself.
	candidate := factory(id)
	h, valid := HandleOf(candidate)
	if !valid || h.id != id {
		r.logger.Error(fmt.Sprintf("Registry: factory for %s did not return a handle for $id %d", class, id))
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.live(id); existing != nil {
		return existing.self, true
	}
	h.class = class
	h.self = candidate
	ref := weak.Make(h)
	e := &entry{ref: ref}
	e.cleanup = runtime.AddCleanup(h, r.collect, collected{id: id, ref: ref, props: h.props})
	r.entries[id] = e
	return candidate, true
}

// collect runs after a proxy became unreachable.
func (r *Registry) collect(c collected) {
	r.mu.Lock()
	if e, ok := r.entries[c.id]; ok && e.ref == c.ref {
		delete(r.entries, c.id)
	}
	r.mu.Unlock()
	c.props.Dispose()
}

// Lookup returns the live proxy for id, if any.
func (r *Registry) Lookup(id int64) (Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.live(id); h != nil {
		return h.self, true
	}
	return nil, false
}

// Release forgets id and tears down its property cache. A later revival
// builds a fresh proxy.
func (r *Registry) Release(id int64) {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return
	}
	e.cleanup.Stop()
	if h := e.ref.Value(); h != nil {
		h.props.Dispose()
	}
}

// Reset releases every entry.
func (r *Registry) Reset() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[int64]*entry)
	r.mu.Unlock()
	for _, e := range entries {
		e.cleanup.Stop()
		if h := e.ref.Value(); h != nil {
			h.props.Dispose()
		}
	}
}

// Len counts entries whose proxy has not been collected yet.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.ref.Value() != nil {
			n++
		}
	}
	return n
}

// Decode parses a text frame. Frames carrying a "$class" marker are revived
// bottom-up so nested references become proxies; others are plain JSON.
func (r *Registry) Decode(frame []byte) (any, error) {
	var v any
	if err := json.Unmarshal(frame, &v); err != nil {
		return nil, err
	}
	if wire.HasClassMarker(frame) {
		v = r.ReviveValue(v)
	}
	return v, nil
}

// ReviveValue replaces every {"$id","$class"} object in v with its proxy.
func (r *Registry) ReviveValue(v any) any {
	switch val := v.(type) {
	case []any:
		for i := range val {
			val[i] = r.ReviveValue(val[i])
		}
		return val
	case map[string]any:
		for k, child := range val {
			val[k] = r.ReviveValue(child)
		}
		id, ok := val["$id"].(float64)
		if !ok {
			return val
		}
		class, ok := val["$class"].(string)
		if !ok {
			return val
		}
		if obj, ok := r.Revive(int64(id), class); ok {
			return obj
		}
		return val
	default:
		return v
	}
}
