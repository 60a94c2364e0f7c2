package korniszon

import (
	"fmt"
	"sync"
)

// A Constructor builds the Go object for a class referenced from a pickle.
// REDUCE, NEWOBJ, INST and OBJ all funnel into it, with the call arguments
// flattened into args.
type Constructor interface {
	Construct(args ...any) (any, error)
}

// ConstructorFunc adapts a function to the Constructor interface.
type ConstructorFunc func(args ...any) (any, error)

func (f ConstructorFunc) Construct(args ...any) (any, error) { return f(args...) }

// StateSetter is the __setstate__ analogue. When a constructed object
// implements it, BUILD hands it the state object instead of merging.
type StateSetter interface {
	PySetState(state any) error
}

// Registry maps class references to constructors.
//
// It is safe for concurrent use: registrations may race with decodes and
// become visible to them immediately. For a class registered twice the later
// registration wins.
type Registry struct {
	mu sync.RWMutex
	m  map[Class]Constructor
}

// NewRegistry returns a registry preloaded with the builtin constructors
// (bytearray, complex, set, frozenset, _codecs.encode, the array
// reconstructor).
func NewRegistry() *Registry {
	r := &Registry{m: make(map[Class]Constructor)}
	registerBuiltins(r)
	return r
}

// Register associates ctor with class, replacing any previous association.
func (r *Registry) Register(class Class, ctor Constructor) {
	r.mu.Lock()
	r.m[class] = ctor
	r.mu.Unlock()
}

// Lookup returns the constructor registered for class, if any.
func (r *Registry) Lookup(class Class) (Constructor, bool) {
	r.mu.RLock()
	ctor, ok := r.m[class]
	r.mu.RUnlock()
	return ctor, ok
}

// Resolve returns the constructor for class. It never fails: an unregistered
// class resolves to a fallback that builds a *Record tagged with the class
// name. The fallback accepts no positional arguments, as there is no way to
// name them on a generic record; such pickles need a registered constructor.
func (r *Registry) Resolve(class Class) Constructor {
	if ctor, ok := r.Lookup(class); ok {
		return ctor
	}
	return recordConstructor{class}
}

type recordConstructor struct {
	class Class
}

func (c recordConstructor) Construct(args ...any) (any, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("%s: expected zero constructor arguments, got %d", c.class, len(args))
	}
	return NewRecord(c.class.String()), nil
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by decoders whose
// DecoderConfig carries no explicit one.
func DefaultRegistry() *Registry { return defaultRegistry }

// RegisterConstructor registers ctor for module.name in the default registry.
func RegisterConstructor(module, name string, ctor Constructor) {
	defaultRegistry.Register(Class{Module: module, Name: name}, ctor)
}
