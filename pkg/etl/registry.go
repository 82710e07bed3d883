package etl

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FKLookupTemplate is how the lookup form is advertised in transform listings.
const FKLookupTemplate = FKLookupPrefix + "<table>.<field>"

// Registry is a closed set of named transforms. It is immutable once built.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry builds a registry from the given functions.
func NewRegistry(funcs map[string]Func) *Registry {
	r := &Registry{funcs: make(map[string]Func, len(funcs))}
	for name, fn := range funcs {
		r.funcs[name] = fn
	}
	return r
}

// Resolve turns a transform identifier into a Transform. An empty identifier
// is the identity transform. Unknown names and malformed fk_lookup
// expressions return a ConfigurationError.
func (r *Registry) Resolve(expr string) (Transform, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Identity, nil
	}
	if strings.HasPrefix(expr, FKLookupPrefix) {
		t, err := parseFKLookup(expr)
		if err != nil {
			return Transform{}, &ConfigurationError{Reason: err.Error()}
		}
		return t, nil
	}
	fn, ok := r.funcs[expr]
	if !ok {
		return Transform{}, &ConfigurationError{Reason: fmt.Sprintf("unknown transform %q", expr)}
	}
	return Transform{kind: KindBuiltin, name: expr, fn: fn}, nil
}

// Names lists the registered transforms, sorted, followed by the fk_lookup template.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs)+1)
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, FKLookupTemplate)
}

var (
	extraMu    sync.Mutex
	extraFuncs = map[string]Func{}
	sealed     bool

	defaultOnce     sync.Once
	defaultRegistry *Registry

	overrideMu sync.RWMutex
	override   *Registry
)

// Register adds a named transform to the process registry. It must be called
// before the first run (typically from init); registering after Default has
// been built, or reusing a name, panics.
func Register(name string, fn Func) {
	extraMu.Lock()
	defer extraMu.Unlock()

	if sealed {
		panic(fmt.Sprintf("etl: Register(%q) after the transform registry was sealed", name))
	}
	if _, exists := builtins[name]; exists {
		panic(fmt.Sprintf("etl: transform %q already registered", name))
	}
	if _, exists := extraFuncs[name]; exists {
		panic(fmt.Sprintf("etl: transform %q already registered", name))
	}
	if strings.HasPrefix(name, FKLookupPrefix) || strings.TrimSpace(name) == "" {
		panic(fmt.Sprintf("etl: invalid transform name %q", name))
	}
	extraFuncs[name] = fn
}

// Default returns the process-wide registry: the built-ins plus anything
// passed to Register. The set is sealed on first use.
func Default() *Registry {
	overrideMu.RLock()
	o := override
	overrideMu.RUnlock()
	if o != nil {
		return o
	}

	defaultOnce.Do(func() {
		extraMu.Lock()
		defer extraMu.Unlock()

		all := make(map[string]Func, len(builtins)+len(extraFuncs))
		for name, fn := range builtins {
			all[name] = fn
		}
		for name, fn := range extraFuncs {
			all[name] = fn
		}
		defaultRegistry = NewRegistry(all)
		sealed = true
	})
	return defaultRegistry
}

// OverrideDefaultForTesting makes Default return r until the returned restore
// function is called.
func OverrideDefaultForTesting(r *Registry) (restore func()) {
	overrideMu.Lock()
	prev := override
	override = r
	overrideMu.Unlock()

	return func() {
		overrideMu.Lock()
		override = prev
		overrideMu.Unlock()
	}
}
