package functions

import (
	"sort"
	"strings"
	"sync"

	"github.com/rendis/flowfunc/pkg/schema"
)

// Prefixes that select an expression-backed invocable instead of a registry lookup.
const (
	PrefixExpr = "expr:"
	PrefixJQ   = "jq:"
	PrefixCEL  = "cel:"
)

// Resolver turns a func reference into an Invocable.
type Resolver interface {
	Resolve(ref string) (Invocable, error)
}

// Info is a summary of a registered function for listing.
type Info struct {
	Name   string  `json:"name"`
	Params []Param `json:"params,omitempty"`
}

// Registry is the thread-safe lookup table of step functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Invocable

	compiled map[string]Invocable
	cel      *celCompiler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs:    make(map[string]Invocable),
		compiled: make(map[string]Invocable),
	}
}

// NewDefaultRegistry creates a Registry with the builtins module registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, inv := range Builtins() {
		_ = r.Register(inv)
	}
	return r
}

// Register adds an invocable. Returns error on duplicate name.
func (r *Registry) Register(inv Invocable) error {
	if inv == nil {
		return schema.NewError(schema.ErrCodeValidation, "invocable is nil")
	}
	name := inv.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "invocable name is empty")
	}
	if hasExpressionPrefix(name) {
		return schema.NewErrorf(schema.ErrCodeValidation, "function name %q uses a reserved prefix", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "function %q already registered", name)
	}
	r.funcs[name] = inv
	return nil
}

// RegisterFunc registers fn under name with the given parameters.
func (r *Registry) RegisterFunc(name string, params []Param, fn Func) error {
	return r.Register(NewFunc(name, params, fn))
}

// Get retrieves a registered function by name.
func (r *Registry) Get(name string) (Invocable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.funcs[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCallableNotFound, "function %q not registered", name)
	}
	return inv, nil
}

// Has checks if a function is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// List returns all registered functions, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.funcs))
	for name, inv := range r.funcs {
		info := Info{Name: name}
		if sig := inv.Signature(); sig != nil {
			info.Params = sig.Params
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Resolve looks ref up in the registry, or compiles it when it carries an
// expression prefix. Compiled expressions are cached by ref.
func (r *Registry) Resolve(ref string) (Invocable, error) {
	if !hasExpressionPrefix(ref) {
		return r.Get(ref)
	}

	r.mu.RLock()
	if inv, ok := r.compiled[ref]; ok {
		r.mu.RUnlock()
		return inv, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if inv, ok := r.compiled[ref]; ok {
		return inv, nil
	}

	var (
		inv Invocable
		err error
	)
	switch {
	case strings.HasPrefix(ref, PrefixExpr):
		inv, err = compileExpr(ref, strings.TrimPrefix(ref, PrefixExpr))
	case strings.HasPrefix(ref, PrefixJQ):
		inv, err = compileJQ(ref, strings.TrimPrefix(ref, PrefixJQ))
	case strings.HasPrefix(ref, PrefixCEL):
		if r.cel == nil {
			if r.cel, err = newCELCompiler(); err != nil {
				return nil, err
			}
		}
		inv, err = r.cel.compile(ref, strings.TrimPrefix(ref, PrefixCEL))
	}
	if err != nil {
		return nil, err
	}

	r.compiled[ref] = inv
	return inv, nil
}

func hasExpressionPrefix(ref string) bool {
	return strings.HasPrefix(ref, PrefixExpr) ||
		strings.HasPrefix(ref, PrefixJQ) ||
		strings.HasPrefix(ref, PrefixCEL)
}

var _ Resolver = (*Registry)(nil)
