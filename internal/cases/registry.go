package cases

import (
	"fmt"
	"slices"
	"sync"
)

// Kind separates read-only resources from invocable tools.
type Kind string

const (
	KindResource Kind = "resource"
	KindTool     Kind = "tool"
)

// Action is the Table API operation an invocation translates to.
type Action string

const (
	ActionList   Action = "list"
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// ParamType is the declared type of a parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
)

// Param describes one entry of a definition's parameter schema.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description string
}

// Definition is a named operation: its kind, action and ordered parameter
// schema. Definitions are immutable once registered.
type Definition struct {
	Name        string
	Kind        Kind
	Action      Action
	Description string
	Params      []Param
}

// Param returns the parameter with the given name.
func (d Definition) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

func (d Definition) clone() Definition {
	d.Params = slices.Clone(d.Params)
	return d
}

type opKey struct {
	name string
	kind Kind
}

// Registry holds operation definitions keyed by (name, kind). It is filled
// at startup and only read afterwards; all methods are safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	defs  map[opKey]Definition
	order map[Kind][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:  make(map[opKey]Definition),
		order: make(map[Kind][]string),
	}
}

// Register adds a definition. Registering a name twice for the same kind
// fails with ErrDuplicateOperation.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("registering operation: name is required")
	}
	switch def.Kind {
	case KindResource, KindTool:
	default:
		return fmt.Errorf("registering %q: unknown kind %q", def.Name, def.Kind)
	}
	switch def.Action {
	case ActionList, ActionGet, ActionCreate, ActionUpdate:
	default:
		return fmt.Errorf("registering %q: unknown action %q", def.Name, def.Action)
	}
	seen := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		if seen[p.Name] {
			return fmt.Errorf("registering %q: parameter %q declared twice", def.Name, p.Name)
		}
		seen[p.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := opKey{name: def.Name, kind: def.Kind}
	if _, ok := r.defs[key]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateOperation, def.Kind, def.Name)
	}
	r.defs[key] = def.clone()
	r.order[def.Kind] = append(r.order[def.Kind], def.Name)
	return nil
}

// Lookup returns the definition registered under name for kind, or a
// NotFound *Error.
func (r *Registry) Lookup(name string, kind Kind) (Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[opKey{name: name, kind: kind}]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, notFoundError("unknown %s %q", kind, name)
	}
	return def.clone(), nil
}

// Definitions lists the definitions of a kind in registration order.
func (r *Registry) Definitions(kind Kind) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.order[kind]
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, r.defs[opKey{name: name, kind: kind}].clone())
	}
	return out
}
