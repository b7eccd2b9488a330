package mono

import (
	"fmt"
	"sort"
	"sync"

	"rsbridge/internal/ast"
)

// Registry holds analyzed generic functions and their instances.
// One mutex guards both maps.
type Registry struct {
	mu        sync.Mutex
	generics  map[string]*GenericInfo
	instances map[InstantiationKey]*Instance

	// CheckBounds enables the primitive trait check before specialization.
	CheckBounds bool
}

func NewRegistry() *Registry {
	return &Registry{
		generics:    make(map[string]*GenericInfo),
		instances:   make(map[InstantiationKey]*Instance),
		CheckBounds: true,
	}
}

// Register adds or replaces a generic function. Instances of a replaced
// function are forgotten.
func (r *Registry) Register(info *GenericInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.generics[info.Name]; ok {
		for k := range r.instances {
			if k.Name == info.Name {
				delete(r.instances, k)
			}
		}
	}
	r.generics[info.Name] = info
}

// RegisterSource analyzes text and registers every generic function in it.
func (r *Registry) RegisterSource(text string) ([]*GenericInfo, error) {
	infos, err := Analyze(text)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		r.Register(info)
	}
	return infos, nil
}

func (r *Registry) Lookup(name string) (*GenericInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.generics[name]
	return info, ok
}

// Instantiate infers bindings from the argument types and returns the cached
// or newly specialized instance.
func (r *Registry) Instantiate(name string, args []*ast.Type) (*Instance, error) {
	return r.InstantiatePartial(name, args, nil)
}

// InstantiatePartial is Instantiate with explicit bindings for parameters
// the arguments cannot determine.
func (r *Registry) InstantiatePartial(name string, args []*ast.Type, explicit Bindings) (*Instance, error) {
	info, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("generic function %q is not registered", name)
	}
	b, err := InferPartial(info, args, explicit)
	if err != nil {
		return nil, err
	}
	return r.InstantiateWith(name, b)
}

// InstantiateWith specializes name for fully explicit bindings.
func (r *Registry) InstantiateWith(name string, bindings Bindings) (*Instance, error) {
	info, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("generic function %q is not registered", name)
	}
	if r.CheckBounds {
		if err := CheckBounds(info, bindings); err != nil {
			return nil, err
		}
	}
	key := InstantiationKey{Name: name, ArgsKey: bindings.Key(info.Params())}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[key]; ok {
		return inst, nil
	}
	inst, err := Specialize(info, bindings)
	if err != nil {
		return nil, err
	}
	// ключ по канонической записи, чтобы "Vec<i32 >" и "Vec<i32>" совпали
	r.instances[key] = inst
	r.instances[inst.Key] = inst
	return inst, nil
}

// Instances returns the cached instances of name, ordered by key.
func (r *Registry) Instances(name string) []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[*Instance]bool)
	var out []*Instance
	for k, inst := range r.instances {
		if k.Name == name && !seen[inst] {
			seen[inst] = true
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.ArgsKey < out[j].Key.ArgsKey })
	return out
}

// Names lists the registered generic functions.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.generics))
	for n := range r.generics {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
