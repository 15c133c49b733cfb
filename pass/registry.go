package pass

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Registry maps textual pass arguments to constructors, so pipelines can be
// assembled from strings like "canonicalize,cse,sccp".
type Registry struct {
	factories map[string]func() Pass
}

// NewRegistry creates an empty pass registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]func() Pass{}}
}

// Register adds a pass constructor under its Argument name. Registering the
// same argument twice is an error.
func (r *Registry) Register(factory func() Pass) error {
	arg := factory().Argument()
	if arg == "" {
		return errors.New("pass has an empty argument name")
	}
	if _, ok := r.factories[arg]; ok {
		return errors.Errorf("pass %q is already registered", arg)
	}
	r.factories[arg] = factory
	return nil
}

// Get constructs a fresh instance of the named pass.
func (r *Registry) Get(argument string) (Pass, error) {
	factory, ok := r.factories[argument]
	if !ok {
		return nil, errors.Errorf("unknown pass %q (registered: %s)", argument, strings.Join(r.Arguments(), ", "))
	}
	return factory(), nil
}

// Arguments lists the registered pass arguments, sorted.
func (r *Registry) Arguments() []string {
	out := make([]string, 0, len(r.factories))
	for arg := range r.factories {
		out = append(out, arg)
	}
	sort.Strings(out)
	return out
}

// Parse appends the comma-separated pipeline spec to pm, e.g.
// "canonicalize,cse,sccp".
func (r *Registry) Parse(pm *PassManager, spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	for _, part := range strings.Split(spec, ",") {
		arg := strings.TrimSpace(part)
		if arg == "" {
			return errors.Errorf("empty pass name in pipeline %q", spec)
		}
		p, err := r.Get(arg)
		if err != nil {
			return err
		}
		if err := pm.AddPass(p); err != nil {
			return err
		}
	}
	return nil
}
