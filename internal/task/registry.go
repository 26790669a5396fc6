package task

import "sort"

// Registry maps task-kind identifiers to their processors. It is built
// at startup; Register stays available so embedders can add kinds
// before serving.
type Registry struct {
	procs map[string]Processor
}

func NewRegistry(ps ...Processor) *Registry {
	r := &Registry{procs: make(map[string]Processor)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the processor for its kind.
func (r *Registry) Register(p Processor) {
	r.procs[p.Kind()] = p
}

// Get returns the processor for kind, or nil when unsupported.
func (r *Registry) Get(kind string) Processor {
	return r.procs[kind]
}

// Kinds lists the supported task kinds, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.procs))
	for k := range r.procs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultKind returns the kind used for requests without a task_type.
func (r *Registry) DefaultKind() string { return DefaultKind }
