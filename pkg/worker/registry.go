package worker

import "sort"

// Registry maps model names to processors. It is constructed once at
// startup, passed by reference into the server, and read-only from
// then on, so lookups need no synchronization.
type Registry struct {
	procs map[string]Processor
}

func NewRegistry() *Registry { return &Registry{procs: make(map[string]Processor)} }

// Register binds a processor to a model name. Startup-time only.
func (r *Registry) Register(name string, p Processor) { r.procs[name] = p }

// Get returns the processor for a model name.
func (r *Registry) Get(name string) (Processor, bool) {
	p, ok := r.procs[name]
	return p, ok
}

// Names lists registered model names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.procs))
	for name := range r.procs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
