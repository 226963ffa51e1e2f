package executor

import (
	"fmt"
	"strings"
)

// Registry maps step names to executors. It is assembled once at startup
// and read-only afterwards.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(exec Executor) error {
	if r == nil || r.executors == nil {
		return fmt.Errorf("registry not initialized")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	name := strings.TrimSpace(exec.Name())
	if name == "" {
		return fmt.Errorf("executor name is required")
	}
	if _, ok := r.executors[name]; ok {
		return fmt.Errorf("executor %q already registered", name)
	}
	r.executors[name] = exec
	return nil
}

func (r *Registry) Lookup(name string) (Executor, error) {
	if r == nil || r.executors == nil {
		return nil, fmt.Errorf("registry not initialized")
	}
	exec, ok := r.executors[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("no executor registered for step %q", name)
	}
	return exec, nil
}

// Names returns registered step names, unordered.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}
