package engine

import (
	"fmt"
	"sync"
)

// Registry maps task type names to their handlers. It is constructed at
// worker startup and passed into the dispatcher; there is no ambient global
// registry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a task type. Registration is idempotent and
// last-wins: registering the same type again replaces the previous handler.
func (r *Registry) Register(taskType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = handler
}

// Resolve returns the handler bound to the task type, or
// ErrHandlerNotRegistered when the type is unknown.
func (r *Registry) Resolve(taskType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotRegistered, taskType)
	}
	return handler, nil
}

// Types returns the names of all registered task types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		types = append(types, name)
	}
	return types
}
