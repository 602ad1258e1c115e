// Package handler maps job types to the code that executes them.
package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redealabama/outbound-queue/internal/worker/domain"
)

// Handler executes one job. It must honor ctx cancellation and classify
// every failure through the returned Outcome.
type Handler interface {
	Execute(ctx context.Context, job *domain.Job) Outcome
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, job *domain.Job) Outcome

func (f Func) Execute(ctx context.Context, job *domain.Job) Outcome {
	return f(ctx, job)
}

// Registry is a concurrency-safe job type to Handler map.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds h to jobType. Registering a type twice is an error.
func (r *Registry) Register(jobType string, h Handler) error {
	if jobType == "" || h == nil {
		return fmt.Errorf("register handler: job type and handler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("register handler: %q already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup returns the handler for jobType.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
