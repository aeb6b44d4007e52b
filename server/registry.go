// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/taskwire/taskwire"
)

// UpdateSink commits one update into the task store. The call returns
// only after the update is visible to concurrent pollers, so a handler
// that has seen a sink call return knows the progress was not dropped.
type UpdateSink func(Update) error

// Handler is the unit of work behind one capability. The context carries
// the cooperative cancellation signal; a handler polls ctx.Done() at its
// own discretion. A handler is expected to drive its task to a terminal
// state through the sink — the executor converts anything else (an error
// return, a panic, or a clean return with the task still non-terminal)
// into a terminal failed update.
type Handler interface {
	Execute(ctx context.Context, task *taskwire.Task, sink UpdateSink) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *taskwire.Task, sink UpdateSink) error

// Execute implements [Handler].
func (f HandlerFunc) Execute(ctx context.Context, task *taskwire.Task, sink UpdateSink) error {
	return f(ctx, task, sink)
}

// Registry maps capability ids to their handlers. It replaces open-ended
// dispatch conditionals: the executor looks a handler up once per
// tasks/send.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a capability id. Registering the same id
// twice is a configuration error.
func (r *Registry) Register(id string, handler Handler) error {
	if id == "" {
		return fmt.Errorf("capability id cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("capability %q: handler cannot be nil", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("capability %q is already registered", id)
	}
	r.handlers[id] = handler
	return nil
}

// Lookup returns the handler for a capability id.
func (r *Registry) Lookup(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[id]
	return handler, ok
}

// IDs returns the registered capability ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
