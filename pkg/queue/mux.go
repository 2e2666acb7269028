package queue

import (
	"context"
	"fmt"
)

// Mux routes dispatched tasks to handlers by kind.
type Mux struct {
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task kind. Registering the same kind twice
// panics because it is always a wiring mistake.
func (m *Mux) Register(kind string, h Handler) {
	if kind == "" {
		panic("queue: empty task kind")
	}
	if h == nil {
		panic("queue: nil handler for kind " + kind)
	}
	if _, exists := m.handlers[kind]; exists {
		panic("queue: duplicate handler for kind " + kind)
	}
	m.handlers[kind] = h
}

func (m *Mux) RegisterFunc(kind string, f HandlerFunc) {
	m.Register(kind, f)
}

// Kinds returns the registered task kinds.
func (m *Mux) Kinds() []string {
	kinds := make([]string, 0, len(m.handlers))
	for k := range m.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (m *Mux) Handle(ctx context.Context, task DispatchedTask) error {
	h, ok := m.handlers[task.Meta.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, task.Meta.Kind)
	}
	return h.Handle(ctx, task)
}
