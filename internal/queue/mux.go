package queue

import (
	"context"
	"sort"
)

// Mux routes messages to handlers registered by task name.
type Mux struct {
	handlers map[string]MessageHandler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]MessageHandler)}
}

// Handle registers h for the task name, replacing any earlier handler.
func (m *Mux) Handle(name string, h MessageHandler) {
	m.handlers[name] = h
}

// HandleFunc registers f for the task name.
func (m *Mux) HandleFunc(name string, f func(ctx context.Context, msg *Message) (TaskResult, error)) {
	m.Handle(name, HandlerFunc(f))
}

// Names returns the registered task names in sorted order.
func (m *Mux) Names() []string {
	names := make([]string, 0, len(m.handlers))
	for name := range m.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleMessage dispatches msg to the handler registered for msg.Name. An
// unregistered name completes the task as failed without retrying it.
func (m *Mux) HandleMessage(ctx context.Context, msg *Message) (TaskResult, error) {
	h, ok := m.handlers[msg.Name]
	if !ok {
		return TaskResult{State: StateFailure, Text: "failed: unknown task " + msg.Name}, nil
	}
	return h.HandleMessage(ctx, msg)
}
