package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/pkg/idgen"
)

// Manager is the TaskManager factory (spec §4.5/§6): it materializes
// child tasks bound to a strategy and a parent, registers them for
// lookup, and delivers messages by id.
type Manager struct {
	mu       sync.RWMutex
	registry map[idgen.ID]*Task
	resolver func(def map[string]any) ExecutionStrategy
}

// NewManager constructs a Manager. resolver picks the ExecutionStrategy for
// a freshly created task from its raw definition map; callers typically
// pass strategy.Resolver.AsTaskResolver(), which adapts Resolve to this
// signature.
func NewManager(resolver func(def map[string]any) ExecutionStrategy) *Manager {
	return &Manager{registry: map[idgen.ID]*Task{}, resolver: resolver}
}

// CreateTask implements TaskManager.createTask(description, parent?, options)
// (spec §6): creates, registers, and binds a new child task.
func (m *Manager) CreateTask(description string, parent *Task, def map[string]any, opts Options) (*Task, error) {
	if m.resolver == nil {
		return nil, fmt.Errorf("task manager: no strategy resolver configured")
	}
	strategy := m.resolver(def)
	if strategy == nil {
		return nil, fmt.Errorf("task manager: no strategy resolved for task %q", description)
	}
	id, err := idgen.New()
	if err != nil {
		return nil, fmt.Errorf("task manager: generate id: %w", err)
	}
	t := New(id, description, parent, strategy, opts)
	t.SetDefinition(def)
	t.SetServiceContext("taskManager", m)

	m.mu.Lock()
	m.registry[id] = t
	m.mu.Unlock()
	return t, nil
}

// Lookup resolves a registered task by id, across the whole hierarchy this
// Manager owns (not limited to one parent chain).
func (m *Manager) Lookup(id idgen.ID) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.registry[id]
	return t, ok
}

// Deliver routes a Message to the task addressed by id.
func (m *Manager) Deliver(
	goCtx context.Context,
	ectx *execctx.Context,
	id idgen.ID,
	msg Message,
) (MessageResult, error) {
	t, ok := m.Lookup(id)
	if !ok {
		return MessageResult{}, fmt.Errorf("task manager: unknown task %q", id)
	}
	return t.ReceiveMessage(goCtx, ectx, msg), nil
}

// Release deregisters a task (and, recursively, its children) once its
// owning hierarchy is torn down (spec §3: "destroyed when the owning
// hierarchy is released").
func (m *Manager) Release(t *Task) {
	m.mu.Lock()
	delete(m.registry, t.id)
	m.mu.Unlock()
	for _, c := range t.Children() {
		m.Release(c)
	}
}

// Count returns the number of tasks currently registered.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registry)
}
