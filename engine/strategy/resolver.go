package strategy

import (
	"sort"

	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/engine/task"
)

// registeredStrategy pairs a strategy with its selection priority.
type registeredStrategy struct {
	strategy task.ExecutionStrategy
	priority int
}

// Resolver selects the ExecutionStrategy for a task by trying registered
// strategies in descending priority order, falling back to Atomic when
// none claim it (spec §4.7).
type Resolver struct {
	entries []registeredStrategy
	def     task.ExecutionStrategy
}

// NewResolver builds a Resolver pre-populated with the default priority
// order: Recursive > Parallel > Sequential > Atomic.
func NewResolver(recursive *Recursive, parallel *Parallel, sequential *Sequential, atomic *Atomic) *Resolver {
	r := &Resolver{def: atomic}
	r.Register(recursive, 40)
	r.Register(parallel, 30)
	r.Register(sequential, 20)
	r.Register(atomic, 10)
	return r
}

// Register adds a strategy at the given priority (higher runs first).
// Registering the same strategy name twice replaces the earlier entry.
func (r *Resolver) Register(s task.ExecutionStrategy, priority int) {
	if s == nil {
		return
	}
	for i, e := range r.entries {
		if e.strategy.Name() == s.Name() {
			r.entries[i] = registeredStrategy{strategy: s, priority: priority}
			r.sort()
			return
		}
	}
	r.entries = append(r.entries, registeredStrategy{strategy: s, priority: priority})
	r.sort()
}

func (r *Resolver) sort() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].priority > r.entries[j].priority
	})
}

// Resolve returns the first strategy (in priority order) whose CanHandle
// claims the task, falling back to Atomic. A panicking CanHandle is treated
// as false rather than propagated.
func (r *Resolver) Resolve(t *task.Task, ctx *execctx.Context) task.ExecutionStrategy {
	for _, e := range r.entries {
		if safeCanHandle(e.strategy, t, ctx) {
			return e.strategy
		}
	}
	return r.def
}

func safeCanHandle(s task.ExecutionStrategy, t *task.Task, ctx *execctx.Context) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return s.CanHandle(t, ctx)
}

// AsTaskResolver adapts Resolve to the func(def map[string]any)
// task.ExecutionStrategy shape task.Manager.CreateTask expects, by wrapping
// def in a throwaway Task so strategies can inspect it through the same
// Definition()/Description() surface CanHandle already uses.
func (r *Resolver) AsTaskResolver() func(def map[string]any) task.ExecutionStrategy {
	return func(def map[string]any) task.ExecutionStrategy {
		description, _ := def["description"].(string)
		probe := task.New("", description, nil, nil, task.Options{})
		probe.SetDefinition(def)
		return r.Resolve(probe, nil)
	}
}

// Clone returns a Resolver with the same entries, optionally replacing the
// default fallback strategy (spec §4.7's clone/overrides operation).
func (r *Resolver) Clone(defaultOverride task.ExecutionStrategy) *Resolver {
	clone := &Resolver{entries: append([]registeredStrategy(nil), r.entries...), def: r.def}
	if defaultOverride != nil {
		clone.def = defaultOverride
	}
	return clone
}
