// Package execctx implements the immutable ExecutionContext threaded through
// task recursion: identity, depth/deadline bookkeeping, accumulated shared
// state, dependency results, and frozen configuration.
package execctx

import (
	"time"

	"github.com/compozy/taskengine/pkg/cloneutil"
	"github.com/compozy/taskengine/pkg/idgen"
)

// Breadcrumb is one entry in the ordered path of task ids from root to the
// current node.
type Breadcrumb struct {
	TaskID    idgen.ID  `json:"taskId"`
	Depth     int       `json:"depth"`
	Timestamp time.Time `json:"timestamp"`
}

// Config is the frozen, inherited configuration bag carried by every
// ExecutionContext in a hierarchy.
type Config map[string]any

// Context is an immutable per-invocation record. Every "update" method
// returns a new Context; the receiver is never mutated.
type Context struct {
	taskID          idgen.ID
	sessionID       idgen.ID
	correlationID   idgen.ID
	depth           int
	maxDepth        int
	startTime       time.Time
	deadline        *time.Time
	breadcrumbs     []Breadcrumb
	sharedState     map[string]any
	previousResults []any
	dependencies    map[string]any
	metadata        map[string]any
	userContext     map[string]any
	config          Config
}

// New creates a root ExecutionContext (depth 0, single breadcrumb entry).
func New(taskID, sessionID idgen.ID, maxDepth int, cfg Config) *Context {
	now := time.Now()
	c := &Context{
		taskID:        taskID,
		sessionID:     sessionID,
		correlationID: sessionID,
		depth:         0,
		maxDepth:       maxDepth,
		startTime:     now,
		sharedState:   map[string]any{},
		dependencies:  map[string]any{},
		metadata:      map[string]any{},
		userContext:   map[string]any{},
		config:        cloneutil.CloneMap(cfg),
	}
	c.breadcrumbs = []Breadcrumb{{TaskID: taskID, Depth: 0, Timestamp: now}}
	return c
}

func (c *Context) clone() *Context {
	return &Context{
		taskID:          c.taskID,
		sessionID:       c.sessionID,
		correlationID:   c.correlationID,
		depth:           c.depth,
		maxDepth:        c.maxDepth,
		startTime:       c.startTime,
		deadline:        c.deadline,
		breadcrumbs:     append([]Breadcrumb(nil), c.breadcrumbs...),
		sharedState:     cloneutil.CloneMap(c.sharedState),
		previousResults: append([]any(nil), c.previousResults...),
		dependencies:    cloneutil.CloneMap(c.dependencies),
		metadata:        cloneutil.CloneMap(c.metadata),
		userContext:     cloneutil.CloneMap(c.userContext),
		config:          cloneutil.CloneMap(c.config),
	}
}

// Overrides names fields a createChild/createSibling call may override.
type Overrides struct {
	SessionID     *idgen.ID
	CorrelationID *idgen.ID
	Deadline      *time.Time
	UserContext   map[string]any
	Metadata      map[string]any
}

func applyOverrides(c *Context, o *Overrides) {
	if o == nil {
		return
	}
	if o.SessionID != nil {
		c.sessionID = *o.SessionID
	}
	if o.CorrelationID != nil {
		c.correlationID = *o.CorrelationID
	}
	if o.Deadline != nil {
		c.deadline = o.Deadline
	}
	if o.UserContext != nil {
		c.userContext = cloneutil.CloneMap(o.UserContext)
	}
	if o.Metadata != nil {
		c.metadata = cloneutil.CloneMap(o.Metadata)
	}
}

// CreateChild returns a new Context one depth deeper, with breadcrumbs
// extended by taskID's entry. Inherits sessionId/correlationId/deadline/
// userContext/metadata/config; overrides replace only the named fields.
func (c *Context) CreateChild(taskID idgen.ID, overrides *Overrides) *Context {
	child := c.clone()
	child.taskID = taskID
	child.depth = c.depth + 1
	child.breadcrumbs = append(child.breadcrumbs, Breadcrumb{
		TaskID: taskID, Depth: child.depth, Timestamp: time.Now(),
	})
	applyOverrides(child, overrides)
	return child
}

// CreateSibling returns a new Context at the same depth and parent, carrying
// forward the current previousResults and sharedState.
func (c *Context) CreateSibling(taskID idgen.ID, overrides *Overrides) *Context {
	sibling := c.clone()
	sibling.taskID = taskID
	if len(sibling.breadcrumbs) > 0 {
		sibling.breadcrumbs[len(sibling.breadcrumbs)-1] = Breadcrumb{
			TaskID: taskID, Depth: sibling.depth, Timestamp: time.Now(),
		}
	}
	applyOverrides(sibling, overrides)
	return sibling
}

// CreateParallelContexts returns len(taskIDs) children with an identical
// base and distinct ids, for fan-out dispatch by the Parallel strategy.
func (c *Context) CreateParallelContexts(taskIDs []idgen.ID) []*Context {
	out := make([]*Context, len(taskIDs))
	for i, id := range taskIDs {
		out[i] = c.CreateChild(id, nil)
	}
	return out
}

// MergeParallelResults concatenates each child's last previousResult onto a
// copy of the receiver (order = input order) and merges sharedState
// last-write-wins in input order.
func (c *Context) MergeParallelResults(children []*Context) *Context {
	merged := c.clone()
	for _, child := range children {
		if len(child.previousResults) > 0 {
			merged.previousResults = append(merged.previousResults, child.previousResults[len(child.previousResults)-1])
		}
		for k, v := range child.sharedState {
			merged.sharedState[k] = v
		}
	}
	return merged
}

// WithResult appends a result to previousResults, returning a new Context.
func (c *Context) WithResult(result any) *Context {
	next := c.clone()
	next.previousResults = append(next.previousResults, result)
	return next
}

// WithSharedState sets a single shared-state key, returning a new Context.
func (c *Context) WithSharedState(key string, value any) *Context {
	next := c.clone()
	next.sharedState[key] = value
	return next
}

// WithSharedStates merges multiple shared-state entries, last-write-wins in
// map iteration order, returning a new Context.
func (c *Context) WithSharedStates(values map[string]any) *Context {
	next := c.clone()
	for k, v := range values {
		next.sharedState[k] = v
	}
	return next
}

// WithDependency records a named dependency's result, returning a new Context.
func (c *Context) WithDependency(taskID string, result any) *Context {
	next := c.clone()
	next.dependencies[taskID] = result
	return next
}

// WithMetadata sets a single metadata key, returning a new Context.
func (c *Context) WithMetadata(key string, value any) *Context {
	next := c.clone()
	next.metadata[key] = value
	return next
}

// WithDeadline sets the deadline, returning a new Context.
func (c *Context) WithDeadline(deadline time.Time) *Context {
	next := c.clone()
	next.deadline = &deadline
	return next
}

// CanDecompose reports whether depth < maxDepth.
func (c *Context) CanDecompose() bool { return c.depth < c.maxDepth }

// IsExpired reports whether a deadline is set and has passed.
func (c *Context) IsExpired() bool {
	return c.deadline != nil && time.Now().After(*c.deadline)
}

func (c *Context) TaskID() idgen.ID              { return c.taskID }
func (c *Context) SessionID() idgen.ID           { return c.sessionID }
func (c *Context) CorrelationID() idgen.ID       { return c.correlationID }
func (c *Context) Depth() int                    { return c.depth }
func (c *Context) MaxDepth() int                 { return c.maxDepth }
func (c *Context) StartTime() time.Time          { return c.startTime }
func (c *Context) Deadline() *time.Time          { return c.deadline }
func (c *Context) Breadcrumbs() []Breadcrumb      { return append([]Breadcrumb(nil), c.breadcrumbs...) }
func (c *Context) SharedState() map[string]any    { return cloneutil.CloneMap(c.sharedState) }
func (c *Context) PreviousResults() []any         { return append([]any(nil), c.previousResults...) }
func (c *Context) Dependencies() map[string]any    { return cloneutil.CloneMap(c.dependencies) }
func (c *Context) Metadata() map[string]any        { return cloneutil.CloneMap(c.metadata) }
func (c *Context) UserContext() map[string]any      { return cloneutil.CloneMap(c.userContext) }
func (c *Context) ConfigValue() Config              { return cloneutil.CloneMap(c.config) }

// SharedStateValue reads a single shared-state key.
func (c *Context) SharedStateValue(key string) (any, bool) {
	v, ok := c.sharedState[key]
	return v, ok
}

// DependencyResult reads a single dependency's recorded result.
func (c *Context) DependencyResult(taskID string) (any, bool) {
	v, ok := c.dependencies[taskID]
	return v, ok
}

// Ancestors returns the breadcrumb entries preceding the current one, used
// by the Recursive strategy's cycle detection.
func (c *Context) Ancestors() []Breadcrumb {
	if len(c.breadcrumbs) == 0 {
		return nil
	}
	return append([]Breadcrumb(nil), c.breadcrumbs[:len(c.breadcrumbs)-1]...)
}

// wireFormat is the JSON-compatible representation used by ToObject/FromObject.
type wireFormat struct {
	TaskID          string                 `json:"taskId"`
	SessionID       string                 `json:"sessionId"`
	CorrelationID   string                 `json:"correlationId"`
	Depth           int                    `json:"depth"`
	MaxDepth        int                    `json:"maxDepth"`
	StartTime       time.Time              `json:"startTime"`
	Deadline        *time.Time             `json:"deadline,omitempty"`
	Breadcrumbs     []Breadcrumb           `json:"breadcrumbs"`
	SharedState     map[string]any         `json:"sharedState"`
	PreviousResults []any                  `json:"previousResults"`
	Dependencies    map[string]any         `json:"dependencies"`
	Metadata        map[string]any         `json:"metadata"`
	UserContext     map[string]any         `json:"userContext"`
	Config          map[string]any         `json:"config"`
}

// ToObject produces a lossless, JSON-compatible snapshot.
func (c *Context) ToObject() map[string]any {
	w := wireFormat{
		TaskID:          c.taskID.String(),
		SessionID:       c.sessionID.String(),
		CorrelationID:   c.correlationID.String(),
		Depth:           c.depth,
		MaxDepth:        c.maxDepth,
		StartTime:       c.startTime,
		Deadline:        c.deadline,
		Breadcrumbs:     c.Breadcrumbs(),
		SharedState:     c.SharedState(),
		PreviousResults: c.PreviousResults(),
		Dependencies:    c.Dependencies(),
		Metadata:        c.Metadata(),
		UserContext:     c.UserContext(),
		Config:          c.ConfigValue(),
	}
	out, _ := cloneutil.DeepCopy(map[string]any{
		"taskId": w.TaskID, "sessionId": w.SessionID, "correlationId": w.CorrelationID,
		"depth": w.Depth, "maxDepth": w.MaxDepth, "startTime": w.StartTime, "deadline": w.Deadline,
		"breadcrumbs": w.Breadcrumbs, "sharedState": w.SharedState, "previousResults": w.PreviousResults,
		"dependencies": w.Dependencies, "metadata": w.Metadata, "userContext": w.UserContext, "config": w.Config,
	})
	return out
}

// FromObject restores a Context from a snapshot produced by ToObject.
func FromObject(obj map[string]any) (*Context, error) {
	taskID, err := idgen.Parse(stringField(obj, "taskId"))
	if err != nil {
		return nil, err
	}
	sessionID, err := idgen.Parse(stringField(obj, "sessionId"))
	if err != nil {
		return nil, err
	}
	correlationID, err := idgen.Parse(stringField(obj, "correlationId"))
	if err != nil {
		correlationID = sessionID
	}
	c := &Context{
		taskID:          taskID,
		sessionID:       sessionID,
		correlationID:   correlationID,
		depth:           intField(obj, "depth"),
		maxDepth:        intField(obj, "maxDepth"),
		startTime:       timeField(obj, "startTime"),
		sharedState:     mapField(obj, "sharedState"),
		dependencies:    mapField(obj, "dependencies"),
		metadata:        mapField(obj, "metadata"),
		userContext:     mapField(obj, "userContext"),
		config:          Config(mapField(obj, "config")),
		previousResults: sliceField(obj, "previousResults"),
	}
	if bc, ok := obj["breadcrumbs"].([]Breadcrumb); ok {
		c.breadcrumbs = bc
	} else if raw, ok := obj["breadcrumbs"].([]any); ok {
		c.breadcrumbs = decodeBreadcrumbs(raw)
	}
	if d := obj["deadline"]; d != nil {
		switch t := d.(type) {
		case time.Time:
			c.deadline = &t
		case *time.Time:
			if t != nil {
				deadline := *t
				c.deadline = &deadline
			}
		}
	}
	return c, nil
}

func decodeBreadcrumbs(raw []any) []Breadcrumb {
	out := make([]Breadcrumb, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		id, _ := idgen.Parse(stringField(m, "taskId"))
		out = append(out, Breadcrumb{
			TaskID:    id,
			Depth:     intField(m, "depth"),
			Timestamp: timeField(m, "timestamp"),
		})
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func timeField(m map[string]any, key string) time.Time {
	if t, ok := m[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}

func mapField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return cloneutil.CloneMap(v)
	}
	return map[string]any{}
}

func sliceField(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return append([]any(nil), v...)
	}
	return nil
}
