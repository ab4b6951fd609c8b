// Package task implements the recursion unit (spec §3/§4.5): a Task
// mailbox with typed messages, an owned artifact store, and a bound
// ExecutionStrategy. The teacher's own engine/task package ships only
// tests in the retrieval pack (domain_test.go, progress_test.go); the
// mutex-guarded struct and constructor conventions here instead follow
// this repo's own engine/execctx and engine/queue, which are themselves
// teacher-grounded.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/taskengine/engine/execctx"
	"github.com/compozy/taskengine/pkg/idgen"
)

// State is a Task's lifecycle state (spec §3).
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Artifact is a named, typed value a task produces (spec §3).
type Artifact struct {
	Name        string
	Value       any
	Description string
	Type        string
	Timestamp   time.Time
}

// ConversationEntry is one append-only log line (spec §3).
type ConversationEntry struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Result is what a Strategy.Execute (and receiveMessage) produces (spec §4.6).
type Result struct {
	Success  bool
	Result   any
	Metadata map[string]any
}

// Complexity is an ExecutionStrategy's self-assessment (spec §4.6).
type Complexity struct {
	EstimatedTimeMs int64
	EstimatedCost   float64
	Confidence      float64
	Reasoning       string
}

// ExecutionStrategy is the common interface every concrete strategy
// (Atomic/Sequential/Parallel/Recursive) implements (spec §4.6).
type ExecutionStrategy interface {
	Name() string
	CanHandle(t *Task, ctx *execctx.Context) bool
	Execute(goCtx context.Context, t *Task, ctx *execctx.Context) Result
	EstimateComplexity(t *Task, ctx *execctx.Context) Complexity
}

// Options are the typed, construction-time parameters a Task may carry
// (spec §3 "optional typed options"); strategies read these plus the raw
// Definition map to decide how to execute.
type Options struct {
	Strategy         string
	RetryLimit       *int
	TimeoutMs        int64
	Priority         int
	ContinueOnError  bool
	FailFast         bool
	UseCache         bool
	CycleDetection   *bool
	DecomposeThreshold float64
}

// MessageType enumerates the closed parent↔child protocol (spec §4.5).
type MessageType string

const (
	MessageStart       MessageType = "start"
	MessageWork        MessageType = "work"
	MessageStatus      MessageType = "status"
	MessageCancel      MessageType = "cancel"
	MessageCompleted   MessageType = "completed"
	MessageFailed      MessageType = "failed"
	MessageChildFailed MessageType = "child-failed"
	MessageAbort       MessageType = "abort"
)

// Message is what ReceiveMessage accepts.
type Message struct {
	Type    MessageType
	Payload map[string]any
}

// MessageResult is ReceiveMessage's synchronous reply.
type MessageResult struct {
	Acknowledged bool
	Success      bool
	Result       any
}

// StatusSnapshot answers a `status` message.
type StatusSnapshot struct {
	ID            string
	State         State
	Depth         int
	ArtifactNames []string
	ChildCount    int
}

// Task is the recursion unit: identity, mutable lifecycle state, an owned
// artifact store and conversation log, a free-form service-lookup context
// bag, and a bound strategy/workspace.
type Task struct {
	mu sync.Mutex

	id          idgen.ID
	description string
	parent      *Task // non-owning back-pointer; children hold the strong ref
	children    []*Task

	state        State
	artifacts    map[string]Artifact
	conversation []ConversationEntry
	serviceCtx   map[string]any

	strategy     ExecutionStrategy
	workspaceDir *Workspace
	options      Options

	definition map[string]any // raw decoded task definition (mapstructure source)
}

// New constructs a pending Task bound to strategy, optionally parented.
func New(id idgen.ID, description string, parent *Task, strategy ExecutionStrategy, opts Options) *Task {
	t := &Task{
		id:          id,
		description: description,
		parent:      parent,
		state:       StatePending,
		artifacts:   map[string]Artifact{},
		serviceCtx:  map[string]any{},
		strategy:    strategy,
		options:     opts,
	}
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, t)
		parent.mu.Unlock()
	}
	return t
}

// ID returns the task's identity.
func (t *Task) ID() idgen.ID { return t.id }

// Description returns the task's free-text description.
func (t *Task) Description() string { return t.description }

// Parent returns the parent task, or nil at the root (spec §3 invariant:
// parent == nil ⇔ isRoot).
func (t *Task) Parent() *Task { return t.parent }

// IsRoot reports whether this task has no parent.
func (t *Task) IsRoot() bool { return t.parent == nil }

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Strategy returns the bound ExecutionStrategy.
func (t *Task) Strategy() ExecutionStrategy { return t.strategy }

// Options returns the task's typed options.
func (t *Task) Options() Options { return t.options }

// SetWorkspace binds the task's working directory.
func (t *Task) SetWorkspace(ws *Workspace) { t.workspaceDir = ws }

// Workspace returns the task's bound working directory, if any.
func (t *Task) Workspace() *Workspace { return t.workspaceDir }

// SetDefinition attaches the raw decoded task definition map, consulted by
// strategies (e.g. Atomic's tool/function/llm dispatch, Parallel's
// subtasks[]).
func (t *Task) SetDefinition(def map[string]any) { t.definition = def }

// Definition returns the raw task definition map.
func (t *Task) Definition() map[string]any { return t.definition }

// transition enforces the monotonic pending → running → {completed|failed|
// cancelled} state machine (spec §3 invariant).
func (t *Task) transition(next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.terminal() {
		return fmt.Errorf("task %s: cannot transition from terminal state %q to %q", t.id, t.state, next)
	}
	t.state = next
	return nil
}

// AppendConversation logs one conversation entry.
func (t *Task) AppendConversation(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversation = append(t.conversation, ConversationEntry{Role: role, Content: content, Timestamp: time.Now()})
}

// Conversation returns a copy of the conversation log.
func (t *Task) Conversation() []ConversationEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ConversationEntry(nil), t.conversation...)
}

// StoreArtifact writes (or overwrites, last-write-wins) a named artifact.
// Repeated calls with identical (name, value, description, type) are
// idempotent (spec §8).
func (t *Task) StoreArtifact(name string, value any, description, typ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifacts[name] = Artifact{Name: name, Value: value, Description: description, Type: typ, Timestamp: time.Now()}
}

// GetArtifact looks up one artifact by name.
func (t *Task) GetArtifact(name string) (Artifact, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.artifacts[name]
	return a, ok
}

// GetAllArtifacts returns every artifact this task owns.
func (t *Task) GetAllArtifacts() []Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Artifact, 0, len(t.artifacts))
	for _, a := range t.artifacts {
		out = append(out, a)
	}
	return out
}

// SetServiceContext binds a service-lookup value under name, visible to
// Lookup on this task and any of its descendants.
func (t *Task) SetServiceContext(name string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.serviceCtx[name] = value
}

// Lookup walks the task→parent chain for the first match of name (spec
// §4.5: llmClient, toolRegistry, workspaceDir, taskManager, or any
// caller-defined service key).
func (t *Task) Lookup(name string) (any, bool) {
	for cur := t; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		v, ok := cur.serviceCtx[name]
		cur.mu.Unlock()
		if ok {
			return v, true
		}
		if name == "workspaceDir" && cur.workspaceDir != nil {
			return cur.workspaceDir, true
		}
	}
	return nil, false
}

// Children returns a copy of the task's child list.
func (t *Task) Children() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Task(nil), t.children...)
}

// GetCompletedSubtasks/GetPendingSubtasks/GetFailedSubtasks implement
// recovery.SubtaskLister (spec §4.4 recoverPartialResults).
func (t *Task) GetCompletedSubtasks() []string { return t.childIDsInState(StateCompleted) }
func (t *Task) GetPendingSubtasks() []string {
	return t.childIDsInState(StatePending, StateRunning)
}
func (t *Task) GetFailedSubtasks() []string { return t.childIDsInState(StateFailed) }

func (t *Task) childIDsInState(states ...State) []string {
	t.mu.Lock()
	children := append([]*Task(nil), t.children...)
	t.mu.Unlock()
	var out []string
	for _, c := range children {
		s := c.State()
		for _, want := range states {
			if s == want {
				out = append(out, string(c.id))
				break
			}
		}
	}
	return out
}

// ReceiveMessage is the single synchronous entry point into a task (spec
// §4.5). Strategy panics are contained and converted to a failed result;
// they never escape to the caller.
func (t *Task) ReceiveMessage(goCtx context.Context, ectx *execctx.Context, msg Message) (result MessageResult) {
	defer func() {
		if r := recover(); r != nil {
			result = MessageResult{Acknowledged: true, Success: false, Result: fmt.Sprintf("panic: %v", r)}
		}
	}()
	switch msg.Type {
	case MessageStart, MessageWork:
		return t.handleStart(goCtx, ectx)
	case MessageStatus:
		return MessageResult{Acknowledged: true, Success: true, Result: t.status()}
	case MessageCancel:
		return t.handleCancel()
	case MessageAbort:
		return t.handleCancel()
	case MessageCompleted:
		return t.handleChildCompleted(goCtx, ectx, msg.Payload)
	case MessageFailed:
		return t.handleChildFailed(goCtx, ectx, msg.Payload)
	case MessageChildFailed:
		return MessageResult{Acknowledged: true, Success: true}
	default:
		return MessageResult{Acknowledged: true, Success: true}
	}
}

func (t *Task) handleStart(goCtx context.Context, ectx *execctx.Context) MessageResult {
	if err := t.transition(StateRunning); err != nil {
		return MessageResult{Acknowledged: true, Success: false, Result: err.Error()}
	}
	if t.strategy == nil {
		_ = t.transition(StateFailed)
		return MessageResult{Acknowledged: true, Success: false, Result: "no strategy bound to task"}
	}
	res := t.strategy.Execute(goCtx, t, ectx)
	if res.Success {
		_ = t.transition(StateCompleted)
		if t.parent != nil {
			t.parent.ReceiveMessage(goCtx, ectx, Message{
				Type:    MessageCompleted,
				Payload: map[string]any{"child": t, "result": res.Result},
			})
		}
	} else {
		_ = t.transition(StateFailed)
		if t.parent != nil {
			t.parent.ReceiveMessage(goCtx, ectx, Message{
				Type:    MessageFailed,
				Payload: map[string]any{"child": t, "error": res.Result},
			})
		}
	}
	return MessageResult{Acknowledged: true, Success: res.Success, Result: res.Result}
}

func (t *Task) handleCancel() MessageResult {
	t.mu.Lock()
	if !t.state.terminal() {
		t.state = StateCancelled
	}
	children := append([]*Task(nil), t.children...)
	t.mu.Unlock()
	for _, c := range children {
		c.handleCancel()
	}
	return MessageResult{Acknowledged: true, Success: true}
}

// handleChildCompleted implements the artifact propagation rule (spec
// §4.5, strict): every artifact the child owns is copied into the parent
// via StoreArtifact (last-write-wins on name collisions).
func (t *Task) handleChildCompleted(
	goCtx context.Context,
	ectx *execctx.Context,
	payload map[string]any,
) MessageResult {
	if child, ok := payload["child"].(*Task); ok {
		for _, a := range child.GetAllArtifacts() {
			t.StoreArtifact(a.Name, a.Value, a.Description, a.Type)
		}
	}
	_ = goCtx
	_ = ectx
	return MessageResult{Acknowledged: true, Success: true, Result: payload["result"]}
}

func (t *Task) handleChildFailed(goCtx context.Context, ectx *execctx.Context, payload map[string]any) MessageResult {
	_ = t.transition(StateFailed)
	if t.parent != nil {
		t.parent.ReceiveMessage(goCtx, ectx, Message{
			Type:    MessageChildFailed,
			Payload: map[string]any{"child": t, "error": payload["error"]},
		})
	}
	return MessageResult{Acknowledged: true, Success: false, Result: payload["error"]}
}

func (t *Task) status() StatusSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.artifacts))
	for n := range t.artifacts {
		names = append(names, n)
	}
	return StatusSnapshot{
		ID:            string(t.id),
		State:         t.state,
		ArtifactNames: names,
		ChildCount:    len(t.children),
	}
}
