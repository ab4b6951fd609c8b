package collab

import (
	"context"
	"fmt"
	"sync"
)

// MockToolRegistry is a deterministic ToolRegistry test double: tools are
// registered by name and invoked directly, with no network or process
// boundary.
type MockToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewMockToolRegistry constructs an empty registry.
func NewMockToolRegistry() *MockToolRegistry {
	return &MockToolRegistry{tools: map[string]Tool{}}
}

// Register binds a name to a Tool implementation.
func (m *MockToolRegistry) Register(name string, tool Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools[name] = tool
}

// GetTool implements ToolRegistry.
func (m *MockToolRegistry) GetTool(name string) (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[name]
	return t, ok
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool func(ctx context.Context, params map[string]any) (ToolResult, error)

// Execute implements Tool.
func (f FuncTool) Execute(ctx context.Context, params map[string]any) (ToolResult, error) {
	return f(ctx, params)
}

// MockPromptClient is a deterministic SimplePromptClient test double: it
// returns a scripted sequence of responses, cycling the last one once
// exhausted.
type MockPromptClient struct {
	mu        sync.Mutex
	Responses []PromptResponse
	Requests  []PromptRequest
	call      int
}

// Request implements SimplePromptClient.
func (m *MockPromptClient) Request(_ context.Context, req PromptRequest) (PromptResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.Responses) == 0 {
		return PromptResponse{}, fmt.Errorf("mock prompt client: no scripted responses")
	}
	idx := m.call
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.call++
	return m.Responses[idx], nil
}

// MockEmitter records every event it is given, for test assertions.
type MockEmitter struct {
	mu     sync.Mutex
	Events []MockEvent
}

// MockEvent is one recorded Emitter call.
type MockEvent struct {
	Kind    string
	Payload map[string]any
}

func (e *MockEmitter) record(kind string, payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Events = append(e.Events, MockEvent{Kind: kind, Payload: payload})
}

func (e *MockEmitter) Custom(event string, payload map[string]any) { e.record(event, payload) }
func (e *MockEmitter) Started(payload map[string]any)              { e.record("started", payload) }
func (e *MockEmitter) Completed(payload map[string]any)            { e.record("completed", payload) }
func (e *MockEmitter) Failed(payload map[string]any)               { e.record("failed", payload) }
func (e *MockEmitter) Retrying(payload map[string]any)             { e.record("retrying", payload) }
func (e *MockEmitter) Progress(payload map[string]any)             { e.record("progress", payload) }

// MockProgressStream hands out a MockEmitter per task id and keeps them for
// inspection.
type MockProgressStream struct {
	mu       sync.Mutex
	emitters map[string]*MockEmitter
}

// NewMockProgressStream constructs an empty stream.
func NewMockProgressStream() *MockProgressStream {
	return &MockProgressStream{emitters: map[string]*MockEmitter{}}
}

// CreateTaskEmitter implements ProgressStream.
func (s *MockProgressStream) CreateTaskEmitter(taskID string) Emitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emitters[taskID]
	if !ok {
		e = &MockEmitter{}
		s.emitters[taskID] = e
	}
	return e
}

// EmitterFor returns the recorded emitter for taskID, if any.
func (s *MockProgressStream) EmitterFor(taskID string) (*MockEmitter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emitters[taskID]
	return e, ok
}

// MockStateStore is an in-memory StateStore test double.
type MockStateStore struct {
	mu      sync.Mutex
	state   *ProjectState
	history []*ProjectState
	locked  bool
}

// NewMockStateStore constructs an empty store.
func NewMockStateStore() *MockStateStore { return &MockStateStore{} }

func (m *MockStateStore) LoadOrCreate(_ context.Context, projectID string) (*ProjectState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = &ProjectState{ProjectID: projectID, Version: 1, Status: StatusPlanning}
	}
	return m.state, nil
}

func (m *MockStateStore) Save(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return fmt.Errorf("mock state store: no state loaded")
	}
	snapshot := *m.state
	m.history = append(m.history, &snapshot)
	return nil
}

func (m *MockStateStore) Update(_ context.Context, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return fmt.Errorf("mock state store: no state loaded")
	}
	if status, ok := patch["status"].(StateStatus); ok {
		m.state.Status = status
	}
	return nil
}

func (m *MockStateStore) UpdateTask(_ context.Context, task any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Tasks = append(m.state.Tasks, task)
	return nil
}

func (m *MockStateStore) AddArtifact(_ context.Context, artifact any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Artifacts = append(m.state.Artifacts, artifact)
	return nil
}

func (m *MockStateStore) MarkComplete(_ context.Context, _ any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Status = StatusCompleted
	return nil
}

func (m *MockStateStore) Rollback(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return fmt.Errorf("mock state store: no history to roll back to")
	}
	last := m.history[len(m.history)-1]
	m.history = m.history[:len(m.history)-1]
	snapshot := *last
	m.state = &snapshot
	return nil
}

func (m *MockStateStore) GetHistory(_ context.Context) ([]*ProjectState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ProjectState(nil), m.history...), nil
}

func (m *MockStateStore) Lock(_ context.Context, _ int64) (LockHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return nil, fmt.Errorf("State is locked")
	}
	m.locked = true
	return &mockLock{store: m}, nil
}

type mockLock struct{ store *MockStateStore }

func (l *mockLock) Unlock() error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.locked = false
	return nil
}
