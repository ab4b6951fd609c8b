// Package collab defines the external collaborators the core substrate
// treats as contract-only (spec §6): ToolRegistry, SimplePromptClient,
// ProgressStream, Logger, and StateStore. Only interfaces and deterministic
// test doubles live here — no production LLM/tool backend.
package collab

import "context"

// ToolResult is a Tool's outcome.
type ToolResult struct {
	Success bool
	Result  any
	Error   string
}

// Tool is an invocable external capability.
type Tool interface {
	Execute(ctx context.Context, params map[string]any) (ToolResult, error)
}

// ToolRegistry resolves a named Tool.
type ToolRegistry interface {
	GetTool(name string) (Tool, bool)
}

// PromptRequest is a SimplePromptClient.request payload (spec §6).
type PromptRequest struct {
	Prompt       string
	SystemPrompt string
	ChatHistory  []map[string]any
	MaxTokens    int
	Extra        map[string]any
}

// PromptResponse is the union of shapes SimplePromptClient may return;
// callers extract content per spec §4.6.1's shape-probing rule.
type PromptResponse struct {
	Content string
	Choices []Choice
	Text    string
}

// Choice mirrors an OpenAI-style {choices:[{message:{content}}]} response.
type Choice struct {
	Message struct {
		Content string
	}
}

// SimplePromptClient is the LLM collaborator.
type SimplePromptClient interface {
	Request(ctx context.Context, req PromptRequest) (PromptResponse, error)
}

// Emitter is returned by ProgressStream.CreateTaskEmitter.
type Emitter interface {
	Custom(event string, payload map[string]any)
	Started(payload map[string]any)
	Completed(payload map[string]any)
	Failed(payload map[string]any)
	Retrying(payload map[string]any)
	Progress(payload map[string]any)
}

// ProgressStream publishes task lifecycle events to external observers.
type ProgressStream interface {
	CreateTaskEmitter(taskID string) Emitter
}

// Logger is the diagnostics-only collaborator (never part of behavior).
type Logger interface {
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Debug(msg string, kv ...any)
}

// StateStatus is the StateStore's status enum (spec §6).
type StateStatus string

const (
	StatusPlanning  StateStatus = "planning"
	StatusExecuting StateStatus = "executing"
	StatusTesting   StateStatus = "testing"
	StatusCompleted StateStatus = "completed"
	StatusCancelled StateStatus = "cancelled"
)

// ProjectState is the persisted state.json document (spec §6).
type ProjectState struct {
	ProjectID    string
	Version      int
	Status       StateStatus
	CreatedAt    string
	UpdatedAt    string
	Requirements any
	Plan         any
	Phases       []any
	Tasks        []any
	Artifacts    []any
}

// LockHandle is returned by StateStore.Lock.
type LockHandle interface {
	Unlock() error
}

// StateStore is the persistent per-project JSON state collaborator.
type StateStore interface {
	LoadOrCreate(ctx context.Context, projectID string) (*ProjectState, error)
	Save(ctx context.Context) error
	Update(ctx context.Context, patch map[string]any) error
	UpdateTask(ctx context.Context, task any) error
	AddArtifact(ctx context.Context, artifact any) error
	MarkComplete(ctx context.Context, result any) error
	Rollback(ctx context.Context) error
	GetHistory(ctx context.Context) ([]*ProjectState, error)
	Lock(ctx context.Context, timeoutMs int64) (LockHandle, error)
}
