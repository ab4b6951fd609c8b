// Package statestore implements the StateStore collaborator (spec §6): a
// persistent per-project JSON state store with a file-lock protocol (spec
// §5 "Locking discipline"). The Lock/LockHandle shape is grounded on the
// teacher's engine/infra/cache RedisLockManager (Acquire/Release/Refresh/
// Resource/IsHeld), adapted from Redis SETNX+Lua to a gofrs/flock-guarded
// JSON sentinel file since this collaborator is local-disk, not distributed.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/compozy/taskengine/engine/collab"
	"github.com/gofrs/flock"
)

const (
	stateFileName   = "state.json"
	historyFileName = "history.json"
	lockFileName    = "state.lock"
	maxHistoryLen   = 10
)

// lockSentinel is the JSON payload written to state.lock (spec §6).
type lockSentinel struct {
	PID       int   `json:"pid"`
	Timestamp int64 `json:"timestamp"`
	TimeoutMs int64 `json:"timeoutMs"`
}

// Store is a JSON-file-backed StateStore rooted under a base directory, one
// subdirectory per projectId.
type Store struct {
	root string

	mu        sync.Mutex
	projectID string
	state     *collab.ProjectState
	history   []*collab.ProjectState
}

// New constructs a Store rooted at root (created if missing).
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state store root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) projectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// LoadOrCreate loads state.json for projectID, creating a fresh planning
// state if none exists.
func (s *Store) LoadOrCreate(_ context.Context, projectID string) (*collab.ProjectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectID = projectID
	dir := s.projectDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project dir: %w", err)
	}
	path := filepath.Join(dir, stateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read state: %w", err)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		s.state = &collab.ProjectState{
			ProjectID: projectID, Version: 1, Status: collab.StatusPlanning,
			CreatedAt: now, UpdatedAt: now,
		}
		return s.state, nil
	}
	var st collab.ProjectState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	s.state = &st
	s.loadHistoryLocked()
	return s.state, nil
}

func (s *Store) loadHistoryLocked() {
	path := filepath.Join(s.projectDir(s.projectID), historyFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var hist []*collab.ProjectState
	if err := json.Unmarshal(data, &hist); err == nil {
		s.history = hist
	}
}

// Save persists the current state and pushes it onto the bounded history
// ring (spec §6: history.json, ≤10 snapshots).
func (s *Store) Save(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return fmt.Errorf("state store: no state loaded")
	}
	s.state.Version++
	s.state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	snapshot := *s.state
	s.history = append(s.history, &snapshot)
	if len(s.history) > maxHistoryLen {
		s.history = s.history[len(s.history)-maxHistoryLen:]
	}

	dir := s.projectDir(s.projectID)
	if err := writeJSON(filepath.Join(dir, stateFileName), s.state); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, historyFileName), s.history)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Update applies a shallow patch to the in-memory state's status,
// requirements and plan fields; other keys are ignored.
func (s *Store) Update(_ context.Context, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return fmt.Errorf("state store: no state loaded")
	}
	if status, ok := patch["status"].(collab.StateStatus); ok {
		s.state.Status = status
	}
	if req, ok := patch["requirements"]; ok {
		s.state.Requirements = req
	}
	if plan, ok := patch["plan"]; ok {
		s.state.Plan = plan
	}
	return nil
}

// UpdateTask appends a task entry to the state; existing entries are not
// replaced.
func (s *Store) UpdateTask(_ context.Context, task any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return fmt.Errorf("state store: no state loaded")
	}
	s.state.Tasks = append(s.state.Tasks, task)
	return nil
}

// AddArtifact appends an artifact entry to the state.
func (s *Store) AddArtifact(_ context.Context, artifact any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return fmt.Errorf("state store: no state loaded")
	}
	s.state.Artifacts = append(s.state.Artifacts, artifact)
	return nil
}

// MarkComplete transitions state to completed.
func (s *Store) MarkComplete(_ context.Context, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return fmt.Errorf("state store: no state loaded")
	}
	s.state.Status = collab.StatusCompleted
	return nil
}

// Rollback discards the most recent history snapshot (the state as last
// saved), restores the snapshot saved before it, and persists both
// state.json and history.json.
func (s *Store) Rollback(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) < 2 {
		return fmt.Errorf("state store: no history to roll back to")
	}
	s.history = s.history[:len(s.history)-1]
	snapshot := *s.history[len(s.history)-1]
	s.state = &snapshot
	dir := s.projectDir(s.projectID)
	if err := writeJSON(filepath.Join(dir, stateFileName), s.state); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, historyFileName), s.history)
}

// GetHistory returns the bounded history ring, oldest first.
func (s *Store) GetHistory(_ context.Context) ([]*collab.ProjectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*collab.ProjectState(nil), s.history...), nil
}

// fileLock implements collab.LockHandle over a gofrs/flock file lock plus
// the JSON sentinel spec §6 requires for cross-process introspection.
type fileLock struct {
	flock      *flock.Flock
	sentinelPath string
}

// Lock acquires the project's state.lock, guaranteeing at most one writer.
// A fresh (non-expired) sentinel causes a "State is locked" failure; an
// expired one is overwritten (spec §5).
func (s *Store) Lock(ctx context.Context, timeoutMs int64) (collab.LockHandle, error) {
	s.mu.Lock()
	projectID := s.projectID
	s.mu.Unlock()
	if projectID == "" {
		return nil, fmt.Errorf("state store: LoadOrCreate must run before Lock")
	}
	dir := s.projectDir(projectID)
	sentinelPath := filepath.Join(dir, lockFileName)

	if existing, err := readSentinel(sentinelPath); err == nil {
		age := time.Since(time.UnixMilli(existing.Timestamp))
		if age < time.Duration(existing.TimeoutMs)*time.Millisecond {
			return nil, fmt.Errorf("State is locked")
		}
	}

	fl := flock.New(sentinelPath + ".flock")
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("State is locked")
	}

	sentinel := lockSentinel{PID: os.Getpid(), Timestamp: time.Now().UnixMilli(), TimeoutMs: timeoutMs}
	if err := writeJSON(sentinelPath, sentinel); err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	return &fileLock{flock: fl, sentinelPath: sentinelPath}, nil
}

func readSentinel(path string) (lockSentinel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockSentinel{}, err
	}
	var s lockSentinel
	if err := json.Unmarshal(data, &s); err != nil {
		return lockSentinel{}, err
	}
	return s, nil
}

// Unlock implements collab.LockHandle.
func (l *fileLock) Unlock() error {
	_ = os.Remove(l.sentinelPath)
	return l.flock.Unlock()
}
