// Package progress implements the ProgressStream collaborator (spec §6): an
// in-process channel broadcaster by default, with an optional cross-process
// publisher backed by github.com/redis/go-redis/v9, adapted from the
// teacher's engine/infra/cache RedisNotificationSystem (Publish/Subscribe
// over redis.UniversalClient, buffered per-channel delivery).
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/compozy/taskengine/engine/collab"
	"github.com/redis/go-redis/v9"
)

// Event is a single task lifecycle event.
type Event struct {
	TaskID    string         `json:"taskId"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// maxHistory bounds the replay buffer Export/Import exchange.
const maxHistory = 256

// Broadcaster is a process-local, multi-subscriber ProgressStream. It
// satisfies collab.ProgressStream directly; no network hop is involved.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers []chan Event
	history     []Event
}

// NewBroadcaster constructs an empty in-process broadcaster.
func NewBroadcaster() *Broadcaster { return &Broadcaster{} }

// Subscribe registers a new listener; the returned channel is buffered and
// delivery is best-effort (a full buffer drops the event).
func (b *Broadcaster) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 128)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *Broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, ev)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Export implements recovery.Exporter, returning the bounded event replay
// buffer (spec §4.4's progressStream export hook).
func (b *Broadcaster) Export() (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.history...), nil
}

// Import implements recovery.Importer, replaying a prior Export's events to
// every subscriber registered at call time (new subscribers will not see
// them). The history buffer itself is also restored so a later Export
// round-trips.
func (b *Broadcaster) Import(snapshot any) error {
	events, ok := snapshot.([]Event)
	if !ok {
		return fmt.Errorf("progress: import: unexpected snapshot type %T", snapshot)
	}
	b.mu.Lock()
	b.history = append([]Event(nil), events...)
	subscribers := append([]chan Event(nil), b.subscribers...)
	b.mu.Unlock()
	for _, ev := range events {
		for _, ch := range subscribers {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// CreateTaskEmitter implements collab.ProgressStream.
func (b *Broadcaster) CreateTaskEmitter(taskID string) collab.Emitter {
	return &broadcastEmitter{taskID: taskID, broadcaster: b}
}

type broadcastEmitter struct {
	taskID      string
	broadcaster *Broadcaster
}

func (e *broadcastEmitter) emit(kind string, payload map[string]any) {
	e.broadcaster.publish(Event{TaskID: e.taskID, Kind: kind, Payload: payload, Timestamp: time.Now()})
}

func (e *broadcastEmitter) Custom(event string, payload map[string]any) { e.emit(event, payload) }
func (e *broadcastEmitter) Started(payload map[string]any)              { e.emit("started", payload) }
func (e *broadcastEmitter) Completed(payload map[string]any)            { e.emit("completed", payload) }
func (e *broadcastEmitter) Failed(payload map[string]any)               { e.emit("failed", payload) }
func (e *broadcastEmitter) Retrying(payload map[string]any)             { e.emit("retrying", payload) }
func (e *broadcastEmitter) Progress(payload map[string]any)             { e.emit("progress", payload) }

// RedisStream publishes task events to Redis pub/sub, for deployments where
// more than one process observes the same execution. It is a local
// convenience, not a distribution mechanism for the engine itself.
type RedisStream struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStream wraps an already-connected Redis client.
func NewRedisStream(client redis.UniversalClient, channelPrefix string) (*RedisStream, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channelPrefix == "" {
		channelPrefix = "taskengine:task"
	}
	return &RedisStream{client: client, prefix: channelPrefix}, nil
}

func (s *RedisStream) channel(taskID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, taskID)
}

// Publish sends ev on the task's channel.
func (s *RedisStream) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return s.client.Publish(ctx, s.channel(ev.TaskID), payload).Err()
}

// Subscribe returns a channel of decoded Events for taskID.
func (s *RedisStream) Subscribe(ctx context.Context, taskID string) (<-chan Event, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(taskID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("confirm subscription: %w", err)
	}
	out := make(chan Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
					select {
					case out <- ev:
					default:
					}
				}
			}
		}
	}()
	return out, nil
}

// Close releases the underlying client.
func (s *RedisStream) Close() error { return s.client.Close() }

// CreateTaskEmitter implements collab.ProgressStream, publishing over Redis.
func (s *RedisStream) CreateTaskEmitter(taskID string) collab.Emitter {
	return &redisEmitter{taskID: taskID, stream: s}
}

type redisEmitter struct {
	taskID string
	stream *RedisStream
}

func (e *redisEmitter) emit(kind string, payload map[string]any) {
	_ = e.stream.Publish(context.Background(), Event{
		TaskID: e.taskID, Kind: kind, Payload: payload, Timestamp: time.Now(),
	})
}

func (e *redisEmitter) Custom(event string, payload map[string]any) { e.emit(event, payload) }
func (e *redisEmitter) Started(payload map[string]any)              { e.emit("started", payload) }
func (e *redisEmitter) Completed(payload map[string]any)            { e.emit("completed", payload) }
func (e *redisEmitter) Failed(payload map[string]any)               { e.emit("failed", payload) }
func (e *redisEmitter) Retrying(payload map[string]any)             { e.emit("retrying", payload) }
func (e *redisEmitter) Progress(payload map[string]any)             { e.emit("progress", payload) }
