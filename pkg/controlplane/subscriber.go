// Package controlplane subscribes to the Redis broker channel carrying
// runtime commands for one meeting (§4.7).
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger is the structured-logging seam this package depends on.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type noOpLogger struct{}

func (noOpLogger) Debug(string, ...interface{}) {}
func (noOpLogger) Info(string, ...interface{})  {}
func (noOpLogger) Warn(string, ...interface{})  {}
func (noOpLogger) Error(string, ...interface{}) {}

// Command is one decoded broker message (§4.7).
type Command struct {
	Action   string `json:"action"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task,omitempty"`
}

// Handlers are invoked from the subscriber's own goroutine; the flow
// controller always observes them through a stop flag or reconfigure hook
// rather than direct state mutation (§4.7, §5).
type Handlers struct {
	OnLeave       func()
	OnReconfigure func(language, task string)
}

// Subscriber wraps a go-redis client scoped to one meeting's command
// channel, following the teacher sibling repo's redis wrapper shape
// (ping-at-construction, wrapped errors).
type Subscriber struct {
	rdb    *redis.Client
	logger Logger
}

// New parses redisURL (redis://[:password@]host:port/db) and pings the
// server before returning.
func New(redisURL string, logger Logger) (*Subscriber, error) {
	if logger == nil {
		logger = noOpLogger{}
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("controlplane: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("controlplane: ping redis: %w", err)
	}

	logger.Info("controlplane: redis client initialized")
	return &Subscriber{rdb: rdb, logger: logger}, nil
}

// Channel returns the broker channel name for a meeting (§4.7, §6).
func Channel(meetingID string) string {
	return fmt.Sprintf("bot_commands:meeting:%s", meetingID)
}

// resubscribeDelay bounds the pause between re-subscribe attempts after the
// pubsub channel breaks (§7 "broker subscribes are re-established").
const resubscribeDelay = time.Second

// Run subscribes to the meeting's command channel and dispatches decoded
// commands to h, re-subscribing with a bounded delay whenever the
// connection drops, until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, meetingID string, h Handlers) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.subscribeOnce(ctx, meetingID, h)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("controlplane: subscription dropped, re-subscribing", "meetingId", meetingID)
		select {
		case <-time.After(resubscribeDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// subscribeOnce runs a single subscribe session until ctx is cancelled or
// the pubsub channel closes (e.g. a Redis connection drop).
func (s *Subscriber) subscribeOnce(ctx context.Context, meetingID string, h Handlers) {
	pubsub := s.rdb.Subscribe(ctx, Channel(meetingID))
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
			s.dispatch(msg.Payload, h)
		}
	}
}

func (s *Subscriber) dispatch(payload string, h Handlers) {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		s.logger.Warn("controlplane: malformed command", "error", err, "payload", payload)
		return
	}
	switch cmd.Action {
	case "leave":
		if h.OnLeave != nil {
			h.OnLeave()
		}
	case "reconfigure":
		if h.OnReconfigure != nil {
			h.OnReconfigure(cmd.Language, cmd.Task)
		}
	default:
		s.logger.Warn("controlplane: unknown command action", "action", cmd.Action)
	}
}

// Close releases the underlying Redis connection.
func (s *Subscriber) Close() error {
	return s.rdb.Close()
}
