package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"
)

const (
	EventCompleted = "grading_completed"
	EventCancelled = "submission_cancelled"
	EventReturned  = "submission_returned"

	defaultStream = "grading:events"
	timeFormat    = "2006-01-02 15:04:05"
)

// Event describes a finalized workflow transition for downstream
// delivery (learner email, dashboards). The queue publishes these
// fire-and-forget: delivery failure never rolls back the transition.
type Event struct {
	Kind           string
	SubmissionUUID string
	Course         string
	Item           string
	ScorerID       string
	Reason         string
	ActorID        string
}

type Notifier interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

// RedisNotifier appends events to a redis stream that the delivery
// side-channel consumes at its own pace.
type RedisNotifier struct {
	redis  *redis.Client
	stream string
}

func NewRedisNotifier(redisURL, stream string) (*RedisNotifier, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if stream == "" {
		stream = defaultStream
	}

	return &RedisNotifier{redis: client, stream: stream}, nil
}

func (n *RedisNotifier) Publish(ctx context.Context, event Event) {
	err := n.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: map[string]interface{}{
			"event":           event.Kind,
			"submission_uuid": event.SubmissionUUID,
			"course":          event.Course,
			"item":            event.Item,
			"scorer_id":       event.ScorerID,
			"reason":          event.Reason,
			"actor_id":        event.ActorID,
			"dttm_utc":        time.Now().UTC().Format(timeFormat),
		},
	}).Err()
	if err != nil {
		logger.Error.Printf("Failed to publish %s for %s: %v", event.Kind, event.SubmissionUUID, err)
	}
}

func (n *RedisNotifier) Close() error {
	if n.redis != nil {
		return n.redis.Close()
	}
	return nil
}

// NoopNotifier is used when notifications are disabled in config.
type NoopNotifier struct{}

func (NoopNotifier) Publish(ctx context.Context, event Event) {}

func (NoopNotifier) Close() error { return nil }
