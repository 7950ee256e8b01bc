package events

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisNotifier publishes user-facing notifications onto the notify stream.
// The notify-bridge forwards them to the notification service; delivery
// semantics (email, in-app) are not the core's concern.
type RedisNotifier struct {
	publisher Publisher
	log       *zap.Logger
}

func NewRedisNotifier(publisher Publisher, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{publisher: publisher, log: log}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID uuid.UUID, kind, title, message string, relatedID uuid.UUID) {
	err := n.publisher.Publish(ctx, StreamNotify, Event{
		Type: EventUserNotification,
		Payload: map[string]any{
			"user_id":    userID.String(),
			"kind":       kind,
			"title":      title,
			"message":    message,
			"related_id": relatedID.String(),
		},
	})
	if err != nil {
		// Best effort: a lost notification never fails the lifecycle step.
		n.log.Warn("notification publish failed",
			zap.String("user_id", userID.String()),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}
