package events

import "context"

// Streams
const (
	StreamTransaction = "events:transaction"
	StreamNotify      = "events:notify"
)

// Event types
const (
	EventTransactionCreated   = "transaction_created"
	EventCredentialsSubmitted = "credentials_submitted"
	EventTransactionCompleted = "transaction_completed"
	EventTransactionDisputed  = "transaction_disputed"
	EventUserNotification     = "user_notification"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
