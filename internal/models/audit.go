package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit levels
const (
	AuditInfo     = "info"
	AuditWarn     = "warn"
	AuditError    = "error"
	AuditCritical = "critical" // escrow/local-state divergence, needs manual reconciliation
)

type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"` // user/system/gateway
	Level       string     `json:"level"`
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
