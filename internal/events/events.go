package events

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderPaid      = "OrderPaid"
	EventOrderCompleted = "OrderCompleted"
	EventOrderFailed    = "OrderFailed"
	EventOrderCancelled = "OrderCancelled"
)

// Envelope is the versioned wrapper every lifecycle event ships in.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderEventPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      string `json:"user_id,omitempty"`
	OrderType   string `json:"order_type"`
	Status      string `json:"status"`
	TotalCents  int64  `json:"total_cents"`
	Reason      string `json:"reason,omitempty"`
}
