package webhook

import (
	"context"
	"strings"
	"time"
)

// EventType identifies a business event webhooks can subscribe to.
type EventType string

const (
	EventOrderCreated     EventType = "order.created"
	EventOrderConfirmed   EventType = "order.confirmed"
	EventOrderShipped     EventType = "order.shipped"
	EventOrderDelivered   EventType = "order.delivered"
	EventPaymentConfirmed EventType = "payment.confirmed"
	EventPaymentRefunded  EventType = "payment.refunded"
	EventPromotional      EventType = "promotional"
)

func KnownEventType(s string) bool {
	switch EventType(s) {
	case EventOrderCreated, EventOrderConfirmed, EventOrderShipped,
		EventOrderDelivered, EventPaymentConfirmed, EventPaymentRefunded,
		EventPromotional:
		return true
	}
	return false
}

type Config struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	URL         string        `json:"url"`
	EventTypes  []EventType   `json:"event_types"`
	Secret      string        `json:"-"`
	Active      bool          `json:"active"`
	MaxAttempts int           `json:"max_attempts"`
	Timeout     time.Duration `json:"timeout"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Subscribed reports whether the config listens for the given event.
func (c *Config) Subscribed(ev EventType) bool {
	for _, t := range c.EventTypes {
		if strings.EqualFold(string(t), string(ev)) {
			return true
		}
	}
	return false
}

type Repo interface {
	Create(ctx context.Context, c *Config) error
	GetByID(ctx context.Context, id int64) (*Config, error)
	// ListActiveByEvent returns active configs subscribed to the event.
	ListActiveByEvent(ctx context.Context, ev EventType) ([]*Config, error)
	List(ctx context.Context, limit int) ([]*Config, error)
	Update(ctx context.Context, c *Config) error
}
