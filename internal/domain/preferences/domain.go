package preferences

import (
	"context"
	"time"
)

// Preferences is the per-user opt-in matrix: one row per user, one
// flag per channel and per event category.
type Preferences struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	EmailEnabled      bool      `json:"email_enabled"`
	SMSEnabled        bool      `json:"sms_enabled"`
	PushEnabled       bool      `json:"push_enabled"`
	OrderConfirmation bool      `json:"order_confirmation"`
	OrderShipped      bool      `json:"order_shipped"`
	OrderDelivered    bool      `json:"order_delivered"`
	Promotional       bool      `json:"promotional"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Defaults is the lazy-creation policy for users without a row:
// transactional categories on, promotional off.
func Defaults(userID int64) *Preferences {
	return &Preferences{
		UserID:            userID,
		EmailEnabled:      true,
		SMSEnabled:        true,
		PushEnabled:       true,
		OrderConfirmation: true,
		OrderShipped:      true,
		OrderDelivered:    true,
		Promotional:       false,
	}
}

// Category groups notifications for opt-out purposes.
type Category string

const (
	CategoryOrderConfirmation Category = "order-confirmation"
	CategoryOrderShipped      Category = "order-shipped"
	CategoryOrderDelivered    Category = "order-delivered"
	CategoryPromotional       Category = "promotional"
)

func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryOrderConfirmation, CategoryOrderShipped,
		CategoryOrderDelivered, CategoryPromotional:
		return c, true
	}
	return "", false
}

// AllowsChannel reports the channel-level opt-in flag.
func (p *Preferences) AllowsChannel(channel string) bool {
	switch channel {
	case "email":
		return p.EmailEnabled
	case "sms":
		return p.SMSEnabled
	case "push":
		return p.PushEnabled
	}
	return false
}

// AllowsCategory reports the category-level opt-in flag. Unknown
// categories are treated as transactional and allowed.
func (p *Preferences) AllowsCategory(c Category) bool {
	switch c {
	case CategoryOrderConfirmation:
		return p.OrderConfirmation
	case CategoryOrderShipped:
		return p.OrderShipped
	case CategoryOrderDelivered:
		return p.OrderDelivered
	case CategoryPromotional:
		return p.Promotional
	}
	return true
}

type Repo interface {
	// Get returns the stored row or (nil, nil) when none exists.
	Get(ctx context.Context, userID int64) (*Preferences, error)
	Upsert(ctx context.Context, p *Preferences) error
}
