package models

import (
	"encoding/json"
	"time"
)

// Subscription lifecycle statuses, mirroring Stripe's own vocabulary.
const (
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPaused     = "paused"
)

// StripeSubscription is the minimal local mirror of a Stripe subscription:
// the correlation facts needed for entitlement decisions, nothing more.
// Exactly one row exists per Stripe subscription id; rows are never
// hard-deleted, cancellation sets Status to "canceled" instead.
type StripeSubscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               *uint      `gorm:"index;default:null" json:"user_id,omitempty"`
	StripeCustomerID     string     `gorm:"type:varchar(255);index" json:"stripe_customer_id"`
	StripeSubscriptionID string     `gorm:"type:varchar(255);not null;uniqueIndex:ux_stripe_subscriptions_sub_id" json:"stripe_subscription_id"`
	ClientReferenceID    string     `gorm:"type:varchar(255);index" json:"client_reference_id"`
	Status               string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	PriceID              string     `gorm:"type:varchar(255)" json:"price_id"`
	CurrentPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAt             *time.Time `gorm:"type:timestamp;default:null" json:"cancel_at,omitempty"`
	CancelledAt          *time.Time `gorm:"type:timestamp;default:null" json:"cancelled_at,omitempty"`
	CancelAtPeriodEnd    *bool      `gorm:"default:null" json:"cancel_at_period_end,omitempty"`
	Metadata             string     `gorm:"type:text" json:"metadata"`
	// LastEventAt is the event-time watermark: status-bearing fields are only
	// overwritten by events whose created timestamp is >= this value.
	LastEventAt *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetMetadata parses the metadata field as JSON.
func (s *StripeSubscription) GetMetadata() map[string]string {
	out := map[string]string{}
	if s.Metadata == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s.Metadata), &out); err != nil {
		return map[string]string{}
	}
	return out
}

// SetMetadata sets a single metadata key, re-encoding the field.
func (s *StripeSubscription) SetMetadata(key, value string) {
	data := s.GetMetadata()
	data[key] = value
	if encoded, err := json.Marshal(data); err == nil {
		s.Metadata = string(encoded)
	}
}

// GetMetadataKey retrieves a specific key from metadata.
func (s *StripeSubscription) GetMetadataKey(key string) string {
	return s.GetMetadata()[key]
}

// IsCanceled reports whether the subscription has reached its terminal state.
func (s *StripeSubscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}
