package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// OrphanedPayment captures a revenue-relevant event that could not be matched
// to a local user. This shouldn't happen, but when it does it is a big deal,
// so we keep everything needed for manual reconciliation. Resolution is an
// operator process; the system never retries these on its own.
type OrphanedPayment struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	StripeEventID    string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_orphaned_payments_event_id" json:"stripe_event_id"`
	StripeCustomerID string    `gorm:"type:varchar(255);default:''" json:"stripe_customer_id"`
	CustomerEmail    string    `gorm:"type:varchar(200);default:''" json:"customer_email" validate:"omitempty,email"`
	ClientReference  string    `gorm:"type:varchar(255);default:''" json:"client_reference"`
	EventType        string    `gorm:"type:varchar(100);not null" json:"event_type"`
	Reason           string    `gorm:"type:varchar(255);default:''" json:"reason"`
	Payload          string    `gorm:"type:longtext" json:"payload"`
	ReceivedAt       time.Time `gorm:"type:timestamp;not null" json:"received_at"`
	Resolved         bool      `gorm:"default:false;index" json:"resolved"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Validate checks field constraints (currently the captured email format).
func (o *OrphanedPayment) Validate() error {
	v := validator.New()
	return v.Struct(o)
}

func (o *OrphanedPayment) String() string {
	return fmt.Sprintf("Orphaned Payment (pk: %d): %s (%s)", o.ID, o.StripeCustomerID, o.CustomerEmail)
}
