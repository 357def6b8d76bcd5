package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

// EventType enumerates the webhook kinds this system acts on. Everything
// else maps to EventUnrecognized and is acknowledged without side effects,
// so new kinds added by Stripe cannot cause failures.
type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventSubscriptionCreated      EventType = "customer.subscription.created"
	EventSubscriptionUpdated      EventType = "customer.subscription.updated"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
	EventUnrecognized             EventType = "unrecognized"
)

// ParseEventType maps a raw Stripe event type onto the recognized enum.
func ParseEventType(raw string) EventType {
	switch EventType(strings.TrimSpace(raw)) {
	case EventCheckoutSessionCompleted:
		return EventCheckoutSessionCompleted
	case EventSubscriptionCreated:
		return EventSubscriptionCreated
	case EventSubscriptionUpdated:
		return EventSubscriptionUpdated
	case EventSubscriptionDeleted:
		return EventSubscriptionDeleted
	default:
		return EventUnrecognized
	}
}

// Event is the verified, typed envelope handed to the dispatcher. Created is
// the event time embedded in the payload and is authoritative for ordering;
// ReceivedAt is when this system saw the delivery and is not.
type Event struct {
	ID                 string
	Type               EventType
	RawType            string
	Created            time.Time
	Object             json.RawMessage
	PreviousAttributes json.RawMessage
	Payload            []byte
	ReceivedAt         time.Time
}

// ParseEvent decodes a raw Stripe event body into the typed envelope.
// Signature verification must already have happened.
func ParseEvent(payload []byte, receivedAt time.Time) (*Event, error) {
	var raw struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object             json.RawMessage `json:"object"`
			PreviousAttributes json.RawMessage `json:"previous_attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(raw.ID) == "" || strings.TrimSpace(raw.Type) == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrMalformedPayload)
	}

	created := receivedAt
	if raw.Created > 0 {
		created = time.Unix(raw.Created, 0).UTC()
	}

	return &Event{
		ID:                 strings.TrimSpace(raw.ID),
		Type:               ParseEventType(raw.Type),
		RawType:            strings.TrimSpace(raw.Type),
		Created:            created,
		Object:             raw.Data.Object,
		PreviousAttributes: raw.Data.PreviousAttributes,
		Payload:            payload,
		ReceivedAt:         receivedAt,
	}, nil
}

// CheckoutSession is the subset of a checkout.session.completed object this
// system correlates on.
type CheckoutSession struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
	Created  int64             `json:"created"`
}

// Email returns the best available customer email from the session.
func (s *CheckoutSession) Email() string {
	if e := strings.TrimSpace(s.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(s.CustomerEmail)
}

// CheckoutSession decodes the event object as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var session CheckoutSession
	if err := json.Unmarshal(e.Object, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, fmt.Errorf("%w: checkout session missing id", ErrMalformedPayload)
	}
	return &session, nil
}

// SubscriptionObject is the subset of a Stripe subscription object mirrored
// locally. Pointer fields distinguish "absent from payload" from zero values
// so partial payloads never blank out stored state.
type SubscriptionObject struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	Created            int64             `json:"created"`
	StartDate          int64             `json:"start_date"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAt           *int64            `json:"cancel_at"`
	CanceledAt         *int64            `json:"canceled_at"`
	CancelAtPeriodEnd  *bool             `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID returns the first item's price id, if any.
func (o *SubscriptionObject) PriceID() string {
	if len(o.Items.Data) > 0 {
		return o.Items.Data[0].Price.ID
	}
	return ""
}

// Subscription decodes the event object as a subscription.
func (e *Event) Subscription() (*SubscriptionObject, error) {
	var obj SubscriptionObject
	if err := json.Unmarshal(e.Object, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(obj.ID) == "" {
		return nil, fmt.Errorf("%w: subscription object missing id", ErrMalformedPayload)
	}
	return &obj, nil
}

// SubscriptionPrevious carries the previous_attributes fields used for
// renewal detection on customer.subscription.updated.
type SubscriptionPrevious struct {
	CancelAt   *int64 `json:"cancel_at"`
	CanceledAt *int64 `json:"canceled_at"`
}

// SubscriptionPrevious decodes data.previous_attributes, returning nil when
// the event carries none.
func (e *Event) SubscriptionPrevious() *SubscriptionPrevious {
	if len(e.PreviousAttributes) == 0 {
		return nil
	}
	var prev SubscriptionPrevious
	if err := json.Unmarshal(e.PreviousAttributes, &prev); err != nil {
		return nil
	}
	return &prev
}

// unixTime converts a Stripe unix timestamp to *time.Time, nil for zero.
func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
