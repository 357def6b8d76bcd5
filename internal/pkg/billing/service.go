package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stripesync/stripesync/app/models"
	"gorm.io/gorm"
)

// maxUpsertAttempts bounds the local retries on a concurrent-upsert race
// before the failure surfaces and Stripe's redelivery takes over.
const maxUpsertAttempts = 3

// renewalMetadataKey is namespaced so it cannot collide with checkout
// metadata supplied by the host application.
const renewalMetadataKey = "stripesync.subscription.last_renewed"

// Service is the webhook dispatcher: it runs each verified event through the
// idempotency ledger, resolves correlation, and routes to the subscription
// or orphan store. Processing the same event id twice produces the same
// stored state as processing it once.
type Service struct {
	repo     Repository
	resolver Resolver
	client   *StripeClient
	notifier *Notifier
}

// NewService creates a dispatcher from injected dependencies. client may be
// nil, in which case checkout events are recorded without API enrichment.
func NewService(repo Repository, resolver Resolver, client *StripeClient, notifier *Notifier) *Service {
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Service{repo: repo, resolver: resolver, client: client, notifier: notifier}
}

// NewServiceFromDB creates a dispatcher from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, client *StripeClient) *Service {
	return NewService(NewRepository(db), NewResolver(db), client, NewNotifier())
}

// Notifier exposes the observer registry so the host application can react
// to record changes.
func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// ProcessEvent applies a verified event. Delivery order is not guaranteed
// and deliveries are at-least-once, so the ledger suppresses re-application
// and the event-time watermark keeps late arrivals from regressing state.
func (s *Service) ProcessEvent(ctx context.Context, event *Event) (*Outcome, error) {
	if event.Type == EventUnrecognized {
		// Forward compatibility: Stripe adds kinds over time. Acknowledge
		// without any storage write.
		log.Printf("ignoring unrecognized stripe event type %s (id=%s)", event.RawType, event.ID)
		return &Outcome{Ignored: true}, nil
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		StripeEventID:  event.ID,
		EventType:      event.RawType,
		PayloadJSON:    string(event.Payload),
		SignatureValid: true,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		if stored.ProcessedAt != nil && stored.ProcessingError == "" {
			return &Outcome{Duplicate: true}, nil
		}
		// A prior delivery died mid-flight or failed. The mutations below
		// are idempotent, so running them again is safe.
	}

	outcome, procErr := s.dispatch(ctx, event)
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	if markErr := s.repo.MarkWebhookProcessed(stored.ID, errMsg); markErr != nil {
		log.Printf("failed to mark webhook event %s processed: %v", event.ID, markErr)
	}
	if procErr != nil {
		return nil, procErr
	}
	return outcome, nil
}

func (s *Service) dispatch(ctx context.Context, event *Event) (*Outcome, error) {
	switch event.Type {
	case EventCheckoutSessionCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.handleSubscriptionEvent(ctx, event)
	case EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		return &Outcome{Ignored: true}, nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *Event) (*Outcome, error) {
	session, err := event.CheckoutSession()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(session.Subscription) == "" {
		// Payment-mode checkout: no subscription to reconcile.
		log.Printf("no subscription id in checkout.session.completed event %s", event.ID)
		return &Outcome{Ignored: true}, nil
	}

	user, err := s.resolver.Resolve(ctx, session.ClientReferenceID)
	if errors.Is(err, ErrNoMatch) {
		return s.orphanCheckout(session, event)
	}
	if err != nil {
		return nil, err
	}

	var detail *SubscriptionObject
	if s.client != nil {
		detail, err = s.client.GetSubscription(ctx, session.Subscription)
		if err != nil {
			// Budget denied or API failure: record the correlation facts the
			// session carries; subscription events converge the rest.
			log.Printf("could not fetch subscription %s for event %s: %v", session.Subscription, event.ID, err)
			detail = nil
		}
	}

	sub, stale, err := s.upsertSubscription(session.Subscription, event, subscriptionMutation{
		identity: func(sub *models.StripeSubscription) {
			uid := user.ID
			sub.UserID = &uid
			sub.ClientReferenceID = strings.TrimSpace(session.ClientReferenceID)
			if session.Customer != "" {
				sub.StripeCustomerID = session.Customer
			}
			for key, value := range session.Metadata {
				sub.SetMetadata(key, value)
			}
		},
		state: func(sub *models.StripeSubscription) {
			if detail != nil {
				applySubscriptionObject(sub, detail)
			}
			if sub.Status == "" {
				sub.Status = models.SubscriptionStatusIncomplete
			}
		},
	})
	if err != nil {
		return nil, err
	}

	s.notifier.subscriptionChanged(sub)
	log.Printf("processed %s for subscription %s (user=%d)", event.RawType, session.Subscription, user.ID)
	return &Outcome{Applied: true, Stale: stale}, nil
}

func (s *Service) handleSubscriptionEvent(ctx context.Context, event *Event) (*Outcome, error) {
	_ = ctx
	obj, err := event.Subscription()
	if err != nil {
		return nil, err
	}
	prev := event.SubscriptionPrevious()

	sub, stale, err := s.upsertSubscription(obj.ID, event, subscriptionMutation{
		state: func(sub *models.StripeSubscription) {
			renewed := isRenewal(sub, prev)
			applySubscriptionObject(sub, obj)
			if renewed {
				sub.CancelAt = nil
				sub.CancelledAt = nil
				sub.SetMetadata(renewalMetadataKey, event.Created.UTC().Format(time.RFC3339))
				log.Printf("renewal detected on %s for subscription %s", event.RawType, obj.ID)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	s.notifier.subscriptionChanged(sub)
	log.Printf("processed %s for subscription %s", event.RawType, obj.ID)
	return &Outcome{Applied: true, Stale: stale}, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *Event) (*Outcome, error) {
	_ = ctx
	obj, err := event.Subscription()
	if err != nil {
		return nil, err
	}

	sub, err := s.repo.GetSubscriptionByStripeID(obj.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Cancellation of a subscription we never saw is not actionable.
		log.Printf("subscription %s not found for %s, nothing to cancel", obj.ID, event.RawType)
		return &Outcome{Ignored: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if sub.LastEventAt != nil && event.Created.Before(*sub.LastEventAt) {
		return &Outcome{Applied: true, Stale: true}, nil
	}

	sub.Status = models.SubscriptionStatusCanceled
	if obj.CanceledAt != nil {
		sub.CancelledAt = unixTime(*obj.CanceledAt)
	} else if sub.CancelledAt == nil {
		t := event.Created
		sub.CancelledAt = &t
	}
	eventTime := event.Created
	sub.LastEventAt = &eventTime
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}

	s.notifier.subscriptionChanged(sub)
	log.Printf("subscription %s canceled via %s", obj.ID, event.RawType)
	return &Outcome{Applied: true}, nil
}

func (s *Service) orphanCheckout(session *CheckoutSession, event *Event) (*Outcome, error) {
	orphan := &models.OrphanedPayment{
		StripeEventID:    event.ID,
		StripeCustomerID: strings.TrimSpace(session.Customer),
		CustomerEmail:    session.Email(),
		ClientReference:  strings.TrimSpace(session.ClientReferenceID),
		EventType:        event.RawType,
		Reason:           "client_reference_id did not resolve to a local user",
		Payload:          string(event.Payload),
		ReceivedAt:       event.ReceivedAt,
	}
	created, stored, err := s.repo.CreateOrphanIfNotExists(orphan)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("CRITICAL: orphaned payment on event %s (customer=%s email=%s)", event.ID, orphan.StripeCustomerID, orphan.CustomerEmail)
		s.notifier.orphanCreated(stored)
	}
	return &Outcome{Orphaned: true}, nil
}

// MarkOrphanResolved flags an orphaned payment as manually reconciled. The
// system itself never retries orphans; resolution is an operator process.
func (s *Service) MarkOrphanResolved(ctx context.Context, orphanID uint) error {
	_ = ctx
	if orphanID == 0 {
		return errors.New("orphan id is required")
	}
	return s.repo.MarkOrphanResolved(orphanID)
}

// subscriptionMutation splits an upsert into correlation facts, which apply
// regardless of event order (a late checkout may still backfill them), and
// status-bearing state, which only applies when the event is not older than
// the stored watermark.
type subscriptionMutation struct {
	identity func(sub *models.StripeSubscription)
	state    func(sub *models.StripeSubscription)
}

// upsertSubscription performs the create-or-update for a Stripe subscription
// id. Concurrent deliveries racing on the unique key are absorbed by
// re-reading and retrying, bounded by maxUpsertAttempts.
func (s *Service) upsertSubscription(stripeSubID string, event *Event, m subscriptionMutation) (*models.StripeSubscription, bool, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		sub, err := s.repo.GetSubscriptionByStripeID(stripeSubID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sub = &models.StripeSubscription{
				StripeSubscriptionID: stripeSubID,
				Status:               models.SubscriptionStatusIncomplete,
			}
			if m.identity != nil {
				m.identity(sub)
			}
			if m.state != nil {
				m.state(sub)
			}
			eventTime := event.Created
			sub.LastEventAt = &eventTime
			if err := s.repo.CreateSubscription(sub); err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					// Lost the create race; re-read and apply as an update.
					lastErr = err
					continue
				}
				return nil, false, err
			}
			return sub, false, nil
		}
		if err != nil {
			return nil, false, err
		}

		stale := sub.LastEventAt != nil && event.Created.Before(*sub.LastEventAt)
		if m.identity != nil {
			m.identity(sub)
		}
		if !stale {
			if m.state != nil {
				m.state(sub)
			}
			eventTime := event.Created
			sub.LastEventAt = &eventTime
		}
		if err := s.repo.SaveSubscription(sub); err != nil {
			lastErr = err
			continue
		}
		return sub, stale, nil
	}
	return nil, false, fmt.Errorf("subscription upsert for %s did not settle after %d attempts: %w", stripeSubID, maxUpsertAttempts, lastErr)
}

// isRenewal detects the original cancellation being lifted: the update's
// previous_attributes still carry the cancel_at we have stored, and the new
// payload no longer schedules one.
func isRenewal(sub *models.StripeSubscription, prev *SubscriptionPrevious) bool {
	if prev == nil || prev.CancelAt == nil || sub.CancelAt == nil {
		return false
	}
	prevCancel := unixTime(*prev.CancelAt)
	return prevCancel != nil && sub.CancelAt.Equal(*prevCancel)
}

func applySubscriptionObject(sub *models.StripeSubscription, obj *SubscriptionObject) {
	if obj.Customer != "" {
		sub.StripeCustomerID = obj.Customer
	}
	if status := normalizeStatus(obj.Status); status != "" {
		sub.Status = status
	}
	if priceID := obj.PriceID(); priceID != "" {
		sub.PriceID = priceID
	}
	if t := unixTime(obj.CurrentPeriodStart); t != nil {
		sub.CurrentPeriodStart = t
	}
	if t := unixTime(obj.CurrentPeriodEnd); t != nil {
		sub.CurrentPeriodEnd = t
	}
	if obj.CancelAt != nil {
		sub.CancelAt = unixTime(*obj.CancelAt)
	}
	if obj.CanceledAt != nil {
		sub.CancelledAt = unixTime(*obj.CanceledAt)
	}
	if obj.CancelAtPeriodEnd != nil {
		v := *obj.CancelAtPeriodEnd
		sub.CancelAtPeriodEnd = &v
	}
	for key, value := range obj.Metadata {
		sub.SetMetadata(key, value)
	}
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
