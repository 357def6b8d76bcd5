package billing

import (
	"sync"

	"github.com/stripesync/stripesync/app/models"
)

// SubscriptionHook observes subscription record creates and updates.
type SubscriptionHook func(sub *models.StripeSubscription)

// OrphanHook observes orphaned payment creation.
type OrphanHook func(orphan *models.OrphanedPayment)

// Notifier lets the host application react to record changes without
// polling. Hooks run synchronously on the webhook goroutine after the write
// commits, so they must not block; anything slow belongs on the host's own
// queue.
type Notifier struct {
	mu                sync.RWMutex
	subscriptionHooks []SubscriptionHook
	orphanHooks       []OrphanHook
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// OnSubscription registers a hook for subscription creates and updates.
func (n *Notifier) OnSubscription(fn SubscriptionHook) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscriptionHooks = append(n.subscriptionHooks, fn)
}

// OnOrphan registers a hook for orphaned payment creation.
func (n *Notifier) OnOrphan(fn OrphanHook) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orphanHooks = append(n.orphanHooks, fn)
}

func (n *Notifier) subscriptionChanged(sub *models.StripeSubscription) {
	n.mu.RLock()
	hooks := n.subscriptionHooks
	n.mu.RUnlock()
	for _, fn := range hooks {
		fn(sub)
	}
}

func (n *Notifier) orphanCreated(orphan *models.OrphanedPayment) {
	n.mu.RLock()
	hooks := n.orphanHooks
	n.mu.RUnlock()
	for _, fn := range hooks {
		fn(orphan)
	}
}
