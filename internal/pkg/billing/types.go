package billing

// Outcome describes how the dispatcher handled a verified event. All of
// these acknowledge the delivery with a 2xx; only processing errors do not.
type Outcome struct {
	// Duplicate means the event id was already applied; nothing re-ran.
	Duplicate bool
	// Ignored means the event required no reconciliation (unrecognized
	// kind, payment-mode checkout, cancellation of an unknown subscription).
	Ignored bool
	// Orphaned means correlation failed and an orphaned payment record
	// holds the facts for manual reconciliation.
	Orphaned bool
	// Applied means a subscription record was created or updated.
	Applied bool
	// Stale means the event was older than the stored record's event-time
	// watermark; it was acknowledged without regressing newer state.
	Stale bool
}
