package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/stripesync/stripesync/app/models"
	"gorm.io/gorm"
)

// ErrNoMatch reports that a correlation reference did not resolve to a local
// user. It is an expected outcome routed to the orphan path, not an error to
// be logged or retried.
var ErrNoMatch = errors.New("no local user matches correlation reference")

// Resolver maps the client_reference_id a checkout session carries back to
// the local user whose billing reference it is.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (*models.User, error)
}

type gormResolver struct {
	db *gorm.DB
}

// NewResolver creates a resolver over the host application's users table.
func NewResolver(db *gorm.DB) Resolver {
	return &gormResolver{db: db}
}

func (r *gormResolver) Resolve(ctx context.Context, reference string) (*models.User, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, ErrNoMatch
	}
	// Billing references are UUIDs minted by the host app; anything else
	// cannot match and skips the lookup.
	if _, err := uuid.Parse(ref); err != nil {
		return nil, ErrNoMatch
	}

	var user models.User
	err := r.db.WithContext(ctx).Where("billing_reference = ?", ref).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
