package billing

import (
	"time"

	"github.com/stripesync/stripesync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service. The stores
// are the sole writers of subscription and orphan rows; the dispatcher only
// requests operations through this interface.
type Repository interface {
	GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.StripeSubscription, error)
	CreateSubscription(sub *models.StripeSubscription) error
	SaveSubscription(sub *models.StripeSubscription) error
	ListSubscriptionsByUser(userID uint) ([]models.StripeSubscription, error)
	ListUnclaimedSubscriptions() ([]models.StripeSubscription, error)
	CreateOrphanIfNotExists(orphan *models.OrphanedPayment) (bool, *models.OrphanedPayment, error)
	MarkOrphanResolved(id uint) error
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.StripeSubscription, error) {
	var sub models.StripeSubscription
	err := r.db.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) CreateSubscription(sub *models.StripeSubscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.StripeSubscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) ListSubscriptionsByUser(userID uint) ([]models.StripeSubscription, error) {
	var subs []models.StripeSubscription
	err := r.db.Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

// ListUnclaimedSubscriptions returns placeholder rows created by
// subscription events that arrived before any checkout correlation. An
// external backfill job consumes these; this system never force-matches.
func (r *gormRepository) ListUnclaimedSubscriptions() ([]models.StripeSubscription, error) {
	var subs []models.StripeSubscription
	err := r.db.Where("user_id IS NULL").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateOrphanIfNotExists(orphan *models.OrphanedPayment) (bool, *models.OrphanedPayment, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_event_id"},
		},
		DoNothing: true,
	}).Create(orphan)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.OrphanedPayment
	if err := r.db.Where("stripe_event_id = ?", orphan.StripeEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkOrphanResolved(id uint) error {
	return r.db.Model(&models.OrphanedPayment{}).Where("id = ?", id).Update("resolved", true).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("stripe_event_id = ?", event.StripeEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
