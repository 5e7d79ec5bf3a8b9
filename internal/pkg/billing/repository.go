package billing

import (
	"gorm.io/gorm"

	"github.com/quillhost/quillhost/app/models"
)

// Repository provides the entitlement-store operations used by the engine.
// Updates that implement state-machine transitions are conditional single-row
// writes; the returned bool reports whether the row actually changed, which
// is what makes every transition idempotent without locks.
type Repository interface {
	GetUserByID(id uint) (*models.User, error)
	GetUserByCustomerID(customerID string) (*models.User, error)

	// SetCustomerID assigns the remote customer id only when none is set.
	// The join key to the provider is written once and never reassigned.
	SetCustomerID(userID uint, customerID string) error

	SetSubscriptionID(userID uint, subscriptionID string) error

	// EnablePremium flips is_premium (and is_approved) to true iff it is
	// currently false. Returns true only on the actual flip, so the caller
	// can emit its operator notification exactly once.
	EnablePremium(userID uint) (bool, error)

	// ClearSubscription disables premium and clears the subscription
	// reference iff the row still references subscriptionID. A stale
	// deletion event for a superseded subscription matches zero rows.
	ClearSubscription(userID uint, subscriptionID string) (bool, error)

	// ListPremium returns all accounts with is_premium = true.
	ListPremium() ([]models.User, error)

	// ListPremiumWithSubscription returns premium accounts that reference a
	// remote subscription, for the renewal reminder run.
	ListPremiumWithSubscription() ([]models.User, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an entitlement repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByCustomerID(customerID string) (*models.User, error) {
	var user models.User
	err := r.db.Where("stripe_customer_id = ?", customerID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SetCustomerID(userID uint, customerID string) error {
	return r.db.Model(&models.User{}).
		Where("id = ? AND (stripe_customer_id = '' OR stripe_customer_id IS NULL)", userID).
		Update("stripe_customer_id", customerID).Error
}

func (r *gormRepository) SetSubscriptionID(userID uint, subscriptionID string) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("stripe_subscription_id", subscriptionID).Error
}

func (r *gormRepository) EnablePremium(userID uint) (bool, error) {
	tx := r.db.Model(&models.User{}).
		Where("id = ? AND is_premium = ?", userID, false).
		Updates(map[string]interface{}{
			"is_premium":  true,
			"is_approved": true,
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ClearSubscription(userID uint, subscriptionID string) (bool, error) {
	tx := r.db.Model(&models.User{}).
		Where("id = ? AND stripe_subscription_id = ?", userID, subscriptionID).
		Updates(map[string]interface{}{
			"is_premium":             false,
			"stripe_subscription_id": "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListPremium() ([]models.User, error) {
	var users []models.User
	err := r.db.Where("is_premium = ?", true).Find(&users).Error
	return users, err
}

func (r *gormRepository) ListPremiumWithSubscription() ([]models.User, error) {
	var users []models.User
	err := r.db.
		Where("is_premium = ? AND stripe_subscription_id <> ''", true).
		Find(&users).Error
	return users, err
}
