package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/quillhost/quillhost/app/models"
)

// Service synchronizes the local premium entitlement with the remote
// subscription state. It is invoked concurrently from interactive requests,
// the webhook handler and batch jobs; correctness rests on every transition
// being an idempotent conditional write, not on mutual exclusion.
type Service struct {
	repo     Repository
	gateway  Gateway
	notifier Notifier
	mailer   Mailer

	now func() time.Time
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, gateway Gateway, notifier Notifier, mailer Mailer) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		notifier: notifier,
		mailer:   mailer,
		now:      time.Now,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, notifier Notifier, mailer Mailer) *Service {
	return NewService(NewRepository(db), gateway, notifier, mailer)
}

// SubscribeIntent is the outcome of StartSubscribe, handed to the front end
// to finish payment confirmation.
type SubscribeIntent struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	ClientSecret   string `json:"client_secret,omitempty"`
}

// EnsureCustomer lazily creates the remote customer for a user. It is a
// no-op when the customer id is already set and never touches bypass users.
func (s *Service) EnsureCustomer(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	if user.IsBypass() || user.HasRemoteCustomer() {
		return user, nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetCustomerID(user.ID, customerID); err != nil {
		return nil, err
	}
	// Re-read instead of assigning: a racing request may have won the
	// set-once write with a different id.
	return s.repo.GetUserByID(user.ID)
}

// StartSubscribe creates (or reuses) the remote subscription for a user and
// returns the client secret needed to confirm the first payment. The
// subscription is created incomplete; premium is only enabled later by
// ConfirmPayment or the payment-succeeded webhook.
func (s *Service) StartSubscribe(ctx context.Context, userID uint) (*SubscribeIntent, error) {
	user, err := s.EnsureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsBypass() {
		return nil, fmt.Errorf("%w: bypass account", ErrGatewayRejected)
	}

	sub, err := s.currentOrNewSubscription(ctx, user)
	if err != nil {
		return nil, err
	}
	if sub.ID != user.StripeSubscriptionID {
		if err := s.repo.SetSubscriptionID(user.ID, sub.ID); err != nil {
			return nil, err
		}
	}

	secret := sub.ClientSecret
	if secret == "" {
		secret, err = s.gateway.LatestPaymentClientSecret(ctx, user.StripeCustomerID)
		if err != nil {
			return nil, err
		}
	}

	return &SubscribeIntent{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		ClientSecret:   secret,
	}, nil
}

// currentOrNewSubscription reuses a stored subscription that is still live
// so one account can never hold two billable subscriptions at once. A new
// one is created only when none is stored, the stored one is gone at the
// provider, or it has fully ended.
func (s *Service) currentOrNewSubscription(ctx context.Context, user *models.User) (*RemoteSubscription, error) {
	if user.StripeSubscriptionID != "" {
		sub, err := s.gateway.GetSubscription(ctx, user.StripeSubscriptionID)
		switch {
		case err == nil && sub.Status != SubStatusCanceled:
			return sub, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		}
		// canceled or not found: fall through and create a fresh one
	}
	return s.gateway.CreateSubscription(ctx, user.StripeCustomerID, ConfirmDeferred)
}

// ConfirmPayment is the synchronous redirect leg of checkout. It verifies
// the payment intent at the gateway and enables premium on success. The
// returned status lets the caller distinguish succeeded from processing.
func (s *Service) ConfirmPayment(ctx context.Context, userID uint, paymentIntentID string) (string, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return "", err
	}
	if user.IsBypass() {
		log.Printf("billing: ignoring payment confirmation for bypass user %d", user.ID)
		return "", nil
	}

	status, err := s.gateway.GetPaymentIntentStatus(ctx, paymentIntentID)
	if err != nil {
		return "", err
	}
	if status == PaymentStatusSucceeded {
		if err := s.enablePremium(user, "welcome"); err != nil {
			return status, err
		}
	}
	return status, nil
}

// StartResubscribe creates a subscription that charges the stored default
// payment method immediately. Returns the initial payment status:
// "succeeded" means premium is already enabled, "processing" means the
// account stays pending until the webhook confirms.
func (s *Service) StartResubscribe(ctx context.Context, userID uint) (string, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return "", err
	}
	if user.IsBypass() || !user.HasRemoteCustomer() {
		return "", fmt.Errorf("%w: account not eligible for resubscribe", ErrGatewayRejected)
	}

	methods, err := s.gateway.ListPaymentMethods(ctx, user.StripeCustomerID)
	if err != nil {
		return "", err
	}
	if len(methods) == 0 {
		return "", ErrNoSavedPaymentMethod
	}
	if !hasDefault(methods) {
		if err := s.gateway.SetDefaultPaymentMethod(ctx, user.StripeCustomerID, methods[0].ID); err != nil {
			return "", err
		}
	}

	sub, err := s.gateway.CreateSubscription(ctx, user.StripeCustomerID, ConfirmImmediate)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetSubscriptionID(user.ID, sub.ID); err != nil {
		return "", err
	}

	if sub.LatestPaymentStatus == PaymentStatusSucceeded {
		if err := s.enablePremium(user, "resubscribe"); err != nil {
			return sub.LatestPaymentStatus, err
		}
	}
	return sub.LatestPaymentStatus, nil
}

// ScheduleCancel marks the subscription to stop at period end. Premium is
// kept for the remainder of the paid period; it is cleared only by the
// eventual subscription-deleted webhook.
func (s *Service) ScheduleCancel(ctx context.Context, userID uint) error {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.IsBypass() || user.StripeSubscriptionID == "" {
		return fmt.Errorf("%w: no cancellable subscription", ErrNotFound)
	}

	if err := s.gateway.ScheduleCancel(ctx, user.StripeSubscriptionID); err != nil {
		return err
	}
	s.notifier.CancelScheduled(user)
	return nil
}

// Resume reverses a scheduled cancellation. Only legal while the
// subscription still exists and is actually set to cancel.
func (s *Service) Resume(ctx context.Context, userID uint) error {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.IsBypass() || user.StripeSubscriptionID == "" {
		return fmt.Errorf("%w: no subscription to resume", ErrNotFound)
	}

	sub, err := s.gateway.GetSubscription(ctx, user.StripeSubscriptionID)
	if err != nil {
		return err
	}
	if !sub.CancelAtPeriodEnd {
		return fmt.Errorf("%w: subscription is not scheduled to cancel", ErrGatewayRejected)
	}
	return s.gateway.Resume(ctx, user.StripeSubscriptionID)
}

// ApplyEvent feeds one authenticated webhook event into the state machine.
// Duplicate and out-of-order delivery is safe: the enable transition is a
// conditional write and deletions are guarded by the current subscription id.
func (s *Service) ApplyEvent(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case PaymentSucceeded:
		user, err := s.userForCustomer(e.CustomerID)
		if err != nil {
			return err
		}
		if user == nil {
			return nil // bypass, logged by userForCustomer
		}
		return s.enablePremium(user, "webhook")

	case SubscriptionDeleted:
		user, err := s.userForCustomer(e.CustomerID)
		if err != nil {
			return err
		}
		if user == nil {
			return nil
		}
		if user.StripeSubscriptionID != e.SubscriptionID {
			return fmt.Errorf("%w: deleted %s, current %s",
				ErrStaleEvent, e.SubscriptionID, user.StripeSubscriptionID)
		}
		// The repository re-checks the id inside the UPDATE, so a racing
		// subscribe cannot lose its fresh subscription reference here.
		cleared, err := s.repo.ClearSubscription(user.ID, e.SubscriptionID)
		if err != nil {
			return err
		}
		if cleared {
			log.Printf("billing: premium disabled for user %d, subscription %s deleted", user.ID, e.SubscriptionID)
		}
		return nil

	case PaymentMethodAttached:
		user, err := s.userForCustomer(e.CustomerID)
		if err != nil {
			return err
		}
		if user == nil {
			return nil
		}
		// Convenience side channel: promote the first attached method to
		// default so later immediate charges have something to bill.
		defaultID, err := s.gateway.GetDefaultPaymentMethod(ctx, e.CustomerID)
		if err != nil {
			return err
		}
		if defaultID == "" {
			return s.gateway.SetDefaultPaymentMethod(ctx, e.CustomerID, e.PaymentMethodID)
		}
		return nil

	case UnhandledEvent:
		log.Printf("billing: ignoring webhook event type %s", e.Type)
		return nil

	default:
		return fmt.Errorf("billing: unknown event %T", ev)
	}
}

// ReleaseAccount ends billing for an account that is being closed: the
// remote subscription is deleted immediately (no grace period) and the local
// entitlement is cleared. An already-gone remote subscription is fine.
func (s *Service) ReleaseAccount(ctx context.Context, userID uint) error {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.IsBypass() || user.StripeSubscriptionID == "" {
		return nil
	}

	if err := s.gateway.DeleteSubscription(ctx, user.StripeSubscriptionID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = s.repo.ClearSubscription(user.ID, user.StripeSubscriptionID)
	return err
}

// userForCustomer resolves a webhook customer id. Returns (nil, nil) for
// bypass users: gateway events for them are logged and discarded.
func (s *Service) userForCustomer(customerID string) (*models.User, error) {
	user, err := s.repo.GetUserByCustomerID(customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: customer %s", ErrAccountUnresolvable, customerID)
		}
		return nil, err
	}
	if user.IsBypass() {
		log.Printf("billing: discarding gateway event for bypass user %d", user.ID)
		return nil, nil
	}
	return user, nil
}

// enablePremium is the idempotent enable transition: setting the flag to the
// value it already holds is a no-op and emits no duplicate notification.
func (s *Service) enablePremium(user *models.User, source string) error {
	flipped, err := s.repo.EnablePremium(user.ID)
	if err != nil {
		return err
	}
	if flipped {
		s.notifier.PremiumEnabled(user, source)
	}
	return nil
}

func hasDefault(methods []PaymentMethod) bool {
	for _, m := range methods {
		if m.IsDefault {
			return true
		}
	}
	return false
}
