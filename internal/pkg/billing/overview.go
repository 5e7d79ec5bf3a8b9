package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Overview is the billing summary consumed by the rendering layer.
type Overview struct {
	IsGrandfathered    bool            `json:"is_grandfathered,omitempty"`
	IsManualPayment    bool            `json:"is_manual_payment,omitempty"`
	CustomerID         string          `json:"customer_id,omitempty"`
	SubscriptionStatus string          `json:"subscription_status,omitempty"`
	CurrentPeriodStart *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time      `json:"current_period_end,omitempty"`
	PaymentMethods     []PaymentMethod `json:"payment_methods,omitempty"`
	Invoices           []Invoice       `json:"invoices,omitempty"`
}

// Overview assembles the billing summary for a user, lazily creating the
// remote customer on first visit. Bypass users get a static answer without
// any gateway call.
func (s *Service) Overview(ctx context.Context, userID uint) (*Overview, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	if user.IsGrandfathered {
		return &Overview{IsGrandfathered: true}, nil
	}
	if user.MoneroAddress != "" {
		return &Overview{IsManualPayment: true}, nil
	}

	user, err = s.EnsureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &Overview{CustomerID: user.StripeCustomerID}

	if user.StripeSubscriptionID != "" {
		sub, err := s.gateway.GetSubscription(ctx, user.StripeSubscriptionID)
		switch {
		case errors.Is(err, ErrNotFound):
			// treated as already-canceled; nothing to show
		case err != nil:
			return nil, err
		default:
			out.SubscriptionStatus = sub.Status
			if sub.CancelAtPeriodEnd {
				out.SubscriptionStatus = "canceling"
			}
			// Expose the period only once the invoice behind it is paid, so
			// the page can show "last payment" even after a scheduled cancel.
			if sub.LatestInvoicePaid {
				if !sub.CurrentPeriodStart.IsZero() {
					start := sub.CurrentPeriodStart
					out.CurrentPeriodStart = &start
				}
				if !sub.CurrentPeriodEnd.IsZero() {
					end := sub.CurrentPeriodEnd
					out.CurrentPeriodEnd = &end
				}
			}
		}
	}

	if out.PaymentMethods, err = s.gateway.ListPaymentMethods(ctx, user.StripeCustomerID); err != nil {
		return nil, err
	}
	if out.Invoices, err = s.gateway.ListInvoices(ctx, user.StripeCustomerID); err != nil {
		return nil, err
	}
	return out, nil
}

// NewSetupIntent starts the add-card flow and returns its client secret.
func (s *Service) NewSetupIntent(ctx context.Context, userID uint) (string, error) {
	user, err := s.EnsureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.IsBypass() {
		return "", fmt.Errorf("%w: bypass account", ErrGatewayRejected)
	}
	return s.gateway.CreateSetupIntent(ctx, user.StripeCustomerID)
}

// ConfirmSetupIntent reports the status of a finished add-card redirect.
func (s *Service) ConfirmSetupIntent(ctx context.Context, setupIntentID string) (string, error) {
	return s.gateway.GetSetupIntentStatus(ctx, setupIntentID)
}

// SetDefaultPaymentMethod promotes one of the user's own stored methods to
// default. Foreign payment method ids are rejected.
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, userID uint, paymentMethodID string) error {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.IsBypass() || !user.HasRemoteCustomer() {
		return fmt.Errorf("%w: no billing customer", ErrGatewayRejected)
	}
	if err := s.verifyPaymentMethodOwner(ctx, user.StripeCustomerID, paymentMethodID); err != nil {
		return err
	}
	return s.gateway.SetDefaultPaymentMethod(ctx, user.StripeCustomerID, paymentMethodID)
}

// DetachPaymentMethod removes one of the user's own stored methods.
func (s *Service) DetachPaymentMethod(ctx context.Context, userID uint, paymentMethodID string) error {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.IsBypass() || !user.HasRemoteCustomer() {
		return fmt.Errorf("%w: no billing customer", ErrGatewayRejected)
	}
	if err := s.verifyPaymentMethodOwner(ctx, user.StripeCustomerID, paymentMethodID); err != nil {
		return err
	}
	return s.gateway.DetachPaymentMethod(ctx, paymentMethodID)
}

func (s *Service) verifyPaymentMethodOwner(ctx context.Context, customerID, paymentMethodID string) error {
	methods, err := s.gateway.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return err
	}
	for _, m := range methods {
		if m.ID == paymentMethodID {
			return nil
		}
	}
	return fmt.Errorf("%w: payment method %s does not belong to customer", ErrGatewayRejected, paymentMethodID)
}
