package billing

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy for gateway and webhook failures. Callers classify with
// errors.Is; none of these leave local state partially mutated.
var (
	// ErrGatewayUnavailable marks network failures and provider 5xx
	// responses. Retryable by the caller.
	ErrGatewayUnavailable = errors.New("billing: payment gateway unavailable")

	// ErrGatewayRejected marks provider 4xx responses other than missing
	// resources. Surfaced to the user, not retried.
	ErrGatewayRejected = errors.New("billing: payment gateway rejected request")

	// ErrSignatureInvalid marks webhook authentication or payload parse
	// failures. Hard security boundary, never retried.
	ErrSignatureInvalid = errors.New("billing: invalid webhook signature")

	// ErrNotFound marks a referenced remote object that no longer exists.
	// For subscriptions this is treated as already-canceled.
	ErrNotFound = errors.New("billing: remote object not found")

	// ErrAccountUnresolvable marks a webhook event whose customer id has no
	// local account. Acknowledged and logged, left for the sweep.
	ErrAccountUnresolvable = errors.New("billing: no local account for remote customer")

	// ErrStaleEvent marks an event referencing a superseded subscription id.
	// Discarded and logged.
	ErrStaleEvent = errors.New("billing: event references superseded subscription")

	// ErrNoSavedPaymentMethod is returned by StartResubscribe when the
	// customer has no stored payment method to charge.
	ErrNoSavedPaymentMethod = errors.New("billing: no saved payment method")
)

// ConfirmMode selects how a new subscription collects its first payment.
type ConfirmMode string

const (
	// ConfirmDeferred creates the subscription incomplete; the charge is
	// confirmed client-side with the returned client secret.
	ConfirmDeferred ConfirmMode = "deferred"

	// ConfirmImmediate charges the stored default payment method right away
	// and fails the create call if that is not possible.
	ConfirmImmediate ConfirmMode = "immediate"
)

// Remote subscription statuses the engine cares about by name.
const (
	SubStatusActive   = "active"
	SubStatusTrialing = "trialing"
	SubStatusCanceled = "canceled"

	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusProcessing = "processing"
)

// RemoteSubscription is the engine's view of a provider subscription.
type RemoteSubscription struct {
	ID                  string
	Status              string
	CancelAtPeriodEnd   bool
	CurrentPeriodStart  time.Time
	CurrentPeriodEnd    time.Time
	LatestInvoicePaid   bool
	LatestPaymentStatus string
	ClientSecret        string
}

// SubscriptionListItem is one row of the paged subscription listing used by
// the reconciliation sweep.
type SubscriptionListItem struct {
	SubscriptionID string
	CustomerID     string
	Status         string
}

// PaymentMethod is a stored card as shown on the billing overview.
type PaymentMethod struct {
	ID        string
	Brand     string
	Last4     string
	ExpMonth  int64
	ExpYear   int64
	IsDefault bool
}

// Invoice is a past invoice as shown on the billing overview.
type Invoice struct {
	ID          string
	URL         string
	PDF         string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Created     time.Time
}

// Gateway is the payment provider surface consumed by the engine. The
// concrete Stripe implementation lives in stripe.go; tests inject fakes.
// Every call is a blocking network call with no engine-level retry; errors
// are classified into the taxonomy above.
type Gateway interface {
	CreateCustomer(ctx context.Context) (string, error)
	CreateSubscription(ctx context.Context, customerID string, mode ConfirmMode) (*RemoteSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error)
	ScheduleCancel(ctx context.Context, subscriptionID string) error
	Resume(ctx context.Context, subscriptionID string) error

	// DeleteSubscription ends a subscription immediately. The interactive
	// cancel path uses ScheduleCancel instead; this exists for operator
	// cleanup of accounts that are being closed.
	DeleteSubscription(ctx context.Context, subscriptionID string) error

	// ListSubscriptions returns one page of all subscriptions at the
	// provider. An empty cursor starts from the beginning; the returned
	// cursor is empty when no pages remain.
	ListSubscriptions(ctx context.Context, cursor string) ([]SubscriptionListItem, string, error)

	GetPaymentIntentStatus(ctx context.Context, paymentIntentID string) (string, error)
	LatestPaymentClientSecret(ctx context.Context, customerID string) (string, error)

	CreateSetupIntent(ctx context.Context, customerID string) (string, error)
	GetSetupIntentStatus(ctx context.Context, setupIntentID string) (string, error)

	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
	GetDefaultPaymentMethod(ctx context.Context, customerID string) (string, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error

	ListInvoices(ctx context.Context, customerID string) ([]Invoice, error)
}

// IsBillableStatus reports whether a remote subscription status still ties
// money to a customer. Everything except fully-ended statuses counts, which
// mirrors what the provider returns from a default (non-canceled) listing.
func IsBillableStatus(status string) bool {
	switch status {
	case SubStatusCanceled, "incomplete_expired":
		return false
	default:
		return true
	}
}
