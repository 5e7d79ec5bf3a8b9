package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/quillhost/quillhost/internal/pkg/env"
)

const listPageSize = 100

// StripeGateway implements Gateway against the Stripe API. The credential is
// carried by a dedicated client instance constructed once per process and
// passed by reference, never by mutating the SDK's package-global key.
type StripeGateway struct {
	api     *client.API
	priceID string
}

// NewStripeGateway creates a gateway bound to the given secret key and the
// single premium price.
func NewStripeGateway(apiKey, priceID string) *StripeGateway {
	return &StripeGateway{
		api:     client.New(apiKey, nil),
		priceID: priceID,
	}
}

// NewStripeGatewayFromEnv creates a gateway from STRIPE_API_KEY and
// STRIPE_PRICE_ID.
func NewStripeGatewayFromEnv() *StripeGateway {
	return NewStripeGateway(
		env.GetEnv("STRIPE_API_KEY", ""),
		env.GetEnv("STRIPE_PRICE_ID", ""),
	)
}

func (g *StripeGateway) CreateCustomer(ctx context.Context) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", classifyStripeErr(err)
	}
	return cust.ID, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID string, mode ConfirmMode) (*RemoteSubscription, error) {
	behavior := "default_incomplete"
	if mode == ConfirmImmediate {
		behavior = "error_if_incomplete"
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(g.priceID)},
		},
		PaymentBehavior: stripe.String(behavior),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return remoteSubscription(sub), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return remoteSubscription(sub), nil
}

func (g *StripeGateway) ScheduleCancel(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx
	_, err := g.api.Subscriptions.Update(subscriptionID, params)
	return classifyStripeErr(err)
}

func (g *StripeGateway) Resume(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	params.Context = ctx
	_, err := g.api.Subscriptions.Update(subscriptionID, params)
	return classifyStripeErr(err)
}

func (g *StripeGateway) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	_, err := g.api.Subscriptions.Cancel(subscriptionID, params)
	return classifyStripeErr(err)
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, cursor string) ([]SubscriptionListItem, string, error) {
	params := &stripe.SubscriptionListParams{
		Status: stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(listPageSize)
	params.Single = true
	if cursor != "" {
		params.StartingAfter = stripe.String(cursor)
	}

	iter := g.api.Subscriptions.List(params)
	var items []SubscriptionListItem
	for iter.Next() {
		sub := iter.Subscription()
		item := SubscriptionListItem{
			SubscriptionID: sub.ID,
			Status:         string(sub.Status),
		}
		if sub.Customer != nil {
			item.CustomerID = sub.Customer.ID
		}
		items = append(items, item)
	}
	if err := iter.Err(); err != nil {
		return nil, "", classifyStripeErr(err)
	}

	next := ""
	if iter.SubscriptionList() != nil && iter.SubscriptionList().HasMore && len(items) > 0 {
		next = items[len(items)-1].SubscriptionID
	}
	return items, next, nil
}

func (g *StripeGateway) GetPaymentIntentStatus(ctx context.Context, paymentIntentID string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return "", classifyStripeErr(err)
	}
	return string(pi.Status), nil
}

// LatestPaymentClientSecret returns the client secret of the customer's most
// recent payment intent, used to confirm a deferred subscription client-side.
func (g *StripeGateway) LatestPaymentClientSecret(ctx context.Context, customerID string) (string, error) {
	params := &stripe.PaymentIntentListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := g.api.PaymentIntents.List(params)
	for iter.Next() {
		return iter.PaymentIntent().ClientSecret, nil
	}
	if err := iter.Err(); err != nil {
		return "", classifyStripeErr(err)
	}
	return "", nil
}

func (g *StripeGateway) CreateSetupIntent(ctx context.Context, customerID string) (string, error) {
	params := &stripe.SetupIntentParams{
		Customer: stripe.String(customerID),
		AutomaticPaymentMethods: &stripe.SetupIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	si, err := g.api.SetupIntents.New(params)
	if err != nil {
		return "", classifyStripeErr(err)
	}
	return si.ClientSecret, nil
}

func (g *StripeGateway) GetSetupIntentStatus(ctx context.Context, setupIntentID string) (string, error) {
	params := &stripe.SetupIntentParams{}
	params.Context = ctx
	si, err := g.api.SetupIntents.Get(setupIntentID, params)
	if err != nil {
		return "", classifyStripeErr(err)
	}
	return string(si.Status), nil
}

func (g *StripeGateway) ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	defaultID, err := g.GetDefaultPaymentMethod(ctx, customerID)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}
	params.Context = ctx

	var out []PaymentMethod
	iter := g.api.PaymentMethods.List(params)
	for iter.Next() {
		pm := iter.PaymentMethod()
		method := PaymentMethod{
			ID:        pm.ID,
			IsDefault: pm.ID == defaultID,
		}
		if pm.Card != nil {
			method.Brand = string(pm.Card.Brand)
			method.Last4 = pm.Card.Last4
			method.ExpMonth = pm.Card.ExpMonth
			method.ExpYear = pm.Card.ExpYear
		}
		out = append(out, method)
	}
	if err := iter.Err(); err != nil {
		return nil, classifyStripeErr(err)
	}
	return out, nil
}

func (g *StripeGateway) GetDefaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		return "", classifyStripeErr(err)
	}
	if cust.InvoiceSettings == nil || cust.InvoiceSettings.DefaultPaymentMethod == nil {
		return "", nil
	}
	return cust.InvoiceSettings.DefaultPaymentMethod.ID, nil
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx
	_, err := g.api.Customers.Update(customerID, params)
	return classifyStripeErr(err)
}

func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	_, err := g.api.PaymentMethods.Detach(paymentMethodID, params)
	return classifyStripeErr(err)
}

func (g *StripeGateway) ListInvoices(ctx context.Context, customerID string) ([]Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Single = true

	var out []Invoice
	iter := g.api.Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		out = append(out, Invoice{
			ID:          inv.ID,
			URL:         inv.HostedInvoiceURL,
			PDF:         inv.InvoicePDF,
			PeriodStart: time.Unix(inv.PeriodStart, 0).UTC(),
			PeriodEnd:   time.Unix(inv.PeriodEnd, 0).UTC(),
			Created:     time.Unix(inv.Created, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, classifyStripeErr(err)
	}
	return out, nil
}

func remoteSubscription(sub *stripe.Subscription) *RemoteSubscription {
	out := &RemoteSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.CurrentPeriodStart > 0 {
		out.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if inv := sub.LatestInvoice; inv != nil {
		out.LatestInvoicePaid = inv.Status == stripe.InvoiceStatusPaid
		if pi := inv.PaymentIntent; pi != nil {
			out.LatestPaymentStatus = string(pi.Status)
			out.ClientSecret = pi.ClientSecret
		}
	}
	return out
}

// classifyStripeErr maps SDK errors onto the package taxonomy. A timed-out
// or transport-level failure is retryable; a missing resource is terminal
// and treated as already-canceled by subscription callers.
func classifyStripeErr(err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: %s", ErrNotFound, stripeErr.Msg)
		case stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: %s", ErrGatewayUnavailable, stripeErr.Msg)
		default:
			return fmt.Errorf("%w: %s", ErrGatewayRejected, stripeErr.Msg)
		}
	}

	// Network errors, timeouts, context cancellation.
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
