package billing

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Event is the closed set of provider events the state machine consumes.
type Event interface {
	isEvent()
}

// PaymentSucceeded reports a confirmed successful payment for a customer.
type PaymentSucceeded struct {
	CustomerID string
}

// SubscriptionDeleted reports that a remote subscription ended.
type SubscriptionDeleted struct {
	CustomerID     string
	SubscriptionID string
}

// PaymentMethodAttached reports a newly stored payment method.
type PaymentMethodAttached struct {
	CustomerID      string
	PaymentMethodID string
}

// UnhandledEvent carries any event type the engine does not act on.
type UnhandledEvent struct {
	Type string
}

func (PaymentSucceeded) isEvent()      {}
func (SubscriptionDeleted) isEvent()   {}
func (PaymentMethodAttached) isEvent() {}
func (UnhandledEvent) isEvent()        {}

// ParseWebhookEvent authenticates a raw webhook payload and maps it to a
// typed event. With a configured secret the signature header is verified;
// failures come back as ErrSignatureInvalid and must cause a client-error
// response with no state change. Only in dev mode with no secret configured
// is an unsigned payload accepted.
func ParseWebhookEvent(payload []byte, sigHeader, secret string, dev bool) (Event, error) {
	var event stripe.Event

	switch {
	case secret != "":
		var err error
		event, err = webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
	case dev:
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("%w: unparsable payload: %v", ErrSignatureInvalid, err)
		}
	default:
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrSignatureInvalid)
	}

	return mapStripeEvent(event)
}

func mapStripeEvent(event stripe.Event) (Event, error) {
	eventType := string(event.Type)

	switch eventType {
	case "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: bad invoice payload: %v", ErrSignatureInvalid, err)
		}
		if inv.Customer == nil || inv.Customer.ID == "" {
			return UnhandledEvent{Type: eventType}, nil
		}
		return PaymentSucceeded{CustomerID: inv.Customer.ID}, nil

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: bad subscription payload: %v", ErrSignatureInvalid, err)
		}
		if sub.Customer == nil || sub.Customer.ID == "" {
			return UnhandledEvent{Type: eventType}, nil
		}
		return SubscriptionDeleted{
			CustomerID:     sub.Customer.ID,
			SubscriptionID: sub.ID,
		}, nil

	case "payment_method.attached":
		var pm stripe.PaymentMethod
		if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
			return nil, fmt.Errorf("%w: bad payment method payload: %v", ErrSignatureInvalid, err)
		}
		if pm.Customer == nil || pm.Customer.ID == "" {
			return UnhandledEvent{Type: eventType}, nil
		}
		return PaymentMethodAttached{
			CustomerID:      pm.Customer.ID,
			PaymentMethodID: pm.ID,
		}, nil

	default:
		return UnhandledEvent{Type: eventType}, nil
	}
}
