package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func paymentSucceededPayload(customerID string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "invoice.payment_succeeded",
		"data": { "object": { "id": "in_1", "customer": { "id": %q } } }
	}`, customerID))
}

// signPayload builds a Stripe-Signature header the way the provider does:
// v1 is the hex HMAC-SHA256 of "<timestamp>.<payload>".
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestParseWebhookEventSignedPayload(t *testing.T) {
	payload := paymentSucceededPayload("cus_1")
	secret := "whsec_test"
	header := signPayload(payload, secret, time.Now())

	ev, err := ParseWebhookEvent(payload, header, secret, false)
	if err != nil {
		t.Fatalf("ParseWebhookEvent: %v", err)
	}
	ps, ok := ev.(PaymentSucceeded)
	if !ok {
		t.Fatalf("expected PaymentSucceeded, got %T", ev)
	}
	if ps.CustomerID != "cus_1" {
		t.Fatalf("unexpected customer %q", ps.CustomerID)
	}
}

func TestParseWebhookEventRejectsBadSignature(t *testing.T) {
	payload := paymentSucceededPayload("cus_1")
	header := signPayload(payload, "whsec_other", time.Now())

	if _, err := ParseWebhookEvent(payload, header, "whsec_test", false); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestParseWebhookEventRejectsStaleTimestamp(t *testing.T) {
	payload := paymentSucceededPayload("cus_1")
	secret := "whsec_test"
	header := signPayload(payload, secret, time.Now().Add(-time.Hour))

	if _, err := ParseWebhookEvent(payload, header, secret, false); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestParseWebhookEventNoSecretOutsideDev(t *testing.T) {
	payload := paymentSucceededPayload("cus_1")

	if _, err := ParseWebhookEvent(payload, "", "", false); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid without a secret, got %v", err)
	}
}

func TestParseWebhookEventDevModeUnsigned(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
	}{
		{
			name: "payment succeeded",
			payload: `{
				"type": "invoice.payment_succeeded",
				"data": { "object": { "id": "in_1", "customer": { "id": "cus_1" } } }
			}`,
			want: PaymentSucceeded{CustomerID: "cus_1"},
		},
		{
			name: "subscription deleted",
			payload: `{
				"type": "customer.subscription.deleted",
				"data": { "object": { "id": "sub_1", "customer": { "id": "cus_1" } } }
			}`,
			want: SubscriptionDeleted{CustomerID: "cus_1", SubscriptionID: "sub_1"},
		},
		{
			name: "payment method attached",
			payload: `{
				"type": "payment_method.attached",
				"data": { "object": { "id": "pm_1", "customer": { "id": "cus_1" } } }
			}`,
			want: PaymentMethodAttached{CustomerID: "cus_1", PaymentMethodID: "pm_1"},
		},
		{
			name: "unhandled type",
			payload: `{
				"type": "customer.updated",
				"data": { "object": { "id": "cus_1" } }
			}`,
			want: UnhandledEvent{Type: "customer.updated"},
		},
		{
			name: "missing customer",
			payload: `{
				"type": "invoice.payment_succeeded",
				"data": { "object": { "id": "in_1" } }
			}`,
			want: UnhandledEvent{Type: "invoice.payment_succeeded"},
		},
	}

	for _, tt := range tests {
		ev, err := ParseWebhookEvent([]byte(tt.payload), "", "", true)
		if err != nil {
			t.Fatalf("%s: ParseWebhookEvent: %v", tt.name, err)
		}
		if ev != tt.want {
			t.Fatalf("%s: got %#v, want %#v", tt.name, ev, tt.want)
		}
	}
}

func TestParseWebhookEventDevModeBadPayload(t *testing.T) {
	if _, err := ParseWebhookEvent([]byte("not json"), "", "", true); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid for unparsable payload, got %v", err)
	}
}

func TestIsBillableStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{status: SubStatusActive, want: true},
		{status: SubStatusTrialing, want: true},
		{status: "past_due", want: true},
		{status: "incomplete", want: true},
		{status: SubStatusCanceled, want: false},
		{status: "incomplete_expired", want: false},
	}

	for _, tt := range tests {
		if got := IsBillableStatus(tt.status); got != tt.want {
			t.Fatalf("IsBillableStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
