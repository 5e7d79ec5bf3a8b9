package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillhost/quillhost/app/models"
)

func TestOverviewBypassUsersGetStaticAnswer(t *testing.T) {
	repo := newFakeRepo(
		&models.User{ID: 1, Username: "ada", IsGrandfathered: true},
		&models.User{ID: 2, Username: "bob", MoneroAddress: "44abc"},
	)
	gw := &fakeGateway{}
	svc, _, _ := newTestService(repo, gw)

	out, err := svc.Overview(context.Background(), 1)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if !out.IsGrandfathered {
		t.Fatalf("unexpected overview %+v", out)
	}

	out, err = svc.Overview(context.Background(), 2)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if !out.IsManualPayment {
		t.Fatalf("unexpected overview %+v", out)
	}
	if gw.calls != 0 {
		t.Fatalf("bypass overview reached the gateway: %d calls", gw.calls)
	}
}

func TestOverviewReportsCancelingStatus(t *testing.T) {
	repo := newFakeRepo(&models.User{ID: 1, Username: "ada", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", IsPremium: true})
	periodEnd := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	gw := &fakeGateway{
		subs: map[string]*RemoteSubscription{
			"sub_1": {
				ID:                "sub_1",
				Status:            SubStatusActive,
				CancelAtPeriodEnd: true,
				LatestInvoicePaid: true,
				CurrentPeriodEnd:  periodEnd,
			},
		},
		methods: []PaymentMethod{{ID: "pm_1", IsDefault: true}},
	}
	svc, _, _ := newTestService(repo, gw)

	out, err := svc.Overview(context.Background(), 1)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if out.SubscriptionStatus != "canceling" {
		t.Fatalf("unexpected status %q", out.SubscriptionStatus)
	}
	if out.CurrentPeriodEnd == nil || !out.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("period end not exposed: %+v", out)
	}
	if len(out.PaymentMethods) != 1 {
		t.Fatalf("payment methods missing: %+v", out)
	}
}

func TestOverviewToleratesVanishedSubscription(t *testing.T) {
	repo := newFakeRepo(&models.User{ID: 1, Username: "ada", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_gone"})
	gw := &fakeGateway{}
	svc, _, _ := newTestService(repo, gw)

	out, err := svc.Overview(context.Background(), 1)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if out.SubscriptionStatus != "" {
		t.Fatalf("vanished subscription still reported: %+v", out)
	}
}

func TestSetDefaultPaymentMethodRejectsForeignMethod(t *testing.T) {
	repo := newFakeRepo(&models.User{ID: 1, Username: "ada", StripeCustomerID: "cus_1"})
	gw := &fakeGateway{methods: []PaymentMethod{{ID: "pm_mine"}}}
	svc, _, _ := newTestService(repo, gw)

	err := svc.SetDefaultPaymentMethod(context.Background(), 1, "pm_theirs")
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
	if len(gw.setDefaults) != 0 {
		t.Fatalf("foreign method reached the gateway: %v", gw.setDefaults)
	}

	if err := svc.SetDefaultPaymentMethod(context.Background(), 1, "pm_mine"); err != nil {
		t.Fatalf("SetDefaultPaymentMethod: %v", err)
	}
	if len(gw.setDefaults) != 1 || gw.setDefaults[0] != "pm_mine" {
		t.Fatalf("unexpected default calls %v", gw.setDefaults)
	}
}

func TestDetachPaymentMethodVerifiesOwnership(t *testing.T) {
	repo := newFakeRepo(&models.User{ID: 1, Username: "ada", StripeCustomerID: "cus_1"})
	gw := &fakeGateway{methods: []PaymentMethod{{ID: "pm_mine"}}}
	svc, _, _ := newTestService(repo, gw)

	if err := svc.DetachPaymentMethod(context.Background(), 1, "pm_theirs"); !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected ErrGatewayRejected, got %v", err)
	}
	if err := svc.DetachPaymentMethod(context.Background(), 1, "pm_mine"); err != nil {
		t.Fatalf("DetachPaymentMethod: %v", err)
	}
	if len(gw.detached) != 1 || gw.detached[0] != "pm_mine" {
		t.Fatalf("unexpected detach calls %v", gw.detached)
	}
}
