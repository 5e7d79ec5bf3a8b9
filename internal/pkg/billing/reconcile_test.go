package billing

import (
	"context"
	"strings"
	"testing"

	"github.com/quillhost/quillhost/app/models"
)

func TestReconcileSweepCleanState(t *testing.T) {
	repo := newFakeRepo(
		&models.User{ID: 1, Username: "ada", StripeCustomerID: "cus_1", IsPremium: true},
		&models.User{ID: 2, Username: "bob"},
	)
	gw := &fakeGateway{
		listPages: [][]SubscriptionListItem{{
			{SubscriptionID: "sub_1", CustomerID: "cus_1", Status: SubStatusActive},
		}},
	}
	svc, _, _ := newTestService(repo, gw)

	report, err := svc.ReconcileSweep(context.Background())
	if err != nil {
		t.Fatalf("ReconcileSweep: %v", err)
	}
	if len(report.Findings) != 0 {
		t.Fatalf("expected clean sweep, got %v", report.Findings)
	}
	if report.RemoteSubscriptions != 1 || report.BillableCustomers != 1 || report.PremiumAccounts != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
}

func TestReconcileSweepFlagsProviderOrphan(t *testing.T) {
	repo := newFakeRepo(&models.User{ID: 1, Username: "ada", StripeCustomerID: "cus_1", IsPremium: true})
	gw := &fakeGateway{
		listPages: [][]SubscriptionListItem{{
			{SubscriptionID: "sub_1", CustomerID: "cus_1", Status: SubStatusActive},
			{SubscriptionID: "sub_2", CustomerID: "cus_ghost", Status: SubStatusActive},
			// a second subscription for the same unknown customer must not
			// produce a second finding
			{SubscriptionID: "sub_3", CustomerID: "cus_ghost", Status: "past_due"},
		}},
	}
	svc, _, _ := newTestService(repo, gw)

	report, err := svc.ReconcileSweep(context.Background())
	if err != nil {
		t.Fatalf("ReconcileSweep: %v", err)
	}
	if len(report.Findings) != 1 {
		t.Fatalf("expected one finding, got %v", report.Findings)
	}
	f := report.Findings[0]
	if f.Kind != FindingProviderOrphan || f.CustomerID != "cus_ghost" {
		t.Fatalf("unexpected finding %+v", f)
	}
	if !strings.Contains(f.String(), "cus_ghost") {
		t.Fatalf("finding text missing customer id: %q", f.String())
	}
}

func TestReconcileSweepFlagsUnbackedPremium(t *testing.T) {
	repo := newFakeRepo(
		// premium but the only remote subscription is canceled
		&models.User{ID: 1, Username: "ada", StripeCustomerID: "cus_1", IsPremium: true},
		// premium without any remote customer at all
		&models.User{ID: 2, Username: "bob", IsPremium: true},
	)
	gw := &fakeGateway{
		listPages: [][]SubscriptionListItem{{
			{SubscriptionID: "sub_1", CustomerID: "cus_1", Status: SubStatusCanceled},
		}},
	}
	svc, _, _ := newTestService(repo, gw)

	report, err := svc.ReconcileSweep(context.Background())
	if err != nil {
		t.Fatalf("ReconcileSweep: %v", err)
	}
	if report.BillableCustomers != 0 {
		t.Fatalf("canceled subscription counted as billable: %+v", report)
	}
	if len(report.Findings) != 2 {
		t.Fatalf("expected two findings, got %v", report.Findings)
	}
	for _, f := range report.Findings {
		if f.Kind != FindingUnbackedPremium {
			t.Fatalf("unexpected finding %+v", f)
		}
	}
}

func TestReconcileSweepPagesThroughListing(t *testing.T) {
	repo := newFakeRepo(&models.User{ID: 1, Username: "ada", StripeCustomerID: "cus_1", IsPremium: true})
	gw := &fakeGateway{
		listPages: [][]SubscriptionListItem{
			{{SubscriptionID: "sub_0", CustomerID: "cus_other", Status: SubStatusCanceled}},
			{{SubscriptionID: "sub_1", CustomerID: "cus_1", Status: SubStatusActive}},
		},
	}
	svc, _, _ := newTestService(repo, gw)

	report, err := svc.ReconcileSweep(context.Background())
	if err != nil {
		t.Fatalf("ReconcileSweep: %v", err)
	}
	if report.RemoteSubscriptions != 2 {
		t.Fatalf("expected both pages consumed, got %d subscriptions", report.RemoteSubscriptions)
	}
	// cus_1 appears on the second page, so a correctly paged sweep finds it
	// billable and reports nothing.
	if len(report.Findings) != 0 {
		t.Fatalf("expected clean sweep, got %v", report.Findings)
	}
}
