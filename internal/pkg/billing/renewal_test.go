package billing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quillhost/quillhost/app/models"
)

func TestRunRenewalRemindersSendsOnExactDate(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	renewal := now.AddDate(0, 0, 7)

	repo := newFakeRepo(
		&models.User{ID: 1, Username: "ada", Email: "ada@example.com", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", IsPremium: true},
		&models.User{ID: 2, Username: "bob", Email: "bob@example.com", StripeCustomerID: "cus_2", StripeSubscriptionID: "sub_2", IsPremium: true},
		&models.User{ID: 3, Username: "cyd", Email: "cyd@example.com", StripeCustomerID: "cus_3", StripeSubscriptionID: "sub_3", IsPremium: true},
		&models.User{ID: 4, Username: "dee", StripeCustomerID: "cus_4", StripeSubscriptionID: "sub_4", IsPremium: true},
		&models.User{ID: 5, Username: "eli", Email: "eli@example.com", StripeCustomerID: "cus_5", StripeSubscriptionID: "sub_5", IsPremium: true},
	)
	gw := &fakeGateway{
		subs: map[string]*RemoteSubscription{
			// renews in exactly seven days
			"sub_1": {ID: "sub_1", Status: SubStatusActive, CurrentPeriodEnd: renewal},
			// renews a day later
			"sub_2": {ID: "sub_2", Status: SubStatusActive, CurrentPeriodEnd: renewal.AddDate(0, 0, 1)},
			// right date but already ended
			"sub_3": {ID: "sub_3", Status: SubStatusCanceled, CurrentPeriodEnd: renewal},
			// dee has no email; eli's subscription is gone at the provider
			"sub_4": {ID: "sub_4", Status: SubStatusActive, CurrentPeriodEnd: renewal},
		},
	}
	svc, _, mailer := newTestService(repo, gw)
	svc.now = func() time.Time { return now }

	report, err := svc.RunRenewalReminders(context.Background(), false)
	if err != nil {
		t.Fatalf("RunRenewalReminders: %v", err)
	}

	if report.TargetDate != "2025-03-17" {
		t.Fatalf("unexpected target date %q", report.TargetDate)
	}
	if report.Candidates != 5 || report.Sent != 1 || report.SkippedNoEmail != 1 || report.Errors != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one reminder, got %v", mailer.sent)
	}
	if !strings.HasPrefix(mailer.sent[0], "ada@example.com|") {
		t.Fatalf("reminder sent to wrong address: %q", mailer.sent[0])
	}
	if !strings.Contains(mailer.sent[0], "17 March 2025") {
		t.Fatalf("subject missing renewal date: %q", mailer.sent[0])
	}
}

func TestRunRenewalRemindersDryRun(t *testing.T) {
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	repo := newFakeRepo(
		&models.User{ID: 1, Username: "ada", Email: "ada@example.com", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1", IsPremium: true},
	)
	gw := &fakeGateway{
		subs: map[string]*RemoteSubscription{
			"sub_1": {ID: "sub_1", Status: SubStatusActive, CurrentPeriodEnd: now.AddDate(0, 0, 7)},
		},
	}
	svc, _, mailer := newTestService(repo, gw)
	svc.now = func() time.Time { return now }

	report, err := svc.RunRenewalReminders(context.Background(), true)
	if err != nil {
		t.Fatalf("RunRenewalReminders: %v", err)
	}
	if !report.DryRun || report.Sent != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(mailer.sent) != 0 {
		t.Fatalf("dry run sent mail: %v", mailer.sent)
	}
}

func TestRenewalBodyMentionsBillingPage(t *testing.T) {
	body := renewalBody(time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC))
	if !strings.Contains(body, "March 17, 2025") {
		t.Fatalf("body missing renewal date: %q", body)
	}
	if !strings.Contains(body, "/billing") {
		t.Fatalf("body missing billing link: %q", body)
	}
}
