package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/quillhost/quillhost/internal/pkg/env"
)

const renewalLeadDays = 7

// RenewalReport summarizes one reminder run.
type RenewalReport struct {
	TargetDate       string
	Candidates       int
	Sent             int
	SkippedNoEmail   int
	SkippedNoRenewal int
	Errors           int
	DryRun           bool
}

// RunRenewalReminders mails premium subscribers whose subscription renews in
// exactly seven days. Per-account retrieval failures are counted and logged
// without aborting the run. In dry-run mode all lookups happen but no mail
// is sent.
func (s *Service) RunRenewalReminders(ctx context.Context, dryRun bool) (*RenewalReport, error) {
	target := s.now().UTC().AddDate(0, 0, renewalLeadDays).Format("2006-01-02")
	report := &RenewalReport{TargetDate: target, DryRun: dryRun}

	users, err := s.repo.ListPremiumWithSubscription()
	if err != nil {
		return nil, err
	}
	report.Candidates = len(users)

	for _, user := range users {
		if user.Email == "" {
			report.SkippedNoEmail++
			log.Printf("renewal: skipping %s: no email address configured", user.Username)
			continue
		}

		sub, err := s.gateway.GetSubscription(ctx, user.StripeSubscriptionID)
		if err != nil {
			report.Errors++
			if errors.Is(err, ErrNotFound) {
				log.Printf("renewal: subscription %s not found for %s", user.StripeSubscriptionID, user.Username)
			} else {
				log.Printf("renewal: failed to retrieve subscription %s for %s: %v", user.StripeSubscriptionID, user.Username, err)
			}
			continue
		}

		if sub.Status != SubStatusActive && sub.Status != SubStatusTrialing {
			continue
		}
		if sub.CurrentPeriodEnd.IsZero() || sub.CurrentPeriodEnd.UTC().Format("2006-01-02") != target {
			report.SkippedNoRenewal++
			continue
		}

		if dryRun {
			log.Printf("renewal: would send reminder to %s (%s) for renewal on %s", user.Username, user.Email, target)
			continue
		}

		subject := fmt.Sprintf("Your premium subscription renews on %s",
			sub.CurrentPeriodEnd.UTC().Format("02 January 2006"))
		if err := s.mailer.Send(user.Email, subject, renewalBody(sub.CurrentPeriodEnd)); err != nil {
			report.Errors++
			log.Printf("renewal: failed to send reminder to %s: %v", user.Username, err)
			continue
		}
		report.Sent++
		log.Printf("renewal: reminder sent to %s (%s)", user.Username, user.Email)
	}

	return report, nil
}

func renewalBody(renewalDate time.Time) string {
	billingURL := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/") + "/billing"

	return fmt.Sprintf(`Hello,

This is a reminder that your QuillHost premium subscription will
automatically renew on %s.

If you wish to manage your subscription or update your payment
method, you can do so here:
%s

If you have any questions, reply to this email.
`, renewalDate.UTC().Format("January 02, 2006"), billingURL)
}
