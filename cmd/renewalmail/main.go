package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/quillhost/quillhost/internal/pkg/billing"
	"github.com/quillhost/quillhost/internal/pkg/database"
	"github.com/quillhost/quillhost/internal/pkg/env"
	"github.com/quillhost/quillhost/internal/pkg/mail"
)

// renewalmail emails premium subscribers whose subscription renews in seven
// days. It defaults to a dry run so a cron misconfiguration cannot spam
// subscribers; pass -no-dryrun to actually send.
func main() {
	noDryRun := flag.Bool("no-dryrun", false, "actually send reminder emails")
	flag.Parse()

	env.SetupEnvFile()
	database.SetupDatabase()

	gateway := billing.NewStripeGatewayFromEnv()
	notifier := billing.NewAdminNotifier(env.GetEnv("ADMIN_EMAIL", ""), billing.MailerFunc(mail.SendMail))
	service := billing.NewServiceFromDB(database.GetDB(), gateway, notifier, billing.MailerFunc(mail.SendMail))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := service.RunRenewalReminders(ctx, !*noDryRun)
	if err != nil {
		log.Fatalf("renewal reminder run failed: %v", err)
	}

	mode := "sent"
	if report.DryRun {
		mode = "would send (dry run)"
	}
	fmt.Printf("renewal date %s: %d candidates, %s %d, skipped %d (no email) + %d (no renewal due), %d errors\n",
		report.TargetDate, report.Candidates, mode, report.Sent,
		report.SkippedNoEmail, report.SkippedNoRenewal, report.Errors)
}
