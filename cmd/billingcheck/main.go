package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quillhost/quillhost/internal/pkg/billing"
	"github.com/quillhost/quillhost/internal/pkg/database"
	"github.com/quillhost/quillhost/internal/pkg/env"
	"github.com/quillhost/quillhost/internal/pkg/mail"
)

// billingcheck audits local premium flags against the subscription listing at
// Stripe and prints any drift it finds. It never writes; fixing drift is an
// operator decision.
func main() {
	env.SetupEnvFile()
	database.SetupDatabase()

	gateway := billing.NewStripeGatewayFromEnv()
	notifier := billing.NewAdminNotifier(env.GetEnv("ADMIN_EMAIL", ""), billing.MailerFunc(mail.SendMail))
	service := billing.NewServiceFromDB(database.GetDB(), gateway, notifier, billing.MailerFunc(mail.SendMail))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := service.ReconcileSweep(ctx)
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}

	for _, finding := range report.Findings {
		fmt.Println(finding)
	}

	fmt.Printf("checked %d remote subscriptions (%d billable customers) against %d premium accounts: %d findings\n",
		report.RemoteSubscriptions, report.BillableCustomers, report.PremiumAccounts, len(report.Findings))
}
