package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/quillhost/quillhost/internal/pkg/billing"
	"github.com/quillhost/quillhost/internal/pkg/database"
	"github.com/quillhost/quillhost/internal/pkg/env"
	"github.com/quillhost/quillhost/internal/pkg/mail"
	"github.com/quillhost/quillhost/internal/pkg/usercontext"
)

const billingActionTimeout = 20 * time.Second

var (
	billingOnce sync.Once
	billingSvc  *billing.Service
)

// billingService builds the engine once per process. The gateway credential
// lives inside the client instance, never in SDK-global state.
func billingService() *billing.Service {
	billingOnce.Do(func() {
		mailer := billing.MailerFunc(mail.SendMail)
		billingSvc = billing.NewServiceFromDB(
			database.GetDB(),
			billing.NewStripeGatewayFromEnv(),
			billing.NewAdminNotifier(env.GetEnv("ADMIN_EMAIL", ""), mailer),
			mailer,
		)
	})
	return billingSvc
}

func billingCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), billingActionTimeout)
}

// HandleBillingOverview returns the billing summary for the logged-in user,
// lazily creating the remote customer on first visit.
func HandleBillingOverview(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	overview, err := billingService().Overview(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("billing overview failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "billing_unavailable"})
	}
	return c.JSON(overview)
}

// HandleBillingSubscribe starts the checkout flow and returns the client
// secret the front end needs to confirm the first payment. Premium is not
// enabled here; only a confirmed payment does that.
func HandleBillingSubscribe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	intent, err := billingService().StartSubscribe(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("subscribe failed for user %d: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "payment processor unavailable; please try again later"}).Redirect("/billing")
	}

	return c.JSON(fiber.Map{
		"subscription_id":   intent.SubscriptionID,
		"status":            intent.Status,
		"client_secret":     intent.ClientSecret,
		"stripe_public_key": env.GetEnv("STRIPE_PUBLIC_KEY", ""),
		"return_url":        publicURL("/billing/welcome"),
	})
}

// HandleBillingWelcome is the synchronous redirect target after client-side
// payment confirmation. Whichever of this and the payment webhook runs first
// wins; the other is a no-op.
func HandleBillingWelcome(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	paymentIntentID := strings.TrimSpace(c.Query("payment_intent"))
	if paymentIntentID == "" {
		return c.Redirect("/billing", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	status, err := billingService().ConfirmPayment(ctx, userCtx.UserID, paymentIntentID)
	if err != nil {
		log.Printf("payment confirmation failed for user %d: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "could not verify payment; please try again"}).Redirect("/billing")
	}

	switch status {
	case billing.PaymentStatusSucceeded:
		return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "premium subscription enabled"}).Redirect("/billing")
	case billing.PaymentStatusProcessing:
		return flash.WithInfo(c, fiber.Map{"type": "info", "message": "payment is currently processing"}).Redirect("/billing")
	default:
		return flash.WithError(c, fiber.Map{"type": "error", "message": "payment was not completed"}).Redirect("/billing")
	}
}

// HandleBillingCancel schedules the subscription to stop at period end.
// Premium stays on until the deletion webhook arrives.
func HandleBillingCancel(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	if err := billingService().ScheduleCancel(ctx, userCtx.UserID); err != nil {
		log.Printf("cancel failed for user %d: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "subscription could not be canceled; please try again"}).Redirect("/billing")
	}
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "subscription will be canceled at period end"}).Redirect("/billing")
}

// HandleBillingResume reverses a scheduled cancellation.
func HandleBillingResume(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	if err := billingService().Resume(ctx, userCtx.UserID); err != nil {
		log.Printf("resume failed for user %d: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "subscription could not be resumed; please try again"}).Redirect("/billing")
	}
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "subscription resumed"}).Redirect("/billing")
}

// HandleBillingResubscribe charges a stored payment method immediately for
// returning subscribers.
func HandleBillingResubscribe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	status, err := billingService().StartResubscribe(ctx, userCtx.UserID)
	if err != nil {
		if errors.Is(err, billing.ErrNoSavedPaymentMethod) {
			// no stored card: send them through the regular checkout flow
			return c.Redirect("/billing/subscribe", fiber.StatusSeeOther)
		}
		log.Printf("resubscribe failed for user %d: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "failed to create subscription; please try again or contact support"}).Redirect("/billing")
	}

	if status == billing.PaymentStatusSucceeded {
		return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "premium subscription enabled"}).Redirect("/billing")
	}
	return flash.WithInfo(c, fiber.Map{"type": "info", "message": "payment is processing; premium will be enabled once the charge succeeds"}).Redirect("/billing")
}

// HandleBillingCard starts the add-card flow.
func HandleBillingCard(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	secret, err := billingService().NewSetupIntent(ctx, userCtx.UserID)
	if err != nil {
		log.Printf("setup intent failed for user %d: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "payment processor unavailable; please try again later"}).Redirect("/billing")
	}

	return c.JSON(fiber.Map{
		"client_secret":     secret,
		"stripe_public_key": env.GetEnv("STRIPE_PUBLIC_KEY", ""),
		"return_url":        publicURL("/billing/card/confirm"),
	})
}

// HandleBillingCardConfirm is the redirect target after client-side card setup.
func HandleBillingCardConfirm(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	setupIntentID := strings.TrimSpace(c.Query("setup_intent"))
	if setupIntentID == "" {
		return c.Redirect("/billing", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	status, err := billingService().ConfirmSetupIntent(ctx, setupIntentID)
	if err != nil {
		log.Printf("setup intent confirm failed for user %d: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "could not verify card setup; please try again"}).Redirect("/billing")
	}

	switch status {
	case billing.PaymentStatusSucceeded:
		return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "payment method added"}).Redirect("/billing")
	case billing.PaymentStatusProcessing:
		return flash.WithInfo(c, fiber.Map{"type": "info", "message": "payment method addition processing"}).Redirect("/billing")
	default:
		return flash.WithError(c, fiber.Map{"type": "error", "message": "error setting up payment method"}).Redirect("/billing")
	}
}

// HandleBillingCardDefault changes the default stored card.
func HandleBillingCardDefault(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	if err := billingService().SetDefaultPaymentMethod(ctx, userCtx.UserID, c.Params("id")); err != nil {
		if errors.Is(err, billing.ErrGatewayRejected) {
			return c.Status(fiber.StatusBadRequest).SendString("invalid card id")
		}
		log.Printf("default card change failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusServiceUnavailable).SendString("could not change default card")
	}
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "default card updated"}).Redirect("/billing")
}

// HandleBillingCardDelete detaches a stored card.
func HandleBillingCardDelete(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	ctx, cancel := billingCtx()
	defer cancel()

	if err := billingService().DetachPaymentMethod(ctx, userCtx.UserID, c.Params("id")); err != nil {
		if errors.Is(err, billing.ErrGatewayRejected) {
			return c.Status(fiber.StatusBadRequest).SendString("invalid card id")
		}
		log.Printf("card delete failed for user %d: %v", userCtx.UserID, err)
		return flash.WithError(c, fiber.Map{"type": "error", "message": "payment processor unresponsive; please try again"}).Redirect("/billing")
	}
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "card deleted"}).Redirect("/billing")
}

// HandleStripeWebhook is the single provider-pushed entry point. It must
// stay fast: verify, dispatch, acknowledge. Notification mail is sent
// fire-and-forget from the enable transition.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	ev, err := billing.ParseWebhookEvent(rawBody, signature, secret, env.IsDev())
	if err != nil {
		log.Printf("webhook rejected: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	ctx, cancel := billingCtx()
	defer cancel()

	err = billingService().ApplyEvent(ctx, ev)
	status := webhookStatusForError(err)
	if err != nil {
		log.Printf("webhook event %T: %v", ev, err)
	}
	if status != fiber.StatusOK {
		return c.Status(status).JSON(fiber.Map{"error": "event_processing_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// webhookStatusForError maps engine errors onto webhook response codes.
// Unresolvable and stale events are acknowledged so the provider stops
// retrying; they are logged and left for the reconciliation sweep.
func webhookStatusForError(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, billing.ErrSignatureInvalid):
		return fiber.StatusBadRequest
	case errors.Is(err, billing.ErrAccountUnresolvable), errors.Is(err, billing.ErrStaleEvent):
		return fiber.StatusOK
	default:
		return fiber.StatusInternalServerError
	}
}

func publicURL(path string) string {
	return strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/") + path
}
