package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quillhost/quillhost/app/controllers"
	"github.com/quillhost/quillhost/internal/pkg/usercontext"
)

type HttpRouter struct {
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Provider webhook: no auth, no CSRF, signature-verified in the handler.
	app.Post("/billing/stripe/webhook", controllers.HandleStripeWebhook)

	// Interactive billing actions. The session layer upstream populates the
	// user context; requireAuth only gates on it.
	billing := app.Group("/billing", requireAuth)
	billing.Get("/", controllers.HandleBillingOverview)
	billing.Get("/subscribe", controllers.HandleBillingSubscribe)
	billing.Get("/welcome", controllers.HandleBillingWelcome)
	billing.Post("/cancel", controllers.HandleBillingCancel)
	billing.Post("/resume", controllers.HandleBillingResume)
	billing.Post("/resubscribe", controllers.HandleBillingResubscribe)
	billing.Get("/card", controllers.HandleBillingCard)
	billing.Get("/card/confirm", controllers.HandleBillingCardConfirm)
	billing.Post("/card/default/:id", controllers.HandleBillingCardDefault)
	billing.Post("/card/delete/:id", controllers.HandleBillingCardDelete)

	app.Get("/up", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
}

func requireAuth(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}
	return c.Next()
}
