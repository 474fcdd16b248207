package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/Danils137/CenasOcta.LV-sub000/app/controllers"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/env"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/montonio"
	"github.com/Danils137/CenasOcta.LV-sub000/internal/pkg/payments"
)

// Dependencies carries the long-lived collaborators request handlers need.
type Dependencies struct {
	Montonio *montonio.Client
	Payments *payments.Service
	Repo     payments.Repository
}

type ApiRouter struct {
	deps Dependencies
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// The mobile/web storefront calls these cross-origin.
	paymentsGroup := v1.Group("/payments", cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "authorization, x-client-info, apikey, content-type",
	}))

	paymentController := controllers.NewPaymentController(h.deps.Montonio)

	webhookSecret := env.GetEnv("MONTONIO_WEBHOOK_SECRET", "")
	if webhookSecret == "" {
		webhookSecret = h.deps.Montonio.SecretKey
	}
	webhookController := controllers.NewWebhookController(
		h.deps.Payments,
		h.deps.Repo,
		h.deps.Montonio.SecretKey,
		webhookSecret,
		env.GetEnv("ADMIN_API_KEY", ""),
	)

	paymentsGroup.Post("/orders", paymentController.HandleCreateOrder)
	paymentsGroup.Get("/methods", paymentController.HandleGetPaymentMethods)
	paymentsGroup.Post("/webhook", webhookController.HandleTokenWebhook)
	paymentsGroup.Post("/webhook/notify", webhookController.HandleSignatureWebhook)
	paymentsGroup.Get("/webhook/stats", webhookController.HandleGetWebhookStats)
	paymentsGroup.Get("/webhook/logs/:paymentId", webhookController.HandleGetWebhookLog)
}
