package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/app/controllers"
	"github.com/ManuelReschke/Almanac/internal/pkg/middleware"
)

const (
	APIPrefix   = "/api/subscription/v1"
	AdminPrefix = APIPrefix + "/admin"
)

// ApiRouter installs the public webhook/callback endpoints and the admin API.
type ApiRouter struct {
	Webhooks  *controllers.WebhookController
	Admin     *controllers.AdminController
	Providers *controllers.ProviderController
	AdminKey  string
	// LimiterStorage shares rate limit counters between instances; nil keeps them in memory.
	LimiterStorage fiber.Storage
	Log            *zap.Logger
}

func (h ApiRouter) limiter(max int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    h.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	})
}

// InstallRouter mounts the /api/subscription/v1 routes.
func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(APIPrefix)
	api.Post("/webhooks/:provider", h.limiter(600), h.Webhooks.HandleWebhook)
	api.Get("/providers/:type/callback", h.limiter(30), h.Providers.HandleCallback)

	admin := app.Group(AdminPrefix, middleware.AdminKeyAuth(h.AdminKey, h.Log))

	admin.Get("/settings", h.Admin.HandleGetSettings)
	admin.Put("/settings", h.Admin.HandleUpdateSettings)

	admin.Get("/subscriptions", h.Admin.HandleListSubscriptions)
	admin.Post("/subscriptions", h.Admin.HandleSubscribe)
	admin.Get("/subscriptions/:id", h.Admin.HandleGetSubscription)
	admin.Post("/subscriptions/:id/cancel", h.Admin.HandleCancelSubscription)
	admin.Post("/subscriptions/:id/sync", h.Admin.HandleSyncSubscription)
	admin.Get("/subscriptions/:id/portal", h.Admin.HandleBillingPortal)
	admin.Get("/accounts/:accountId/subscription", h.Admin.HandleAccountStatus)

	admin.Get("/providers", h.Providers.HandleListProviders)
	admin.Get("/oauth/status", h.Providers.HandleOAuthStatus)
	admin.Post("/providers/:type/connect", h.Providers.HandleConnect)
	admin.Post("/providers/:type/configure", h.Providers.HandleConfigure)
	admin.Patch("/providers/:id", h.Providers.HandleUpdate)
	admin.Delete("/providers/:type", h.Providers.HandleDisconnect)

	admin.Post("/jobs/:name/run", h.Admin.HandleRunJob)
}
