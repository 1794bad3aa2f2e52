package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/internal/pkg/billing"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
)

type ProviderAPI interface {
	InitiateOAuth(ctx context.Context, providerType string) (*billing.OAuthInitiation, error)
	HandleCallback(ctx context.Context, providerType, code, state string) (bool, error)
	ConfigureProvider(ctx context.Context, providerType string, creds provider.Credentials, displayName string) (*models.ProviderConfig, error)
	DisconnectProvider(ctx context.Context, providerType string, confirmed bool) (*billing.DisconnectResult, error)
	ListProviders(ctx context.Context) ([]models.ProviderConfig, error)
	UpdateProvider(ctx context.Context, id string, req billing.UpdateProviderRequest) (*models.ProviderConfig, error)
	OAuthStatus(ctx context.Context) ([]billing.ProviderStatus, error)
}

// ProviderController links and manages payment providers.
type ProviderController struct {
	providers ProviderAPI
	log       *zap.Logger
}

// NewProviderController creates the provider linking controller.
func NewProviderController(providers ProviderAPI, log *zap.Logger) *ProviderController {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProviderController{providers: providers, log: log.Named("providers")}
}

type configureBody struct {
	Credentials map[string]string `json:"credentials" validate:"required,min=1"`
	DisplayName string            `json:"display_name" validate:"omitempty,max=100"`
}

type updateProviderBody struct {
	Enabled     *bool   `json:"enabled"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=100"`
}

// HandleListProviders returns the connection status of every provider.
func (h *ProviderController) HandleListProviders(c *fiber.Ctx) error {
	configs, err := h.providers.ListProviders(c.UserContext())
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"data": configs})
}

// HandleOAuthStatus reports the link status of one provider type.
func (h *ProviderController) HandleOAuthStatus(c *fiber.Ctx) error {
	statuses, err := h.providers.OAuthStatus(c.UserContext())
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"data": statuses})
}

// HandleConnect starts the OAuth linking flow and returns the authorize URL.
func (h *ProviderController) HandleConnect(c *fiber.Ctx) error {
	start, err := h.providers.InitiateOAuth(c.UserContext(), c.Params("type"))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(start)
}

// HandleCallback is reached by the admin's browser coming back from the provider,
// so it is authenticated by the single-use state token instead of the admin key.
func (h *ProviderController) HandleCallback(c *fiber.Ctx) error {
	providerType := c.Params("type")
	if oauthErr := strings.TrimSpace(c.Query("error")); oauthErr != "" {
		msg := c.Query("error_description", oauthErr)
		return errorResponse(c, fiber.StatusBadRequest, "oauth_denied", msg)
	}

	ok, err := h.providers.HandleCallback(c.UserContext(), providerType, c.Query("code"), c.Query("state"))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_state", "OAuth state is invalid or expired")
	}
	return c.JSON(fiber.Map{"ok": true, "provider": strings.ToLower(providerType)})
}

// HandleConfigure links a provider from manually supplied credentials.
func (h *ProviderController) HandleConfigure(c *fiber.Ctx) error {
	var body configureBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	cfg, err := h.providers.ConfigureProvider(c.UserContext(), c.Params("type"), provider.Credentials(body.Credentials), body.DisplayName)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(cfg)
}

// HandleUpdate changes the display name or enabled flag of a linked provider.
func (h *ProviderController) HandleUpdate(c *fiber.Ctx) error {
	var body updateProviderBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	cfg, err := h.providers.UpdateProvider(c.UserContext(), c.Params("id"), billing.UpdateProviderRequest{
		Enabled:     body.Enabled,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(cfg)
}

// HandleDisconnect answers 409 with the open subscription count until the
// request carries confirm=true.
func (h *ProviderController) HandleDisconnect(c *fiber.Ctx) error {
	result, err := h.providers.DisconnectProvider(c.UserContext(), c.Params("type"), c.QueryBool("confirm", false))
	if err != nil {
		if result != nil {
			status, code := statusForError(err)
			h.log.Error("provider disconnect incomplete", zap.Error(err))
			return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error(), "result": result})
		}
		return serviceError(c, h.log, err)
	}
	if result.RequiresConfirmation {
		return c.Status(fiber.StatusConflict).JSON(result)
	}
	return c.JSON(result)
}
