package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/internal/pkg/billing"
	"github.com/ManuelReschke/Almanac/internal/pkg/metrics"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
)

const webhookTimeout = 15 * time.Second

type ProviderConfigLookup interface {
	GetByType(ctx context.Context, providerType string) (*models.ProviderConfig, error)
}

type AdapterSource interface {
	Adapter(cfg *models.ProviderConfig) (provider.Adapter, error)
}

type WebhookIngestor interface {
	ProcessWebhookEvent(ctx context.Context, cfg *models.ProviderConfig, event *provider.WebhookEvent) (billing.WebhookOutcome, error)
}

// WebhookController receives provider webhook deliveries.
type WebhookController struct {
	configs  ProviderConfigLookup
	adapters AdapterSource
	ingestor WebhookIngestor
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// NewWebhookController creates the inbound webhook controller.
func NewWebhookController(configs ProviderConfigLookup, adapters AdapterSource, ingestor WebhookIngestor, m *metrics.Metrics, log *zap.Logger) *WebhookController {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookController{
		configs:  configs,
		adapters: adapters,
		ingestor: ingestor,
		metrics:  m,
		log:      log.Named("webhooks"),
	}
}

// HandleWebhook verifies the signature before anything is parsed. Once verified,
// every ingestion outcome (including duplicates) answers 200 so the provider stops retrying.
func (h *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	providerType := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	if !models.IsValidProviderType(providerType) {
		return errorResponse(c, fiber.StatusNotFound, "unknown_provider", "Unknown provider")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	cfg, err := h.configs.GetByType(ctx, providerType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.metrics.WebhookRejected(providerType, "not_configured")
			return errorResponse(c, fiber.StatusNotFound, "provider_not_configured", "Provider is not configured")
		}
		return serviceError(c, h.log, err)
	}
	adapter, err := h.adapters.Adapter(cfg)
	if err != nil {
		return serviceError(c, h.log, err)
	}

	payload := append([]byte(nil), c.Body()...)
	if !adapter.VerifyWebhookSignature(ctx, payload, requestHeaders(c)) {
		h.metrics.WebhookRejected(providerType, "invalid_signature")
		h.log.Warn("rejected webhook with invalid signature",
			zap.String("provider", providerType),
			zap.String("ip", c.IP()),
			zap.Int("bytes", len(payload)))
		return errorResponse(c, fiber.StatusUnauthorized, "invalid_signature", "Webhook signature verification failed")
	}

	event, err := adapter.ParseWebhookEvent(payload)
	if err != nil {
		h.metrics.WebhookRejected(providerType, "invalid_payload")
		h.log.Warn("rejected unparseable webhook", zap.String("provider", providerType), zap.Error(err))
		return errorResponse(c, fiber.StatusBadRequest, "invalid_payload", "Webhook payload could not be parsed")
	}

	outcome, err := h.ingestor.ProcessWebhookEvent(ctx, cfg, event)
	if err != nil {
		if errors.Is(err, billing.ErrValidation) {
			h.metrics.WebhookRejected(providerType, "invalid_event")
			return errorResponse(c, fiber.StatusBadRequest, "invalid_event", err.Error())
		}
		return serviceError(c, h.log, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"outcome":   outcome,
		"duplicate": outcome == billing.OutcomeDuplicate,
	})
}
