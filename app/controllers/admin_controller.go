package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/app/repository"
	"github.com/ManuelReschke/Almanac/internal/pkg/billing"
)

type SubscriptionAPI interface {
	Subscribe(ctx context.Context, req billing.SubscribeRequest) (*billing.SubscribeResult, error)
	Cancel(ctx context.Context, subscriptionID string, immediate bool) (*models.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, filter repository.SubscriptionFilter) ([]models.Subscription, int64, error)
	BillingPortalURL(ctx context.Context, subscriptionID, returnURL string) (string, error)
	SyncFromProvider(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	HasActiveSubscription(ctx context.Context, accountID string) (bool, error)
}

type SettingsAPI interface {
	GetSettings(ctx context.Context) (*models.SubscriptionSettings, error)
	UpdateSettings(ctx context.Context, req billing.UpdateSettingsRequest) (*models.SubscriptionSettings, error)
}

type JobRunner interface {
	RunOnce(ctx context.Context, name string) error
}

// AdminController serves settings, subscriptions and manual job runs.
type AdminController struct {
	subscriptions SubscriptionAPI
	settings      SettingsAPI
	jobs          JobRunner
	log           *zap.Logger
}

// NewAdminController creates the admin API controller.
func NewAdminController(subscriptions SubscriptionAPI, settings SettingsAPI, jobs JobRunner, log *zap.Logger) *AdminController {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminController{
		subscriptions: subscriptions,
		settings:      settings,
		jobs:          jobs,
		log:           log.Named("admin"),
	}
}

type subscribeBody struct {
	AccountID        string `json:"account_id" validate:"required,uuid"`
	Email            string `json:"email" validate:"required,email"`
	ProviderConfigID string `json:"provider_config_id" validate:"required"`
	BillingCycle     string `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
	Amount           int64  `json:"amount" validate:"gte=0"`
	Currency         string `json:"currency" validate:"omitempty,len=3"`
	ReturnURL        string `json:"return_url" validate:"omitempty,url"`
	CancelURL        string `json:"cancel_url" validate:"omitempty,url"`
}

type settingsBody struct {
	Enabled         *bool   `json:"enabled"`
	MonthlyPrice    *int64  `json:"monthly_price" validate:"omitempty,gte=0"`
	YearlyPrice     *int64  `json:"yearly_price" validate:"omitempty,gte=0"`
	Currency        *string `json:"currency" validate:"omitempty,len=3"`
	PayWhatYouCan   *bool   `json:"pay_what_you_can"`
	GracePeriodDays *int    `json:"grace_period_days" validate:"omitempty,gte=0,lte=365"`
}

// HandleGetSettings returns the current subscription settings.
func (h *AdminController) HandleGetSettings(c *fiber.Ctx) error {
	settings, err := h.settings.GetSettings(c.UserContext())
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(settings)
}

// HandleUpdateSettings applies a partial settings update.
func (h *AdminController) HandleUpdateSettings(c *fiber.Ctx) error {
	var body settingsBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	settings, err := h.settings.UpdateSettings(c.UserContext(), billing.UpdateSettingsRequest{
		Enabled:         body.Enabled,
		MonthlyPrice:    body.MonthlyPrice,
		YearlyPrice:     body.YearlyPrice,
		Currency:        body.Currency,
		PayWhatYouCan:   body.PayWhatYouCan,
		GracePeriodDays: body.GracePeriodDays,
	})
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(settings)
}

// HandleSubscribe opens a subscription for an account.
func (h *AdminController) HandleSubscribe(c *fiber.Ctx) error {
	var body subscribeBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	result, err := h.subscriptions.Subscribe(c.UserContext(), billing.SubscribeRequest{
		AccountID:        body.AccountID,
		Email:            body.Email,
		ProviderConfigID: body.ProviderConfigID,
		BillingCycle:     body.BillingCycle,
		Amount:           body.Amount,
		Currency:         body.Currency,
		ReturnURL:        body.ReturnURL,
		CancelURL:        body.CancelURL,
	})
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleListSubscriptions pages through subscriptions with optional filters.
func (h *AdminController) HandleListSubscriptions(c *fiber.Ctx) error {
	filter := repository.SubscriptionFilter{
		AccountID:        strings.TrimSpace(c.Query("account_id")),
		ProviderConfigID: strings.TrimSpace(c.Query("provider_config_id")),
		Status:           strings.TrimSpace(c.Query("status")),
		Offset:           queryInt(c, "offset", 0),
		Limit:            queryInt(c, "limit", 50),
	}
	subs, total, err := h.subscriptions.ListSubscriptions(c.UserContext(), filter)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(fiber.Map{
		"data":   subs,
		"total":  total,
		"offset": filter.Offset,
		"limit":  filter.Limit,
	})
}

// HandleGetSubscription returns one subscription by id.
func (h *AdminController) HandleGetSubscription(c *fiber.Ctx) error {
	sub, err := h.subscriptions.GetSubscription(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(sub)
}

// HandleCancelSubscription force-cancels. immediate defaults to true.
func (h *AdminController) HandleCancelSubscription(c *fiber.Ctx) error {
	immediate := c.QueryBool("immediate", true)
	sub, err := h.subscriptions.Cancel(c.UserContext(), c.Params("id"), immediate)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(sub)
}

// HandleSyncSubscription refreshes a subscription from its provider.
func (h *AdminController) HandleSyncSubscription(c *fiber.Ctx) error {
	sub, err := h.subscriptions.SyncFromProvider(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(sub)
}

// HandleBillingPortal returns a provider-hosted billing management URL.
func (h *AdminController) HandleBillingPortal(c *fiber.Ctx) error {
	url, err := h.subscriptions.BillingPortalURL(c.UserContext(), c.Params("id"), c.Query("return_url"))
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"url": url})
}

// HandleAccountStatus reports whether an account has an active subscription.
func (h *AdminController) HandleAccountStatus(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	active, err := h.subscriptions.HasActiveSubscription(c.UserContext(), accountID)
	if err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"account_id": accountID, "active": active})
}

// HandleRunJob runs a registered background job once.
func (h *AdminController) HandleRunJob(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := h.jobs.RunOnce(c.UserContext(), name); err != nil {
		return serviceError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"ok": true, "job": name})
}
