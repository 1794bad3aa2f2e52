package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/internal/pkg/billing"
	"github.com/ManuelReschke/Almanac/internal/pkg/jobs"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
)

var validate = validator.New()

func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// statusForError maps domain errors to HTTP status and error code.
func statusForError(err error) (int, string) {
	var apiErr *provider.APIError
	switch {
	case errors.Is(err, billing.ErrValidation):
		return fiber.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return fiber.StatusNotFound, "subscription_not_found"
	case errors.Is(err, billing.ErrProviderNotFound):
		return fiber.StatusNotFound, "provider_not_found"
	case errors.Is(err, jobs.ErrUnknownTask):
		return fiber.StatusNotFound, "job_not_found"
	case errors.Is(err, billing.ErrSubscriptionExists):
		return fiber.StatusConflict, "subscription_exists"
	case errors.Is(err, billing.ErrSubscribeInProgress):
		return fiber.StatusConflict, "subscribe_in_progress"
	case errors.Is(err, billing.ErrSubscriptionTerminal):
		return fiber.StatusConflict, "subscription_cancelled"
	case errors.Is(err, billing.ErrConcurrentUpdate):
		return fiber.StatusConflict, "concurrent_update"
	case errors.Is(err, billing.ErrDisconnectIncomplete):
		return fiber.StatusConflict, "disconnect_incomplete"
	case errors.Is(err, jobs.ErrAlreadyRunning), errors.Is(err, jobs.ErrLocked):
		return fiber.StatusConflict, "job_busy"
	case errors.Is(err, billing.ErrSubscriptionsDisabled):
		return fiber.StatusBadRequest, "subscriptions_disabled"
	case errors.Is(err, billing.ErrProviderDisabled):
		return fiber.StatusBadRequest, "provider_disabled"
	case errors.Is(err, provider.ErrConfiguration):
		return fiber.StatusInternalServerError, "provider_misconfigured"
	case errors.As(err, &apiErr), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusBadGateway, "provider_error"
	default:
		return fiber.StatusInternalServerError, "internal_server_error"
	}
}

// serviceError writes the mapped response. Server-side failures are logged and
// their details withheld from the client.
func serviceError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status, code := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err))
		return errorResponse(c, status, code, http.StatusText(status))
	}
	return errorResponse(c, status, code, err.Error())
}

// ErrorHandler renders errors returned by handlers as JSON.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code := strings.ToLower(strings.ReplaceAll(http.StatusText(fe.Code), " ", "_"))
			return errorResponse(c, fe.Code, code, fe.Message)
		}
		return serviceError(c, log, err)
	}
}

// bindJSON parses and validates a request body.
func bindJSON(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "request body is not valid JSON")
	}
	if err := validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	return nil
}

// requestHeaders copies the request headers into an http.Header for adapters.
func requestHeaders(c *fiber.Ctx) http.Header {
	headers := make(http.Header)
	for key, values := range c.GetReqHeaders() {
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	return headers
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
