package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/app/controllers"
	"github.com/ManuelReschke/Almanac/internal/pkg/bootstrap"
	"github.com/ManuelReschke/Almanac/internal/pkg/cache"
	"github.com/ManuelReschke/Almanac/internal/pkg/database"
	"github.com/ManuelReschke/Almanac/internal/pkg/env"
	applog "github.com/ManuelReschke/Almanac/internal/pkg/logger"
	"github.com/ManuelReschke/Almanac/internal/pkg/router"
)

func main() {
	if err := env.SetupEnvFile(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using process environment")
	}
	log := applog.New(applog.FromEnv())
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("almanac stopped", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.SetupDatabase(log)
	if err != nil {
		return err
	}

	c, err := bootstrap.New(ctx, db, log)
	if err != nil {
		return err
	}
	defer c.Close()

	app := NewApplication(c)

	c.Jobs.Start(ctx)

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	c.Jobs.Stop()
	return app.ShutdownWithTimeout(10 * time.Second)
}

// NewApplication builds the fiber app with all routes installed.
func NewApplication(c *bootstrap.Container) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "almanac",
		BodyLimit:    1 << 20,
		ErrorHandler: controllers.ErrorHandler(c.Log),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	api := router.ApiRouter{
		Webhooks:  controllers.NewWebhookController(c.Repos.ProviderConfig, c.Adapters, c.Subscriptions, c.Metrics, c.Log),
		Admin:     controllers.NewAdminController(c.Subscriptions, c.Settings, c.Jobs, c.Log),
		Providers: controllers.NewProviderController(c.Connections, c.Log),
		AdminKey:  env.GetEnv("ADMIN_API_KEY", ""),
		Log:       c.Log,
	}
	if c.Cache != nil {
		api.LimiterStorage = cache.NewFiberStorage(c.Cache, cache.LimiterDatabase)
	}

	router.InstallRouter(app, router.MetricsRouter{Gatherer: c.Registry}, router.DocsRouter{}, api)

	return app
}
