package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/internal/pkg/env"
	applog "github.com/ManuelReschke/Almanac/internal/pkg/logger"
)

func main() {
	_ = env.SetupEnvFile()
	log := applog.New(applog.FromEnv()).Named("migrate")
	defer func() { _ = log.Sync() }()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		env.GetEnv("DB_USER", "almanac"),
		env.GetEnv("DB_PASSWORD", "almanac"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "almanac_db"),
	)

	log.Info("connecting to database",
		zap.String("user", env.GetEnv("DB_USER", "almanac")),
		zap.String("host", env.GetEnv("DB_HOST", "db")),
		zap.String("port", env.GetEnv("DB_PORT", "3306")),
		zap.String("database", env.GetEnv("DB_NAME", "almanac_db")),
	)

	m, err := migrate.New(env.GetEnv("MIGRATIONS_PATH", "file://migrations"), dbURL)
	if err != nil {
		log.Fatal("initialize migrations", zap.Error(err))
	}

	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Warn("close migration resources", zap.NamedError("source", sourceErr), zap.NamedError("database", dbErr))
		}
	}()

	switch command {
	case "up":
		err := m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info("no change: database is up to date")
		case err != nil:
			log.Fatal("apply migrations", zap.Error(err))
		default:
			log.Info("migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatal("roll back last migration", zap.Error(err))
		}
		log.Info("last migration rolled back")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("goto needs a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatal("invalid version number", zap.Error(err))
		}

		err = m.Migrate(uint(version))
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info("no change: database already at version", zap.Uint64("version", version))
		case err != nil:
			log.Fatal("migrate to version", zap.Uint64("version", version), zap.Error(err))
		default:
			log.Info("migrated", zap.Uint64("version", version))
		}

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Info("no migrations applied yet")
		case err != nil:
			log.Fatal("read migration version", zap.Error(err))
		default:
			log.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
