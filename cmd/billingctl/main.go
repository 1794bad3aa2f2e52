package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/internal/pkg/bootstrap"
	"github.com/ManuelReschke/Almanac/internal/pkg/database"
	"github.com/ManuelReschke/Almanac/internal/pkg/env"
	applog "github.com/ManuelReschke/Almanac/internal/pkg/logger"
)

var container *bootstrap.Container

var rootCmd = &cobra.Command{
	Use:   "billingctl",
	Short: "Operator tooling for the Almanac billing engine",
	Long: `billingctl runs the billing maintenance jobs on demand and inspects
provider configuration. It reads the same environment as the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = env.SetupEnvFile()
		log := applog.New(applog.FromEnv())

		db, err := database.SetupDatabase(log)
		if err != nil {
			return err
		}
		container, err = bootstrap.New(cmd.Context(), db, log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if container != nil {
			container.Close()
			_ = container.Log.Sync()
		}
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logger() *zap.Logger {
	if container == nil {
		return zap.NewNop()
	}
	return container.Log
}
