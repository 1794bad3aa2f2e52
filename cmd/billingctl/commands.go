package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/internal/pkg/jobs"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Suspend past_due subscriptions whose grace period expired",
	Long: `Runs the grace-period sweep once. The run takes the same lock as the
server's scheduler, so it is skipped while another instance is sweeping.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := container.Jobs.RunOnce(cmd.Context(), jobs.GraceSweepJob); err != nil {
			return fmt.Errorf("grace sweep: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "grace sweep finished")
		return nil
	},
}

var cleanupStatesCmd = &cobra.Command{
	Use:   "cleanup-states",
	Short: "Delete expired OAuth state tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := container.States.CleanupExpired(cmd.Context())
		if err != nil {
			return fmt.Errorf("cleanup states: %w", err)
		}
		logger().Info("expired oauth states removed", zap.Int64("removed", removed))
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired state tokens\n", removed)
		return nil
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List linked payment providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := container.Connections.ListProviders(cmd.Context())
		if err != nil {
			return fmt.Errorf("list providers: %w", err)
		}
		return writeProviders(cmd.OutOrStdout(), configs)
	},
}

func writeProviders(out io.Writer, configs []models.ProviderConfig) error {
	if len(configs) == 0 {
		_, err := fmt.Fprintln(out, "no providers linked")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tENABLED\tWEBHOOK")
	for _, cfg := range configs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", cfg.ID, cfg.ProviderType, cfg.DisplayName, cfg.Enabled, cfg.WebhookID)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(sweepCmd, cleanupStatesCmd, providersCmd)
}
