package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/impetus-mx/storefront-api/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "storefront-api",
	Short: "Storefront backend with carrier-quoted shipping",
	Long:  "Serves shipping quotes (Skydropx), signed quote snapshots, Stripe checkout sessions, and the payment webhook that records orders and books shipments.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
