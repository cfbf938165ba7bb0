package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the order store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		orders, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer orders.Close()

		if err := orders.Migrate(cmd.Context()); err != nil {
			return err
		}

		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
