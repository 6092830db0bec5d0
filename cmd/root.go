package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "claimflow",
	Short: "Insurance claim intake pipeline",
	Long:  "Extracts fields from scanned claim documents via Claude vision, routes by confidence, submits to the claims backend with retry, and keeps a durable audit ledger.",
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
