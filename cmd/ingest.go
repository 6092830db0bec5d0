package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the document intake loop",
	Long:  "Polls the inbound source for scanned claim documents and drives each through extraction, routing, and submission until terminal. Interrupted jobs are resumed on start.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("pipeline"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		source, err := initSource()
		if err != nil {
			return err
		}

		go e.Ledger.Run(ctx)
		if e.Archiver != nil {
			go e.Archiver.Run(ctx)
		}

		coordinator := pipeline.NewCoordinator(e.Runner, source, e.Store, e.Policy.CoordinatorConfig())

		zap.L().Info("intake loop starting",
			zap.String("inbound", cfg.Inbound.Mode),
			zap.Int("workers", e.Policy.CoordinatorConfig().Workers),
		)
		return coordinator.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
