package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meridian-benefits/claimflow/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review and operations HTTP API",
	Long:  "Serves job lookup, exception review with approve-and-resubmit, ledger operations, health, and Prometheus metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		go e.Ledger.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		return server.New(port, e.Store, e.Runner, e.Ledger).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
