package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-benefits/claimflow/internal/ledger"
	"github.com/meridian-benefits/claimflow/pkg/ledgersink"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and replay the audit ledger buffer",
}

func initLedgerWriter(cmd *cobra.Command) (*ledger.Writer, func(), error) {
	ctx := cmd.Context()

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	sink := ledgersink.NewXLSX(cfg.Ledger.WorkbookPath)
	lw := ledger.NewWriter(sink, st, ledger.Config{
		ReplayInterval: time.Duration(cfg.Ledger.ReplayIntervalSecs) * time.Second,
		ReplayBatch:    cfg.Ledger.ReplayBatch,
	})
	return lw, func() { _ = st.Close() }, nil
}

var ledgerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many records await replay",
	RunE: func(cmd *cobra.Command, args []string) error {
		lw, cleanup, err := initLedgerWriter(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		pending, err := lw.Pending(cmd.Context())
		if err != nil {
			return err
		}
		if pending == 0 {
			cmd.Println("ledger buffer empty")
		} else {
			cmd.Printf("%d record(s) buffered, awaiting replay to %s\n", pending, cfg.Ledger.WorkbookPath)
		}
		return nil
	},
}

var ledgerFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Replay buffered records to the workbook now",
	RunE: func(cmd *cobra.Command, args []string) error {
		lw, cleanup, err := initLedgerWriter(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		replayed, err := lw.Flush(cmd.Context())
		cmd.Printf("replayed %d record(s)\n", replayed)
		if err != nil {
			return eris.Wrap(err, "ledger sink still unavailable")
		}
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerStatusCmd)
	ledgerCmd.AddCommand(ledgerFlushCmd)
	rootCmd.AddCommand(ledgerCmd)
}
