package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-benefits/claimflow/internal/inbound"
	"github.com/meridian-benefits/claimflow/internal/model"
)

var runSender string

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Process a single claim document",
	Long:  "Drives one document through the full pipeline and prints the resulting job. Accepts an .eml message or a raw scan image (with --sender).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read %s", path)
		}

		var event model.DocumentEvent
		if strings.EqualFold(filepath.Ext(path), ".eml") {
			event, err = inbound.ParseEML(filepath.Base(path), data, time.Now())
			if err != nil {
				return err
			}
		} else {
			if runSender == "" {
				return eris.New("--sender is required for raw scan files")
			}
			event = model.DocumentEvent{
				EventID:    filepath.Base(path),
				Sender:     strings.ToLower(runSender),
				Filename:   filepath.Base(path),
				Attachment: data,
				ReceivedAt: time.Now(),
			}
		}

		job, err := e.Runner.Run(ctx, event)
		if err != nil {
			return err
		}

		// Push any buffered ledger records before exiting.
		if _, err := e.Ledger.Flush(ctx); err != nil {
			cmd.PrintErrln("warning: ledger records remain buffered:", err)
		}

		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal job")
		}
		cmd.Println(string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runSender, "sender", "", "sender address for raw scan files")
	rootCmd.AddCommand(runCmd)
}
