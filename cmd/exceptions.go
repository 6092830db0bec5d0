package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-benefits/claimflow/internal/model"
	"github.com/meridian-benefits/claimflow/internal/store"
)

var exceptionsCmd = &cobra.Command{
	Use:   "exceptions",
	Short: "Review claims routed for manual handling",
}

var exceptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		jobs, err := st.ListJobs(ctx, store.JobFilter{State: model.JobStateException})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			cmd.Println("no exceptions pending")
			return nil
		}

		for _, job := range jobs {
			invoice, amount, confidence := "-", "-", "-"
			if job.Claim != nil {
				invoice = job.Claim.InvoiceNumber
				amount = job.Claim.ClaimAmount.String()
				confidence = fmt.Sprintf("%.2f", job.Claim.Confidence)
			}
			cmd.Printf("%s  sender=%s invoice=%s amount=%s confidence=%s reason=%q\n",
				job.ID, job.Sender, invoice, amount, confidence, job.FailureReason)
		}
		return nil
	},
}

var (
	approveEventDate string
	approveAmount    string
	approveInvoice   string
	approvePolicy    string
)

var exceptionsApproveCmd = &cobra.Command{
	Use:   "approve <job-id>",
	Short: "Approve an exception with corrections and resubmit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		jobID := args[0]
		job, err := e.Store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Claim == nil {
			return eris.Errorf("job %s has no extracted claim", jobID)
		}

		corrected := *job.Claim
		if approveEventDate != "" {
			d, err := time.Parse("2006-01-02", approveEventDate)
			if err != nil {
				return eris.Wrap(err, "parse --event-date")
			}
			corrected.EventDate = d
		}
		if approveAmount != "" {
			amount, err := model.ParseAmount(approveAmount)
			if err != nil {
				return err
			}
			corrected.ClaimAmount = amount
		}
		if approveInvoice != "" {
			corrected.InvoiceNumber = approveInvoice
		}
		if approvePolicy != "" {
			corrected.PolicyNumber = approvePolicy
		}

		approved, err := e.Runner.ApproveCorrection(ctx, jobID, &corrected)
		if err != nil {
			return err
		}
		if _, err := e.Ledger.Flush(ctx); err != nil {
			cmd.PrintErrln("warning: ledger records remain buffered:", err)
		}

		cmd.Printf("%s  state=%s reference=%s\n", approved.ID, approved.State, approved.Reference)
		return nil
	},
}

func init() {
	exceptionsApproveCmd.Flags().StringVar(&approveEventDate, "event-date", "", "corrected event date (YYYY-MM-DD)")
	exceptionsApproveCmd.Flags().StringVar(&approveAmount, "amount", "", "corrected claim amount")
	exceptionsApproveCmd.Flags().StringVar(&approveInvoice, "invoice", "", "corrected invoice number")
	exceptionsApproveCmd.Flags().StringVar(&approvePolicy, "policy", "", "corrected policy number")

	exceptionsCmd.AddCommand(exceptionsListCmd)
	exceptionsCmd.AddCommand(exceptionsApproveCmd)
	rootCmd.AddCommand(exceptionsCmd)
}
