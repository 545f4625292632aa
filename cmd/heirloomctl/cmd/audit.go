package cmd

import (
	"context"
	"errors"
	"fmt"

	"heirloom/internal/app"
	"heirloom/internal/usecase"

	"github.com/spf13/cobra"
)

var auditStream string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the hash chain of one audit stream",
	RunE: func(c *cobra.Command, _ []string) error {
		if auditStream == "" {
			return errors.New("--stream is required")
		}
		return withRuntime(c.Context(), func(ctx context.Context, rt *app.Runtime) error {
			events, err := rt.Services.Audit.ListByStream(ctx, auditStream)
			if err != nil {
				return err
			}
			if err := usecase.VerifyAuditChain(ctx, rt.Services.Audit, auditStream); err != nil {
				return fmt.Errorf("stream %s: %w", auditStream, err)
			}
			fmt.Fprintf(c.OutOrStdout(), "stream %s: %d events, chain valid\n", auditStream, len(events))
			return nil
		})
	},
}

func init() {
	auditVerifyCmd.Flags().StringVar(&auditStream, "stream", "", "vault or recovery id")
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
