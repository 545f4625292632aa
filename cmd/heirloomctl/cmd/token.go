package cmd

import (
	"fmt"
	"time"

	"heirloom/internal/infra/auth/jwtauth"

	"github.com/spf13/cobra"
)

var (
	tokenRoles []string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint an HS256 bearer token signed with JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		auth, err := jwtauth.NewAuthenticator(cfg)
		if err != nil {
			return err
		}
		token, err := auth.Sign(args[0], tokenRoles, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role claim, repeatable")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
