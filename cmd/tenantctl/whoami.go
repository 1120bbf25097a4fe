package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Resolve the session behind an access token",
		Long: `Verify an access token and print the session it resolves to. The token is
taken from --token or TENANTCORE_TOKEN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("TENANTCORE_TOKEN")
			}
			if token == "" {
				return errors.New("no token given")
			}

			a, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			claims, err := a.Verifier.VerifyToken(cmd.Context(), token)
			if err != nil {
				return err
			}
			id, err := claims.IdentityID()
			if err != nil {
				return err
			}

			mgr := a.NewSession(false)
			defer mgr.Close()
			if _, err := mgr.Restore(cmd.Context(), id); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(mgr.Session())
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer access token")
	return cmd
}
