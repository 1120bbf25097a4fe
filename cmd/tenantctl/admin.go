package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tenantcore/internal/services"
)

func newBootstrapAdminCmd(opts *rootOptions) *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the first platform admin",
		Long: `Create the first platform admin account. The password is read from
TENANTCORE_ADMIN_PASSWORD or, when unset, from the first line of stdin.
The command refuses once a platform admin exists.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("TENANTCORE_ADMIN_PASSWORD")
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password given on stdin")
				}
				password = strings.TrimRight(line, "\r\n")
			}

			a, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			admin, err := a.Directory.BootstrapPlatformAdmin(cmd.Context(), &services.CreateUserRequest{
				Email:    email,
				Password: password,
				FullName: name,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created platform admin %s (%s)\n", admin.Email, admin.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email address")
	cmd.Flags().StringVar(&name, "name", "", "admin full name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
