package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tenantcore/internal/models"
)

func newTenantsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Inspect and change tenants",
	}
	cmd.AddCommand(newTenantsListCmd(opts), newTenantsStatusCmd(opts), newTenantsSweepCmd(opts))
	return cmd
}

func newTenantsListCmd(opts *rootOptions) *cobra.Command {
	var (
		statuses []string
		search   string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			filter := models.TenantFilter{Search: search, Limit: limit}
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, models.TenantStatus(s))
			}
			tenants, err := a.Tenants.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tenants)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tSTATUS\tPLAN\tSUBSCRIPTION")
			for _, t := range tenants {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Slug, t.Status, t.Plan, t.SubscriptionStatus)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (repeatable)")
	cmd.Flags().StringVar(&search, "search", "", "match name or slug")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newTenantsStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <tenant-id> <suspend|activate|cancel>",
		Short: "Suspend, activate or cancel a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id %q", args[0])
			}

			a, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var t *models.Tenant
			switch args[1] {
			case "suspend":
				t, err = a.Tenants.Suspend(cmd.Context(), id)
			case "activate":
				t, err = a.Tenants.Activate(cmd.Context(), id)
			case "cancel":
				t, err = a.Tenants.Cancel(cmd.Context(), id)
			default:
				return fmt.Errorf("unknown action %q", args[1])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", t.Slug, t.Status)
			return nil
		},
	}
}

func newTenantsSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expire-trials",
		Short: "Mark trials past their end date as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.Tenants.ExpireTrials(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d trial(s)\n", n)
			return nil
		},
	}
}
