package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"brokercrm-backend/internal/bootstrap"
	"brokercrm-backend/internal/shared/storage/db"
	"brokercrm-backend/internal/tenants"
)

// cliActor is recorded as the actor of operator actions in the audit log.
const cliActor = "crmctl"

type appFactory func() (*bootstrap.App, error)

func newRootCmd(build appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "crmctl",
		Short:         "Operator tooling for the broker CRM backend",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newTenantsCmd(build), newBatchesCmd(build), newMigrateCmd(build))
	return root
}

func withApp(build appFactory, fn func(app *bootstrap.App) error) error {
	app, err := build()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTenantsCmd(build appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Activate, delete or export tenants",
	}

	var email, name string
	activate := &cobra.Command{
		Use:   "activate <tenant-id>",
		Short: "Activate a pending tenant and email its admin a reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(build, func(app *bootstrap.App) error {
				res, err := app.Tenants.Activate(cmd.Context(), tenants.ActivateInput{
					TenantID:   args[0],
					AdminEmail: email,
					AdminName:  name,
					ActorID:    cliActor,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	activate.Flags().StringVar(&email, "email", "", "admin email (defaults to the tenant contact email)")
	activate.Flags().StringVar(&name, "name", "", "admin display name")

	var confirm string
	del := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Permanently delete a tenant and all of its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(build, func(app *bootstrap.App) error {
				res, err := app.Tenants.Delete(cmd.Context(), args[0], confirm, cliActor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	del.Flags().StringVar(&confirm, "confirm", "", "tenant name, must match exactly (case-insensitive)")
	_ = del.MarkFlagRequired("confirm")

	var format, outDir string
	export := &cobra.Command{
		Use:   "export <tenant-id>",
		Short: "Export all tenant data to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(build, func(app *bootstrap.App) error {
				file, err := app.Tenants.Export(cmd.Context(), args[0], format, cliActor)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
				path := filepath.Join(outDir, file.FileName)
				if err := os.WriteFile(path, file.Body, 0o600); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(file.Body))
				return nil
			})
		},
	}
	export.Flags().StringVar(&format, "format", tenants.FormatJSON, "json, csv or xlsx")
	export.Flags().StringVar(&outDir, "out", ".", "output directory")

	cmd.AddCommand(activate, del, export)
	return cmd
}

func newBatchesCmd(build appFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "Inspect and reprocess scan batches",
	}
	var tenantID string
	classify := &cobra.Command{
		Use:   "classify <batch-id>",
		Short: "Classify a scan batch synchronously, bypassing the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(build, func(app *bootstrap.App) error {
				batch, err := app.ScanBatches.Classify(cmd.Context(), tenantID, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), batch)
			})
		},
	}
	classify.Flags().StringVar(&tenantID, "tenant", "", "owning tenant id")
	_ = classify.MarkFlagRequired("tenant")
	cmd.AddCommand(classify)
	return cmd
}

func newMigrateCmd(build appFactory) *cobra.Command {
	var status bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(build, func(app *bootstrap.App) error {
				if app.DB == nil {
					return fmt.Errorf("DATABASE_URL is required")
				}
				ctx := cmd.Context()
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				if status {
					return db.MigrationStatus(ctx, app.DB)
				}
				if err := db.RunMigrations(ctx, app.DB); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of applying")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall timeout")
	return cmd
}
