package main

import (
	"encoding/json"
	"fmt"
	"time"

	"paylink_backend/internal/app"
	"paylink_backend/internal/auth"

	"github.com/spf13/cobra"
)

func serveCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reconciliation worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return app.Serve(cmd.Context(), cfg)
		},
	}
}

func migrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and install the audit log guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app.Bootstrap(cfg)
			if _, err := app.Connect(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func reconcileCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := wire(cmd, load)
			if err != nil {
				return err
			}
			report, err := application.Services.ReconciliationService.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

func historyCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "history [transaction-id]",
		Short: "Print the state history of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := wire(cmd, load)
			if err != nil {
				return err
			}
			history, err := application.Services.TransactionService.GetStateHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, history)
		},
	}
}

func tokenCmd(load configLoader) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue an API token for a merchant, operator or admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := auth.ValidateRole(role); err != nil {
				return err
			}
			auth.Configure(cfg.JWT.Secret)
			token, err := auth.GenerateToken(args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", auth.RoleOperator, "role (merchant, operator, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")

	return cmd
}

func wire(cmd *cobra.Command, load configLoader) (*app.Application, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	app.Bootstrap(cfg)
	gormDB, err := app.Connect(cfg)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, gormDB, app.Dependencies{})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
