package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/stellarremit/internal/app"
	"github.com/punchamoorthee/stellarremit/internal/config"
	"github.com/punchamoorthee/stellarremit/internal/keys"
	"github.com/punchamoorthee/stellarremit/internal/keystore"
	"github.com/punchamoorthee/stellarremit/internal/logging"
	"github.com/punchamoorthee/stellarremit/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert the database schema",
	}
	run := func(up bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DBSource == "" {
				return errors.New("DB_SOURCE environment variable is required")
			}
			if err := store.Migrate(cfg.DBSource, up); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration complete.")
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run(true)},
		&cobra.Command{Use: "down", Short: "Revert all migrations", Args: cobra.NoArgs, RunE: run(false)},
	)
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var master bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a Stellar keypair, or a keystore master key with --master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if master {
				key, err := keystore.GenerateMasterKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			}
			pair, err := keys.Generate()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Public key: %s\nSecret:     %s\n", pair.Address(), pair.Seed())
			return nil
		},
	}
	cmd.Flags().BoolVar(&master, "master", false, "print a base64 KEYSTORE_MASTER_KEY instead")
	return cmd
}

func newSweepCmd() *cobra.Command {
	var autoRefund bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation and expiry pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cmd.Flags().Changed("auto-refund") {
				cfg.AutoRefund = autoRefund
			}
			logger, err := logging.New(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, cleanup, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := a.Sweeper.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoRefund, "auto-refund", false, "refund escrows past their deadline (overrides ESCROW_AUTO_REFUND)")
	return cmd
}
