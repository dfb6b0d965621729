package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maauso/stemsplit-api/internal/bootstrap"
)

func creditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust account credits",
	}

	getCmd := &cobra.Command{
		Use:   "get <account>",
		Short: "Show the balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			led, err := bootstrap.OpenLedger(cfg, logger)
			if err != nil {
				return err
			}
			defer closeQuietly(led)

			balance, err := led.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", args[0], balance)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <account> <credits>",
		Short: "Overwrite the balance of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			credits, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid credits %q: %w", args[1], err)
			}

			cfg, logger, err := loadConfig(cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			if cfg.LedgerDSN == "" {
				logger.Warn("LEDGER_DSN is not set; the balance will not outlive this command")
			}
			led, err := bootstrap.OpenLedger(cfg, logger)
			if err != nil {
				return err
			}
			defer closeQuietly(led)

			if err := led.SetBalance(cmd.Context(), args[0], credits); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", args[0], credits)
			return nil
		},
	}

	cmd.AddCommand(getCmd)
	cmd.AddCommand(setCmd)
	return cmd
}

func closeQuietly(v any) {
	if c, ok := v.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
