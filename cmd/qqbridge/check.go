package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/memohai/qqbridge/internal/config"
)

func newCheckConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and print the resolved accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), cfg)
		},
	}
}

func printSummary(w io.Writer, cfg config.Config) error {
	ids := cfg.AccountIDs()
	sort.Strings(ids)
	if _, err := fmt.Fprintf(w, "gateway  ws://%s\nadmin    http://%s\n", cfg.Gateway.Addr(), cfg.Server.Addr); err != nil {
		return err
	}
	for _, id := range ids {
		acct := cfg.ResolveAccount(id)
		token := "none"
		if acct.Token != "" {
			token = "set"
		}
		if _, err := fmt.Fprintf(w, "account  %s enabled=%t dm=%s group=%s token=%s media_max=%dMB\n",
			acct.ID, acct.Enabled, acct.DMPolicy, acct.GroupPolicy, token, acct.MediaMaxBytes>>20); err != nil {
			return err
		}
	}
	return nil
}
