package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/qqbridge/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "qqbridge",
		Short:         "QQ OneBot reverse WebSocket bridge",
		Long:          "qqbridge accepts reverse WebSocket connections from OneBot gateways such as Napcat, filters inbound QQ messages by account policy and relays replies back to QQ.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the TOML config file (env CONFIG_PATH)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newCheckConfigCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return config.DefaultConfigPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
