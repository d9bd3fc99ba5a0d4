package main

import (
	"fmt"
	"os"

	"paylink_backend/internal/config"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "paylinkctl",
		Short:         "paylinkctl - operate the payment link backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $CONFIG_PATH or config/config.yaml)")

	load := func() (*config.Config, error) {
		if configPath != "" {
			return config.Load(configPath)
		}
		if err := config.LoadConfig(); err != nil {
			return nil, err
		}
		return config.AppConfig, nil
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(reconcileCmd(load))
	rootCmd.AddCommand(historyCmd(load))
	rootCmd.AddCommand(tokenCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type configLoader func() (*config.Config, error)
