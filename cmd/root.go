// Package cmd implements the dispatchd command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/dispatchd/internal/config"
)

// NewRootCmd builds the command tree around cfg.
func NewRootCmd(cfg *config.AppConfig) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dispatchd",
		Short: "Asynchronous multi-channel notification dispatcher",
		Long: `dispatchd accepts notifications over a REST API, persists them, and
delivers them in the background through email, SMS, push and webhook providers.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(NewServeCmd(cfg))
	rootCmd.AddCommand(NewPurgeCmd(cfg))
	rootCmd.AddCommand(NewProvidersCmd(cfg))
	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewUpdateCmd())
	return rootCmd
}

// Execute runs the root command.
func Execute() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := NewRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
