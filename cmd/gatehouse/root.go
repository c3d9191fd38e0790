package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gatehouse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "Gatehouse - an authentication gate for a single upstream app",
		Long: `Gatehouse fronts a private web application with a login page,
cookie sessions, CSRF protection, and brute-force lockout. Requests
that pass authentication are reverse-proxied to the upstream.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newHashPasswordCmd())

	return cmd
}
