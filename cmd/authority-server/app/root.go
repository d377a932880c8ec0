// Package app holds the authority-server commands.
package app

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "authority-server",
		Short:         "Session and token authority",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "Path to a YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newKeygenCmd())
	return root
}
