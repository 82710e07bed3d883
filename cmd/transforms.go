package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
)

var transformsCmd = &cobra.Command{
	Use:   "transforms",
	Short: "List the transforms a field mapping may use",
	Args:  cobra.NoArgs,
	// Listing needs neither configuration nor a database.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range etl.Default().Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(transformsCmd)
}
