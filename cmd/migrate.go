package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-etl/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down]",
	Short:     "Apply or revert ETL schema migrations",
	Long:      "\"up\" (the default) applies every pending migration; \"down\" reverts the most recent one.",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{database.MigrateUp, database.MigrateDown},
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := database.MigrateUp
		if len(args) == 1 {
			direction = args[0]
		}
		if err := migrate(cfg, direction, logger); err != nil {
			return err
		}
		cmd.Printf("Migrations %s complete\n", direction)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
