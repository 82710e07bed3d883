package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	logsCmdMapping string
	logsCmdLimit   int
	logsCmdOffset  int
	logsCmdOutput  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List the import logs of a table mapping, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := validFormat(logsCmdOutput); err != nil {
			return err
		}
		mappingID, err := uuid.Parse(logsCmdMapping)
		if err != nil {
			return fmt.Errorf("invalid --mapping %q: %w", logsCmdMapping, err)
		}

		app, err := buildStack(cmd.Context(), cfg, logger, stackOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		logs, total, err := app.imports.ListImportLogs(cmd.Context(), mappingID, logsCmdLimit, logsCmdOffset)
		if err != nil {
			return err
		}
		return formatImportLogs(cmd.OutOrStdout(), logsCmdOutput, logs, total)
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsCmdMapping, "mapping", "", "table mapping ID (required)")
	logsCmd.Flags().IntVar(&logsCmdLimit, "limit", 20, "maximum number of logs")
	logsCmd.Flags().IntVar(&logsCmdOffset, "offset", 0, "number of logs to skip")
	logsCmd.Flags().StringVarP(&logsCmdOutput, "output", "o", formatTable, "output format: table, json or yaml")
	_ = logsCmd.MarkFlagRequired("mapping")

	rootCmd.AddCommand(logsCmd)
}
