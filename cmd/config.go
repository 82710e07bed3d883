package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-etl/pkg/services"
)

var (
	configApplyCmdFile  string
	configListCmdOutput string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage sources, table mappings and field mappings",
}

var configApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Validate a mappings file and write it to the database",
	Long: "Reads a YAML mappings document, validates every source, mapping and transform, and writes\n" +
		"it in one transaction. Connection descriptors are encrypted when ETL_CREDENTIALS_KEY is set.\n" +
		"Use -f - to read from stdin.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		in := cmd.InOrStdin()
		if configApplyCmdFile != "-" {
			f, err := os.Open(configApplyCmdFile)
			if err != nil {
				return fmt.Errorf("failed to open mappings file: %w", err)
			}
			defer f.Close()
			in = f
		}

		doc, err := services.ParseConfigDocument(in)
		if err != nil {
			return err
		}

		app, err := buildStack(cmd.Context(), cfg, logger, stackOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		summary, err := app.config.Apply(cmd.Context(), doc)
		if err != nil {
			return err
		}
		cmd.Printf("Applied %d source(s), %d table mapping(s), %d field mapping(s)\n",
			summary.Sources, summary.Mappings, summary.Fields)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list [source]",
	Short: "List sources, or the table mappings of one source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validFormat(configListCmdOutput); err != nil {
			return err
		}

		app, err := buildStack(cmd.Context(), cfg, logger, stackOptions{})
		if err != nil {
			return err
		}
		defer app.Close()

		if len(args) == 0 {
			sources, err := app.config.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			return formatSources(cmd.OutOrStdout(), configListCmdOutput, sources)
		}

		mappings, err := app.config.ListMappings(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return formatMappings(cmd.OutOrStdout(), configListCmdOutput, mappings)
	},
}

func init() {
	configApplyCmd.Flags().StringVarP(&configApplyCmdFile, "file", "f", "", "mappings YAML file (required)")
	_ = configApplyCmd.MarkFlagRequired("file")
	configListCmd.Flags().StringVarP(&configListCmdOutput, "output", "o", formatTable, "output format: table, json or yaml")

	configCmd.AddCommand(configApplyCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
