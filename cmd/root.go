// Package cmd implements the ekaya-etl command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/config"
	"github.com/ekaya-inc/ekaya-etl/pkg/logging"

	// Every source adapter registers itself with the datasource registry.
	_ "github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource/csv"
	_ "github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-etl/pkg/adapters/datasource/sqlite"
)

var (
	rootCmdConfigPath string
	rootCmdLogLevel   string

	// Set by PersistentPreRunE before any subcommand runs.
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ekaya-etl",
	Short: "Configuration-driven import of legacy data into PostgreSQL",
	Long: "ekaya-etl imports rows from legacy sources (SQL Server, MySQL, PostgreSQL, SQLite, CSV)\n" +
		"into a PostgreSQL target, driven by table and field mappings stored in the database.\n\n" +
		"Configuration comes from config.yaml with environment variable overrides.\n" +
		"Secrets (PGPASSWORD, REDIS_PASSWORD, ETL_CREDENTIALS_KEY) are read from the environment only.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(rootCmdConfigPath, cmd.Root().Version)
		if err != nil {
			return err
		}
		if rootCmdLogLevel != "" {
			loaded.LogLevel = rootCmdLogLevel
		}

		l, err := logging.NewLogger(loaded.LogLevel, loaded.Env)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootCmdConfigPath, "config", config.DefaultConfigPath, "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&rootCmdLogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
}

// Execute runs the root command and exits non-zero on error.
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
