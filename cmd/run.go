package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

// errRunFailed makes the process exit non-zero after the result was printed.
var errRunFailed = errors.New("import run failed")

var (
	runCmdSource      string
	runCmdTable       string
	runCmdTargetTable string
	runCmdDryRun      bool
	runCmdOutput      string
	runCmdQuiet       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Import one table mapping",
	Long: "Runs one table mapping of a source. --table is either the source table name or the\n" +
		"table mapping ID; when a source table feeds several target tables, --target-table picks one.\n\n" +
		"With --dry-run every row is read and transformed but nothing is written and no import log is kept.\n" +
		"Press Ctrl-C to cancel: the open batch is rolled back and the import log is finalized as failed.",
	Example: "  ekaya-etl run --source legacy --table kunde --target-table org\n" +
		"  ekaya-etl run --source legacy --table kunde --dry-run -o json",
	RunE: runImport,
}

func init() {
	runCmd.Flags().StringVar(&runCmdSource, "source", "", "source name (required)")
	runCmd.Flags().StringVar(&runCmdTable, "table", "", "source table name or table mapping ID (required)")
	runCmd.Flags().StringVar(&runCmdTargetTable, "target-table", "", "target table, when the source table has several mappings")
	runCmd.Flags().BoolVar(&runCmdDryRun, "dry-run", false, "read and transform without writing")
	runCmd.Flags().StringVarP(&runCmdOutput, "output", "o", formatTable, "output format: table, json or yaml")
	runCmd.Flags().BoolVarP(&runCmdQuiet, "quiet", "q", false, "do not report progress on stderr")
	_ = runCmd.MarkFlagRequired("source")
	_ = runCmd.MarkFlagRequired("table")

	rootCmd.AddCommand(runCmd)
}

func runImport(cmd *cobra.Command, _ []string) error {
	if err := validFormat(runCmdOutput); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts stackOptions
	if !runCmdQuiet {
		opts.onProgress = func(p etl.Progress) {
			fmt.Fprintf(cmd.ErrOrStderr(), "batch %d: read=%d created=%d updated=%d failed=%d\n",
				p.Batches, p.Counts.Read, p.Counts.Created, p.Counts.Updated, p.Counts.Failed)
		}
	}

	app, err := buildStack(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.imports.Run(ctx, models.RunRequest{
		SourceName:  runCmdSource,
		Table:       runCmdTable,
		TargetTable: runCmdTargetTable,
		DryRun:      runCmdDryRun,
	})
	if err != nil && !(errors.Is(err, apperrors.ErrRunInProgress) && res != nil) {
		return err
	}

	if err := formatRunResult(cmd.OutOrStdout(), runCmdOutput, res); err != nil {
		return err
	}

	if res.Status == models.ImportStatusFailed {
		logger.Debug("Run finished with failure", zap.String("error", res.ErrorMessage))
		return errRunFailed
	}
	return nil
}
