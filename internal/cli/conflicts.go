package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dbsync/internal/datasync"
)

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts <source-url> <target-url>",
		Short: "Report rows that differ between source and target",
		Long: `Compare shared tables row by row and list every primary key whose
column values diverge. Nothing is modified; this is the dry run for
choosing a sync strategy.

Exits with code 1 when conflicts are found.

Example:
  dbsync conflicts sqlite:dev.db postgres://app@prod/app`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runConflicts(opts *RootOptions, sourceURL, targetURL string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	source, target, err := openPair(sourceURL, targetURL)
	if err != nil {
		return err
	}
	defer source.close()
	defer target.close()

	syncer := datasync.New(source.db, source.target.Dialect, target.db, target.target.Dialect, nil)
	report, err := syncer.Conflicts(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compare rows", err)
	}

	if err := formatter.SuccessText(report.RenderText(), report); err != nil {
		return err
	}
	if !report.Empty() {
		total := 0
		for _, conflicts := range report.Tables {
			total += len(conflicts)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d conflicting row(s) found", total))
	}
	return nil
}
