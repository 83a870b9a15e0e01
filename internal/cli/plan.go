package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/dbsync/internal/diff"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <source-url> <target-url>",
		Short: "Show the migration plan without touching the target",
		Long: `Reflect both schemas and print the additive changes the target needs
to match the source, with a warning for each.

WARNING-level entries are safe and would be applied automatically.
MANUAL-level entries need operator review; their presence makes the
command exit with code 1.

Example:
  dbsync plan sqlite:dev.db postgres://app@prod/app`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args[0], args[1], cmd)
		},
	}
	return cmd
}

func runPlan(opts *RootOptions, sourceURL, targetURL string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	source, target, err := openPair(sourceURL, targetURL)
	if err != nil {
		return err
	}
	defer source.close()
	defer target.close()

	ctx := cmd.Context()
	srcSchema, err := source.inspect(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to inspect source schema", err)
	}
	tgtSchema, err := target.inspect(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to inspect target schema", err)
	}

	plan := diff.Analyze(srcSchema, tgtSchema)
	if err := formatter.SuccessText(plan.RenderText(), plan); err != nil {
		return err
	}
	if plan.HasManual() {
		return NewExitError(ExitFailure, "plan contains manual migration steps")
	}
	return nil
}
