package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dbsync/internal/apply"
	"github.com/roach88/dbsync/internal/diff"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	RealignSequences bool
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "apply <source-url> <target-url>",
		Short: "Apply the additive migration plan to the target",
		Long: `Reflect both schemas and bring the target up to the source shape.

Only additive changes are applied: new tables, new columns, indexes
and constraints. Nothing in the target is ever dropped or rewritten.
Statements that fail are reported and do not abort the rest.

Example:
  dbsync apply sqlite:dev.db postgres://app@prod/app`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], args[1], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.RealignSequences, "realign-sequences", false, "advance primary key counters past both databases' maxima")
	return cmd
}

// ApplyOutcome is the JSON payload of a completed apply.
type ApplyOutcome struct {
	Applied int            `json:"applied"`
	Skipped int            `json:"skipped"`
	Failed  int            `json:"failed"`
	Results []apply.Result `json:"results,omitempty"`
}

func runApply(opts *ApplyOptions, sourceURL, targetURL string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

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
	applier := apply.New(target.db, target.target.Dialect, nil)
	results, err := applier.Apply(ctx, srcSchema, plan)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to apply migration plan", err)
	}
	if opts.RealignSequences {
		results = append(results, applier.RealignSequences(ctx, source.db, srcSchema)...)
	}

	outcome := summarizeResults(results)
	if err := formatter.SuccessText(renderApplyText(outcome), outcome); err != nil {
		return err
	}
	if outcome.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d statement(s) failed", outcome.Failed))
	}
	return nil
}

func summarizeResults(results []apply.Result) ApplyOutcome {
	outcome := ApplyOutcome{Results: results}
	for _, r := range results {
		switch {
		case r.Err != nil:
			outcome.Failed++
		case r.Skipped != "":
			outcome.Skipped++
		default:
			outcome.Applied++
		}
	}
	return outcome
}

func renderApplyText(outcome ApplyOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Applied %d change(s), %d skipped, %d failed\n", outcome.Applied, outcome.Skipped, outcome.Failed)
	for _, r := range outcome.Results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(&b, "  FAIL  %s %s: %v\n", r.Kind, r.Object, r.Err)
		case r.Skipped != "":
			fmt.Fprintf(&b, "  SKIP  %s %s: %s\n", r.Kind, r.Object, r.Skipped)
		default:
			fmt.Fprintf(&b, "  OK    %s %s\n", r.Kind, r.Object)
		}
	}
	return b.String()
}
