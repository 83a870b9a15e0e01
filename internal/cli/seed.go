package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dbsync/internal/seed"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	ContinueOnError bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "seed <db-url> <script.sql>",
		Short: "Execute a SQL fixture script statement by statement",
		Long: `Split a SQL script into statements and run them in order against the
database. Fixture scripts accumulated over time often re-declare
tables and re-insert rows; with --continue-on-error each failing
statement is reported and the rest still run, so the surviving state
matches what the script can actually produce.

Exits with code 1 when any statement failed.

Example:
  dbsync seed sqlite:dev.db fixtures/users.sql --continue-on-error`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], args[1], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "run every statement even after failures")
	return cmd
}

// SeedOutcome is the JSON payload of a completed seed run.
type SeedOutcome struct {
	Executed int      `json:"executed"`
	Failed   int      `json:"failed"`
	Failures []string `json:"failures,omitempty"`
}

func runSeed(opts *SeedOptions, dbURL, scriptPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read script", err)
	}

	db, err := openEndpoint(dbURL, "seed")
	if err != nil {
		return err
	}
	defer db.close()

	results, stats, err := seed.Run(cmd.Context(), db.db, string(script), seed.Options{
		ContinueOnError: opts.ContinueOnError,
	})
	if err != nil && !opts.ContinueOnError {
		// Results up to the failure still describe what ran.
		outcome := summarizeSeed(results, stats)
		if ferr := formatter.SuccessText(renderSeedText(outcome), outcome); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "script stopped at first failure", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "script aborted", err)
	}

	outcome := summarizeSeed(results, stats)
	if ferr := formatter.SuccessText(renderSeedText(outcome), outcome); ferr != nil {
		return ferr
	}
	if outcome.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d statement(s) failed", outcome.Failed))
	}
	return nil
}

func summarizeSeed(results []seed.Result, stats seed.Stats) SeedOutcome {
	outcome := SeedOutcome{Executed: stats.Executed, Failed: stats.Failed}
	for _, r := range results {
		if r.Err != nil {
			outcome.Failures = append(outcome.Failures, fmt.Sprintf("%s: %v", firstLine(r.Statement), r.Err))
		}
	}
	return outcome
}

func renderSeedText(outcome SeedOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Executed %d statement(s), %d failed\n", outcome.Executed, outcome.Failed)
	for _, f := range outcome.Failures {
		fmt.Fprintf(&b, "  FAIL  %s\n", f)
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
