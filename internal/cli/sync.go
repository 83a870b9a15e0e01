package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dbsync/internal/apply"
	"github.com/roach88/dbsync/internal/datasync"
	"github.com/roach88/dbsync/internal/diff"
	"github.com/roach88/dbsync/internal/profile"
	"github.com/roach88/dbsync/internal/schema"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Strategy        string
	BatchSize       int
	NoCreateColumns bool
	Include         []string
	Exclude         []string
	ProfileDir      string
	SchemaOnly      bool
	DataOnly        bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "sync [source-url target-url]",
		Short: "Synchronize schema and data from source into target",
		Long: `Apply the additive migration plan, then copy rows from source to
target. Rows missing from the target are always inserted; rows present
on both sides follow the primary key strategy:

  skip       leave the target row untouched (default)
  overwrite  replace every non-key column with the source value
  merge      fill only target columns that are NULL or empty

Endpoints and options can come from a CUE profile directory instead of
flags; explicit flags win over the profile.

Example:
  dbsync sync sqlite:dev.db postgres://app@prod/app --strategy merge
  dbsync sync --profile ./profiles/nightly`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "conflict strategy for existing rows (skip|overwrite|merge)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "rows fetched per batch (default 1000)")
	cmd.Flags().BoolVar(&opts.NoCreateColumns, "no-create-columns", false, "do not add missing columns to target tables")
	cmd.Flags().StringSliceVar(&opts.Include, "table", nil, "sync only the named tables (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, "skip the named tables (repeatable)")
	cmd.Flags().StringVar(&opts.ProfileDir, "profile", "", "directory of CUE profile files")
	cmd.Flags().BoolVar(&opts.SchemaOnly, "schema-only", false, "apply the migration plan but copy no rows")
	cmd.Flags().BoolVar(&opts.DataOnly, "data-only", false, "copy rows without touching the target schema")
	return cmd
}

// SyncOutcome is the JSON payload of a completed sync.
type SyncOutcome struct {
	RunID        string          `json:"run_id"`
	Strategy     string          `json:"strategy"`
	SchemaSynced bool            `json:"schema_synced"`
	DataSynced   bool            `json:"data_synced"`
	Stats        *datasync.Stats `json:"stats,omitempty"`
}

func runSync(opts *SyncOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.SchemaOnly && opts.DataOnly {
		return NewExitError(ExitCommandError, "--schema-only and --data-only are mutually exclusive")
	}

	sourceURL, targetURL, syncOpts, err := resolveSyncConfig(opts, args)
	if err != nil {
		return err
	}

	source, target, err := openPair(sourceURL, targetURL)
	if err != nil {
		return err
	}
	defer source.close()
	defer target.close()

	ctx := cmd.Context()
	outcome := SyncOutcome{Strategy: string(syncOpts.Strategy)}

	var (
		applier   *apply.Applier
		srcSchema *schema.Schema
	)
	if !opts.DataOnly {
		srcSchema, err = source.inspect(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to inspect source schema", err)
		}
		tgtSchema, err := target.inspect(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to inspect target schema", err)
		}
		plan := diff.Analyze(srcSchema, tgtSchema)
		applier = apply.New(target.db, target.target.Dialect, nil)
		if _, err := applier.Apply(ctx, srcSchema, plan); err != nil {
			return WrapExitError(ExitCommandError, "failed to apply migration plan", err)
		}
		outcome.SchemaSynced = true
	}

	if !opts.SchemaOnly {
		syncer := datasync.New(source.db, source.target.Dialect, target.db, target.target.Dialect, nil)
		stats, err := syncer.Sync(ctx, syncOpts)
		if err != nil {
			return WrapExitError(ExitCommandError, "data sync failed", err)
		}
		outcome.DataSynced = true
		outcome.RunID = stats.RunID
		outcome.Stats = stats
	}

	// Counters advance after the copy so inserted rows are covered.
	if applier != nil {
		applier.RealignSequences(ctx, source.db, srcSchema)
	}

	return formatter.SuccessText(renderSyncText(outcome), outcome)
}

// resolveSyncConfig merges profile values and flags. Flags win.
func resolveSyncConfig(opts *SyncOptions, args []string) (sourceURL, targetURL string, syncOpts datasync.Options, err error) {
	syncOpts = datasync.DefaultOptions()

	if opts.ProfileDir != "" {
		p, err := profile.Load(opts.ProfileDir)
		if err != nil {
			return "", "", syncOpts, WrapExitError(ExitCommandError, "failed to load profile", err)
		}
		sourceURL, targetURL = p.Source, p.Target
		syncOpts = p.Options()
	}

	switch len(args) {
	case 2:
		sourceURL, targetURL = args[0], args[1]
	case 1:
		return "", "", syncOpts, NewExitError(ExitCommandError, "provide both source and target URLs, or neither with --profile")
	case 0:
		if opts.ProfileDir == "" {
			return "", "", syncOpts, NewExitError(ExitCommandError, "source and target URLs required without --profile")
		}
	}

	if opts.Strategy != "" {
		strategy, err := datasync.ParseStrategy(opts.Strategy)
		if err != nil {
			return "", "", syncOpts, WrapExitError(ExitCommandError, "invalid strategy", err)
		}
		syncOpts.Strategy = strategy
	}
	if opts.BatchSize > 0 {
		syncOpts.BatchSize = opts.BatchSize
	}
	if opts.NoCreateColumns {
		syncOpts.CreateMissingColumns = false
	}
	if len(opts.Include) > 0 {
		syncOpts.Include = opts.Include
	}
	if len(opts.Exclude) > 0 {
		syncOpts.Exclude = opts.Exclude
	}
	return sourceURL, targetURL, syncOpts, nil
}

func renderSyncText(outcome SyncOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync complete (strategy=%s", outcome.Strategy)
	if outcome.RunID != "" {
		fmt.Fprintf(&b, ", run=%s", outcome.RunID)
	}
	b.WriteString(")\n")
	if outcome.Stats == nil {
		return b.String()
	}
	fmt.Fprintf(&b, "  inserted=%d updated=%d skipped=%d\n",
		outcome.Stats.Inserted, outcome.Stats.Updated, outcome.Stats.Skipped)
	for _, table := range outcome.Stats.Tables {
		ts := outcome.Stats.PerTable[table]
		fmt.Fprintf(&b, "  %-20s inserted=%d updated=%d skipped=%d\n", table, ts.Inserted, ts.Updated, ts.Skipped)
	}
	return b.String()
}
