package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/dbsync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr       string
	ConfigFile string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync HTTP API",
		Long: `Serve the sync API over HTTP. Endpoints:

  GET  /health         liveness probe
  POST /api/plan       migration plan for a source/target pair
  POST /api/sync       apply plan and copy rows
  POST /api/conflicts  divergent row report

Configuration comes from DBSYNC_* environment variables, optionally
overridden by a YAML file and the --addr flag.

Example:
  dbsync serve --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides DBSYNC_ADDR)")
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "YAML config file")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	var (
		cfg server.Config
		err error
	)
	if opts.ConfigFile != "" {
		cfg, err = server.LoadConfigFile(opts.ConfigFile)
	} else {
		cfg, err = server.LoadConfig()
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load server config", err)
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, slog.Default())
	if err := srv.Run(ctx); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
