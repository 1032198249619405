package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/docsync/internal/metrics"
	"github.com/roach88/docsync/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the replica over HTTP",
		Long: `Serve the replica's HTTP API until interrupted.

When sync.interval is set and a peer is configured, a background loop syncs
with the peer. When compaction.interval is set, a background loop folds the
log into the snapshot.

Example:
  docsync serve --db ./a.db --addr :8000 --peer http://localhost:8001
  docsync serve --config ./replica-b.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	a, err := openApp(opts, cmd)
	if err != nil {
		return fail(f, "failed to start", err)
	}
	defer a.Close()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	docID := a.cfg.DocumentID
	reg := metrics.NewRegistry(metrics.NewStoreCollector(a.store, docID))
	srv := server.New(a.replica,
		server.WithRegistry(reg),
		server.WithCompactWait(a.cfg.HTTP.CompactWait.D()),
		server.WithReadHeaderTimeout(a.cfg.HTTP.ReadHeaderTimeout.D()),
		server.WithLogger(a.logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, a.cfg.HTTP.Addr)
	})
	if d := a.cfg.Compaction.Interval.D(); d > 0 {
		g.Go(func() error {
			return a.compactor.Run(gctx, docID, d)
		})
	}
	if d := a.cfg.Sync.Interval.D(); d > 0 {
		if a.syncer == nil {
			a.logger.Warn("sync.interval set but no peer configured; sync loop disabled")
		} else {
			g.Go(func() error {
				return a.syncer.Run(gctx, docID, d)
			})
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving document %q on %s. Press Ctrl-C to stop.\n", docID, a.cfg.HTTP.Addr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fail(f, "server error", err)
	}
	a.logger.Info("replica stopped gracefully")
	return nil
}
