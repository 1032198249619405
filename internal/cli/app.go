package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docsync/internal/compactor"
	"github.com/roach88/docsync/internal/config"
	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/peer"
	"github.com/roach88/docsync/internal/replica"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/syncer"
)

// app is one replica wired from config: store, engine, compactor, optional
// syncer, replica.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.Store
	engine    *crdt.Engine
	compactor *compactor.Compactor
	syncer    *syncer.Syncer // nil when no peer is configured
	replica   *replica.Replica
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return cfg, WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		return cfg, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	if opts.Database != "" {
		cfg.Storage.Path = opts.Database
	}
	if opts.PeerURL != "" {
		if !strings.HasPrefix(opts.PeerURL, "http://") && !strings.HasPrefix(opts.PeerURL, "https://") {
			return cfg, NewExitError(ExitCommandError, fmt.Sprintf("invalid --peer %q: must be an http(s) URL", opts.PeerURL))
		}
		cfg.Peer.BaseURL = opts.PeerURL
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}
	if opts.DocID != "" {
		cfg.DocumentID = opts.DocID
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openApp loads config and wires a replica. The caller must Close it.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.Storage.Path)
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	eng := crdt.NewEngine(cfg.Replica.ClientID)
	comp := compactor.New(st, eng, compactor.WithLogger(logger))

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		engine:    eng,
		compactor: comp,
	}

	ropts := []replica.Option{replica.WithLogger(logger)}
	if cfg.Peer.BaseURL != "" {
		client := peer.NewHTTPClient(cfg.Peer.BaseURL, cfg.Peer.Timeout.D())
		a.syncer = syncer.New(st, comp, client,
			syncer.WithCompactPeerPolicy(syncer.CompactPeerPolicy(cfg.Sync.CompactPeer)),
			syncer.WithRoundTimeout(cfg.Sync.RoundTimeout.D()),
			syncer.WithLogger(logger))
		ropts = append(ropts, replica.WithSyncer(a.syncer))
	}
	a.replica = replica.New(cfg.DocumentID, st, eng, comp, ropts...)

	logger.Debug("replica ready",
		"doc", cfg.DocumentID,
		"client", eng.ClientID(),
		"peer", cfg.Peer.BaseURL)
	return a, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// formatter returns the output formatter for cmd.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// fail reports err through the formatter and returns the matching exit error.
func fail(f *OutputFormatter, msg string, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code := ErrCodeGeneric
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			code = ErrCodeConfigInvalid
		}
		_ = f.Error(code, exitErr.Error(), nil)
		return exitErr
	}
	_ = f.Error(errorCode(err), fmt.Sprintf("%s: %v", msg, err), nil)
	return WrapExitError(ExitFailure, msg, err)
}
