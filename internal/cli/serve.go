package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/canvaslog/internal/coordinator"
	"github.com/roach88/canvaslog/internal/notify"
	"github.com/roach88/canvaslog/internal/schema"
	"github.com/roach88/canvaslog/internal/telemetry"
	"github.com/roach88/canvaslog/internal/transport/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// ready receives the bound address once the listener is open.
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the canvas HTTP API",
		Long: `Open the configured store and serve the canvas HTTP API.

Settings come from --config and CANVASLOG_* environment variables.
SIGINT or SIGTERM drains in-flight requests before exiting.

Example:
  canvaslog serve
  CANVASLOG_STORE_DRIVER=memory canvaslog serve --addr 127.0.0.1:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default: configured http_addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTPAddr = opts.Addr
	}
	logger := opts.logger(cmd.ErrOrStderr(), slog.LevelInfo)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Settings{
		ServiceName: telemetry.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	logger.Info("opening store", "driver", cfg.StoreDriver)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st, logger)

	validator, err := schema.New()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile payload schema", err)
	}

	hub := notify.NewHub(notify.WithBuffer(cfg.NotifyBuffer), notify.WithLogger(logger))
	defer hub.Close()

	coord := coordinator.New(st, st,
		coordinator.WithSnapshotInterval(cfg.SnapshotInterval),
		coordinator.WithLogger(logger),
		coordinator.WithNotifier(hub),
		coordinator.WithValidator(validator),
		coordinator.WithTracer(otel.Tracer(coordinator.TracerName)),
	)

	api := httpapi.New(coord, hub, httpapi.WithLogger(logger))
	srv := &http.Server{
		Handler:  api.Handler(),
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to listen on %s", cfg.HTTPAddr), err)
	}
	logger.Info("canvaslog listening",
		"addr", ln.Addr().String(),
		"snapshot_interval", coord.SnapshotInterval(),
	)
	if opts.ready != nil {
		opts.ready(ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		// Close subscriber streams first so SSE handlers return.
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully",
		"snapshot_failures", coord.SnapshotFailures(),
		"dropped_notifications", hub.Dropped(),
	)
	return nil
}
