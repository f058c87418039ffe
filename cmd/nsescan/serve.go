package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/nsescan/internal/application"
	apihttp "github.com/sawpanic/nsescan/internal/interfaces/http"
	"github.com/sawpanic/nsescan/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API, event stream and scheduled scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				host, port, err := splitAddr(addr)
				if err != nil {
					return err
				}
				opts.cfg.HTTP.Host, opts.cfg.HTTP.Port = host, port
			}
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address host:port (overrides config)")
	return cmd
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid --addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

func runServe(parent context.Context, opts *options) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := application.Build(&opts.cfg, application.BuildOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	var sched *scheduler.Scheduler
	if opts.cfg.Schedule.Enabled {
		sched, err = scheduler.New(opts.cfg.Schedule, app.Service, nil)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	server := apihttp.NewServer(opts.cfg.HTTP, app.Service, app.Metrics.Handler())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if app.Service.ScanCancel() {
		if err := app.Service.ScanWait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Scan did not stop before shutdown deadline")
		}
	}
	return nil
}
