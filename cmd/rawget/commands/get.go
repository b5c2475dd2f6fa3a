package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rawstack/rawget/internal/config"
	"github.com/rawstack/rawget/internal/httpclient"
	"github.com/rawstack/rawget/internal/urlutil"
	"github.com/rawstack/rawget/pkg/rawconn"
)

func getCmd() *cobra.Command {
	var (
		iface       string
		port        uint16
		outputPath  string
		timeout     time.Duration
		tick        time.Duration
		logLevelStr string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Fetch <url> over a raw-socket TCP/IPv4 connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyFlags(cfg, iface, port, timeout, tick, logLevelStr)

			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(cfg.Log.Level)

			parsed, err := urlutil.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse url %q: %w", args[0], err)
			}

			reg := prometheus.NewRegistry()

			opts := rawconn.Options{
				Interface:  cfg.Interface,
				Timeout:    cfg.Timeout,
				Tick:       cfg.Tick,
				Logger:     logger,
				Registerer: reg,
			}

			logger.Info("fetching", "url", args[0], "host", parsed.Host, "uri", parsed.URI, "interface", cfg.Interface)

			resp, err := httpclient.Get(parsed.Host, cfg.Port, parsed.URI, opts)
			if err != nil {
				return fmt.Errorf("get %s: %w", args[0], err)
			}

			logger.Info("response received", "status", resp.Status, "bytes", len(resp.Body))

			dest := outputPath
			if dest == "" {
				dest = parsed.FileName
			}
			if err := os.WriteFile(dest, resp.Body, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", dest, err)
			}
			fmt.Printf("%s -> %s (%d bytes)\n", args[0], dest, len(resp.Body))

			if metricsAddr != "" {
				return serveMetrics(metricsAddr, reg, logger)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&iface, "interface", "i", "", "network interface to bind the raw socket to (required)")
	cmd.Flags().Uint16VarP(&port, "port", "p", 0, "destination TCP port (default 80)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: derived from the URL)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "cumulative retry budget per blocking phase (default 180s)")
	cmd.Flags().DurationVar(&tick, "tick", 0, "per-wait timeout (default 2s)")
	cmd.Flags().StringVar(&logLevelStr, "log-level", "", "log level: debug, info, warn, error (default info)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address after the fetch completes, until interrupted")

	return cmd
}

// applyFlags overlays any non-zero flag values onto cfg, which already
// carries file/env/default values from config.Load.
func applyFlags(cfg *config.Config, iface string, port uint16, timeout, tick time.Duration, logLevel string) {
	if iface != "" {
		cfg.Interface = iface
	}
	if port != 0 {
		cfg.Port = port
	}
	if timeout != 0 {
		cfg.Timeout = timeout
	}
	if tick != 0 {
		cfg.Tick = tick
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

// serveMetrics exposes reg over HTTP at addr until SIGINT/SIGTERM,
// letting an operator scrape the final send/recv/retry/cksumfail tally
// of a completed transaction.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
