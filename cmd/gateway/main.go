package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	cfg := readConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(&cfg).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(cfg *config) *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Reverse proxy with per-route, per-client rate limiting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.upstreamURL, "upstream", cfg.upstreamURL, "upstream URL (UPSTREAM_URL)")
	pf.BoolVar(&cfg.trustXFF, "trust-xff", cfg.trustXFF, "use the first X-Forwarded-For address as client IP")
	pf.DurationVar(&cfg.rateInterval, "interval", cfg.rateInterval, "window length for new rules")
	pf.IntVar(&cfg.rateMax, "max", cfg.rateMax, "requests allowed per window for new rules")
	pf.StringSliceVar(&cfg.rateWhitelist, "whitelist", cfg.rateWhitelist, "CIDR ranges that are never limited")
	pf.StringSliceVar(&cfg.rateBlacklist, "blacklist", cfg.rateBlacklist, "CIDR ranges that are always rejected")
	pf.StringVar(&cfg.rulesFile, "rules", cfg.rulesFile, "YAML file with defaults and per-route rules")
	pf.DurationVar(&cfg.timeout, "timeout", cfg.timeout, "max wait for a rate limit decision")
	pf.BoolVar(&cfg.failOpen, "fail-open", cfg.failOpen, "let requests through when no decision arrives in time")
	pf.IntVar(&cfg.maxInFlight, "max-inflight", cfg.maxInFlight, "max queries waiting for a decision (0 = unbounded)")
	pf.StringVar(&cfg.ownerSocket, "owner-socket", cfg.ownerSocket, "unix socket shared by owner and workers")
	pf.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "log level")
	pf.BoolVar(&cfg.logJSON, "log-json", cfg.logJSON, "log as JSON instead of console output")

	root.AddCommand(newServeCmd(cfg), newWorkerCmd(cfg))
	return root
}

func newServeCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve HTTP; with --workers > 0, own the rate limit state and prefork workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return runServe(cmd.Context(), *cfg, newLogger(*cfg))
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "HTTP listen address")
	f.StringVar(&cfg.adminAddr, "admin", cfg.adminAddr, "admin listen address for rule snapshots (empty = off)")
	f.IntVar(&cfg.workers, "workers", cfg.workers, "worker processes sharing the listener (0 = serve in-process)")
	return cmd
}

func newWorkerCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Internal: serve HTTP on an inherited listener, delegating decisions to the owner",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return runWorker(cmd.Context(), *cfg, newLogger(*cfg))
		},
	}
}

func newLogger(cfg config) zerolog.Logger {
	var w io.Writer = os.Stderr
	if !cfg.logJSON {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(cfg.logLevel)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Int("pid", os.Getpid()).Logger()
}
