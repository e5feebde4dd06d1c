package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func main() {
	// Exemplo: middleware direto no webserver (sem proxy), com o Coordinator
	// no mesmo processo e uma regra diferente por rota.
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	coord := infra.NewCoordinator(infra.WithLogger(log))
	defer coord.Close()
	stats := infra.NewMemoryStatsStore(infra.WithMemoryOffenders(true))

	limit := func(cfg ratelimit.Config) func(http.Handler) http.Handler {
		rule, err := cfg.Rule()
		if err != nil {
			log.Fatal().Err(err).Msg("invalid rate limit config")
		}
		return ratelimit.Middleware(ratelimit.Options{
			Evaluator:          coord,
			Rule:               rule,
			Stats:              stats,
			TrustXForwardedFor: true,
			Timeout:            time.Second,
			FailOpen:           true,
			MaxInFlight:        50,
			Logger:             &log,
		})
	}

	r := chi.NewRouter()
	r.With(limit(ratelimit.Config{
		Max:       5,
		Interval:  10 * time.Second,
		Whitelist: []string{"127.0.0.1/32"},
	})).Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	r.With(limit(ratelimit.Config{
		Max:       2,
		Interval:  time.Minute,
		Blacklist: []string{"10.66.0.0/16"},
	})).Post("/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("welcome\n"))
	})
	r.Get("/_ratelimit/rules", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(coord.Snapshot())
	})
	r.Get("/_ratelimit/stats", func(w http.ResponseWriter, r *http.Request) {
		offenders, _ := stats.TopOffenders(r.Context(), 10)
		rules, _ := stats.ByRule(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total":     stats.Total(),
			"rules":     rules,
			"offenders": offenders,
		})
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
