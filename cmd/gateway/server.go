package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/cluster"
	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// listenerFD é o primeiro descritor de ExtraFiles no processo filho.
const listenerFD = 3

// runServe sobe o gateway. Sem workers, o Coordinator atende no próprio
// processo. Com workers, este processo vira o owner: guarda o estado, escuta
// no socket unix e cria os workers que compartilham o listener HTTP.
func runServe(ctx context.Context, cfg config, log zerolog.Logger) error {
	rs, err := loadRules(cfg)
	if err != nil {
		return err
	}

	coord := infra.NewCoordinator(infra.WithLogger(log))
	defer coord.Close()

	stats, closeStats, err := openStats(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStats()
	if stats == nil && cfg.workers == 0 {
		// sem workers não há o que agregar fora do processo.
		stats = infra.NewMemoryStatsStore(infra.WithMemoryOffenders(cfg.rateStatsOffenders))
	}

	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.listenAddr, err)
	}

	if cfg.adminAddr != "" {
		admin := newAdminServer(cfg.adminAddr, coord, stats)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("admin server error")
			}
		}()
		defer shutdown(admin, 5*time.Second)
	}

	if cfg.workers == 0 {
		log.Info().Str("addr", cfg.listenAddr).Str("upstream", cfg.upstreamURL).Msg("gateway listening (in-process)")
		return serveHTTP(ctx, cfg, ln, coord, stats, rs, log)
	}

	sockLn, err := cluster.Listen(cfg.ownerSocket)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("owner socket %s: %w", cfg.ownerSocket, err)
	}
	defer os.Remove(cfg.ownerSocket)

	owner := cluster.NewOwner(coord, cluster.WithOwnerLogger(log))
	go func() {
		if err := owner.Serve(sockLn); err != nil {
			log.Error().Err(err).Msg("owner stopped")
		}
	}()
	defer owner.Close()

	file, err := ln.(*net.TCPListener).File()
	_ = ln.Close()
	if err != nil {
		return fmt.Errorf("listener file: %w", err)
	}
	defer file.Close()

	log.Info().
		Str("addr", cfg.listenAddr).
		Str("socket", cfg.ownerSocket).
		Int("workers", cfg.workers).
		Msg("gateway owner started")
	return superviseWorkers(ctx, cfg, file, log)
}

// superviseWorkers não reinicia workers que morrem; só repassa o encerramento.
func superviseWorkers(ctx context.Context, cfg config, file *os.File, log zerolog.Logger) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}

	var (
		wg    sync.WaitGroup
		procs []*exec.Cmd
	)
	for i := 0; i < cfg.workers; i++ {
		cmd := exec.Command(self, "worker")
		cmd.Env = append(os.Environ(), cfg.childEnv()...)
		cmd.ExtraFiles = []*os.File{file}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			for _, p := range procs {
				_ = p.Process.Signal(syscall.SIGTERM)
			}
			wg.Wait()
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		procs = append(procs, cmd)
		log.Info().Int("worker", i).Int("worker_pid", cmd.Process.Pid).Msg("worker started")

		wg.Add(1)
		go func(i int, cmd *exec.Cmd) {
			defer wg.Done()
			err := cmd.Wait()
			log.Info().Int("worker", i).Err(err).Msg("worker exited")
		}(i, cmd)
	}

	<-ctx.Done()
	for _, p := range procs {
		_ = p.Process.Signal(syscall.SIGTERM)
	}
	wg.Wait()
	return nil
}

func runWorker(ctx context.Context, cfg config, log zerolog.Logger) error {
	rs, err := loadRules(cfg)
	if err != nil {
		return err
	}

	f := os.NewFile(listenerFD, "http-listener")
	ln, err := net.FileListener(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("inherited listener: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	delegate, err := cluster.Dial(dialCtx, "unix", cfg.ownerSocket,
		cluster.WithTimeout(cfg.timeout),
		cluster.WithDelegateLogger(log),
	)
	cancel()
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer delegate.Close()

	stats, closeStats, err := openStats(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer closeStats()

	log.Info().Str("socket", cfg.ownerSocket).Msg("worker serving")
	return serveHTTP(ctx, cfg, ln, delegate, stats, rs, log)
}

func serveHTTP(ctx context.Context, cfg config, ln net.Listener, eval domain.Evaluator, stats domain.StatsStore, rs rules, log zerolog.Logger) error {
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	srv := &http.Server{
		Handler:           newRouter(cfg, eval, stats, rs, proxy, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown(srv, 10*time.Second)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newRouter monta um limiter por rota configurada e um limiter padrão para o
// resto. Cada limiter envia a própria configuração; o Coordinator fica com a
// primeira que chegar para cada (method, path).
func newRouter(cfg config, eval domain.Evaluator, stats domain.StatsStore, rs rules, next http.Handler, log zerolog.Logger) http.Handler {
	limiter := func(rule domain.RuleConfig) func(http.Handler) http.Handler {
		return ratelimit.Middleware(ratelimit.Options{
			Evaluator:          eval,
			Rule:               rule,
			Stats:              stats,
			TrustXForwardedFor: cfg.trustXFF,
			Timeout:            cfg.timeout,
			FailOpen:           cfg.failOpen,
			MaxInFlight:        cfg.maxInFlight,
			Logger:             &log,
		})
	}

	fallback := limiter(rs.defaults)(next)

	r := chi.NewRouter()
	for _, route := range rs.routes {
		r.With(limiter(route.rule)).Method(route.method, route.path, next)
	}
	r.Handle("/*", fallback)
	// path configurado com outro método cai no limiter padrão, não em 405.
	r.MethodNotAllowed(fallback.ServeHTTP)
	return r
}

func newAdminServer(addr string, coord *infra.Coordinator, stats domain.StatsStore) *http.Server {
	r := chi.NewRouter()
	r.Get("/_ratelimit/rules", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, coord.Snapshot())
	})
	r.Get("/_ratelimit/stats", func(w http.ResponseWriter, r *http.Request) {
		reader, ok := stats.(domain.StatsReader)
		if !ok {
			http.Error(w, "stats disabled", http.StatusNotFound)
			return
		}
		n := 10
		if v, err := strconv.Atoi(r.URL.Query().Get("top")); err == nil && v >= 0 {
			n = v
		}

		totals, err := reader.Totals(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		byRule, err := reader.ByRule(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		offenders, err := reader.TopOffenders(r.Context(), n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, statsView{Total: totals, Rules: byRule, Offenders: offenders})
	})
	return &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

type statsView struct {
	Total     domain.Counters            `json:"total"`
	Rules     map[string]domain.Counters `json:"rules"`
	Offenders []domain.Offender          `json:"offenders"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// openStats conecta no Redis quando RATE_STATS_ENABLED=true. Com vários
// workers, é o Redis que agrega as estatísticas de todos.
func openStats(ctx context.Context, cfg config) (domain.StatsStore, func(), error) {
	if !cfg.rateStatsEnabled {
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.rateStatsRedisAddr,
		Password: cfg.rateStatsRedisPassword,
		DB:       cfg.rateStatsRedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_, err := rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis stats ping error: %w", err)
	}

	store := infra.NewRedisStatsStore(
		rdb,
		infra.WithStatsPrefix(cfg.rateStatsPrefix),
		infra.WithStatsTTL(cfg.rateStatsTTL),
		infra.WithStatsBucket(cfg.rateStatsBucket),
		infra.WithStatsOffenders(cfg.rateStatsOffenders),
	)
	return store, func() { _ = rdb.Close() }, nil
}

func shutdown(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
