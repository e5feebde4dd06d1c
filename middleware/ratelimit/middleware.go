package ratelimit

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit/application"
	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

type KeyFunc func(r *http.Request) string

// Config é a superfície de configuração de um limiter, com as faixas ainda em
// texto. Rule valida tudo de uma vez.
type Config struct {
	Interval  time.Duration
	Max       int
	Whitelist []string
	Blacklist []string
}

// Rule converte a configuração, falhando com *domain.InvalidRangeError na
// primeira faixa inválida.
func (c Config) Rule() (domain.RuleConfig, error) {
	wl, err := domain.ParseRanges(c.Whitelist)
	if err != nil {
		return domain.RuleConfig{}, err
	}
	bl, err := domain.ParseRanges(c.Blacklist)
	if err != nil {
		return domain.RuleConfig{}, err
	}
	return domain.RuleConfig{
		Max:       c.Max,
		Interval:  c.Interval,
		Whitelist: wl,
		Blacklist: bl,
	}.WithDefaults(), nil
}

type Options struct {
	Evaluator          domain.Evaluator
	Rule               domain.RuleConfig
	Stats              domain.StatsStore
	KeyFn              KeyFunc
	TrustXForwardedFor bool

	// Timeout da espera pelo Evaluator; FailOpen decide o que fazer quando ela
	// estoura ou o Evaluator falha. Sem FailOpen a resposta é 503.
	Timeout     time.Duration
	FailOpen    bool
	MaxInFlight int

	Logger *zerolog.Logger
	Now    func() time.Time
}

// DefaultKeyFunc identifica o cliente pelo IP.
func DefaultKeyFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if ip := strings.TrimSpace(parts[0]); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// limiter é a parte comum entre o middleware net/http e o de gin.
type limiter struct {
	svc   application.Service
	stats domain.StatsStore
	keyFn KeyFunc
	log   zerolog.Logger
	now   func() time.Time
}

func newLimiter(opts Options) *limiter {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.TrustXForwardedFor)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &limiter{
		svc: application.Service{
			Evaluator: opts.Evaluator,
			Rule:      opts.Rule,
			Timeout:   opts.Timeout,
			FailOpen:  opts.FailOpen,
			InFlight:  infra.NewChanPool(opts.MaxInFlight),
			Now:       opts.Now,
		},
		stats: opts.Stats,
		keyFn: opts.KeyFn,
		log:   log,
		now:   opts.Now,
	}
}

// apply consulta o Evaluator e escreve headers/rejeição em w. Retorna true se
// a requisição deve seguir para o próximo handler.
func (l *limiter) apply(w http.ResponseWriter, r *http.Request, ip string) bool {
	req := application.Request{IP: ip, Method: r.Method, Path: r.URL.Path}
	out := l.svc.Decide(r.Context(), req)

	if out.Err != nil {
		l.log.Warn().Err(out.Err).
			Str("ip", ip).Str("method", req.Method).Str("path", req.Path).
			Bool("fail_open", out.Proceed).
			Msg("rate limit evaluation failed")
		if out.Proceed {
			return true
		}
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return false
	}

	dec := out.Decision
	l.record(r.Context(), req, dec)

	switch dec.Kind {
	case domain.KindWhitelisted:
		return true

	case domain.KindBlacklisted:
		l.logRejection(req, dec)
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return false

	case domain.KindAllow:
		setQuotaHeaders(w, dec)
		return true

	case domain.KindTooManyRequests:
		setQuotaHeaders(w, dec)
		wait := dec.ResetAt.Sub(l.now())
		w.Header().Set("Retry-After", formatInt(retryAfterSeconds(wait)))
		l.logRejection(req, dec)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "Your request has been rate limited. Please try again in "+formatWait(wait))
		return false
	}

	// decisão desconhecida: trata como falha do Evaluator.
	return out.Proceed
}

func (l *limiter) record(ctx context.Context, req application.Request, dec domain.Decision) {
	if l.stats == nil {
		return
	}
	_ = l.stats.Record(ctx, domain.StatsEvent{
		Client: req.IP,
		Rule:   domain.RuleKey{Method: req.Method, Path: req.Path},
		Kind:   dec.Kind,
		At:     l.now(),
	})
}

func (l *limiter) logRejection(req application.Request, dec domain.Decision) {
	l.log.Info().
		Str("ip", req.IP).
		Str("method", req.Method).
		Str("path", req.Path).
		Str("decision", string(dec.Kind)).
		Msg("rate limiting client")
}

func setQuotaHeaders(w http.ResponseWriter, dec domain.Decision) {
	h := w.Header()
	h.Set(HeaderLimit, formatInt(dec.Limit))
	h.Set(HeaderRemaining, formatInt(dec.Remaining))
	h.Set(HeaderReset, formatReset(dec.ResetAt))
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	l := newLimiter(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.apply(w, r, l.keyFn(r)) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
