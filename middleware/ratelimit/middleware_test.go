package ratelimit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newCoordinator(t *testing.T) *infra.Coordinator {
	t.Helper()
	// relógio parado em fixedNow: expirações são agendadas a partir dele.
	c := infra.NewCoordinator(infra.WithClock(func() time.Time { return fixedNow }))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func doRequest(h http.Handler, method, target, remote string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameClient(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Evaluator: newCoordinator(t),
		Rule:      domain.RuleConfig{Max: 2, Interval: time.Hour},
		Now:       func() time.Time { return fixedNow },
	})(okHandler(&calls))

	w1 := doRequest(h, http.MethodGet, "http://example/showTela", "10.0.0.1:1234")
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get(HeaderLimit); got != "2" {
		t.Fatalf("expected %s=2, got %q", HeaderLimit, got)
	}
	if got := w1.Header().Get(HeaderRemaining); got != "1" {
		t.Fatalf("expected %s=1, got %q", HeaderRemaining, got)
	}
	if got := w1.Header().Get(HeaderReset); got != "2024-03-01T13:00:00.000Z" {
		t.Fatalf("unexpected %s %q", HeaderReset, got)
	}

	w2 := doRequest(h, http.MethodGet, "http://example/showTela", "10.0.0.1:1234")
	if got := w2.Header().Get(HeaderRemaining); w2.Code != http.StatusOK || got != "0" {
		t.Fatalf("expected 200 with remaining 0, got %d %q", w2.Code, got)
	}

	w3 := doRequest(h, http.MethodGet, "http://example/showTela", "10.0.0.1:1234")
	if w3.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w3.Code)
	}
	if got := w3.Header().Get("Retry-After"); got != "3600" {
		t.Fatalf("expected Retry-After=3600, got %q", got)
	}
	if got := w3.Header().Get(HeaderRemaining); got != "0" {
		t.Fatalf("expected remaining 0 on 429, got %q", got)
	}
	if got := w3.Body.String(); got != "Your request has been rate limited. Please try again in 1 hour(s)" {
		t.Fatalf("unexpected body %q", got)
	}

	if calls != 2 {
		t.Fatalf("expected next handler to be called twice, got %d", calls)
	}
}

func TestMiddleware_RoutesAreLimitedIndependently(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Evaluator: newCoordinator(t),
		Rule:      domain.RuleConfig{Max: 1, Interval: time.Minute},
	})(okHandler(&calls))

	for _, target := range []string{"http://example/a", "http://example/b"} {
		if w := doRequest(h, http.MethodGet, target, "10.0.0.1:1"); w.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", target, w.Code)
		}
	}
	if w := doRequest(h, http.MethodPost, "http://example/a", "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for POST /a, got %d", w.Code)
	}
	if w := doRequest(h, http.MethodGet, "http://example/a", "10.0.0.2:1"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for other client, got %d", w.Code)
	}
	if w := doRequest(h, http.MethodGet, "http://example/a", "10.0.0.1:1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestMiddleware_WhitelistAndBlacklist(t *testing.T) {
	rule, err := Config{
		Max:       1,
		Interval:  time.Minute,
		Whitelist: []string{"10.0.0.0/8"},
		Blacklist: []string{"192.0.2.0/24"},
	}.Rule()
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}

	calls := 0
	h := Middleware(Options{Evaluator: newCoordinator(t), Rule: rule})(okHandler(&calls))

	for i := 0; i < 5; i++ {
		w := doRequest(h, http.MethodGet, "http://example/", "10.1.2.3:80")
		if w.Code != http.StatusOK {
			t.Fatalf("expected whitelisted client to pass, got %d", w.Code)
		}
		if w.Header().Get(HeaderLimit) != "" {
			t.Fatalf("expected no rate limit headers for whitelisted client")
		}
	}

	w := doRequest(h, http.MethodGet, "http://example/", "192.0.2.7:80")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for blacklisted client, got %d", w.Code)
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
}

func TestConfig_RuleRejectsInvalidRange(t *testing.T) {
	_, err := Config{Blacklist: []string{"10.0.0.0/8", "not-an-ip"}}.Rule()
	if err == nil {
		t.Fatalf("expected error for invalid range")
	}
	var rangeErr *domain.InvalidRangeError
	if !asInvalidRange(err, &rangeErr) || rangeErr.Range != "not-an-ip" {
		t.Fatalf("expected InvalidRangeError for not-an-ip, got %v", err)
	}
}

type failingEvaluator struct{ err error }

func (f failingEvaluator) Evaluate(context.Context, domain.Query) (domain.Decision, error) {
	return domain.Decision{}, f.err
}

func TestMiddleware_FailClosedReturns503(t *testing.T) {
	calls := 0
	h := Middleware(Options{Evaluator: failingEvaluator{err: domain.ErrTransportTimeout}})(okHandler(&calls))

	w := doRequest(h, http.MethodGet, "http://example/", "10.0.0.1:1")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("expected next handler not to be called")
	}
}

func TestMiddleware_FailOpenContinues(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Evaluator: failingEvaluator{err: domain.ErrTransportTimeout},
		FailOpen:  true,
	})(okHandler(&calls))

	w := doRequest(h, http.MethodGet, "http://example/", "10.0.0.1:1")
	if w.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected request to pass, got %d calls=%d", w.Code, calls)
	}
	if w.Header().Get(HeaderLimit) != "" {
		t.Fatalf("expected no rate limit headers when evaluation failed")
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	calls := 0
	h := Middleware(Options{
		Evaluator: newCoordinator(t),
		Rule:      domain.RuleConfig{Max: 1, Interval: time.Minute},
		Stats:     stats,
	})(okHandler(&calls))

	doRequest(h, http.MethodGet, "http://example/x", "10.0.0.1:1")
	doRequest(h, http.MethodGet, "http://example/x", "10.0.0.1:1")

	byRule, _ := stats.ByRule(context.Background())
	got := byRule["[GET] /x"]
	if got.Allowed != 1 || got.Limited != 1 {
		t.Fatalf("expected 1 allowed and 1 limited, got %+v", got)
	}
}
