package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

func asInvalidRange(err error, target **domain.InvalidRangeError) bool {
	return errors.As(err, target)
}

func TestDefaultKeyFunc_IgnoresXForwardedForByDefault(t *testing.T) {
	fn := DefaultKeyFunc(false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := fn(r); got != "10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestDefaultKeyFunc_TrustXForwardedForUsesFirstIP(t *testing.T) {
	fn := DefaultKeyFunc(true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := fn(r); got != "1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestDefaultKeyFunc_FallbacksToRemoteAddr(t *testing.T) {
	fn := DefaultKeyFunc(true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "[::1]:5555"
	if got := fn(r); got != "::1" {
		t.Fatalf("expected ipv6 host, got %q", got)
	}

	r.RemoteAddr = "unix-socket"
	if got := fn(r); got != "unix-socket" {
		t.Fatalf("expected raw RemoteAddr, got %q", got)
	}
}

func TestDefaultKeyFunc_BlankForwardedForEntryUsesRemoteAddr(t *testing.T) {
	fn := DefaultKeyFunc(true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "192.0.2.10:80"
	r.Header.Set("X-Forwarded-For", " , 1.2.3.4")

	if got := fn(r); got != "192.0.2.10" {
		t.Fatalf("expected remote host when first XFF entry is blank, got %q", got)
	}
}

func TestDefaultKeyFunc_ForwardedClientHitsBlacklist(t *testing.T) {
	h := Middleware(Options{
		Evaluator:          newCoordinator(t),
		Rule:               domain.RuleConfig{Blacklist: []domain.Range{domain.MustParseRange("198.51.100.0/24")}},
		TrustXForwardedFor: true,
	})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "198.51.100.77")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for forwarded blacklisted client, got %d", w.Code)
	}
}
