package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGinEngine(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(opts))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestGinMiddleware_LimitsAndSetsHeaders(t *testing.T) {
	r := newGinEngine(t, Options{
		Evaluator: newCoordinator(t),
		Rule:      domain.RuleConfig{Max: 1, Interval: 30 * time.Second},
		Now:       func() time.Time { return fixedNow },
	})

	w1 := doRequest(r, http.MethodGet, "/ping", "203.0.113.5:4000")
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, "pong", w1.Body.String())
	assert.Equal(t, "1", w1.Header().Get(HeaderLimit))
	assert.Equal(t, "0", w1.Header().Get(HeaderRemaining))

	w2 := doRequest(r, http.MethodGet, "/ping", "203.0.113.5:4000")
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.Equal(t, "Your request has been rate limited. Please try again in 30 second(s)", w2.Body.String())
	assert.Equal(t, "30", w2.Header().Get("Retry-After"))
}

func TestGinMiddleware_Blacklisted(t *testing.T) {
	r := newGinEngine(t, Options{
		Evaluator: newCoordinator(t),
		Rule:      domain.RuleConfig{Blacklist: []domain.Range{domain.MustParseRange("203.0.113.0/24")}},
	})

	w := doRequest(r, http.MethodGet, "/ping", "203.0.113.5:4000")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotEqual(t, "pong", w.Body.String())
}

func TestGinMiddleware_CustomKeyFunc(t *testing.T) {
	r := newGinEngine(t, Options{
		Evaluator: newCoordinator(t),
		Rule:      domain.RuleConfig{Max: 1, Interval: time.Minute},
		KeyFn:     func(r *http.Request) string { return r.Header.Get("X-Client-IP") },
	})

	req := func(ip string) *httptest.ResponseRecorder {
		rq := httptest.NewRequest(http.MethodGet, "/ping", nil)
		rq.RemoteAddr = "127.0.0.1:1"
		rq.Header.Set("X-Client-IP", ip)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, rq)
		return w
	}

	assert.Equal(t, http.StatusOK, req("1.1.1.1").Code)
	assert.Equal(t, http.StatusOK, req("2.2.2.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, req("1.1.1.1").Code)
}
