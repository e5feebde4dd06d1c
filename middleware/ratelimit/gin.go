package ratelimit

import (
	"github.com/gin-gonic/gin"
)

// GinMiddleware é o mesmo adapter para aplicações gin. Sem KeyFn, o IP vem de
// gin.Context.ClientIP, que respeita os trusted proxies do engine.
func GinMiddleware(opts Options) gin.HandlerFunc {
	useClientIP := opts.KeyFn == nil
	l := newLimiter(opts)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !useClientIP {
			ip = l.keyFn(c.Request)
		}
		if !l.apply(c.Writer, c.Request, ip) {
			c.Abort()
			return
		}
		c.Next()
	}
}
