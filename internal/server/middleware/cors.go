package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/svcgate/svcgate/internal/config"
)

// corsContext holds pre-computed header values.
type corsContext struct {
	cfg             config.CORSConfig
	allowAllOrigins bool
	allowMethods    string
	allowHeaders    string
	exposeHeaders   string
	maxAge          string
}

func newCORSContext(cfg config.CORSConfig) *corsContext {
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowOrigins = []string{"*"}
	}
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	}
	if len(cfg.AllowHeaders) == 0 {
		cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 86400
	}

	allowAll := false
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}

	return &corsContext{
		cfg:             cfg,
		allowAllOrigins: allowAll,
		allowMethods:    strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:    strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders:   strings.Join(cfg.ExposeHeaders, ", "),
		maxAge:          strconv.Itoa(cfg.MaxAge),
	}
}

// CORS handles cross-origin requests, including preflight.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	ctx := newCORSContext(cfg)

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if !ctx.allowAllOrigins && !originAllowed(origin, ctx.cfg.AllowOrigins) {
			c.Next()
			return
		}

		if ctx.allowAllOrigins && !ctx.cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if ctx.cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if ctx.exposeHeaders != "" {
			c.Header("Access-Control-Expose-Headers", ctx.exposeHeaders)
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", ctx.allowMethods)
			c.Header("Access-Control-Allow-Headers", ctx.allowHeaders)
			c.Header("Access-Control-Max-Age", ctx.maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// originAllowed matches origins exactly or against wildcard patterns of the
// form "https://*.example.com".
func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == origin {
			return true
		}
		if i := strings.Index(a, "*"); i >= 0 {
			prefix, suffix := a[:i], a[i+1:]
			if len(origin) > len(prefix)+len(suffix) &&
				strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
		}
	}
	return false
}
