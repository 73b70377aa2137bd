package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/svcgate/svcgate/internal/auth"
	"github.com/svcgate/svcgate/internal/observability"
)

// ClaimsContextKey is the gin context key under which validated claims are
// stored for downstream handlers.
const ClaimsContextKey = "authClaims"

// Auth validates bearer tokens on every request except the listed public
// paths.
func Auth(validator *auth.Validator, publicPaths []string, logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	public := make(map[string]bool, len(publicPaths))
	for _, path := range publicPaths {
		public[path] = true
	}

	return func(c *gin.Context) {
		if public[c.Request.URL.Path] {
			c.Next()
			return
		}

		token, err := auth.ExtractToken(c.Request)
		if err != nil {
			unauthorized(c, "missing or malformed bearer token")
			return
		}

		claims, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			logger.Debug("token validation failed",
				observability.String("path", c.Request.URL.Path),
				observability.Error(err),
			)
			unauthorized(c, "invalid token")
			return
		}

		c.Set(ClaimsContextKey, claims)

		// Propagate the validated identity to upstream services. Any
		// client-supplied values are overwritten to prevent spoofing.
		c.Request.Header.Set("X-User-Subject", claims.Subject)
		if claims.Issuer != "" {
			c.Request.Header.Set("X-User-Issuer", claims.Issuer)
		} else {
			c.Request.Header.Del("X-User-Issuer")
		}

		c.Next()
	}
}

// ClaimsFromContext returns the validated claims stored by Auth.
func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	value, ok := c.Get(ClaimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="svcgate"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}
