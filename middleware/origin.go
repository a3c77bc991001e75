package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// Origin answers CORS for the REST API. An empty list or "*" allows every origin.
func Origin(allowed []string) gin.HandlerFunc {
	anyOrigin := len(allowed) == 0 || lo.Contains(allowed, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (anyOrigin || lo.Contains(allowed, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// OriginAllowed is the same policy as a predicate, for the websocket upgrader.
func OriginAllowed(allowed []string) func(r *http.Request) bool {
	anyOrigin := len(allowed) == 0 || lo.Contains(allowed, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || anyOrigin || lo.Contains(allowed, origin)
	}
}
