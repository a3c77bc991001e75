package security

import (
	"net/http"
	"strings"

	"MeetChat/tools/errs"
	"MeetChat/tools/security"

	"github.com/gin-gonic/gin"
)

const (
	CtxUserIDKey = "userId"
	CtxClaimsKey = "claims"
)

type Options struct {
	HeaderToken string // defaults to "Authorization"
	// QueryToken is consulted when the header is empty; handshakes that cannot set headers use it.
	QueryToken string
}

func DefaultOptions() *Options {
	return &Options{HeaderToken: "Authorization"}
}

// BearerToken extracts the credential from the configured header or query parameter.
func BearerToken(c *gin.Context, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	if authz := strings.TrimSpace(c.GetHeader(opts.HeaderToken)); authz != "" {
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			return strings.TrimSpace(authz[7:])
		}
		return authz
	}
	if opts.QueryToken != "" {
		return strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return ""
}

// Middleware rejects requests without a valid bearer token and stores the subject under CtxUserIDKey.
func Middleware(verifier security.TokenVerifier, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		claims, err := verifier.Verify(c.Request.Context(), BearerToken(c, opts))
		if err != nil {
			ce := errs.ToCode(err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"code": ce.Reason, "message": ce.Msg},
			})
			return
		}
		c.Set(CtxUserIDKey, claims.Subject)
		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// UserID returns the authenticated subject set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
