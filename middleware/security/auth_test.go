package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"MeetChat/tools/errs"
	"MeetChat/tools/security"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

type staticVerifier map[string]string

func (s staticVerifier) Verify(_ context.Context, token string) (*security.Claims, error) {
	uid, ok := s[token]
	if !ok {
		return nil, errs.ErrUnauthorized.WrapMsg("unknown token")
	}
	return &security.Claims{RegisteredClaims: jwtlib.RegisteredClaims{Subject: uid}}, nil
}

func newEngine(opts *Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(staticVerifier{"good": "u1"}, opts), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestMiddleware(t *testing.T) {
	r := newEngine(nil)

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"bearer", "Bearer good", http.StatusOK, "u1"},
		{"lowercase bearer", "bearer good", http.StatusOK, "u1"},
		{"raw token", "good", http.StatusOK, "u1"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"invalid", "Bearer bad", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), errs.ReasonUnauthorized)
			}
		})
	}
}

func TestMiddlewareQueryToken(t *testing.T) {
	r := newEngine(&Options{HeaderToken: "Authorization", QueryToken: "token"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token=good", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())
}
