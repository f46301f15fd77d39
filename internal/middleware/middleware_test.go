package middleware

import (
	"encoding/json"
	"io"
	"strings"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, claims service.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func validClaims(userID int, role string) service.Claims {
	return service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           userID,
		Role:             role,
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

// callerEcho reports who the request was attributed to.
func callerEcho(c *gin.Context) {
	caller := GetCaller(c)
	if caller.Anonymous() {
		c.String(http.StatusOK, "anonymous")
		return
	}
	c.String(http.StatusOK, "user")
}

func TestJWT(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: testSecret})

	expired := validClaims(7, "")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	tests := []struct {
		name       string
		optional   bool
		header     string
		query      string
		wantStatus int
		wantCode   response.ErrCode
		wantBody   string
	}{
		{name: "required without token", wantStatus: http.StatusUnauthorized, wantCode: response.ErrTokenRequired},
		{name: "required with bearer", header: "Bearer " + signToken(t, validClaims(7, "")), wantStatus: http.StatusOK, wantBody: "user"},
		{name: "required with query token", query: signToken(t, validClaims(7, "")), wantStatus: http.StatusOK, wantBody: "user"},
		{name: "expired token", header: "Bearer " + signToken(t, expired), wantStatus: http.StatusUnauthorized, wantCode: response.ErrTokenExpired},
		{name: "garbage token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantCode: response.ErrTokenInvalid},
		{name: "optional without token", optional: true, wantStatus: http.StatusOK, wantBody: "anonymous"},
		{name: "optional with bad token", optional: true, header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantCode: response.ErrTokenInvalid},
		{name: "optional with token", optional: true, header: "Bearer " + signToken(t, validClaims(7, "")), wantStatus: http.StatusOK, wantBody: "user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := RequireJWT(auth)
			if tt.optional {
				mw = OptionalJWT(auth)
			}
			r := gin.New()
			r.GET("/x", mw, callerEcho)

			target := "/x"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, w))
			}
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: testSecret})

	tests := []struct {
		name       string
		role       string
		wantStatus int
	}{
		{name: "admin", role: "admin", wantStatus: http.StatusOK},
		{name: "candidate", role: "candidate", wantStatus: http.StatusForbidden},
		{name: "no role", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/admin", RequireJWT(auth), RequireAdmin(), callerEcho)

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(1, tt.role)))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rl := NewRateLimiter(rdb, 2, time.Minute)
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	r := gin.New()
	r.GET("/x", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		return w
	}

	first := hit()
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusNoContent, hit().Code)

	third := hit()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, response.ErrRateLimitExceeded, errorCode(t, third))

	// A new window starts a fresh budget.
	fixed = fixed.Add(time.Minute)
	assert.Equal(t, http.StatusNoContent, hit().Code)

	// Redis being down lets traffic through.
	mr.Close()
	assert.Equal(t, http.StatusNoContent, hit().Code)
}

func TestBrotli(t *testing.T) {
	large := strings.Repeat("session ", 400)

	tests := []struct {
		name         string
		body         string
		accept       string
		wantEncoding string
	}{
		{name: "large body compressed", body: large, accept: "gzip, br", wantEncoding: "br"},
		{name: "small body untouched", body: "ok", accept: "br"},
		{name: "client without br", body: large, accept: "gzip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(Brotli(brotli.DefaultCompression))
			r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, tt.body) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Accept-Encoding", tt.accept)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantEncoding, w.Header().Get("Content-Encoding"))

			var got []byte
			var err error
			if tt.wantEncoding == "br" {
				got, err = io.ReadAll(brotli.NewReader(w.Body))
			} else {
				got, err = io.ReadAll(w.Body)
			}
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(got))
		})
	}
}
