package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-trust/registry/internal/address"
)

func callerRouter(secret string) (*gin.Engine, *address.Address) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var seen address.Address
	router.GET("/whoami", CallerMiddleware(secret), func(c *gin.Context) {
		seen = GetCaller(c)
		c.Status(http.StatusOK)
	})
	return router, &seen
}

func TestCallerMiddlewareAcceptsValidToken(t *testing.T) {
	var caller address.Address
	caller[0] = 0x42

	token, err := GenerateToken(caller, JWTConfig{Secret: "secret", Expiration: time.Hour})
	require.NoError(t, err)

	router, seen := callerRouter("secret")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, caller, *seen)
}

func TestCallerMiddlewareRejectsBadTokens(t *testing.T) {
	var caller address.Address
	caller[0] = 0x42

	wrongSecret, err := GenerateToken(caller, JWTConfig{Secret: "other", Expiration: time.Hour})
	require.NoError(t, err)
	expired, err := GenerateToken(caller, JWTConfig{Secret: "secret", Expiration: -time.Hour})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not-a-token"},
		{"wrong secret", "Bearer " + wrongSecret},
		{"expired", "Bearer " + expired},
	}

	router, _ := callerRouter("secret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthorityMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/bootstrap", AuthorityMiddleware("topsecret"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"correct key", "topsecret", http.StatusOK},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"missing key", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/bootstrap", nil)
			if tt.key != "" {
				req.Header.Set("X-Authority-Key", tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthorityMiddlewareRejectsEmptyConfiguredKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/bootstrap", AuthorityMiddleware(""), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/bootstrap", nil)
	req.Header.Set("X-Authority-Key", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
