package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/middleware"
)

// AuthHandler issues caller tokens
type AuthHandler struct {
	jwtConfig middleware.JWTConfig
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(jwtSecret string, expiration time.Duration) *AuthHandler {
	return &AuthHandler{
		jwtConfig: middleware.JWTConfig{
			Secret:     jwtSecret,
			Expiration: expiration,
		},
	}
}

// TokenRequest represents a token issuance request
type TokenRequest struct {
	Address string `json:"address" binding:"required"`
}

// TokenResponse carries the issued bearer token
type TokenResponse struct {
	Address   string `json:"address"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Token issues a bearer token for the claimed caller address.
// TODO: bind token issuance to a signed challenge over the address key
// instead of taking the claim at face value.
func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller, err := address.Parse(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	token, err := middleware.GenerateToken(caller, h.jwtConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Address:   caller.String(),
		Token:     token,
		ExpiresAt: time.Now().Add(h.jwtConfig.Expiration).Unix(),
	})
}
