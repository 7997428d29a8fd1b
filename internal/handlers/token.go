package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/middleware"
	"github.com/agent-trust/registry/internal/services"
)

// TokenHandler handles ownership token requests against the reference
// token ledger
type TokenHandler struct {
	tokens *services.TokenService
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(tokens *services.TokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// MintRequest represents an ownership token mint
type MintRequest struct {
	Mint string `json:"mint" binding:"required"`
}

// Mint creates a single-supply ownership token held by the caller
func (h *TokenHandler) Mint(c *gin.Context) {
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mint, err := address.Parse(req.Mint)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mint address"})
		return
	}

	token, err := h.tokens.Mint(c.Request.Context(), mint, middleware.GetCaller(c))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, token)
}

// Get returns the token record for a mint
func (h *TokenHandler) Get(c *gin.Context) {
	mint, err := address.Parse(c.Param("mint"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mint address"})
		return
	}

	token, err := h.tokens.Get(c.Request.Context(), mint)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}
