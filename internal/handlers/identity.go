package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/middleware"
	"github.com/agent-trust/registry/internal/services"
)

// IdentityHandler handles agent ledger requests
type IdentityHandler struct {
	identity *services.IdentityService
}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler(identity *services.IdentityService) *IdentityHandler {
	return &IdentityHandler{identity: identity}
}

// InitializeRequest represents a ledger bootstrap request
type InitializeRequest struct {
	Authority string `json:"authority" binding:"required"`
}

// Initialize bootstraps the agent ledger config
func (h *IdentityHandler) Initialize(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	authority, err := address.Parse(req.Authority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid authority address"})
		return
	}

	config, err := h.identity.Initialize(c.Request.Context(), authority)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, config)
}

// Register creates a new agent under the next sequential id
func (h *IdentityHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.identity.Register(c.Request.Context(), middleware.GetCaller(c), req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// GetAgent returns one agent record
func (h *IdentityHandler) GetAgent(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}

	agent, err := h.identity.GetAgent(c.Request.Context(), agentID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// GetConfig returns the agent ledger config
func (h *IdentityHandler) GetConfig(c *gin.Context) {
	config, err := h.identity.GetConfig(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, config)
}

// MetadataRequest represents a metadata set request
type MetadataRequest struct {
	Key   string `json:"key" binding:"required"`
	Value []byte `json:"value"`
}

// SetMetadata sets one metadata entry on the agent's base record
func (h *IdentityHandler) SetMetadata(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}
	var req MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.identity.SetMetadata(c.Request.Context(), middleware.GetCaller(c), agentID, req.Key, req.Value); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "key": req.Key})
}

// RemoveMetadata deletes one metadata entry from the agent's base record
func (h *IdentityHandler) RemoveMetadata(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}
	key := c.Param("key")

	if err := h.identity.RemoveMetadata(c.Request.Context(), middleware.GetCaller(c), agentID, key); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "key": key})
}

// ExtensionRequest represents a metadata extension creation request
type ExtensionRequest struct {
	ExtensionIndex uint8 `json:"extension_index"`
}

// CreateExtension creates a metadata overflow segment
func (h *IdentityHandler) CreateExtension(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}
	var req ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ext, err := h.identity.CreateMetadataExtension(c.Request.Context(), middleware.GetCaller(c), agentID, req.ExtensionIndex)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, ext)
}

// SetExtensionMetadata sets one metadata entry on an overflow segment
func (h *IdentityHandler) SetExtensionMetadata(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}
	extIndex, err := strconv.ParseUint(c.Param("index"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid extension index"})
		return
	}
	var req MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.identity.SetMetadataExtended(c.Request.Context(), middleware.GetCaller(c), agentID, uint8(extIndex), req.Key, req.Value); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "extension_index": extIndex, "key": req.Key})
}

// GetExtension returns one metadata overflow segment
func (h *IdentityHandler) GetExtension(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}
	extIndex, err := strconv.ParseUint(c.Param("index"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid extension index"})
		return
	}

	ext, err := h.identity.GetExtension(c.Request.Context(), agentID, uint8(extIndex))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, ext)
}

// URIRequest represents a token URI update
type URIRequest struct {
	TokenURI string `json:"token_uri" binding:"required"`
}

// SetURI replaces the agent's token URI
func (h *IdentityHandler) SetURI(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}
	var req URIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.identity.SetAgentURI(c.Request.Context(), middleware.GetCaller(c), agentID, req.TokenURI); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "token_uri": req.TokenURI})
}

// SyncOwner reconciles the agent's cached owner against the ownership oracle
func (h *IdentityHandler) SyncOwner(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}

	agent, err := h.identity.SyncOwner(c.Request.Context(), agentID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

// TransferRequest represents an agent ownership transfer
type TransferRequest struct {
	Dest string `json:"dest" binding:"required"`
}

// Transfer moves the ownership token and the cached owner to dest
func (h *IdentityHandler) Transfer(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dest, err := address.Parse(req.Dest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid destination address"})
		return
	}

	agent, err := h.identity.TransferAgent(c.Request.Context(), middleware.GetCaller(c), agentID, dest)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}
