package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/middleware"
	"github.com/agent-trust/registry/internal/models"
	"github.com/agent-trust/registry/internal/services"
)

// ValidationHandler handles validation ledger requests
type ValidationHandler struct {
	validation *services.ValidationService
}

// NewValidationHandler creates a new validation handler
func NewValidationHandler(validation *services.ValidationService) *ValidationHandler {
	return &ValidationHandler{validation: validation}
}

// Initialize bootstraps the validation ledger config
func (h *ValidationHandler) Initialize(c *gin.Context) {
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

	config, err := h.validation.Initialize(c.Request.Context(), authority)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, config)
}

// RequestValidationRequest represents a validation request submission
type RequestValidationRequest struct {
	AgentID     uint64 `json:"agent_id"`
	Validator   string `json:"validator" binding:"required"`
	Nonce       uint32 `json:"nonce"`
	RequestURI  string `json:"request_uri"`
	RequestHash string `json:"request_hash"`
}

// Request opens a validation case for an agent
func (h *ValidationHandler) Request(c *gin.Context) {
	var req RequestValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	validator, err := address.Parse(req.Validator)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid validator address"})
		return
	}
	input := services.ValidationRequestInput{
		AgentID:    req.AgentID,
		Validator:  validator,
		Nonce:      req.Nonce,
		RequestURI: req.RequestURI,
	}
	if input.RequestHash, err = parseHex32(req.RequestHash); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	request, err := h.validation.RequestValidation(c.Request.Context(), middleware.GetCaller(c), input)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

// RespondRequest represents a validator response submission
type RespondRequest struct {
	Response     uint8  `json:"response"`
	ResponseURI  string `json:"response_uri"`
	ResponseHash string `json:"response_hash"`
	Tag          string `json:"tag"`
}

// Respond records the designated validator's response
func (h *ValidationHandler) Respond(c *gin.Context) {
	h.respond(c, false)
}

// Update re-records the validator's response on an already-responded case
func (h *ValidationHandler) Update(c *gin.Context) {
	h.respond(c, true)
}

func (h *ValidationHandler) respond(c *gin.Context, update bool) {
	agentID, validator, nonce, ok := h.requestPath(c)
	if !ok {
		return
	}
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := services.ValidationResponseInput{
		AgentID:     agentID,
		Validator:   validator,
		Nonce:       nonce,
		Response:    req.Response,
		ResponseURI: req.ResponseURI,
	}
	var err error
	if input.ResponseHash, err = parseHex32(req.ResponseHash); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Tag, err = parseHex32(req.Tag); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller := middleware.GetCaller(c)
	var request *models.ValidationRequest
	if update {
		request, err = h.validation.UpdateValidation(c.Request.Context(), caller, input)
	} else {
		request, err = h.validation.RespondToValidation(c.Request.Context(), caller, input)
	}
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

// CloseRequest represents a validation close submission
type CloseRequest struct {
	Receiver string `json:"receiver" binding:"required"`
}

// Close removes a validation request record
func (h *ValidationHandler) Close(c *gin.Context) {
	agentID, validator, nonce, ok := h.requestPath(c)
	if !ok {
		return
	}
	var req CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	receiver, err := address.Parse(req.Receiver)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receiver address"})
		return
	}

	if err := h.validation.CloseValidation(c.Request.Context(), middleware.GetCaller(c), agentID, validator, nonce, receiver); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "validator": validator.String(), "nonce": nonce, "closed": true})
}

// GetRequest returns one validation request
func (h *ValidationHandler) GetRequest(c *gin.Context) {
	agentID, validator, nonce, ok := h.requestPath(c)
	if !ok {
		return
	}

	request, err := h.validation.GetRequest(c.Request.Context(), agentID, validator, nonce)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

// GetConfig returns the validation ledger config
func (h *ValidationHandler) GetConfig(c *gin.Context) {
	config, err := h.validation.GetConfig(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, config)
}

func (h *ValidationHandler) requestPath(c *gin.Context) (uint64, address.Address, uint32, bool) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return 0, address.Zero, 0, false
	}
	validator, err := address.Parse(c.Param("validator"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid validator address"})
		return 0, address.Zero, 0, false
	}
	nonce, err := strconv.ParseUint(c.Param("nonce"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nonce"})
		return 0, address.Zero, 0, false
	}
	return agentID, validator, uint32(nonce), true
}
