package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/middleware"
	"github.com/agent-trust/registry/internal/models"
	"github.com/agent-trust/registry/internal/services"
)

// ReputationHandler handles feedback ledger requests
type ReputationHandler struct {
	reputation *services.ReputationService
}

// NewReputationHandler creates a new reputation handler
func NewReputationHandler(reputation *services.ReputationService) *ReputationHandler {
	return &ReputationHandler{reputation: reputation}
}

// FeedbackRequest represents a feedback submission. Tags and hashes travel
// as 32-byte hex strings; the optional auth grant carries its signature as
// a 64-byte hex string.
type FeedbackRequest struct {
	AgentID       uint64               `json:"agent_id"`
	Score         uint8                `json:"score"`
	Tag1          string               `json:"tag1"`
	Tag2          string               `json:"tag2"`
	FileURI       string               `json:"file_uri"`
	FileHash      string               `json:"file_hash"`
	ExpectedIndex uint64               `json:"expected_index"`
	Auth          *FeedbackAuthRequest `json:"auth,omitempty"`
}

// FeedbackAuthRequest represents an owner-signed feedback grant
type FeedbackAuthRequest struct {
	AgentID    uint64 `json:"agent_id"`
	Client     string `json:"client" binding:"required"`
	IndexLimit uint64 `json:"index_limit"`
	Expiry     int64  `json:"expiry"`
	Signer     string `json:"signer" binding:"required"`
	Signature  string `json:"signature" binding:"required"`
}

func (r *FeedbackAuthRequest) toModel() (*models.FeedbackAuth, error) {
	client, err := address.Parse(r.Client)
	if err != nil {
		return nil, fmt.Errorf("invalid auth client address: %w", err)
	}
	signer, err := address.Parse(r.Signer)
	if err != nil {
		return nil, fmt.Errorf("invalid auth signer address: %w", err)
	}
	auth := &models.FeedbackAuth{
		AgentID:    r.AgentID,
		Client:     client,
		IndexLimit: r.IndexLimit,
		Expiry:     r.Expiry,
		Signer:     signer,
	}
	if auth.Signature, err = parseHex64(r.Signature); err != nil {
		return nil, err
	}
	return auth, nil
}

// GiveFeedback records one feedback entry for an agent
func (h *ReputationHandler) GiveFeedback(c *gin.Context) {
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := services.FeedbackRequest{
		AgentID:       req.AgentID,
		Score:         req.Score,
		FileURI:       req.FileURI,
		ExpectedIndex: req.ExpectedIndex,
	}
	var err error
	if input.Tag1, err = parseHex32(req.Tag1); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Tag2, err = parseHex32(req.Tag2); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.FileHash, err = parseHex32(req.FileHash); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Auth != nil {
		if input.Auth, err = req.Auth.toModel(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	feedback, err := h.reputation.GiveFeedback(c.Request.Context(), middleware.GetCaller(c), input)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, feedback)
}

// RevokeFeedback marks one feedback entry revoked
func (h *ReputationHandler) RevokeFeedback(c *gin.Context) {
	agentID, client, index, ok := h.feedbackPath(c)
	if !ok {
		return
	}

	if err := h.reputation.RevokeFeedback(c.Request.Context(), middleware.GetCaller(c), agentID, client, index); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "client": client.String(), "feedback_index": index, "revoked": true})
}

// ResponseRequest represents a feedback response submission
type ResponseRequest struct {
	AgentID       uint64 `json:"agent_id"`
	Client        string `json:"client" binding:"required"`
	FeedbackIndex uint64 `json:"feedback_index"`
	ResponseURI   string `json:"response_uri"`
	ResponseHash  string `json:"response_hash"`
}

// AppendResponse adds one response to an existing feedback entry
func (h *ReputationHandler) AppendResponse(c *gin.Context) {
	var req ResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client, err := address.Parse(req.Client)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client address"})
		return
	}
	input := services.ResponseRequest{
		AgentID:       req.AgentID,
		Client:        client,
		FeedbackIndex: req.FeedbackIndex,
		ResponseURI:   req.ResponseURI,
	}
	if input.ResponseHash, err = parseHex32(req.ResponseHash); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.reputation.AppendResponse(c.Request.Context(), middleware.GetCaller(c), input)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, response)
}

// GetFeedback returns one feedback record
func (h *ReputationHandler) GetFeedback(c *gin.Context) {
	agentID, client, index, ok := h.feedbackPath(c)
	if !ok {
		return
	}

	feedback, err := h.reputation.GetFeedback(c.Request.Context(), agentID, client, index)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, feedback)
}

// GetResponse returns one response record
func (h *ReputationHandler) GetResponse(c *gin.Context) {
	agentID, client, index, ok := h.feedbackPath(c)
	if !ok {
		return
	}
	responseIndex, err := strconv.ParseUint(c.Param("response_index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid response index"})
		return
	}

	response, err := h.reputation.GetResponse(c.Request.Context(), agentID, client, index, responseIndex)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// GetSummary returns the agent's aggregate reputation
func (h *ReputationHandler) GetSummary(c *gin.Context) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return
	}

	summary, err := h.reputation.GetSummary(c.Request.Context(), agentID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *ReputationHandler) feedbackPath(c *gin.Context) (uint64, address.Address, uint64, bool) {
	agentID, ok := parseAgentID(c, "id")
	if !ok {
		return 0, address.Zero, 0, false
	}
	client, err := address.Parse(c.Param("client"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client address"})
		return 0, address.Zero, 0, false
	}
	index, err := strconv.ParseUint(c.Param("index"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback index"})
		return 0, address.Zero, 0, false
	}
	return agentID, client, index, true
}
