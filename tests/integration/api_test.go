package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/events"
	"github.com/agent-trust/registry/internal/handlers"
	"github.com/agent-trust/registry/internal/middleware"
	"github.com/agent-trust/registry/internal/oracle"
	"github.com/agent-trust/registry/internal/services"
	"github.com/agent-trust/registry/internal/storage"
)

const (
	testJWTSecret    = "test-secret"
	testAuthorityKey = "test-authority-key"
)

// setupTestServer wires the full HTTP stack over the in-memory backend
func setupTestServer() *httptest.Server {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	db := storage.NewMemory()
	tokenLedger := oracle.NewTokenLedger()
	emitter := events.NullEmitter{}
	identityService := services.NewIdentityService(db, tokenLedger, emitter)
	reputationService := services.NewReputationService(db, identityService, emitter)
	validationService := services.NewValidationService(db, identityService, emitter)
	tokenService := services.NewTokenService(db, tokenLedger)

	authHandler := handlers.NewAuthHandler(testJWTSecret, time.Hour)
	identityHandler := handlers.NewIdentityHandler(identityService)
	reputationHandler := handlers.NewReputationHandler(reputationService)
	validationHandler := handlers.NewValidationHandler(validationService)
	tokenHandler := handlers.NewTokenHandler(tokenService)

	caller := middleware.CallerMiddleware(testJWTSecret)
	authority := middleware.AuthorityMiddleware(testAuthorityKey)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := router.Group("/api/v1")
	{
		api.POST("/auth/token", authHandler.Token)
		api.POST("/tokens/mint", caller, tokenHandler.Mint)
		api.GET("/tokens/:mint", tokenHandler.Get)

		identity := api.Group("/identity")
		{
			identity.POST("/initialize", authority, identityHandler.Initialize)
			identity.GET("/config", identityHandler.GetConfig)
			identity.POST("/agents", caller, identityHandler.Register)
			identity.GET("/agents/:id", identityHandler.GetAgent)
			identity.PUT("/agents/:id/metadata", caller, identityHandler.SetMetadata)
		}

		reputation := api.Group("/reputation")
		{
			reputation.POST("/feedback", caller, reputationHandler.GiveFeedback)
			reputation.GET("/agents/:id/summary", reputationHandler.GetSummary)
		}

		validation := api.Group("/validation")
		{
			validation.POST("/initialize", authority, validationHandler.Initialize)
			validation.POST("/requests", caller, validationHandler.Request)
			validation.POST("/requests/:id/:validator/:nonce/respond", caller, validationHandler.Respond)
			validation.GET("/requests/:id/:validator/:nonce", validationHandler.GetRequest)
		}
	}

	return httptest.NewServer(router)
}

type testClient struct {
	t       *testing.T
	baseURL string
	token   string
}

func newTestClient(t *testing.T, baseURL string, addr address.Address) *testClient {
	t.Helper()

	c := &testClient{t: t, baseURL: baseURL}
	status, body := c.do("POST", "/api/v1/auth/token", map[string]string{"address": addr.String()}, nil)
	require.Equal(t, http.StatusOK, status, "token issuance failed: %s", body)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	c.token = resp.Token
	return c
}

func (c *testClient) do(method, path string, payload interface{}, headers map[string]string) (int, []byte) {
	c.t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(c.t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, out.Bytes()
}

func testAddr(b byte) address.Address {
	var a address.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func authorityHeader() map[string]string {
	return map[string]string{"X-Authority-Key": testAuthorityKey}
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInitializeRequiresAuthorityKey(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	client := newTestClient(t, server.URL, testAddr(0x01))
	payload := map[string]string{"authority": testAddr(0xff).String()}

	status, _ := client.do("POST", "/api/v1/identity/initialize", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = client.do("POST", "/api/v1/identity/initialize", payload, authorityHeader())
	assert.Equal(t, http.StatusCreated, status)

	// Bootstrap is create-once
	status, _ = client.do("POST", "/api/v1/identity/initialize", payload, authorityHeader())
	assert.Equal(t, http.StatusConflict, status)
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	anon := &testClient{t: t, baseURL: server.URL}
	status, _ := anon.do("POST", "/api/v1/identity/agents", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = anon.do("POST", "/api/v1/reputation/feedback", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRegistryFlow(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	ownerAddr := testAddr(0x01)
	clientAddr := testAddr(0x02)
	validatorAddr := testAddr(0x05)
	mint := testAddr(0x10)

	owner := newTestClient(t, server.URL, ownerAddr)
	reviewer := newTestClient(t, server.URL, clientAddr)
	validator := newTestClient(t, server.URL, validatorAddr)

	// Bootstrap both ledgers
	payload := map[string]string{"authority": testAddr(0xff).String()}
	status, _ := owner.do("POST", "/api/v1/identity/initialize", payload, authorityHeader())
	require.Equal(t, http.StatusCreated, status)
	status, _ = owner.do("POST", "/api/v1/validation/initialize", payload, authorityHeader())
	require.Equal(t, http.StatusCreated, status)

	// Mint the ownership token, then register the agent
	status, _ = owner.do("POST", "/api/v1/tokens/mint", map[string]string{"mint": mint.String()}, nil)
	require.Equal(t, http.StatusCreated, status)

	status, body := owner.do("POST", "/api/v1/identity/agents", map[string]interface{}{
		"mint":      mint.String(),
		"token_uri": "https://agents.example/card.json",
	}, nil)
	require.Equal(t, http.StatusCreated, status, "register failed: %s", body)

	var agent struct {
		AgentID uint64 `json:"agent_id"`
	}
	require.NoError(t, json.Unmarshal(body, &agent))
	assert.Equal(t, uint64(0), agent.AgentID)

	// A client leaves feedback at the first index
	status, body = reviewer.do("POST", "/api/v1/reputation/feedback", map[string]interface{}{
		"agent_id":       agent.AgentID,
		"score":          88,
		"expected_index": 0,
	}, nil)
	require.Equal(t, http.StatusCreated, status, "feedback failed: %s", body)

	// Replaying the same index is a conflict
	status, _ = reviewer.do("POST", "/api/v1/reputation/feedback", map[string]interface{}{
		"agent_id":       agent.AgentID,
		"score":          88,
		"expected_index": 0,
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = reviewer.do("GET", fmt.Sprintf("/api/v1/reputation/agents/%d/summary", agent.AgentID), nil, nil)
	require.Equal(t, http.StatusOK, status)
	var summary struct {
		TotalFeedbacks uint64 `json:"total_feedbacks"`
		AverageScore   uint8  `json:"average_score"`
	}
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, uint64(1), summary.TotalFeedbacks)
	assert.Equal(t, uint8(88), summary.AverageScore)

	// The owner opens a validation case; only the owner may
	requestPayload := map[string]interface{}{
		"agent_id":  agent.AgentID,
		"validator": validatorAddr.String(),
		"nonce":     1,
	}
	status, _ = reviewer.do("POST", "/api/v1/validation/requests", requestPayload, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = owner.do("POST", "/api/v1/validation/requests", requestPayload, nil)
	require.Equal(t, http.StatusCreated, status)

	// Only the designated validator can respond
	respondPath := fmt.Sprintf("/api/v1/validation/requests/%d/%s/1/respond", agent.AgentID, validatorAddr.String())
	status, _ = owner.do("POST", respondPath, map[string]interface{}{"response": 90}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = validator.do("POST", respondPath, map[string]interface{}{"response": 90}, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = owner.do("GET", fmt.Sprintf("/api/v1/validation/requests/%d/%s/1", agent.AgentID, validatorAddr.String()), nil, nil)
	require.Equal(t, http.StatusOK, status)
	var request struct {
		Response    uint8 `json:"response"`
		RespondedAt int64 `json:"responded_at"`
	}
	require.NoError(t, json.Unmarshal(body, &request))
	assert.Equal(t, uint8(90), request.Response)
	assert.Greater(t, request.RespondedAt, int64(0))
}

func TestAgentNotFoundMapsTo404(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	client := newTestClient(t, server.URL, testAddr(0x01))
	status, _ := client.do("POST", "/api/v1/identity/initialize",
		map[string]string{"authority": testAddr(0xff).String()}, authorityHeader())
	require.Equal(t, http.StatusCreated, status)

	status, _ = client.do("GET", "/api/v1/identity/agents/42", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestOwnerGateMapsTo403(t *testing.T) {
	server := setupTestServer()
	defer server.Close()

	owner := newTestClient(t, server.URL, testAddr(0x01))
	stranger := newTestClient(t, server.URL, testAddr(0x02))
	mint := testAddr(0x10)

	status, _ := owner.do("POST", "/api/v1/identity/initialize",
		map[string]string{"authority": testAddr(0xff).String()}, authorityHeader())
	require.Equal(t, http.StatusCreated, status)
	status, _ = owner.do("POST", "/api/v1/tokens/mint", map[string]string{"mint": mint.String()}, nil)
	require.Equal(t, http.StatusCreated, status)
	status, _ = owner.do("POST", "/api/v1/identity/agents", map[string]interface{}{"mint": mint.String()}, nil)
	require.Equal(t, http.StatusCreated, status)

	status, _ = stranger.do("PUT", "/api/v1/identity/agents/0/metadata",
		map[string]interface{}{"key": "model", "value": []byte("v1")}, nil)
	assert.Equal(t, http.StatusForbidden, status)
}
