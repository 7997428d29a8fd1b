package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-trust/registry/internal/address"
)

func testAddr(b byte) address.Address {
	var a address.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func testHash(b byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = b
	}
	return h
}

func TestFixedRecordSizes(t *testing.T) {
	// Fixed-width records must encode to exactly their declared size
	client := testAddr(0x01)

	tests := []struct {
		name string
		size int
		enc  func() ([]byte, error)
	}{
		{"registry config", RegistryConfigSize, func() ([]byte, error) {
			c := &RegistryConfig{Authority: client, NextAgentID: 5, TotalAgents: 5}
			return c.Marshal()
		}},
		{"client sequence", ClientSequenceSize, func() ([]byte, error) {
			s := &ClientSequence{AgentID: 1, Client: client, LastIndex: 9}
			return s.Marshal()
		}},
		{"reputation aggregate", ReputationAggregateSize, func() ([]byte, error) {
			r := &ReputationAggregate{AgentID: 1, TotalFeedbacks: 3, TotalScoreSum: 240, AverageScore: 80, LastUpdated: 1700000000}
			return r.Marshal()
		}},
		{"response sequence", ResponseSequenceSize, func() ([]byte, error) {
			s := &ResponseSequence{AgentID: 1, Client: client, FeedbackIndex: 2, NextIndex: 4}
			return s.Marshal()
		}},
		{"validation config", ValidationConfigSize, func() ([]byte, error) {
			c := &ValidationConfig{Authority: client, IdentityLedger: address.ForRegistryConfig(), TotalRequests: 1, TotalResponses: 1}
			return c.Marshal()
		}},
		{"validation request", ValidationRequestSize, func() ([]byte, error) {
			r := &ValidationRequest{AgentID: 1, Validator: client, Nonce: 7, RequestHash: testHash(0xaa), CreatedAt: 1700000000}
			return r.Marshal()
		}},
		{"token record", TokenRecordSize, func() ([]byte, error) {
			tok := &TokenRecord{Mint: client, Holder: client, Supply: 1}
			return tok.Marshal()
		}},
		{"agent pointer", AgentPointerSize, func() ([]byte, error) {
			p := &AgentPointer{Mint: client}
			return p.Marshal()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := tt.enc()
			require.NoError(t, err)
			assert.Len(t, raw, tt.size)
		})
	}
}

func TestDeclaredSizeConstants(t *testing.T) {
	assert.Equal(t, 81, ValidationConfigSize)
	assert.Equal(t, 126, ValidationRequestSize)
}

func TestAgentRoundTrip(t *testing.T) {
	agent := &Agent{
		AgentID:  3,
		Owner:    testAddr(0x10),
		Mint:     testAddr(0x20),
		TokenURI: "https://agents.example/3.json",
		Metadata: []MetadataEntry{
			{Key: "model", Value: []byte("gpt-x")},
			{Key: "endpoint", Value: []byte("https://agent.example")},
		},
		CreatedAt: 1700000000,
	}

	raw, err := agent.Marshal()
	require.NoError(t, err)

	decoded, err := DecodeAgent(raw)
	require.NoError(t, err)
	assert.Equal(t, agent, decoded)
}

func TestFeedbackRecordRoundTrip(t *testing.T) {
	feedback := &FeedbackRecord{
		AgentID:       1,
		Client:        testAddr(0x44),
		FeedbackIndex: 2,
		Score:         87,
		Tag1:          testHash(0x01),
		Tag2:          testHash(0x02),
		FileURI:       "ipfs://QmFeedback",
		FileHash:      testHash(0x03),
		IsRevoked:     true,
		CreatedAt:     1700000000,
	}

	raw, err := feedback.Marshal()
	require.NoError(t, err)

	decoded, err := DecodeFeedbackRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, feedback, decoded)
}

func TestValidationRequestRoundTrip(t *testing.T) {
	request := &ValidationRequest{
		AgentID:      9,
		Validator:    testAddr(0x55),
		Nonce:        42,
		RequestHash:  testHash(0x0a),
		ResponseHash: testHash(0x0b),
		Response:     93,
		CreatedAt:    1700000000,
		RespondedAt:  1700000100,
	}

	raw, err := request.Marshal()
	require.NoError(t, err)

	decoded, err := DecodeValidationRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, request, decoded)
}

func TestMarshalEnforcesBounds(t *testing.T) {
	t.Run("token URI too long", func(t *testing.T) {
		agent := &Agent{TokenURI: strings.Repeat("a", MaxURILength+1)}
		_, err := agent.Marshal()
		assert.Error(t, err)
	})

	t.Run("metadata key too long", func(t *testing.T) {
		agent := &Agent{Metadata: []MetadataEntry{{Key: strings.Repeat("k", MaxMetadataKey+1)}}}
		_, err := agent.Marshal()
		assert.Error(t, err)
	})

	t.Run("too many metadata entries", func(t *testing.T) {
		entries := make([]MetadataEntry, MaxMetadataCount+1)
		for i := range entries {
			entries[i] = MetadataEntry{Key: "k"}
		}
		agent := &Agent{Metadata: entries}
		_, err := agent.Marshal()
		assert.Error(t, err)
	})
}

func TestDecodeRejectsWrongDiscriminator(t *testing.T) {
	config := &RegistryConfig{Authority: testAddr(0x01)}
	raw, err := config.Marshal()
	require.NoError(t, err)

	_, err = DecodeAgent(raw)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedRecord(t *testing.T) {
	seq := &ClientSequence{AgentID: 1, Client: testAddr(0x02), LastIndex: 3}
	raw, err := seq.Marshal()
	require.NoError(t, err)

	_, err = DecodeClientSequence(raw[:len(raw)-1])
	assert.Error(t, err)
}

func TestDecodeRejectsOversizedLengthPrefix(t *testing.T) {
	agent := &Agent{AgentID: 1, TokenURI: "x"}
	raw, err := agent.Marshal()
	require.NoError(t, err)

	// Corrupt the URI length prefix (offset 1+8+32+32) to exceed the bound
	raw[73] = 0xff
	raw[74] = 0xff
	_, err = DecodeAgent(raw)
	assert.Error(t, err)
}
