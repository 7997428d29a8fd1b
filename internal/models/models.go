package models

import (
	"github.com/agent-trust/registry/internal/address"
)

// Byte limits enforced at the moment of write
const (
	MaxURILength     = 200
	MaxMetadataKey   = 32
	MaxMetadataValue = 256
	MaxMetadataCount = 10
	HashSize         = 32
	TagSize          = 32
	SignatureSize    = 64
)

// Record type discriminators (first byte of every persisted record)
const (
	TypeRegistryConfig      byte = 0x01
	TypeAgent               byte = 0x02
	TypeMetadataExtension   byte = 0x03
	TypeClientSequence      byte = 0x04
	TypeFeedbackRecord      byte = 0x05
	TypeReputationAggregate byte = 0x06
	TypeResponseSequence    byte = 0x07
	TypeResponseRecord      byte = 0x08
	TypeValidationConfig    byte = 0x09
	TypeValidationRequest   byte = 0x0a
	TypeTokenRecord         byte = 0x0b
	TypeAgentPointer        byte = 0x0c
)

// RegistryConfig is the identity ledger's singleton state. Created once at
// bootstrap, mutated only by agent registration.
type RegistryConfig struct {
	Authority   address.Address `json:"authority"`
	NextAgentID uint64          `json:"next_agent_id"`
	TotalAgents uint64          `json:"total_agents"`
}

// MetadataEntry is one bounded key/value pair on an agent
type MetadataEntry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Agent is a registered identity. The sequential AgentID is assigned once
// and never reused; Owner is a cache of the token holder reported by the
// ownership oracle.
type Agent struct {
	AgentID   uint64          `json:"agent_id"`
	Owner     address.Address `json:"owner"`
	Mint      address.Address `json:"mint"`
	TokenURI  string          `json:"token_uri"`
	Metadata  []MetadataEntry `json:"metadata"`
	CreatedAt int64           `json:"created_at"`
}

// FindMetadata returns the entry with the given key, or nil
func (a *Agent) FindMetadata(key string) *MetadataEntry {
	for i := range a.Metadata {
		if a.Metadata[i].Key == key {
			return &a.Metadata[i]
		}
	}
	return nil
}

// MetadataExtension is an overflow metadata segment beyond the agent's base
// entries. Segments are created on demand per index, each with the same
// entry cap as the base record.
type MetadataExtension struct {
	Mint           address.Address `json:"mint"`
	ExtensionIndex uint8           `json:"extension_index"`
	Metadata       []MetadataEntry `json:"metadata"`
}

// FindMetadata returns the entry with the given key, or nil
func (e *MetadataExtension) FindMetadata(key string) *MetadataEntry {
	for i := range e.Metadata {
		if e.Metadata[i].Key == key {
			return &e.Metadata[i]
		}
	}
	return nil
}

// ClientSequence tracks the next feedback index for one (agent, client)
// pair. LastIndex equals the count of feedback records created so far for
// the pair; it only ever moves forward.
type ClientSequence struct {
	AgentID   uint64          `json:"agent_id"`
	Client    address.Address `json:"client"`
	LastIndex uint64          `json:"last_index"`
}

// FeedbackRecord is one immutable feedback submission. Only IsRevoked is
// ever mutated, and only by the original client; the record itself is
// retained as an audit trail.
type FeedbackRecord struct {
	AgentID       uint64          `json:"agent_id"`
	Client        address.Address `json:"client"`
	FeedbackIndex uint64          `json:"feedback_index"`
	Score         uint8           `json:"score"`
	Tag1          [TagSize]byte   `json:"tag1"`
	Tag2          [TagSize]byte   `json:"tag2"`
	FileURI       string          `json:"file_uri"`
	FileHash      [HashSize]byte  `json:"file_hash"`
	IsRevoked     bool            `json:"is_revoked"`
	CreatedAt     int64           `json:"created_at"`
}

// FeedbackAuth is an owner-signed grant letting a client submit feedback for
// an agent up to an index limit before an expiry. It travels with the
// submission and is never persisted; Signature is an ed25519 signature by
// Signer over SigningMessage.
type FeedbackAuth struct {
	AgentID    uint64              `json:"agent_id"`
	Client     address.Address     `json:"client"`
	IndexLimit uint64              `json:"index_limit"`
	Expiry     int64               `json:"expiry"`
	Signer     address.Address     `json:"signer"`
	Signature  [SignatureSize]byte `json:"signature"`
}

// ReputationAggregate caches running statistics over an agent's non-revoked
// feedback. AverageScore is always recomputed from the sum/count pair.
type ReputationAggregate struct {
	AgentID        uint64 `json:"agent_id"`
	TotalFeedbacks uint64 `json:"total_feedbacks"`
	TotalScoreSum  uint64 `json:"total_score_sum"`
	AverageScore   uint8  `json:"average_score"`
	LastUpdated    int64  `json:"last_updated"`
}

// ResponseSequence tracks the next response index for one feedback entry
type ResponseSequence struct {
	AgentID       uint64          `json:"agent_id"`
	Client        address.Address `json:"client"`
	FeedbackIndex uint64          `json:"feedback_index"`
	NextIndex     uint64          `json:"next_index"`
}

// ResponseRecord is one immutable response to a feedback entry. Any address
// may create one.
type ResponseRecord struct {
	AgentID       uint64          `json:"agent_id"`
	Client        address.Address `json:"client"`
	FeedbackIndex uint64          `json:"feedback_index"`
	ResponseIndex uint64          `json:"response_index"`
	Responder     address.Address `json:"responder"`
	ResponseURI   string          `json:"response_uri"`
	ResponseHash  [HashSize]byte  `json:"response_hash"`
	CreatedAt     int64           `json:"created_at"`
}

// ValidationConfig is the validation ledger's singleton state. Counters
// only ever increase.
type ValidationConfig struct {
	Authority      address.Address `json:"authority"`
	IdentityLedger address.Key     `json:"identity_ledger"`
	TotalRequests  uint64          `json:"total_requests"`
	TotalResponses uint64          `json:"total_responses"`
}

// ValidationRequest is one (agent, validator, nonce) validation case.
// RespondedAt == 0 means pending; once responded, the validator may respond
// again, updating the response fields in place.
type ValidationRequest struct {
	AgentID      uint64          `json:"agent_id"`
	Validator    address.Address `json:"validator"`
	Nonce        uint32          `json:"nonce"`
	RequestHash  [HashSize]byte  `json:"request_hash"`
	ResponseHash [HashSize]byte  `json:"response_hash"`
	Response     uint8           `json:"response"`
	CreatedAt    int64           `json:"created_at"`
	RespondedAt  int64           `json:"responded_at"`
}

// HasResponse reports whether a validator has responded at least once
func (r *ValidationRequest) HasResponse() bool {
	return r.RespondedAt > 0
}

// IsPending reports whether the request is still awaiting a first response
func (r *ValidationRequest) IsPending() bool {
	return r.RespondedAt == 0
}

// TokenRecord is the ownership oracle's view of a single-supply token.
// Supply is always 1 for an agent ownership token.
type TokenRecord struct {
	Mint   address.Address `json:"mint"`
	Holder address.Address `json:"holder"`
	Supply uint8           `json:"supply"`
}

// AgentPointer maps a sequential agent id back to its mint so agent records
// can be resolved from either identifier
type AgentPointer struct {
	Mint address.Address `json:"mint"`
}
