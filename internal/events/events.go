package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agent-trust/registry/internal/address"
)

// Event is one emitted registry notification
type Event interface {
	Name() string
}

// Emitter receives notifications after an operation commits. Services never
// emit for aborted transactions.
type Emitter interface {
	Emit(e Event)
}

// LogEmitter writes events to the process log as JSON
type LogEmitter struct{}

// Emit logs the event with a fresh event id
func (LogEmitter) Emit(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("event %s: marshal failed: %v", e.Name(), err)
		return
	}
	log.Printf("event %s id=%s at=%d %s", e.Name(), uuid.New(), time.Now().Unix(), payload)
}

// NullEmitter discards events
type NullEmitter struct{}

// Emit discards the event
func (NullEmitter) Emit(Event) {}

// AgentRegistered is emitted when a new agent is registered
type AgentRegistered struct {
	AgentID  uint64          `json:"agent_id"`
	TokenURI string          `json:"token_uri"`
	Owner    address.Address `json:"owner"`
	Mint     address.Address `json:"mint"`
}

func (AgentRegistered) Name() string { return "AgentRegistered" }

// MetadataSet is emitted when an agent metadata entry is created or replaced
type MetadataSet struct {
	AgentID uint64 `json:"agent_id"`
	Key     string `json:"key"`
	Value   []byte `json:"value"`
}

func (MetadataSet) Name() string { return "MetadataSet" }

// AgentURISet is emitted when an agent's token URI changes
type AgentURISet struct {
	AgentID uint64 `json:"agent_id"`
	OldURI  string `json:"old_uri"`
	NewURI  string `json:"new_uri"`
}

func (AgentURISet) Name() string { return "AgentUriSet" }

// AgentOwnerSynced is emitted when the cached owner is reconciled against
// the ownership oracle
type AgentOwnerSynced struct {
	AgentID  uint64          `json:"agent_id"`
	OldOwner address.Address `json:"old_owner"`
	NewOwner address.Address `json:"new_owner"`
}

func (AgentOwnerSynced) Name() string { return "AgentOwnerSynced" }

// NewFeedback is emitted when feedback is given
type NewFeedback struct {
	AgentID       uint64               `json:"agent_id"`
	Client        address.Address      `json:"client"`
	FeedbackIndex uint64               `json:"feedback_index"`
	Score         uint8                `json:"score"`
	Tag1          [32]byte             `json:"tag1"`
	Tag2          [32]byte             `json:"tag2"`
	FileURI       string               `json:"file_uri"`
	FileHash      [32]byte             `json:"file_hash"`
}

func (NewFeedback) Name() string { return "NewFeedback" }

// FeedbackRevoked is emitted when a client revokes its feedback
type FeedbackRevoked struct {
	AgentID       uint64          `json:"agent_id"`
	Client        address.Address `json:"client"`
	FeedbackIndex uint64          `json:"feedback_index"`
}

func (FeedbackRevoked) Name() string { return "FeedbackRevoked" }

// ResponseAppended is emitted when a response is appended to feedback
type ResponseAppended struct {
	AgentID       uint64          `json:"agent_id"`
	Client        address.Address `json:"client"`
	FeedbackIndex uint64          `json:"feedback_index"`
	ResponseIndex uint64          `json:"response_index"`
	Responder     address.Address `json:"responder"`
	ResponseURI   string          `json:"response_uri"`
}

func (ResponseAppended) Name() string { return "ResponseAppended" }

// ValidationRequested is emitted when an agent owner requests validation
type ValidationRequested struct {
	AgentID     uint64          `json:"agent_id"`
	Validator   address.Address `json:"validator"`
	Nonce       uint32          `json:"nonce"`
	RequestURI  string          `json:"request_uri"`
	RequestHash [32]byte        `json:"request_hash"`
	Requester   address.Address `json:"requester"`
	CreatedAt   int64           `json:"created_at"`
}

func (ValidationRequested) Name() string { return "ValidationRequested" }

// ValidationResponded is emitted on every validator response, first or
// subsequent
type ValidationResponded struct {
	AgentID      uint64          `json:"agent_id"`
	Validator    address.Address `json:"validator"`
	Nonce        uint32          `json:"nonce"`
	Response     uint8           `json:"response"`
	ResponseURI  string          `json:"response_uri"`
	ResponseHash [32]byte        `json:"response_hash"`
	Tag          [32]byte        `json:"tag"`
	RespondedAt  int64           `json:"responded_at"`
}

func (ValidationResponded) Name() string { return "ValidationResponded" }

// ValidationClosed is emitted when a request record is removed
type ValidationClosed struct {
	AgentID   uint64          `json:"agent_id"`
	Validator address.Address `json:"validator"`
	Nonce     uint32          `json:"nonce"`
	Receiver  address.Address `json:"receiver"`
}

func (ValidationClosed) Name() string { return "ValidationClosed" }
