package address

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// Size is the width of an address or derived storage key in bytes
const Size = 32

// Address identifies a caller, owner, validator or token mint
type Address [Size]byte

// Key is a derived storage location in the backend's addressing space
type Key [Size]byte

// Zero is the all-zero address (used as the "unset" value)
var Zero Address

// String renders the address in base58
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether the address is unset
func (a Address) IsZero() bool {
	return a == Zero
}

// MarshalJSON renders the address as a base58 string
func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON parses a base58 address string
func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid address literal %s", data)
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse decodes a base58 address string
func Parse(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != Size {
		return Zero, fmt.Errorf("invalid address %q: got %d bytes, want %d", s, len(raw), Size)
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// String renders the derived key in base58
func (k Key) String() string {
	return base58.Encode(k[:])
}

// MarshalJSON renders the key as a base58 string
func (k Key) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON parses a base58 key string
func (k *Key) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid key literal %s", data)
	}
	raw, err := base58.Decode(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("invalid key: %w", err)
	}
	if len(raw) != Size {
		return fmt.Errorf("invalid key: got %d bytes, want %d", len(raw), Size)
	}
	copy(k[:], raw)
	return nil
}

// Derive hashes a tag and an ordered list of fixed-width identifier
// encodings into a storage key. The same tag and parts always produce the
// same key, so any caller holding the semantic identifiers can locate a
// record without an index lookup. Every record type gets its key through
// one of the For* helpers below; nothing else may derive keys.
func Derive(tag string, parts ...[]byte) Key {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(tag))
	for _, p := range parts {
		h.Write(p)
	}
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// U64 encodes an identifier as 8 little-endian bytes
func U64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// U32 encodes an identifier as 4 little-endian bytes
func U32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// ForRegistryConfig derives the identity ledger's singleton config key
func ForRegistryConfig() Key {
	return Derive("registry_config")
}

// ForAgent derives the agent record key from its token mint
func ForAgent(mint Address) Key {
	return Derive("agent", mint[:])
}

// ForAgentID derives the agent-id pointer key. The pointer record maps a
// sequential agent id back to the mint so cross-ledger reads can resolve
// an agent without knowing its mint.
func ForAgentID(agentID uint64) Key {
	return Derive("agent_id", U64(agentID))
}

// ForMetadataExtension derives a metadata overflow segment key
func ForMetadataExtension(mint Address, index uint8) Key {
	return Derive("metadata_ext", mint[:], []byte{index})
}

// ForClientSequence derives the per-(agent, client) feedback sequence key
func ForClientSequence(agentID uint64, client Address) Key {
	return Derive("client_index", U64(agentID), client[:])
}

// ForFeedback derives a feedback record key
func ForFeedback(agentID uint64, client Address, feedbackIndex uint64) Key {
	return Derive("feedback", U64(agentID), client[:], U64(feedbackIndex))
}

// ForReputationAggregate derives the per-agent aggregate key
func ForReputationAggregate(agentID uint64) Key {
	return Derive("agent_reputation", U64(agentID))
}

// ForResponseSequence derives the per-feedback response sequence key
func ForResponseSequence(agentID uint64, client Address, feedbackIndex uint64) Key {
	return Derive("response_index", U64(agentID), client[:], U64(feedbackIndex))
}

// ForResponse derives a response record key
func ForResponse(agentID uint64, client Address, feedbackIndex, responseIndex uint64) Key {
	return Derive("response", U64(agentID), client[:], U64(feedbackIndex), U64(responseIndex))
}

// ForValidationConfig derives the validation ledger's singleton config key
func ForValidationConfig() Key {
	return Derive("validation_config")
}

// ForValidationRequest derives a validation request key
func ForValidationRequest(agentID uint64, validator Address, nonce uint32) Key {
	return Derive("validation_request", U64(agentID), validator[:], U32(nonce))
}

// ForToken derives an ownership token record key from its mint
func ForToken(mint Address) Key {
	return Derive("token", mint[:])
}
