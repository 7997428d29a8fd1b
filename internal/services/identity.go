package services

import (
	"context"
	"errors"
	"time"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/events"
	"github.com/agent-trust/registry/internal/models"
	"github.com/agent-trust/registry/internal/oracle"
	"github.com/agent-trust/registry/internal/storage"
)

// IdentityService owns the agent ledger: sequential id assignment,
// owner-gated mutation, and reconciliation of the cached owner against the
// ownership oracle.
type IdentityService struct {
	db      storage.Backend
	oracle  oracle.Oracle
	emitter events.Emitter
}

// NewIdentityService creates a new identity ledger service
func NewIdentityService(db storage.Backend, orc oracle.Oracle, emitter events.Emitter) *IdentityService {
	return &IdentityService{db: db, oracle: orc, emitter: emitter}
}

// Initialize creates the registry config. Fails with ErrAlreadyInitialized
// if the ledger was bootstrapped before.
func (s *IdentityService) Initialize(ctx context.Context, authority address.Address) (*models.RegistryConfig, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	config := &models.RegistryConfig{Authority: authority}
	raw, err := config.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Create(address.ForRegistryConfig(), raw); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrAlreadyInitialized
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return config, nil
}

// RegisterRequest carries the caller-supplied part of a registration
type RegisterRequest struct {
	Mint     address.Address        `json:"mint"`
	TokenURI string                 `json:"token_uri"`
	Metadata []models.MetadataEntry `json:"metadata"`
}

// Register assigns the next sequential agent id and creates the agent
// record. The caller must hold the ownership token for the mint.
func (s *IdentityService) Register(ctx context.Context, caller address.Address, req RegisterRequest) (*models.Agent, error) {
	if len(req.TokenURI) > models.MaxURILength {
		return nil, ErrURITooLong
	}
	if err := validateEntries(req.Metadata); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	config, err := s.getConfig(tx)
	if err != nil {
		return nil, err
	}
	if err := s.oracle.VerifyHolder(tx, req.Mint, caller); err != nil {
		return nil, err
	}

	agent := &models.Agent{
		AgentID:   config.NextAgentID,
		Owner:     caller,
		Mint:      req.Mint,
		TokenURI:  req.TokenURI,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().Unix(),
	}
	raw, err := agent.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Create(address.ForAgent(req.Mint), raw); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrAgentExists
		}
		return nil, err
	}

	pointer := &models.AgentPointer{Mint: req.Mint}
	rawPointer, err := pointer.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Create(address.ForAgentID(agent.AgentID), rawPointer); err != nil {
		return nil, err
	}

	if config.NextAgentID, err = checkedAdd(config.NextAgentID, 1); err != nil {
		return nil, err
	}
	if config.TotalAgents, err = checkedAdd(config.TotalAgents, 1); err != nil {
		return nil, err
	}
	rawConfig, err := config.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Put(address.ForRegistryConfig(), rawConfig); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.emitter.Emit(events.AgentRegistered{
		AgentID:  agent.AgentID,
		TokenURI: agent.TokenURI,
		Owner:    agent.Owner,
		Mint:     agent.Mint,
	})
	return agent, nil
}

// SetMetadata replaces the value under key, or appends a new entry, failing
// with ErrMetadataLimitReached when the base record is full. Owner only.
func (s *IdentityService) SetMetadata(ctx context.Context, caller address.Address, agentID uint64, key string, value []byte) error {
	if err := validateEntry(key, value); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return err
	}
	if caller != agent.Owner {
		return ErrUnauthorized
	}

	if entry := agent.FindMetadata(key); entry != nil {
		entry.Value = value
	} else {
		if len(agent.Metadata) >= models.MaxMetadataCount {
			return ErrMetadataLimitReached
		}
		agent.Metadata = append(agent.Metadata, models.MetadataEntry{Key: key, Value: value})
	}

	raw, err := agent.Marshal()
	if err != nil {
		return err
	}
	if err := tx.Put(address.ForAgent(agent.Mint), raw); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.emitter.Emit(events.MetadataSet{AgentID: agentID, Key: key, Value: value})
	return nil
}

// RemoveMetadata deletes an entry from the base record. Owner only.
func (s *IdentityService) RemoveMetadata(ctx context.Context, caller address.Address, agentID uint64, key string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return err
	}
	if caller != agent.Owner {
		return ErrUnauthorized
	}

	found := false
	kept := agent.Metadata[:0]
	for _, entry := range agent.Metadata {
		if entry.Key == key {
			found = true
			continue
		}
		kept = append(kept, entry)
	}
	if !found {
		return ErrMetadataNotFound
	}
	agent.Metadata = kept

	raw, err := agent.Marshal()
	if err != nil {
		return err
	}
	if err := tx.Put(address.ForAgent(agent.Mint), raw); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateMetadataExtension creates an overflow segment for entries beyond the
// base record. Owner only; one segment per index.
func (s *IdentityService) CreateMetadataExtension(ctx context.Context, caller address.Address, agentID uint64, extensionIndex uint8) (*models.MetadataExtension, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return nil, err
	}
	if caller != agent.Owner {
		return nil, ErrUnauthorized
	}

	ext := &models.MetadataExtension{Mint: agent.Mint, ExtensionIndex: extensionIndex}
	raw, err := ext.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Create(address.ForMetadataExtension(agent.Mint, extensionIndex), raw); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrExtensionExists
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ext, nil
}

// SetMetadataExtended sets an entry on an overflow segment, with the same
// per-segment cap as the base record. Owner only.
func (s *IdentityService) SetMetadataExtended(ctx context.Context, caller address.Address, agentID uint64, extensionIndex uint8, key string, value []byte) error {
	if err := validateEntry(key, value); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return err
	}
	if caller != agent.Owner {
		return ErrUnauthorized
	}

	rawExt, err := tx.Get(address.ForMetadataExtension(agent.Mint, extensionIndex))
	if errors.Is(err, storage.ErrNotFound) {
		return ErrExtensionNotFound
	}
	if err != nil {
		return err
	}
	ext, err := models.DecodeMetadataExtension(rawExt)
	if err != nil {
		return err
	}

	if entry := ext.FindMetadata(key); entry != nil {
		entry.Value = value
	} else {
		if len(ext.Metadata) >= models.MaxMetadataCount {
			return ErrMetadataLimitReached
		}
		ext.Metadata = append(ext.Metadata, models.MetadataEntry{Key: key, Value: value})
	}

	raw, err := ext.Marshal()
	if err != nil {
		return err
	}
	if err := tx.Put(address.ForMetadataExtension(agent.Mint, extensionIndex), raw); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.emitter.Emit(events.MetadataSet{AgentID: agentID, Key: key, Value: value})
	return nil
}

// SetAgentURI replaces the agent's token URI. Owner only.
func (s *IdentityService) SetAgentURI(ctx context.Context, caller address.Address, agentID uint64, newURI string) error {
	if len(newURI) > models.MaxURILength {
		return ErrURITooLong
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return err
	}
	if caller != agent.Owner {
		return ErrUnauthorized
	}

	oldURI := agent.TokenURI
	agent.TokenURI = newURI
	raw, err := agent.Marshal()
	if err != nil {
		return err
	}
	if err := tx.Put(address.ForAgent(agent.Mint), raw); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.emitter.Emit(events.AgentURISet{AgentID: agentID, OldURI: oldURI, NewURI: newURI})
	return nil
}

// SyncOwner reconciles the cached owner against the ownership oracle. Open
// to any caller: the oracle, not the registry, is the authority on who
// holds the token.
func (s *IdentityService) SyncOwner(ctx context.Context, agentID uint64) (*models.Agent, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	agent, oldOwner, err := s.syncOwnerInTx(tx, agentID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if oldOwner != agent.Owner {
		s.emitter.Emit(events.AgentOwnerSynced{AgentID: agentID, OldOwner: oldOwner, NewOwner: agent.Owner})
	}
	return agent, nil
}

// TransferAgent moves the ownership token to dest and syncs the cached
// owner in the same transaction. The current holder only; transfers to the
// current holder are rejected.
func (s *IdentityService) TransferAgent(ctx context.Context, caller address.Address, agentID uint64, dest address.Address) (*models.Agent, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return nil, err
	}
	holder, err := s.oracle.ResolveOwner(tx, agent.Mint)
	if err != nil {
		return nil, err
	}
	if caller != holder {
		return nil, ErrUnauthorized
	}
	if err := s.oracle.Transfer(tx, agent.Mint, dest); err != nil {
		return nil, err
	}

	oldOwner := agent.Owner
	agent.Owner = dest
	raw, err := agent.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Put(address.ForAgent(agent.Mint), raw); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.emitter.Emit(events.AgentOwnerSynced{AgentID: agentID, OldOwner: oldOwner, NewOwner: dest})
	return agent, nil
}

// GetAgent returns the agent record for a sequential id
func (s *IdentityService) GetAgent(ctx context.Context, agentID uint64) (*models.Agent, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return s.resolveAgent(tx, agentID)
}

// GetExtension returns one metadata overflow segment
func (s *IdentityService) GetExtension(ctx context.Context, agentID uint64, extensionIndex uint8) (*models.MetadataExtension, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return nil, err
	}
	raw, err := tx.Get(address.ForMetadataExtension(agent.Mint, extensionIndex))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrExtensionNotFound
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeMetadataExtension(raw)
}

// GetConfig returns the registry config
func (s *IdentityService) GetConfig(ctx context.Context) (*models.RegistryConfig, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return s.getConfig(tx)
}

// ResolveOwner is the read-only cross-ledger interface: it returns the
// recorded owner for an agent id inside the caller's transaction. The
// reputation and validation ledgers depend on this instead of parsing
// identity records themselves.
func (s *IdentityService) ResolveOwner(tx storage.Tx, agentID uint64) (address.Address, error) {
	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return address.Zero, err
	}
	return agent.Owner, nil
}

// ResolveAgent resolves an agent record by sequential id inside the
// caller's transaction
func (s *IdentityService) ResolveAgent(tx storage.Tx, agentID uint64) (*models.Agent, error) {
	return s.resolveAgent(tx, agentID)
}

func (s *IdentityService) resolveAgent(tx storage.Tx, agentID uint64) (*models.Agent, error) {
	rawPointer, err := tx.Get(address.ForAgentID(agentID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	pointer, err := models.DecodeAgentPointer(rawPointer)
	if err != nil {
		return nil, err
	}
	raw, err := tx.Get(address.ForAgent(pointer.Mint))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeAgent(raw)
}

func (s *IdentityService) syncOwnerInTx(tx storage.Tx, agentID uint64) (*models.Agent, address.Address, error) {
	agent, err := s.resolveAgent(tx, agentID)
	if err != nil {
		return nil, address.Zero, err
	}
	holder, err := s.oracle.ResolveOwner(tx, agent.Mint)
	if err != nil {
		return nil, address.Zero, err
	}
	// Exactly-one-unit rule: the reported holder must hold the whole token
	if err := s.oracle.VerifyHolder(tx, agent.Mint, holder); err != nil {
		return nil, address.Zero, err
	}
	oldOwner := agent.Owner
	if agent.Owner != holder {
		agent.Owner = holder
		raw, err := agent.Marshal()
		if err != nil {
			return nil, address.Zero, err
		}
		if err := tx.Put(address.ForAgent(agent.Mint), raw); err != nil {
			return nil, address.Zero, err
		}
	}
	return agent, oldOwner, nil
}

func (s *IdentityService) getConfig(tx storage.Tx) (*models.RegistryConfig, error) {
	raw, err := tx.Get(address.ForRegistryConfig())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeRegistryConfig(raw)
}

func validateEntry(key string, value []byte) error {
	if len(key) > models.MaxMetadataKey {
		return ErrKeyTooLong
	}
	if len(value) > models.MaxMetadataValue {
		return ErrValueTooLong
	}
	return nil
}

func validateEntries(entries []models.MetadataEntry) error {
	if len(entries) > models.MaxMetadataCount {
		return ErrMetadataLimitReached
	}
	for _, entry := range entries {
		if err := validateEntry(entry.Key, entry.Value); err != nil {
			return err
		}
	}
	return nil
}
