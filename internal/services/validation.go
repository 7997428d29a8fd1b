package services

import (
	"context"
	"errors"
	"time"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/events"
	"github.com/agent-trust/registry/internal/models"
	"github.com/agent-trust/registry/internal/storage"
)

// ValidationService owns the request/response state machine per
// (agent, validator, nonce). A request starts pending and becomes responded
// on the first validator response; later responses update it in place
// (progressive validation), so there is no terminal state.
type ValidationService struct {
	db       storage.Backend
	identity *IdentityService
	emitter  events.Emitter
}

// NewValidationService creates a new validation ledger service
func NewValidationService(db storage.Backend, identity *IdentityService, emitter events.Emitter) *ValidationService {
	return &ValidationService{db: db, identity: identity, emitter: emitter}
}

// Initialize creates the validation config. Fails with ErrAlreadyInitialized
// if the ledger was bootstrapped before.
func (s *ValidationService) Initialize(ctx context.Context, authority address.Address) (*models.ValidationConfig, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	config := &models.ValidationConfig{
		Authority:      authority,
		IdentityLedger: address.ForRegistryConfig(),
	}
	raw, err := config.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Create(address.ForValidationConfig(), raw); err != nil {
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

// ValidationRequestInput carries the caller-supplied part of a validation
// request
type ValidationRequestInput struct {
	AgentID     uint64          `json:"agent_id"`
	Validator   address.Address `json:"validator"`
	Nonce       uint32          `json:"nonce"`
	RequestURI  string          `json:"request_uri"`
	RequestHash [32]byte        `json:"request_hash"`
}

// RequestValidation opens a validation case for an agent. The requester
// must be the agent's current owner as recorded by the identity ledger.
// The request URI travels in the emitted event only; the record keeps the
// hash.
func (s *ValidationService) RequestValidation(ctx context.Context, requester address.Address, req ValidationRequestInput) (*models.ValidationRequest, error) {
	if len(req.RequestURI) > models.MaxURILength {
		return nil, ErrURITooLong
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
	owner, err := s.identity.ResolveOwner(tx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if requester != owner {
		return nil, ErrUnauthorizedRequester
	}

	request := &models.ValidationRequest{
		AgentID:     req.AgentID,
		Validator:   req.Validator,
		Nonce:       req.Nonce,
		RequestHash: req.RequestHash,
		CreatedAt:   time.Now().Unix(),
	}
	raw, err := request.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Create(address.ForValidationRequest(req.AgentID, req.Validator, req.Nonce), raw); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrRequestExists
		}
		return nil, err
	}

	if config.TotalRequests, err = checkedAdd(config.TotalRequests, 1); err != nil {
		return nil, err
	}
	if err := s.putConfig(tx, config); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.emitter.Emit(events.ValidationRequested{
		AgentID:     request.AgentID,
		Validator:   request.Validator,
		Nonce:       request.Nonce,
		RequestURI:  req.RequestURI,
		RequestHash: request.RequestHash,
		Requester:   requester,
		CreatedAt:   request.CreatedAt,
	})
	return request, nil
}

// ValidationResponseInput carries the caller-supplied part of a validator
// response
type ValidationResponseInput struct {
	AgentID      uint64          `json:"agent_id"`
	Validator    address.Address `json:"validator"`
	Nonce        uint32          `json:"nonce"`
	Response     uint8           `json:"response"`
	ResponseURI  string          `json:"response_uri"`
	ResponseHash [32]byte        `json:"response_hash"`
	Tag          [32]byte        `json:"tag"`
}

// RespondToValidation records the designated validator's response. The
// total-responses counter moves only on the pending-to-responded
// transition; every later call just updates the response in place.
func (s *ValidationService) RespondToValidation(ctx context.Context, caller address.Address, req ValidationResponseInput) (*models.ValidationRequest, error) {
	return s.respond(ctx, caller, req)
}

// UpdateValidation is the re-validation entry point. It runs the identical
// logic to RespondToValidation.
func (s *ValidationService) UpdateValidation(ctx context.Context, caller address.Address, req ValidationResponseInput) (*models.ValidationRequest, error) {
	return s.respond(ctx, caller, req)
}

func (s *ValidationService) respond(ctx context.Context, caller address.Address, req ValidationResponseInput) (*models.ValidationRequest, error) {
	if req.Response > 100 {
		return nil, ErrInvalidResponse
	}
	if len(req.ResponseURI) > models.MaxURILength {
		return nil, ErrURITooLong
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	requestKey := address.ForValidationRequest(req.AgentID, req.Validator, req.Nonce)
	raw, err := tx.Get(requestKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	request, err := models.DecodeValidationRequest(raw)
	if err != nil {
		return nil, err
	}
	if caller != request.Validator {
		return nil, ErrUnauthorizedValidator
	}

	firstResponse := request.IsPending()
	request.Response = req.Response
	request.ResponseHash = req.ResponseHash
	request.RespondedAt = time.Now().Unix()
	if raw, err = request.Marshal(); err != nil {
		return nil, err
	}
	if err := tx.Put(requestKey, raw); err != nil {
		return nil, err
	}

	if firstResponse {
		config, err := s.getConfig(tx)
		if err != nil {
			return nil, err
		}
		if config.TotalResponses, err = checkedAdd(config.TotalResponses, 1); err != nil {
			return nil, err
		}
		if err := s.putConfig(tx, config); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.emitter.Emit(events.ValidationResponded{
		AgentID:      request.AgentID,
		Validator:    request.Validator,
		Nonce:        request.Nonce,
		Response:     request.Response,
		ResponseURI:  req.ResponseURI,
		ResponseHash: request.ResponseHash,
		Tag:          req.Tag,
		RespondedAt:  request.RespondedAt,
	})
	return request, nil
}

// CloseValidation removes a request record, releasing its backing resources
// to the receiver. Only the designated validator or the agent's current
// owner may close; counters are untouched.
func (s *ValidationService) CloseValidation(ctx context.Context, caller address.Address, agentID uint64, validator address.Address, nonce uint32, receiver address.Address) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	requestKey := address.ForValidationRequest(agentID, validator, nonce)
	raw, err := tx.Get(requestKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	request, err := models.DecodeValidationRequest(raw)
	if err != nil {
		return err
	}

	owner, err := s.identity.ResolveOwner(tx, agentID)
	if err != nil {
		return err
	}
	if caller != request.Validator && caller != owner {
		return ErrUnauthorizedValidator
	}

	if err := tx.Delete(requestKey); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.emitter.Emit(events.ValidationClosed{
		AgentID:   agentID,
		Validator: validator,
		Nonce:     nonce,
		Receiver:  receiver,
	})
	return nil
}

// GetRequest returns one validation request
func (s *ValidationService) GetRequest(ctx context.Context, agentID uint64, validator address.Address, nonce uint32) (*models.ValidationRequest, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	raw, err := tx.Get(address.ForValidationRequest(agentID, validator, nonce))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeValidationRequest(raw)
}

// GetConfig returns the validation config
func (s *ValidationService) GetConfig(ctx context.Context) (*models.ValidationConfig, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return s.getConfig(tx)
}

func (s *ValidationService) getConfig(tx storage.Tx) (*models.ValidationConfig, error) {
	raw, err := tx.Get(address.ForValidationConfig())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeValidationConfig(raw)
}

func (s *ValidationService) putConfig(tx storage.Tx, config *models.ValidationConfig) error {
	raw, err := config.Marshal()
	if err != nil {
		return err
	}
	return tx.Put(address.ForValidationConfig(), raw)
}
