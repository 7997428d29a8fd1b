package services

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/events"
	"github.com/agent-trust/registry/internal/models"
	"github.com/agent-trust/registry/internal/storage"
)

// ReputationService owns per-(agent, client) feedback sequences, the cached
// per-agent aggregate, and per-feedback response threads.
type ReputationService struct {
	db       storage.Backend
	identity *IdentityService
	emitter  events.Emitter
}

// NewReputationService creates a new reputation ledger service
func NewReputationService(db storage.Backend, identity *IdentityService, emitter events.Emitter) *ReputationService {
	return &ReputationService{db: db, identity: identity, emitter: emitter}
}

// FeedbackRequest carries the caller-supplied part of a feedback submission.
// Auth is optional; when present it must be a valid owner-signed grant
// covering this submission.
type FeedbackRequest struct {
	AgentID       uint64               `json:"agent_id"`
	Score         uint8                `json:"score"`
	Tag1          [32]byte             `json:"tag1"`
	Tag2          [32]byte             `json:"tag2"`
	FileURI       string               `json:"file_uri"`
	FileHash      [32]byte             `json:"file_hash"`
	ExpectedIndex uint64               `json:"expected_index"`
	Auth          *models.FeedbackAuth `json:"auth,omitempty"`
}

// verifyFeedbackAuth checks an owner-signed grant against the submission it
// accompanies: the grant must name this client and agent, be signed by the
// agent's current owner, not be expired, and still have room under its index
// limit for the feedback index about to be written.
func verifyFeedbackAuth(auth *models.FeedbackAuth, agent *models.Agent, client address.Address, nextIndex uint64, now int64) error {
	if auth.AgentID != agent.AgentID {
		return ErrAuthAgentMismatch
	}
	if auth.Client != client {
		return ErrAuthClientMismatch
	}
	if auth.Signer != agent.Owner {
		return ErrUnauthorizedSigner
	}
	if auth.Expiry <= now {
		return ErrAuthExpired
	}
	if nextIndex >= auth.IndexLimit {
		return ErrAuthIndexLimitExceeded
	}
	if !ed25519.Verify(auth.Signer[:], auth.SigningMessage(), auth.Signature[:]) {
		return ErrInvalidAuthSignature
	}
	return nil
}

// GiveFeedback records one immutable feedback entry and folds its score
// into the agent's aggregate. The caller must supply the exact next index
// of its own sequence: racing duplicate submissions all but one fail with
// ErrInvalidFeedbackIndex instead of overwriting each other.
func (s *ReputationService) GiveFeedback(ctx context.Context, client address.Address, req FeedbackRequest) (*models.FeedbackRecord, error) {
	if req.Score > 100 {
		return nil, ErrInvalidScore
	}
	if len(req.FileURI) > models.MaxURILength {
		return nil, ErrURITooLong
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	agent, err := s.identity.ResolveAgent(tx, req.AgentID)
	if err != nil {
		return nil, err
	}

	seqKey := address.ForClientSequence(req.AgentID, client)
	seq := &models.ClientSequence{AgentID: req.AgentID, Client: client}
	rawSeq, err := tx.Get(seqKey)
	if err == nil {
		if seq, err = models.DecodeClientSequence(rawSeq); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if req.ExpectedIndex != seq.LastIndex {
		return nil, ErrInvalidFeedbackIndex
	}
	if req.Auth != nil {
		if err := verifyFeedbackAuth(req.Auth, agent, client, seq.LastIndex, time.Now().Unix()); err != nil {
			return nil, err
		}
	}

	feedback := &models.FeedbackRecord{
		AgentID:       req.AgentID,
		Client:        client,
		FeedbackIndex: seq.LastIndex,
		Score:         req.Score,
		Tag1:          req.Tag1,
		Tag2:          req.Tag2,
		FileURI:       req.FileURI,
		FileHash:      req.FileHash,
		CreatedAt:     time.Now().Unix(),
	}
	rawFeedback, err := feedback.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Create(address.ForFeedback(req.AgentID, client, feedback.FeedbackIndex), rawFeedback); err != nil {
		return nil, err
	}

	if seq.LastIndex, err = checkedAdd(seq.LastIndex, 1); err != nil {
		return nil, err
	}
	if rawSeq, err = seq.Marshal(); err != nil {
		return nil, err
	}
	if err := tx.Put(seqKey, rawSeq); err != nil {
		return nil, err
	}

	aggregate, err := s.getOrInitAggregate(tx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if aggregate.TotalFeedbacks, err = checkedAdd(aggregate.TotalFeedbacks, 1); err != nil {
		return nil, err
	}
	if aggregate.TotalScoreSum, err = checkedAdd(aggregate.TotalScoreSum, uint64(req.Score)); err != nil {
		return nil, err
	}
	recomputeAverage(aggregate)
	aggregate.LastUpdated = time.Now().Unix()
	if err := s.putAggregate(tx, aggregate); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.emitter.Emit(events.NewFeedback{
		AgentID:       feedback.AgentID,
		Client:        feedback.Client,
		FeedbackIndex: feedback.FeedbackIndex,
		Score:         feedback.Score,
		Tag1:          feedback.Tag1,
		Tag2:          feedback.Tag2,
		FileURI:       feedback.FileURI,
		FileHash:      feedback.FileHash,
	})
	return feedback, nil
}

// RevokeFeedback marks a feedback entry revoked and backs its score out of
// the aggregate. The original client only; the record itself is retained.
func (s *ReputationService) RevokeFeedback(ctx context.Context, caller address.Address, agentID uint64, client address.Address, feedbackIndex uint64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	feedbackKey := address.ForFeedback(agentID, client, feedbackIndex)
	raw, err := tx.Get(feedbackKey)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrFeedbackNotFound
	}
	if err != nil {
		return err
	}
	feedback, err := models.DecodeFeedbackRecord(raw)
	if err != nil {
		return err
	}
	if caller != feedback.Client {
		return ErrUnauthorizedClient
	}
	if feedback.IsRevoked {
		return ErrAlreadyRevoked
	}

	feedback.IsRevoked = true
	if raw, err = feedback.Marshal(); err != nil {
		return err
	}
	if err := tx.Put(feedbackKey, raw); err != nil {
		return err
	}

	aggregate, err := s.getOrInitAggregate(tx, agentID)
	if err != nil {
		return err
	}
	// Underflow here means the aggregate diverged from the feedback records,
	// which is a consistency bug, not a caller error
	if aggregate.TotalFeedbacks, err = checkedSub(aggregate.TotalFeedbacks, 1); err != nil {
		return err
	}
	if aggregate.TotalScoreSum, err = checkedSub(aggregate.TotalScoreSum, uint64(feedback.Score)); err != nil {
		return err
	}
	recomputeAverage(aggregate)
	aggregate.LastUpdated = time.Now().Unix()
	if err := s.putAggregate(tx, aggregate); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.emitter.Emit(events.FeedbackRevoked{AgentID: agentID, Client: client, FeedbackIndex: feedbackIndex})
	return nil
}

// ResponseRequest carries the caller-supplied part of a feedback response
type ResponseRequest struct {
	AgentID       uint64          `json:"agent_id"`
	Client        address.Address `json:"client"`
	FeedbackIndex uint64          `json:"feedback_index"`
	ResponseURI   string          `json:"response_uri"`
	ResponseHash  [32]byte        `json:"response_hash"`
}

// AppendResponse adds one immutable response to an existing feedback entry.
// Open to any caller; the aggregate is untouched.
func (s *ReputationService) AppendResponse(ctx context.Context, responder address.Address, req ResponseRequest) (*models.ResponseRecord, error) {
	if len(req.ResponseURI) > models.MaxURILength {
		return nil, ErrURITooLong
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	exists, err := tx.Exists(address.ForFeedback(req.AgentID, req.Client, req.FeedbackIndex))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrFeedbackNotFound
	}

	seqKey := address.ForResponseSequence(req.AgentID, req.Client, req.FeedbackIndex)
	seq := &models.ResponseSequence{AgentID: req.AgentID, Client: req.Client, FeedbackIndex: req.FeedbackIndex}
	rawSeq, err := tx.Get(seqKey)
	if err == nil {
		if seq, err = models.DecodeResponseSequence(rawSeq); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	response := &models.ResponseRecord{
		AgentID:       req.AgentID,
		Client:        req.Client,
		FeedbackIndex: req.FeedbackIndex,
		ResponseIndex: seq.NextIndex,
		Responder:     responder,
		ResponseURI:   req.ResponseURI,
		ResponseHash:  req.ResponseHash,
		CreatedAt:     time.Now().Unix(),
	}
	rawResponse, err := response.Marshal()
	if err != nil {
		return nil, err
	}
	if err := tx.Create(address.ForResponse(req.AgentID, req.Client, req.FeedbackIndex, response.ResponseIndex), rawResponse); err != nil {
		return nil, err
	}

	if seq.NextIndex, err = checkedAdd(seq.NextIndex, 1); err != nil {
		return nil, err
	}
	if rawSeq, err = seq.Marshal(); err != nil {
		return nil, err
	}
	if err := tx.Put(seqKey, rawSeq); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.emitter.Emit(events.ResponseAppended{
		AgentID:       response.AgentID,
		Client:        response.Client,
		FeedbackIndex: response.FeedbackIndex,
		ResponseIndex: response.ResponseIndex,
		Responder:     response.Responder,
		ResponseURI:   response.ResponseURI,
	})
	return response, nil
}

// GetFeedback returns one feedback record
func (s *ReputationService) GetFeedback(ctx context.Context, agentID uint64, client address.Address, feedbackIndex uint64) (*models.FeedbackRecord, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	raw, err := tx.Get(address.ForFeedback(agentID, client, feedbackIndex))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrFeedbackNotFound
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeFeedbackRecord(raw)
}

// GetResponse returns one response record
func (s *ReputationService) GetResponse(ctx context.Context, agentID uint64, client address.Address, feedbackIndex, responseIndex uint64) (*models.ResponseRecord, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	raw, err := tx.Get(address.ForResponse(agentID, client, feedbackIndex, responseIndex))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrResponseNotFound
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeResponseRecord(raw)
}

// GetSummary returns the agent's aggregate statistics. An agent with no
// feedback yet gets a zero aggregate.
func (s *ReputationService) GetSummary(ctx context.Context, agentID uint64) (*models.ReputationAggregate, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := s.identity.ResolveAgent(tx, agentID); err != nil {
		return nil, err
	}
	return s.getOrInitAggregate(tx, agentID)
}

func (s *ReputationService) getOrInitAggregate(tx storage.Tx, agentID uint64) (*models.ReputationAggregate, error) {
	raw, err := tx.Get(address.ForReputationAggregate(agentID))
	if errors.Is(err, storage.ErrNotFound) {
		return &models.ReputationAggregate{AgentID: agentID}, nil
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeReputationAggregate(raw)
}

func (s *ReputationService) putAggregate(tx storage.Tx, aggregate *models.ReputationAggregate) error {
	raw, err := aggregate.Marshal()
	if err != nil {
		return err
	}
	return tx.Put(address.ForReputationAggregate(aggregate.AgentID), raw)
}

// recomputeAverage derives the cached average from the sum/count pair,
// truncating, with zero feedbacks yielding zero
func recomputeAverage(aggregate *models.ReputationAggregate) {
	if aggregate.TotalFeedbacks == 0 {
		aggregate.AverageScore = 0
		return
	}
	aggregate.AverageScore = uint8(aggregate.TotalScoreSum / aggregate.TotalFeedbacks)
}
