package services

import (
	"context"
	"errors"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/models"
	"github.com/agent-trust/registry/internal/oracle"
	"github.com/agent-trust/registry/internal/storage"
)

// TokenService exposes the reference token ledger. It exists so ownership
// tokens can be minted and inspected without going through an external token
// program.
type TokenService struct {
	db     storage.Backend
	ledger *oracle.TokenLedger
}

// NewTokenService creates a new token service
func NewTokenService(db storage.Backend, ledger *oracle.TokenLedger) *TokenService {
	return &TokenService{db: db, ledger: ledger}
}

// Mint creates a single-supply ownership token held by holder
func (s *TokenService) Mint(ctx context.Context, mint, holder address.Address) (*models.TokenRecord, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.ledger.Mint(tx, mint, holder); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrTokenExists
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &models.TokenRecord{Mint: mint, Holder: holder, Supply: 1}, nil
}

// Get returns the token record for a mint
func (s *TokenService) Get(ctx context.Context, mint address.Address) (*models.TokenRecord, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	raw, err := tx.Get(address.ForToken(mint))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, oracle.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeTokenRecord(raw)
}
