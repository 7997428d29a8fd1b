package oracle

import (
	"errors"

	"github.com/agent-trust/registry/internal/address"
	"github.com/agent-trust/registry/internal/models"
	"github.com/agent-trust/registry/internal/storage"
)

var (
	// ErrTokenNotFound is returned when no token exists for a mint
	ErrTokenNotFound = errors.New("ownership token not found")

	// ErrInvalidTokenAccount is returned when the holder does not hold
	// exactly one unit of the token
	ErrInvalidTokenAccount = errors.New("invalid token account: does not hold the agent token")

	// ErrTransferToSelf is returned when a transfer's source and destination
	// resolve to the same holder
	ErrTransferToSelf = errors.New("transfer source and destination are the same holder")
)

// Oracle reports and enforces the current holder of an agent's ownership
// token. Every method runs inside the caller's transaction so ownership
// checks and the ledger writes that depend on them commit or abort together.
type Oracle interface {
	// ResolveOwner returns the current holder of the token for mint
	ResolveOwner(tx storage.Tx, mint address.Address) (address.Address, error)

	// VerifyHolder checks that holder holds exactly one unit of the token,
	// failing with ErrInvalidTokenAccount otherwise
	VerifyHolder(tx storage.Tx, mint, holder address.Address) error

	// Transfer moves the token from its current holder to dest
	Transfer(tx storage.Tx, mint, dest address.Address) error
}

// TokenLedger is the reference oracle: single-supply token records stored in
// the same backend under the token tag. It stands in for the external token
// program the registry scopes out.
type TokenLedger struct{}

// NewTokenLedger creates the reference oracle
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{}
}

// Mint creates a new single-supply token held by holder. Fails if a token
// for the mint already exists.
func (l *TokenLedger) Mint(tx storage.Tx, mint, holder address.Address) error {
	token := &models.TokenRecord{Mint: mint, Holder: holder, Supply: 1}
	raw, err := token.Marshal()
	if err != nil {
		return err
	}
	return tx.Create(address.ForToken(mint), raw)
}

// ResolveOwner returns the current holder of the token for mint
func (l *TokenLedger) ResolveOwner(tx storage.Tx, mint address.Address) (address.Address, error) {
	token, err := l.get(tx, mint)
	if err != nil {
		return address.Zero, err
	}
	return token.Holder, nil
}

// VerifyHolder checks that holder holds exactly one unit of the token
func (l *TokenLedger) VerifyHolder(tx storage.Tx, mint, holder address.Address) error {
	token, err := l.get(tx, mint)
	if err != nil {
		return err
	}
	if token.Supply != 1 || token.Holder != holder {
		return ErrInvalidTokenAccount
	}
	return nil
}

// Transfer moves the token from its current holder to dest
func (l *TokenLedger) Transfer(tx storage.Tx, mint, dest address.Address) error {
	token, err := l.get(tx, mint)
	if err != nil {
		return err
	}
	if token.Holder == dest {
		return ErrTransferToSelf
	}
	token.Holder = dest
	raw, err := token.Marshal()
	if err != nil {
		return err
	}
	return tx.Put(address.ForToken(mint), raw)
}

func (l *TokenLedger) get(tx storage.Tx, mint address.Address) (*models.TokenRecord, error) {
	raw, err := tx.Get(address.ForToken(mint))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return models.DecodeTokenRecord(raw)
}
