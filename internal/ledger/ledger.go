// Package ledger is the boundary to the external token ledger that actually
// moves tokens. The vault never keeps balances; it only instructs the ledger.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/vault"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrUnknownWallet       = errors.New("ledger: unknown token wallet")
)

// TransferRequest asks the ledger to pay Amount out of TokenWallet to
// Recipient. ID doubles as the idempotency key.
type TransferRequest struct {
	ID          string
	TokenWallet ton.AccountID
	Recipient   ton.AccountID
	Amount      *big.Int
	QueryID     uint32
	ProjectID   uint64
}

// FromEffect builds the request for a transfer_out effect.
func FromEffect(e vault.Effect) TransferRequest {
	return TransferRequest{
		ID:          e.ID,
		TokenWallet: e.TokenWallet,
		Recipient:   e.Counterparty,
		Amount:      new(big.Int).Set(e.Amount),
		QueryID:     e.QueryID,
		ProjectID:   e.ProjectID,
	}
}

type Ledger interface {
	Transfer(ctx context.Context, req TransferRequest) error
	Balance(ctx context.Context, owner ton.AccountID) (*big.Int, error)
}
