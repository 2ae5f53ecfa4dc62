// Package payload defines the signed authorization layouts and the message
// bodies that carry them. Producers (vaultctl, tests, the off-chain signer) and
// the vault build and parse these through the same code, so the signed bytes
// cannot drift between the two sides.
package payload

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// Signed query ids are 23 bits wide. The 64-bit transport query id carried
// in the outer message is informational only.
const (
	QueryIDBits = 23
	MaxQueryID  = 1<<QueryIDBits - 1
)

var ErrQueryIDRange = errors.New("payload: query id exceeds 23 bits")

// Deposit authorizes crediting a token transfer to a project.
//
// Layout: query_id:uint23 project_id:uint64 created_at:uint64
// token_wallet:MsgAddressInt amount:Coins
type Deposit struct {
	QueryID     uint32
	ProjectID   uint64
	CreatedAt   uint64
	TokenWallet ton.AccountID
	Amount      *big.Int
}

type depositLayout struct {
	QueryID     tlb.Uint23
	ProjectID   uint64
	CreatedAt   uint64
	TokenWallet tlb.MsgAddress
	Amount      tlb.VarUInteger16
}

func (d Deposit) Cell() (*boc.Cell, error) {
	if d.QueryID > MaxQueryID {
		return nil, ErrQueryIDRange
	}
	if err := checkAmount(d.Amount); err != nil {
		return nil, err
	}
	c := boc.NewCell()
	err := tlb.Marshal(c, depositLayout{
		QueryID:     tlb.Uint23(d.QueryID),
		ProjectID:   d.ProjectID,
		CreatedAt:   d.CreatedAt,
		TokenWallet: d.TokenWallet.ToMsgAddress(),
		Amount:      tlb.VarUInteger16(*d.Amount),
	})
	if err != nil {
		return nil, fmt.Errorf("encode deposit: %w", err)
	}
	return c, nil
}

// Hash is the digest the signer signs.
func (d Deposit) Hash() ([32]byte, error) {
	c, err := d.Cell()
	if err != nil {
		return [32]byte{}, err
	}
	return c.Hash256()
}

func ParseDeposit(c *boc.Cell) (Deposit, error) {
	c.ResetCounters()
	var l depositLayout
	if err := tlb.Unmarshal(c, &l); err != nil {
		return Deposit{}, fmt.Errorf("deposit: %w", err)
	}
	wallet, err := stdAddress(l.TokenWallet)
	if err != nil {
		return Deposit{}, fmt.Errorf("token_wallet: %w", err)
	}
	amount := big.Int(l.Amount)
	return Deposit{
		QueryID:     uint32(l.QueryID),
		ProjectID:   l.ProjectID,
		CreatedAt:   l.CreatedAt,
		TokenWallet: wallet,
		Amount:      new(big.Int).Set(&amount),
	}, nil
}

// Withdraw authorizes paying amount out of the vault's token wallet to recipient.
//
// Layout: query_id:uint23 project_id:uint64 created_at:uint64 amount:Coins
// token_wallet:MsgAddressInt recipient:MsgAddressInt
type Withdraw struct {
	QueryID     uint32
	ProjectID   uint64
	CreatedAt   uint64
	Amount      *big.Int
	TokenWallet ton.AccountID
	Recipient   ton.AccountID
}

type withdrawLayout struct {
	QueryID     tlb.Uint23
	ProjectID   uint64
	CreatedAt   uint64
	Amount      tlb.VarUInteger16
	TokenWallet tlb.MsgAddress
	Recipient   tlb.MsgAddress
}

func (w Withdraw) Cell() (*boc.Cell, error) {
	if w.QueryID > MaxQueryID {
		return nil, ErrQueryIDRange
	}
	if err := checkAmount(w.Amount); err != nil {
		return nil, err
	}
	c := boc.NewCell()
	err := tlb.Marshal(c, withdrawLayout{
		QueryID:     tlb.Uint23(w.QueryID),
		ProjectID:   w.ProjectID,
		CreatedAt:   w.CreatedAt,
		Amount:      tlb.VarUInteger16(*w.Amount),
		TokenWallet: w.TokenWallet.ToMsgAddress(),
		Recipient:   w.Recipient.ToMsgAddress(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode withdraw: %w", err)
	}
	return c, nil
}

func (w Withdraw) Hash() ([32]byte, error) {
	c, err := w.Cell()
	if err != nil {
		return [32]byte{}, err
	}
	return c.Hash256()
}

func ParseWithdraw(c *boc.Cell) (Withdraw, error) {
	c.ResetCounters()
	var l withdrawLayout
	if err := tlb.Unmarshal(c, &l); err != nil {
		return Withdraw{}, fmt.Errorf("withdraw: %w", err)
	}
	wallet, err := stdAddress(l.TokenWallet)
	if err != nil {
		return Withdraw{}, fmt.Errorf("token_wallet: %w", err)
	}
	recipient, err := stdAddress(l.Recipient)
	if err != nil {
		return Withdraw{}, fmt.Errorf("recipient: %w", err)
	}
	amount := big.Int(l.Amount)
	return Withdraw{
		QueryID:     uint32(l.QueryID),
		ProjectID:   l.ProjectID,
		CreatedAt:   l.CreatedAt,
		Amount:      new(big.Int).Set(&amount),
		TokenWallet: wallet,
		Recipient:   recipient,
	}, nil
}

func checkAmount(a *big.Int) error {
	if a == nil || a.Sign() < 0 || a.BitLen() > maxCoinsBits {
		return ErrAmount
	}
	return nil
}

func stdAddress(m tlb.MsgAddress) (ton.AccountID, error) {
	if m.SumType != "AddrStd" || m.AddrStd.Anycast.Exists {
		return ton.AccountID{}, ErrInvalidAddress
	}
	return ton.AccountID{Workchain: int32(m.AddrStd.WorkchainId), Address: m.AddrStd.Address}, nil
}
