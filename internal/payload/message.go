package payload

import (
	"errors"
	"math/big"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
)

// Opcode registry. Every value is the first 32 bits of a message body.
//
// unlock and config_timeout were assigned fresh values (crc32 of their TL-B
// schemes); unlock no longer aliases transfer_ownership.
const (
	OpDeposit              uint32 = 0x95db9d39
	OpClaim                uint32 = 0xa769de27
	OpWithdraw             uint32 = 0xb5de5f9e
	OpConfigSigner         uint32 = 0x9c0e0150
	OpTransferOwnership    uint32 = 0xb516d5ff
	OpLock                 uint32 = 0x683a7dab
	OpUnlock               uint32 = 0xeb75d3e2
	OpUpgrade              uint32 = 0xdbfaf817
	OpConfigTimeout        uint32 = 0x18723ccf
	OpTransferNotification uint32 = 0x7362d09c
)

const (
	SignatureSize = 64
	TimeoutBits   = 22
	MaxTimeout    = 1<<TimeoutBits - 1
)

var (
	ErrSignatureSize = errors.New("payload: signature must be 64 bytes")
	ErrTimeoutRange  = errors.New("payload: timeout exceeds 22 bits")
)

// WithdrawMessage body: op:32 query_id:64 signature:512 ^[Withdraw]
type WithdrawMessage struct {
	QueryID   uint64
	Signature []byte
	Auth      Withdraw
}

func (m WithdrawMessage) Cell() (*boc.Cell, error) {
	if len(m.Signature) != SignatureSize {
		return nil, ErrSignatureSize
	}
	auth, err := m.Auth.Cell()
	if err != nil {
		return nil, err
	}
	c, err := header(OpWithdraw, m.QueryID)
	if err != nil {
		return nil, err
	}
	if err := c.WriteBytes(m.Signature); err != nil {
		return nil, err
	}
	if err := c.AddRef(auth); err != nil {
		return nil, err
	}
	return c, nil
}

// DepositForward is the forward payload attached to a token transfer into the
// vault: op:32 signature:512 ^[Deposit]
type DepositForward struct {
	Signature []byte
	Auth      Deposit
}

func (f DepositForward) Cell() (*boc.Cell, error) {
	if len(f.Signature) != SignatureSize {
		return nil, ErrSignatureSize
	}
	auth, err := f.Auth.Cell()
	if err != nil {
		return nil, err
	}
	c := boc.NewCell()
	if err := c.WriteUint(uint64(OpDeposit), 32); err != nil {
		return nil, err
	}
	if err := c.WriteBytes(f.Signature); err != nil {
		return nil, err
	}
	if err := c.AddRef(auth); err != nil {
		return nil, err
	}
	return c, nil
}

// TransferNotification is what the vault's token wallet sends after receiving
// tokens: op:32 query_id:64 amount:Coins from:MsgAddressInt ^[forward payload]
type TransferNotification struct {
	QueryID        uint64
	Amount         *big.Int
	From           ton.AccountID
	ForwardPayload *boc.Cell
}

func (n TransferNotification) Cell() (*boc.Cell, error) {
	c, err := header(OpTransferNotification, n.QueryID)
	if err != nil {
		return nil, err
	}
	if err := WriteCoins(c, n.Amount); err != nil {
		return nil, err
	}
	if err := WriteAddress(c, n.From); err != nil {
		return nil, err
	}
	fwd := n.ForwardPayload
	if fwd == nil {
		fwd = boc.NewCell()
	}
	if err := c.AddRef(fwd); err != nil {
		return nil, err
	}
	return c, nil
}

func header(op uint32, queryID uint64) (*boc.Cell, error) {
	c := boc.NewCell()
	if err := c.WriteUint(uint64(op), 32); err != nil {
		return nil, err
	}
	if err := c.WriteUint(queryID, 64); err != nil {
		return nil, err
	}
	return c, nil
}

// ConfigSignerBody: op query_id:64 key
func ConfigSignerBody(queryID uint64, key []byte) (*boc.Cell, error) {
	c, err := header(OpConfigSigner, queryID)
	if err != nil {
		return nil, err
	}
	if err := c.WriteBytes(key); err != nil {
		return nil, err
	}
	return c, nil
}

// TransferOwnershipBody: op query_id:64 new_admin:MsgAddressInt
func TransferOwnershipBody(queryID uint64, admin ton.AccountID) (*boc.Cell, error) {
	c, err := header(OpTransferOwnership, queryID)
	if err != nil {
		return nil, err
	}
	if err := WriteAddress(c, admin); err != nil {
		return nil, err
	}
	return c, nil
}

func LockBody(queryID uint64) (*boc.Cell, error) {
	return header(OpLock, queryID)
}

func UnlockBody(queryID uint64) (*boc.Cell, error) {
	return header(OpUnlock, queryID)
}

func ClaimBody(queryID uint64) (*boc.Cell, error) {
	return header(OpClaim, queryID)
}

// UpgradeBody: op query_id:64 ^[code]
func UpgradeBody(queryID uint64, code *boc.Cell) (*boc.Cell, error) {
	c, err := header(OpUpgrade, queryID)
	if err != nil {
		return nil, err
	}
	if err := c.AddRef(code); err != nil {
		return nil, err
	}
	return c, nil
}

// ConfigTimeoutBody: op query_id:64 timeout:uint22
func ConfigTimeoutBody(queryID uint64, timeout uint32) (*boc.Cell, error) {
	if timeout > MaxTimeout {
		return nil, ErrTimeoutRange
	}
	c, err := header(OpConfigTimeout, queryID)
	if err != nil {
		return nil, err
	}
	if err := tlb.Marshal(c, tlb.Uint22(timeout)); err != nil {
		return nil, err
	}
	return c, nil
}
