package vault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/payload"
)

// Operation is the closed set of messages the vault understands. The
// unexported marker keeps the set closed to this package.
type Operation interface {
	operation()
}

// Deposit is decoded from a token transfer notification whose forward payload
// carries a signed deposit authorization.
type Deposit struct {
	QueryID   uint64
	Amount    *big.Int
	From      ton.AccountID
	Signature []byte
	Auth      payload.Deposit
	// Digest is the hash of the authorization cell as received.
	Digest [32]byte
}

type Withdraw struct {
	QueryID   uint64
	Signature []byte
	Auth      payload.Withdraw
	Digest    [32]byte
}

type ConfigSigner struct {
	QueryID uint64
	Key     []byte
}

type TransferOwnership struct {
	QueryID  uint64
	NewAdmin ton.AccountID
}

type Lock struct{ QueryID uint64 }

type Unlock struct{ QueryID uint64 }

type Upgrade struct {
	QueryID  uint64
	Code     *boc.Cell
	CodeHash [32]byte
}

type ConfigTimeout struct {
	QueryID uint64
	Timeout uint32
}

// Claim is a reserved opcode; it decodes but is always rejected.
type Claim struct{ QueryID uint64 }

func (Deposit) operation()           {}
func (Withdraw) operation()          {}
func (ConfigSigner) operation()      {}
func (TransferOwnership) operation() {}
func (Lock) operation()              {}
func (Unlock) operation()            {}
func (Upgrade) operation()           {}
func (ConfigTimeout) operation()     {}
func (Claim) operation()             {}

var (
	ErrUnknownOp = errors.New("vault: unknown opcode")
	ErrWorkchain = errors.New("vault: address outside base chain")
)

// Decode parses a message body. keySize is the signer key length of the
// configured signature scheme. The error maps to an exit code via DecodeExit.
func Decode(body *boc.Cell, keySize int) (Operation, error) {
	if body == nil {
		return nil, ErrUnknownOp
	}
	s := body
	s.ResetCounters()
	op, err := s.ReadUint(32)
	if err != nil {
		return nil, ErrUnknownOp
	}
	switch uint32(op) {
	case payload.OpTransferNotification:
		return decodeDeposit(s)
	case payload.OpWithdraw:
		return decodeWithdraw(s)
	case payload.OpConfigSigner:
		qid, err := s.ReadUint(64)
		if err != nil {
			return nil, err
		}
		key, err := s.ReadBytes(keySize)
		if err != nil {
			return nil, fmt.Errorf("signer key: %w", err)
		}
		return ConfigSigner{QueryID: qid, Key: key}, nil
	case payload.OpTransferOwnership:
		qid, err := s.ReadUint(64)
		if err != nil {
			return nil, err
		}
		a, err := loadBaseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("new admin: %w", err)
		}
		return TransferOwnership{QueryID: qid, NewAdmin: a}, nil
	case payload.OpLock:
		qid, err := s.ReadUint(64)
		return Lock{QueryID: qid}, err
	case payload.OpUnlock:
		qid, err := s.ReadUint(64)
		return Unlock{QueryID: qid}, err
	case payload.OpClaim:
		qid, err := s.ReadUint(64)
		return Claim{QueryID: qid}, err
	case payload.OpUpgrade:
		qid, err := s.ReadUint(64)
		if err != nil {
			return nil, err
		}
		code, err := s.NextRef()
		if err != nil {
			return nil, fmt.Errorf("code: %w", err)
		}
		h, err := code.Hash256()
		if err != nil {
			return nil, fmt.Errorf("code: %w", err)
		}
		return Upgrade{QueryID: qid, Code: code, CodeHash: h}, nil
	case payload.OpConfigTimeout:
		qid, err := s.ReadUint(64)
		if err != nil {
			return nil, err
		}
		t, err := s.ReadUint(payload.TimeoutBits)
		if err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
		return ConfigTimeout{QueryID: qid, Timeout: uint32(t)}, nil
	default:
		return nil, fmt.Errorf("%w 0x%08x", ErrUnknownOp, op)
	}
}

func decodeWithdraw(s *boc.Cell) (Operation, error) {
	qid, err := s.ReadUint(64)
	if err != nil {
		return nil, err
	}
	sig, err := s.ReadBytes(payload.SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	ref, err := s.NextRef()
	if err != nil {
		return nil, fmt.Errorf("authorization: %w", err)
	}
	digest, err := ref.Hash256()
	if err != nil {
		return nil, fmt.Errorf("authorization: %w", err)
	}
	auth, err := payload.ParseWithdraw(ref)
	if err != nil {
		return nil, err
	}
	if auth.TokenWallet.Workchain != BaseChain || auth.Recipient.Workchain != BaseChain {
		return nil, ErrWorkchain
	}
	return Withdraw{QueryID: qid, Signature: sig, Auth: auth, Digest: digest}, nil
}

func decodeDeposit(s *boc.Cell) (Operation, error) {
	qid, err := s.ReadUint(64)
	if err != nil {
		return nil, err
	}
	amount, err := payload.ReadCoins(s)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	from, err := payload.ReadAddress(s)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	fs, err := s.NextRef()
	if err != nil {
		return nil, fmt.Errorf("forward payload: %w", err)
	}
	op, err := fs.ReadUint(32)
	if err != nil {
		return nil, err
	}
	if uint32(op) != payload.OpDeposit {
		return nil, fmt.Errorf("%w 0x%08x in forward payload", ErrUnknownOp, op)
	}
	sig, err := fs.ReadBytes(payload.SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	ref, err := fs.NextRef()
	if err != nil {
		return nil, fmt.Errorf("authorization: %w", err)
	}
	digest, err := ref.Hash256()
	if err != nil {
		return nil, fmt.Errorf("authorization: %w", err)
	}
	auth, err := payload.ParseDeposit(ref)
	if err != nil {
		return nil, err
	}
	if auth.TokenWallet.Workchain != BaseChain {
		return nil, ErrWorkchain
	}
	return Deposit{QueryID: qid, Amount: amount, From: from, Signature: sig, Auth: auth, Digest: digest}, nil
}

func loadBaseAddress(s *boc.Cell) (ton.AccountID, error) {
	a, err := payload.ReadAddress(s)
	if err != nil {
		return a, err
	}
	if a.Workchain != BaseChain {
		return a, ErrWorkchain
	}
	return a, nil
}

// DecodeExit maps a Decode error to the exit code reported to the caller.
func DecodeExit(err error) ExitCode {
	if errors.Is(err, payload.ErrInvalidAddress) || errors.Is(err, ErrWorkchain) {
		return InvalidWC
	}
	return InvalidOp
}
