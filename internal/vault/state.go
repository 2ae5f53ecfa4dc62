// Package vault is the reward vault state machine: the persisted state, the
// closed set of operations, and Dispatch, which applies one operation to the
// state and yields an exit code plus at most one settlement effect.
//
// Dispatch never returns an error. Every rejection is an ExitCode and leaves
// the state untouched.
package vault

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/payload"
	"github.com/kl456123/reward-vault-ton/internal/replay"
)

// BaseChain is the only workchain the vault accepts for counterparties.
const BaseChain int32 = 0

type State struct {
	Admin          ton.AccountID
	SignerKey      []byte
	Locked         bool
	Timeout        uint32
	TimeoutMutable bool
	// TokenWallet is the vault's own token-custody address. Deposit
	// notifications must come from it and are refused while it is unset.
	TokenWallet *ton.AccountID
	CodeHash    [32]byte
	Replay      *replay.Ledger
}

// Genesis holds the values fixed at deployment.
type Genesis struct {
	Admin          ton.AccountID
	SignerKey      []byte
	Timeout        uint32
	TimeoutMutable bool
	TokenWallet    *ton.AccountID
}

func NewState(g Genesis, keySize int) (*State, error) {
	if err := validateGenesis(g, keySize); err != nil {
		return nil, err
	}
	st := &State{
		Admin:          g.Admin,
		SignerKey:      bytes.Clone(g.SignerKey),
		Timeout:        g.Timeout,
		TimeoutMutable: g.TimeoutMutable,
		Replay:         replay.NewLedger(nil, 0, 0),
	}
	if g.TokenWallet != nil {
		w := *g.TokenWallet
		st.TokenWallet = &w
	}
	return st, nil
}

func validateGenesis(g Genesis, keySize int) error {
	var errs []error
	if g.Admin.Workchain != BaseChain {
		errs = append(errs, fmt.Errorf("admin must be in workchain %d", BaseChain))
	}
	if len(g.SignerKey) != keySize {
		errs = append(errs, fmt.Errorf("signer key must be %d bytes, got %d", keySize, len(g.SignerKey)))
	}
	if g.Timeout == 0 || g.Timeout > payload.MaxTimeout {
		errs = append(errs, fmt.Errorf("timeout must be in 1..%d", payload.MaxTimeout))
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy; Dispatch on the copy leaves the receiver untouched.
func (s *State) Clone() *State {
	c := *s
	c.SignerKey = bytes.Clone(s.SignerKey)
	if s.TokenWallet != nil {
		w := *s.TokenWallet
		c.TokenWallet = &w
	}
	c.Replay = s.Replay.Clone()
	return &c
}

// Data is the read-only view exposed to callers.
type Data struct {
	IsLocked        bool          `json:"is_locked"`
	Admin           string        `json:"admin"`
	SignerPublicKey hexutil.Bytes `json:"signer_public_key"`
	LastCleanTime   uint64        `json:"last_clean_time"`
	Timeout         uint32        `json:"timeout"`
}

func (s *State) Data() Data {
	return Data{
		IsLocked:        s.Locked,
		Admin:           s.Admin.ToRaw(),
		SignerPublicKey: bytes.Clone(s.SignerKey),
		LastCleanTime:   s.Replay.LastCleanTime,
		Timeout:         s.Timeout,
	}
}
