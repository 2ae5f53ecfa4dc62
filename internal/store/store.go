// Package store persists the vault state, the replay ledger and committed
// effects.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/replay"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

// ErrNotInitialized is returned by Load before the genesis state was written.
var ErrNotInitialized = errors.New("store: vault not initialized")

// ErrAlreadyInitialized is returned by Init when a state already exists.
var ErrAlreadyInitialized = errors.New("store: vault already initialized")

// Memory keeps the state in process. Committed effects are sent on the
// effects channel, if one is given.
type Memory struct {
	st      *vault.State
	effects chan<- vault.Effect
}

func NewMemory(effects chan<- vault.Effect) *Memory {
	return &Memory{effects: effects}
}

func (m *Memory) Load(context.Context) (*vault.State, error) {
	if m.st == nil {
		return nil, ErrNotInitialized
	}
	return m.st.Clone(), nil
}

func (m *Memory) Init(_ context.Context, st *vault.State) error {
	if m.st != nil {
		return ErrAlreadyInitialized
	}
	m.st = st.Clone()
	return nil
}

// Commit is called with the engine lock held, one call at a time.
func (m *Memory) Commit(ctx context.Context, st *vault.State, _ vault.Journal, e *vault.Effect) error {
	if e != nil && m.effects != nil {
		select {
		case m.effects <- *e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.st = st.Clone()
	return nil
}

// State hash fields.
const (
	fieldAdmin          = "admin"
	fieldSignerKey      = "signer_key"
	fieldLocked         = "locked"
	fieldTimeout        = "timeout"
	fieldTimeoutMutable = "timeout_mutable"
	fieldTokenWallet    = "token_wallet"
	fieldCodeHash       = "code_hash"
	fieldLastCleanTime  = "last_clean_time"
	fieldHorizon        = "clean_horizon"
)

func encodeState(st *vault.State) map[string]any {
	wallet := ""
	if st.TokenWallet != nil {
		wallet = st.TokenWallet.ToRaw()
	}
	return map[string]any{
		fieldAdmin:          st.Admin.ToRaw(),
		fieldSignerKey:      hexutil.Encode(st.SignerKey),
		fieldLocked:         strconv.FormatBool(st.Locked),
		fieldTimeout:        strconv.FormatUint(uint64(st.Timeout), 10),
		fieldTimeoutMutable: strconv.FormatBool(st.TimeoutMutable),
		fieldTokenWallet:    wallet,
		fieldCodeHash:       hexutil.Encode(st.CodeHash[:]),
		fieldLastCleanTime:  strconv.FormatUint(st.Replay.LastCleanTime, 10),
		fieldHorizon:        strconv.FormatUint(st.Replay.Horizon, 10),
	}
}

func decodeState(h map[string]string, entries []replay.Entry) (*vault.State, error) {
	var (
		st  vault.State
		err error
	)
	if st.Admin, err = ton.ParseAccountID(h[fieldAdmin]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldAdmin, err)
	}
	if st.SignerKey, err = hexutil.Decode(h[fieldSignerKey]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldSignerKey, err)
	}
	if st.Locked, err = strconv.ParseBool(h[fieldLocked]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldLocked, err)
	}
	timeout, err := strconv.ParseUint(h[fieldTimeout], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fieldTimeout, err)
	}
	st.Timeout = uint32(timeout)
	if st.TimeoutMutable, err = strconv.ParseBool(h[fieldTimeoutMutable]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldTimeoutMutable, err)
	}
	if w := h[fieldTokenWallet]; w != "" {
		a, err := ton.ParseAccountID(w)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fieldTokenWallet, err)
		}
		st.TokenWallet = &a
	}
	code, err := hexutil.Decode(h[fieldCodeHash])
	if err != nil || len(code) != len(st.CodeHash) {
		return nil, fmt.Errorf("%s: invalid value %q", fieldCodeHash, h[fieldCodeHash])
	}
	copy(st.CodeHash[:], code)
	lastClean, err := strconv.ParseUint(h[fieldLastCleanTime], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fieldLastCleanTime, err)
	}
	horizon, err := strconv.ParseUint(h[fieldHorizon], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fieldHorizon, err)
	}
	st.Replay = replay.NewLedger(entries, lastClean, horizon)
	return &st, nil
}
