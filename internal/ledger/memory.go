package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/payload"
)

// Notifier delivers a transfer notification body to the receiving owner as if
// sent by its token wallet. It reports whether the receiver accepted it; a
// rejected notification bounces the transfer.
type Notifier func(ctx context.Context, sender ton.AccountID, body *boc.Cell) (bool, error)

// Memory is an in-process token ledger. Each owner has one token wallet whose
// address is derived from the owner address.
type Memory struct {
	mu       sync.Mutex
	balances map[ton.AccountID]*big.Int
	owners   map[ton.AccountID]ton.AccountID // wallet -> owner
	applied  map[string]struct{}
	notify   map[ton.AccountID]Notifier // owner -> notifier
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[ton.AccountID]*big.Int),
		owners:   make(map[ton.AccountID]ton.AccountID),
		applied:  make(map[string]struct{}),
		notify:   make(map[ton.AccountID]Notifier),
	}
}

// WalletAddress returns the token wallet of owner and registers it.
func (m *Memory) WalletAddress(owner ton.AccountID) ton.AccountID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.walletLocked(owner)
}

func (m *Memory) walletLocked(owner ton.AccountID) ton.AccountID {
	h := sha256.New()
	h.Write([]byte("token-wallet"))
	h.Write([]byte(owner.ToRaw()))
	w := ton.AccountID{Workchain: 0}
	copy(w.Address[:], h.Sum(nil))
	m.owners[w] = owner
	return w
}

// OnNotify registers the notifier for transfers sent to owner.
func (m *Memory) OnNotify(owner ton.AccountID, n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify[owner] = n
}

func (m *Memory) Mint(owner ton.AccountID, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletLocked(owner)
	m.credit(owner, amount)
}

func (m *Memory) Balance(_ context.Context, owner ton.AccountID) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// Transfer pays out of the wallet named in req. A request id that was already
// applied is a no-op.
func (m *Memory) Transfer(_ context.Context, req TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID != "" {
		if _, ok := m.applied[req.ID]; ok {
			return nil
		}
	}
	from, ok := m.owners[req.TokenWallet]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownWallet, req.TokenWallet.ToRaw())
	}
	if err := m.debit(from, req.Amount); err != nil {
		return err
	}
	m.walletLocked(req.Recipient)
	m.credit(req.Recipient, req.Amount)
	if req.ID != "" {
		m.applied[req.ID] = struct{}{}
	}
	return nil
}

// SendWithNotification moves amount from one owner to another and, if the
// receiver registered a notifier, delivers a transfer notification carrying
// forward. The ledger lock is not held while the notifier runs. A rejected or
// failed notification returns the tokens to the sender; bounced reports that.
func (m *Memory) SendWithNotification(ctx context.Context, from, to ton.AccountID, queryID uint64, amount *big.Int, forward *boc.Cell) (bounced bool, err error) {
	m.mu.Lock()
	if err := m.debit(from, amount); err != nil {
		m.mu.Unlock()
		return false, err
	}
	m.walletLocked(from)
	toWallet := m.walletLocked(to)
	m.credit(to, amount)
	n := m.notify[to]
	m.mu.Unlock()

	if n == nil {
		return false, nil
	}
	body, err := payload.TransferNotification{QueryID: queryID, Amount: amount, From: from, ForwardPayload: forward}.Cell()
	if err == nil {
		var accepted bool
		accepted, err = n(ctx, toWallet, body)
		if err == nil && accepted {
			return false, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if derr := m.debit(to, amount); derr != nil {
		return true, fmt.Errorf("bounce: %w", derr)
	}
	m.credit(from, amount)
	return true, err
}

func (m *Memory) credit(owner ton.AccountID, amount *big.Int) {
	b, ok := m.balances[owner]
	if !ok {
		b = new(big.Int)
		m.balances[owner] = b
	}
	b.Add(b, amount)
}

func (m *Memory) debit(owner ton.AccountID, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: invalid amount %v", amount)
	}
	b := m.balances[owner]
	if b == nil || b.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	return nil
}
