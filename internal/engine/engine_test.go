package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"github.com/kl456123/reward-vault-ton/internal/ledger"
	"github.com/kl456123/reward-vault-ton/internal/outbox"
	"github.com/kl456123/reward-vault-ton/internal/payload"
	"github.com/kl456123/reward-vault-ton/internal/sigverify"
	"github.com/kl456123/reward-vault-ton/internal/store"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

const (
	testNow     = uint64(1_700_000_000)
	testTimeout = uint32(3600)
)

func addr(fill byte) ton.AccountID {
	var a ton.AccountID
	for i := range a.Address {
		a.Address[i] = fill
	}
	return a
}

var (
	adminA    = addr(0xA1)
	vaultAddr = addr(0xFA)
	user      = addr(0x01)
	relayer   = addr(0xEE)
)

func newEngine(t *testing.T, s Store, signer sigverify.Signer, wallet *ton.AccountID) *Engine {
	t.Helper()
	v, _ := sigverify.NewVerifier(signer.Scheme())
	e := New(s, v, zap.NewNop())
	err := e.Init(context.Background(), vault.Genesis{
		Admin:       adminA,
		SignerKey:   signer.PublicKey(),
		Timeout:     testTimeout,
		TokenWallet: wallet,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return e
}

func lockBody(t *testing.T) *boc.Cell {
	t.Helper()
	c, err := payload.LockBody(0)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// ── Init ────────────────────────────────────────────────────────────────────

func TestInit_KeepsExistingState(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(nil)
	signer, _ := sigverify.GenerateEd25519()
	e := newEngine(t, s, signer, nil)
	if _, err := e.Submit(ctx, Message{Sender: adminA, Now: testNow, Body: lockBody(t)}); err != nil {
		t.Fatal(err)
	}

	// a second engine over the same store sees the locked state, not genesis
	e2 := newEngine(t, s, signer, nil)
	d, err := e2.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !d.IsLocked {
		t.Fatal("Init overwrote persisted state")
	}
}

func TestInit_InvalidGenesis(t *testing.T) {
	v, _ := sigverify.NewVerifier(sigverify.Ed25519)
	e := New(store.NewMemory(nil), v, zap.NewNop())
	err := e.Init(context.Background(), vault.Genesis{Admin: adminA, SignerKey: []byte{1}, Timeout: 1})
	if err == nil {
		t.Fatal("expected genesis error")
	}
	if e.Ready() {
		t.Fatal("engine ready after failed init")
	}
}

// ── Scenario: deposit through the token ledger, then replay ─────────────────

func TestScenario_DepositAndReplay(t *testing.T) {
	ctx := context.Background()
	signer, _ := sigverify.GenerateEd25519()
	tokens := ledger.NewMemory()
	wallet := tokens.WalletAddress(vaultAddr)

	effects := make(chan vault.Effect, 4)
	e := newEngine(t, store.NewMemory(effects), signer, &wallet)
	tokens.OnNotify(vaultAddr, e.Notifier(func() uint64 { return testNow }))

	// 0.05 of a 9-decimal token
	amount := big.NewInt(50_000_000)
	tokens.Mint(user, big.NewInt(1_000_000_000))

	fwd, err := payload.SignDeposit(signer, payload.Deposit{
		QueryID:     1,
		ProjectID:   1,
		CreatedAt:   testNow - 5,
		TokenWallet: wallet,
		Amount:      amount,
	})
	if err != nil {
		t.Fatal(err)
	}
	fc, _ := fwd.Cell()

	bounced, err := tokens.SendWithNotification(ctx, user, vaultAddr, 0, amount, fc)
	if err != nil || bounced {
		t.Fatalf("first deposit: bounced=%v err=%v", bounced, err)
	}
	if b, _ := tokens.Balance(ctx, vaultAddr); b.Cmp(amount) != 0 {
		t.Fatalf("vault balance: got %s want %s", b, amount)
	}
	select {
	case eff := <-effects:
		if eff.Kind != vault.DepositRecorded || eff.ID == "" || eff.Counterparty != user {
			t.Fatalf("effect: %+v", eff)
		}
	default:
		t.Fatal("no deposit effect committed")
	}

	// identical message again: vault rejects, tokens bounce back
	bounced, err = tokens.SendWithNotification(ctx, user, vaultAddr, 0, amount, fc)
	if err != nil || !bounced {
		t.Fatalf("replayed deposit: bounced=%v err=%v", bounced, err)
	}
	if b, _ := tokens.Balance(ctx, vaultAddr); b.Cmp(amount) != 0 {
		t.Fatalf("vault balance after replay: got %s want %s", b, amount)
	}

	res, err := e.Submit(ctx, Message{Sender: wallet, Now: testNow, Body: mustNotification(t, amount, fc)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != vault.AlreadyExecuted {
		t.Fatalf("direct replay: got %s", res.Code)
	}
}

func mustNotification(t *testing.T, amount *big.Int, fwd *boc.Cell) *boc.Cell {
	t.Helper()
	c, err := payload.TransferNotification{Amount: amount, From: user, ForwardPayload: fwd}.Cell()
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// ── Withdraw settled through the Redis outbox ───────────────────────────────

func TestWithdraw_SettledViaOutbox(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	signer, _ := sigverify.GenerateSecp256k1()
	tokens := ledger.NewMemory()
	wallet := tokens.WalletAddress(vaultAddr)
	tokens.Mint(vaultAddr, big.NewInt(1000))

	e := newEngine(t, store.NewRedis(rdb, "vault"), signer, &wallet)

	recipient := addr(0x55)
	msg, _ := payload.SignWithdraw(signer, 42, payload.Withdraw{
		QueryID: 9, ProjectID: 3, CreatedAt: testNow, Amount: big.NewInt(250),
		TokenWallet: wallet, Recipient: recipient,
	})
	body, _ := msg.Cell()

	res, err := e.Submit(ctx, Message{Sender: relayer, Now: testNow, Body: body})
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != vault.Success {
		t.Fatalf("withdraw: got %s", res.Code)
	}

	raw, err := rdb.LPop(ctx, outbox.QueueKey("vault")).Result()
	if err != nil {
		t.Fatalf("effect not queued: %v", err)
	}
	outbox.NewSettler(rdb, tokens, "vault", 2, 0, zap.NewNop()).Handle(ctx, raw)

	if b, _ := tokens.Balance(ctx, recipient); b.Int64() != 250 {
		t.Fatalf("recipient balance: got %s", b)
	}

	// state survives a restart
	e2 := newEngine(t, store.NewRedis(rdb, "vault"), signer, &wallet)
	res, _ = e2.Submit(ctx, Message{Sender: relayer, Now: testNow, Body: body})
	if res.Code != vault.AlreadyExecuted {
		t.Fatalf("replay after restart: got %s", res.Code)
	}
}

// ── Store failures ──────────────────────────────────────────────────────────

type failingStore struct {
	*store.Memory
	fail bool
}

func (f *failingStore) Commit(ctx context.Context, st *vault.State, j vault.Journal, e *vault.Effect) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Memory.Commit(ctx, st, j, e)
}

func TestSubmit_CommitFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Memory: store.NewMemory(nil)}
	signer, _ := sigverify.GenerateEd25519()
	e := newEngine(t, fs, signer, nil)

	fs.fail = true
	if _, err := e.Submit(ctx, Message{Sender: adminA, Now: testNow, Body: lockBody(t)}); err == nil {
		t.Fatal("expected commit error")
	}
	fs.fail = false
	d, err := e.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.IsLocked {
		t.Fatal("failed commit changed the state")
	}
}

func TestSubmit_RejectionIsNotAnError(t *testing.T) {
	signer, _ := sigverify.GenerateEd25519()
	e := newEngine(t, store.NewMemory(nil), signer, nil)
	res, err := e.Submit(context.Background(), Message{Sender: relayer, Now: testNow, Body: lockBody(t)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Code != vault.InvalidSender {
		t.Fatalf("got %s", res.Code)
	}
}

// ── Serialization ───────────────────────────────────────────────────────────

// Concurrent submissions of the same authorization settle exactly once.
func TestSubmit_ConcurrentReplay(t *testing.T) {
	signer, _ := sigverify.GenerateEd25519()
	effects := make(chan vault.Effect, 32)
	e := newEngine(t, store.NewMemory(effects), signer, nil)

	msg, _ := payload.SignWithdraw(signer, 0, payload.Withdraw{
		QueryID: 1, ProjectID: 1, CreatedAt: testNow, Amount: big.NewInt(1),
		TokenWallet: addr(0x77), Recipient: addr(0x55),
	})
	body, _ := msg.Cell()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Submit(context.Background(), Message{Sender: relayer, Now: testNow, Body: body})
			if err == nil && res.Code.OK() {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 || len(effects) != 1 {
		t.Fatalf("successes=%d effects=%d, want 1 and 1", ok, len(effects))
	}
}
