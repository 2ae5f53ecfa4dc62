package store

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/outbox"
	"github.com/kl456123/reward-vault-ton/internal/replay"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

// ── helpers ─────────────────────────────────────────────────────────────────

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func addr(fill byte) ton.AccountID {
	var a ton.AccountID
	for i := range a.Address {
		a.Address[i] = fill
	}
	return a
}

func genesis(t *testing.T) *vault.State {
	t.Helper()
	w := addr(0x77)
	st, err := vault.NewState(vault.Genesis{
		Admin:          addr(0xA1),
		SignerKey:      make([]byte, 32),
		Timeout:        3600,
		TimeoutMutable: true,
		TokenWallet:    &w,
	}, 32)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func sameState(t *testing.T, got, want *vault.State) {
	t.Helper()
	if got.Admin != want.Admin || !reflect.DeepEqual(got.SignerKey, want.SignerKey) ||
		got.Locked != want.Locked || got.Timeout != want.Timeout || got.TimeoutMutable != want.TimeoutMutable ||
		got.CodeHash != want.CodeHash {
		t.Fatalf("state mismatch:\n got  %+v\n want %+v", got, want)
	}
	if (got.TokenWallet == nil) != (want.TokenWallet == nil) ||
		(got.TokenWallet != nil && *got.TokenWallet != *want.TokenWallet) {
		t.Fatalf("token wallet mismatch: %v vs %v", got.TokenWallet, want.TokenWallet)
	}
	if !reflect.DeepEqual(got.Replay.Entries(), want.Replay.Entries()) ||
		got.Replay.LastCleanTime != want.Replay.LastCleanTime || got.Replay.Horizon != want.Replay.Horizon {
		t.Fatalf("replay mismatch: %+v vs %+v", got.Replay.Entries(), want.Replay.Entries())
	}
}

// ── Redis ───────────────────────────────────────────────────────────────────

func TestRedis_LoadBeforeInit(t *testing.T) {
	s := NewRedis(newTestRedis(t), "vault")
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRedis_InitLoad(t *testing.T) {
	ctx := context.Background()
	s := NewRedis(newTestRedis(t), "vault")
	want := genesis(t)
	if err := s.Init(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sameState(t, got, want)

	if err := s.Init(ctx, want); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Init: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestRedis_InitFailureLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "vault")

	mr.SetError("LOADING redis is loading the dataset")
	if err := s.Init(ctx, genesis(t)); err == nil {
		t.Fatal("expected Init error")
	}
	mr.SetError("")

	if mr.Exists("vault:state") {
		t.Fatal("failed Init left a state hash")
	}
	if _, err := s.Load(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Load after failed Init: %v", err)
	}
	if err := s.Init(ctx, genesis(t)); err != nil {
		t.Fatalf("retry Init: %v", err)
	}
}

func TestRedis_CommitJournalAndEffect(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	s := NewRedis(rdb, "vault")
	st := genesis(t)
	if err := s.Init(ctx, st); err != nil {
		t.Fatal(err)
	}

	st.Replay.Mark(1, 1000)
	st.Locked = true
	st.CodeHash[0] = 0xAB
	e := &vault.Effect{ID: "e1", Kind: vault.TransferOut, QueryID: 1, TokenWallet: addr(0x77), Counterparty: addr(2), Amount: big.NewInt(5)}
	if err := s.Commit(ctx, st, vault.Journal{Marked: &replay.Entry{QueryID: 1, CreatedAt: 1000}}, e); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sameState(t, got, st)

	n, _ := rdb.LLen(ctx, outbox.QueueKey("vault")).Result()
	if n != 1 {
		t.Fatalf("queue length: got %d want 1", n)
	}

	// purge removes the entry
	st.Replay.Purge(1000+3600, 3600)
	if err := s.Commit(ctx, st, vault.Journal{Purged: []uint32{1}}, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Load(ctx)
	if got.Replay.Len() != 0 || got.Replay.Horizon != 1000 {
		t.Fatalf("after purge: entries=%d horizon=%d", got.Replay.Len(), got.Replay.Horizon)
	}
}

func TestRedis_CorruptState(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	s := NewRedis(rdb, "vault")
	rdb.HSet(ctx, "vault:state", "admin", "not-an-address")
	if _, err := s.Load(ctx); err == nil || errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

// ── Memory ──────────────────────────────────────────────────────────────────

func TestMemory_CommitSendsEffect(t *testing.T) {
	ctx := context.Background()
	ch := make(chan vault.Effect, 1)
	m := NewMemory(ch)
	if _, err := m.Load(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	st := genesis(t)
	if err := m.Init(ctx, st); err != nil {
		t.Fatal(err)
	}
	st.Locked = true
	if err := m.Commit(ctx, st, vault.Journal{}, &vault.Effect{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if e := <-ch; e.ID != "x" {
		t.Fatalf("effect: %+v", e)
	}

	// Load returns a copy
	got, _ := m.Load(ctx)
	got.Locked = false
	again, _ := m.Load(ctx)
	if !again.Locked {
		t.Fatal("mutating a loaded state leaked into the store")
	}
}

func TestMemory_CommitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory(make(chan vault.Effect))
	st := genesis(t)
	m.Init(ctx, st) //nolint:errcheck
	cancel()

	st.Locked = true
	if err := m.Commit(ctx, st, vault.Journal{}, &vault.Effect{}); err == nil {
		t.Fatal("expected context error")
	}
	got, _ := m.Load(context.Background())
	if got.Locked {
		t.Fatal("state committed although the effect was not delivered")
	}
}
