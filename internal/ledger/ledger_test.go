package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/payload"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

func addr(fill byte) ton.AccountID {
	var a ton.AccountID
	for i := range a.Address {
		a.Address[i] = fill
	}
	return a
}

func mockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// ── Client ──────────────────────────────────────────────────────────────────

func TestClientTransfer_RequestShape(t *testing.T) {
	var (
		gotPath, gotAuth, gotKey string
		got                      transferBody
	)
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
		w.WriteHeader(http.StatusCreated)
	})

	c := NewClient(srv.URL, "ledger-key")
	err := c.Transfer(context.Background(), TransferRequest{
		ID: "eff-1", TokenWallet: addr(1), Recipient: addr(2), Amount: big.NewInt(500), QueryID: 4, ProjectID: 8,
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if gotPath != "/api/v1/transfers" {
		t.Errorf("path: got %q", gotPath)
	}
	if gotAuth != "Bearer ledger-key" {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	if gotKey != "eff-1" || got.ID != "eff-1" {
		t.Errorf("idempotency key: header=%q body=%q", gotKey, got.ID)
	}
	if got.Amount != "500" || got.Recipient != addr(2).ToRaw() || got.QueryID != 4 {
		t.Errorf("body: %+v", got)
	}
}

func TestClientTransfer_GeneratesID(t *testing.T) {
	var gotKey string
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
	})
	c := NewClient(srv.URL, "")
	if err := c.Transfer(context.Background(), TransferRequest{Amount: big.NewInt(1)}); err != nil {
		t.Fatal(err)
	}
	if len(gotKey) != 36 {
		t.Fatalf("expected a uuid idempotency key, got %q", gotKey)
	}
}

func TestClientTransfer_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
		ok     bool
	}{
		{http.StatusConflict, nil, true},
		{http.StatusPaymentRequired, ErrInsufficientBalance, false},
		{http.StatusNotFound, ErrUnknownWallet, false},
		{http.StatusInternalServerError, nil, false},
	}
	for _, tc := range cases {
		srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(tc.status) })
		err := NewClient(srv.URL, "k").Transfer(context.Background(), TransferRequest{ID: "x", Amount: big.NewInt(1)})
		if tc.ok {
			if err != nil {
				t.Errorf("status %d: unexpected error %v", tc.status, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("status %d: expected error", tc.status)
			continue
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("status %d: got %v want %v", tc.status, err, tc.want)
		}
	}
}

func TestClientBalance(t *testing.T) {
	owner := addr(3)
	var gotPath string
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(balanceBody{Balance: "123456789012345678901"})
	})
	b, err := NewClient(srv.URL, "k").Balance(context.Background(), owner)
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v1/wallets/"+owner.ToRaw()+"/balance" {
		t.Errorf("path: got %q", gotPath)
	}
	if b.String() != "123456789012345678901" {
		t.Errorf("balance: got %s", b)
	}
}

// ── Memory ──────────────────────────────────────────────────────────────────

func TestMemory_TransferIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	vaultOwner := addr(0x10)
	m.Mint(vaultOwner, big.NewInt(1000))

	req := TransferRequest{ID: "e1", TokenWallet: m.WalletAddress(vaultOwner), Recipient: addr(0x20), Amount: big.NewInt(300)}
	if err := m.Transfer(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := m.Transfer(ctx, req); err != nil {
		t.Fatal(err)
	}
	vb, _ := m.Balance(ctx, vaultOwner)
	rb, _ := m.Balance(ctx, addr(0x20))
	if vb.Int64() != 700 || rb.Int64() != 300 {
		t.Fatalf("balances: vault=%s recipient=%s", vb, rb)
	}
}

func TestMemory_TransferErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := addr(0x10)
	m.Mint(owner, big.NewInt(5))

	err := m.Transfer(ctx, TransferRequest{TokenWallet: addr(0x99), Recipient: addr(1), Amount: big.NewInt(1)})
	if !errors.Is(err, ErrUnknownWallet) {
		t.Errorf("expected ErrUnknownWallet, got %v", err)
	}
	err = m.Transfer(ctx, TransferRequest{TokenWallet: m.WalletAddress(owner), Recipient: addr(1), Amount: big.NewInt(6)})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestMemory_SendWithNotification(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	user, vaultOwner := addr(0x01), addr(0x02)
	m.Mint(user, big.NewInt(100))

	fwd := boc.NewCell()
	if err := fwd.WriteUint(uint64(payload.OpDeposit), 32); err != nil {
		t.Fatal(err)
	}
	var gotSender ton.AccountID
	var gotBody *boc.Cell
	m.OnNotify(vaultOwner, func(_ context.Context, sender ton.AccountID, body *boc.Cell) (bool, error) {
		gotSender, gotBody = sender, body
		return true, nil
	})

	bounced, err := m.SendWithNotification(ctx, user, vaultOwner, 7, big.NewInt(40), fwd)
	if err != nil || bounced {
		t.Fatalf("send: bounced=%v err=%v", bounced, err)
	}
	if gotSender != m.WalletAddress(vaultOwner) {
		t.Error("notification must come from the receiver's token wallet")
	}
	if op, _ := gotBody.ReadUint(32); uint32(op) != payload.OpTransferNotification {
		t.Errorf("op: got %x", op)
	}
	ub, _ := m.Balance(ctx, user)
	vb, _ := m.Balance(ctx, vaultOwner)
	if ub.Int64() != 60 || vb.Int64() != 40 {
		t.Fatalf("balances: user=%s vault=%s", ub, vb)
	}
}

func TestMemory_RejectedNotificationBounces(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	user, vaultOwner := addr(0x01), addr(0x02)
	m.Mint(user, big.NewInt(100))
	m.OnNotify(vaultOwner, func(context.Context, ton.AccountID, *boc.Cell) (bool, error) { return false, nil })

	bounced, err := m.SendWithNotification(ctx, user, vaultOwner, 0, big.NewInt(40), boc.NewCell())
	if err != nil || !bounced {
		t.Fatalf("expected bounce, got bounced=%v err=%v", bounced, err)
	}
	ub, _ := m.Balance(ctx, user)
	vb, _ := m.Balance(ctx, vaultOwner)
	if ub.Int64() != 100 || vb.Sign() != 0 {
		t.Fatalf("balances after bounce: user=%s vault=%s", ub, vb)
	}
}

func TestFromEffect(t *testing.T) {
	e := vault.Effect{ID: "id", Kind: vault.TransferOut, QueryID: 2, ProjectID: 3,
		TokenWallet: addr(1), Counterparty: addr(2), Amount: big.NewInt(9)}
	r := FromEffect(e)
	if r.ID != "id" || r.Recipient != addr(2) || r.TokenWallet != addr(1) || r.Amount.Int64() != 9 {
		t.Fatalf("request: %+v", r)
	}
}
