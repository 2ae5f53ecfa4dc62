// cmd/vaultctl is the producer-side tool for the reward vault: it generates
// signer keys, builds and signs withdraw and deposit authorizations, builds
// admin message bodies, and talks to a running vaultd.
//
// Usage:
//
//	vaultctl keygen   [--scheme ed25519|secp256k1]
//	VAULT_SIGNER_KEY=0x<secret> vaultctl withdraw --query-id 1 --project 1 \
//	  --amount 100000000 --token-wallet 0:<hex> --recipient 0:<hex> [--api http://localhost:8080 --sender 0:<hex>]
//	VAULT_SIGNER_KEY=0x<secret> vaultctl deposit --query-id 2 --project 1 \
//	  --amount 50000000 --token-wallet 0:<hex> [--api ... --from 0:<hex> --vault 0:<hex>]
//	vaultctl admin --op lock|unlock|claim|config-signer|transfer-ownership|config-timeout|upgrade \
//	  [--arg <value>] [--api ... --sender 0:<hex>]
//	vaultctl state --api http://localhost:8080
//
// Bodies are printed as hex BOC (bag of cells). HOST_TOKEN is sent as a
// bearer token when set.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/payload"
	"github.com/kl456123/reward-vault-ton/internal/sigverify"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: vaultctl keygen|withdraw|deposit|admin|state [flags]")
	}
	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "keygen":
		err = runKeygen(args, os.Stdout)
	case "withdraw":
		err = runWithdraw(args, os.Stdout)
	case "deposit":
		err = runDeposit(args, os.Stdout)
	case "admin":
		err = runAdmin(args, os.Stdout)
	case "state":
		err = runState(args, os.Stdout)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fatalf("%s: %v", cmd, err)
	}
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	schemeName := fs.String("scheme", "ed25519", "signature scheme")
	if err := fs.Parse(args); err != nil {
		return err
	}
	scheme, err := sigverify.ParseScheme(*schemeName)
	if err != nil {
		return err
	}
	var (
		secret []byte
		pub    []byte
	)
	switch scheme {
	case sigverify.Secp256k1:
		s, err := sigverify.GenerateSecp256k1()
		if err != nil {
			return err
		}
		secret, pub = s.Seed(), s.PublicKey()
	default:
		s, err := sigverify.GenerateEd25519()
		if err != nil {
			return err
		}
		secret, pub = s.Seed(), s.PublicKey()
	}
	fmt.Fprintf(out, "scheme:     %s\n", scheme)
	fmt.Fprintf(out, "secret:     %s\n", hexutil.Encode(secret))
	fmt.Fprintf(out, "public key: %s\n", hexutil.Encode(pub))
	return nil
}

// authFlags are shared by withdraw and deposit.
type authFlags struct {
	scheme      *string
	queryID     *uint
	project     *uint64
	createdAt   *uint64
	amount      *string
	tokenWallet *string
	api         *string
}

func addAuthFlags(fs *flag.FlagSet) authFlags {
	return authFlags{
		scheme:      fs.String("scheme", "ed25519", "signature scheme"),
		queryID:     fs.Uint("query-id", 0, "signed query id (23 bits)"),
		project:     fs.Uint64("project", 0, "project id"),
		createdAt:   fs.Uint64("created-at", 0, "unix seconds (default now)"),
		amount:      fs.String("amount", "", "amount in base units"),
		tokenWallet: fs.String("token-wallet", "", "vault token wallet address"),
		api:         fs.String("api", "", "vaultd base URL; when set the body is submitted"),
	}
}

func (a authFlags) signer() (sigverify.Signer, error) {
	scheme, err := sigverify.ParseScheme(*a.scheme)
	if err != nil {
		return nil, err
	}
	secret := os.Getenv("VAULT_SIGNER_KEY")
	if secret == "" {
		return nil, fmt.Errorf("VAULT_SIGNER_KEY not set")
	}
	return sigverify.NewSigner(scheme, secret)
}

func (a authFlags) common() (qid uint32, createdAt uint64, amount *big.Int, wallet ton.AccountID, err error) {
	if *a.queryID > payload.MaxQueryID {
		return 0, 0, nil, wallet, payload.ErrQueryIDRange
	}
	createdAt = *a.createdAt
	if createdAt == 0 {
		createdAt = uint64(time.Now().Unix())
	}
	amount, ok := new(big.Int).SetString(*a.amount, 10)
	if !ok || amount.Sign() < 0 {
		return 0, 0, nil, wallet, fmt.Errorf("invalid --amount %q", *a.amount)
	}
	if wallet, err = ton.ParseAccountID(*a.tokenWallet); err != nil {
		return 0, 0, nil, wallet, fmt.Errorf("--token-wallet: %w", err)
	}
	return uint32(*a.queryID), createdAt, amount, wallet, nil
}

func runWithdraw(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("withdraw", flag.ContinueOnError)
	af := addAuthFlags(fs)
	recipientStr := fs.String("recipient", "", "recipient address")
	transportQID := fs.Uint64("transport-query-id", 0, "outer 64-bit query id")
	sender := fs.String("sender", "", "sender address used when submitting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := af.signer()
	if err != nil {
		return err
	}
	qid, createdAt, amount, wallet, err := af.common()
	if err != nil {
		return err
	}
	recipient, err := ton.ParseAccountID(*recipientStr)
	if err != nil {
		return fmt.Errorf("--recipient: %w", err)
	}
	msg, err := payload.SignWithdraw(s, *transportQID, payload.Withdraw{
		QueryID:     qid,
		ProjectID:   *af.project,
		CreatedAt:   createdAt,
		Amount:      amount,
		TokenWallet: wallet,
		Recipient:   recipient,
	})
	if err != nil {
		return err
	}
	body, err := msg.Cell()
	if err != nil {
		return err
	}
	return emit(out, body, *af.api, *sender)
}

func runDeposit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("deposit", flag.ContinueOnError)
	af := addAuthFlags(fs)
	from := fs.String("from", "", "depositor address used when submitting")
	vaultAddr := fs.String("vault", "", "vault address used when submitting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := af.signer()
	if err != nil {
		return err
	}
	qid, createdAt, amount, wallet, err := af.common()
	if err != nil {
		return err
	}
	fwd, err := payload.SignDeposit(s, payload.Deposit{
		QueryID:     qid,
		ProjectID:   *af.project,
		CreatedAt:   createdAt,
		TokenWallet: wallet,
		Amount:      amount,
	})
	if err != nil {
		return err
	}
	c, err := fwd.Cell()
	if err != nil {
		return err
	}
	encoded, err := payload.EncodeBody(c)
	if err != nil {
		return err
	}
	if *af.api == "" {
		fmt.Fprintln(out, encoded)
		return nil
	}
	return postJSON(out, *af.api+"/api/v1/ledger/transfers", map[string]any{
		"from":            *from,
		"to":              *vaultAddr,
		"amount":          amount.String(),
		"forward_payload": encoded,
	})
}

func runAdmin(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	op := fs.String("op", "", "lock|unlock|claim|config-signer|transfer-ownership|config-timeout|upgrade")
	arg := fs.String("arg", "", "key hex, address, timeout seconds, or code BOC")
	queryID := fs.Uint64("query-id", 0, "outer 64-bit query id")
	api := fs.String("api", "", "vaultd base URL; when set the body is submitted")
	sender := fs.String("sender", "", "admin address used when submitting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	body, err := adminBody(*op, *arg, *queryID)
	if err != nil {
		return err
	}
	return emit(out, body, *api, *sender)
}

func adminBody(op, arg string, queryID uint64) (*boc.Cell, error) {
	switch op {
	case "lock":
		return payload.LockBody(queryID)
	case "unlock":
		return payload.UnlockBody(queryID)
	case "claim":
		return payload.ClaimBody(queryID)
	case "config-signer":
		key, err := hexutil.Decode(arg)
		if err != nil {
			return nil, fmt.Errorf("--arg: %w", err)
		}
		return payload.ConfigSignerBody(queryID, key)
	case "transfer-ownership":
		a, err := ton.ParseAccountID(arg)
		if err != nil {
			return nil, fmt.Errorf("--arg: %w", err)
		}
		return payload.TransferOwnershipBody(queryID, a)
	case "config-timeout":
		t, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("--arg: %w", err)
		}
		return payload.ConfigTimeoutBody(queryID, uint32(t))
	case "upgrade":
		code, err := payload.DecodeBody(arg)
		if err != nil {
			return nil, fmt.Errorf("--arg: %w", err)
		}
		return payload.UpgradeBody(queryID, code)
	default:
		return nil, fmt.Errorf("unknown --op %q", op)
	}
}

func runState(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("state", flag.ContinueOnError)
	api := fs.String("api", "http://localhost:8080", "vaultd base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, *api+"/api/v1/vault", nil)
	if err != nil {
		return err
	}
	return send(out, req)
}

// emit prints the body hex, or submits it when api is set.
func emit(out io.Writer, body *boc.Cell, api, sender string) error {
	encoded, err := payload.EncodeBody(body)
	if err != nil {
		return err
	}
	if api == "" {
		fmt.Fprintln(out, encoded)
		return nil
	}
	if sender == "" {
		return fmt.Errorf("--sender is required with --api")
	}
	return postJSON(out, api+"/api/v1/messages", map[string]any{"sender": sender, "body": encoded})
}

func postJSON(out io.Writer, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return send(out, req)
}

func send(out io.Writer, req *http.Request) error {
	if tok := os.Getenv("HOST_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Fprintf(out, "%s\n", bytes.TrimSpace(b))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
