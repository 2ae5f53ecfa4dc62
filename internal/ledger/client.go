package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tonkeeper/tongo/ton"
)

// Client is an authenticated REST client of an external token ledger service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type transferBody struct {
	ID          string `json:"id"`
	TokenWallet string `json:"token_wallet"`
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	QueryID     uint32 `json:"query_id"`
	ProjectID   uint64 `json:"project_id"`
}

type balanceBody struct {
	Balance string `json:"balance"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// Transfer posts the transfer with an Idempotency-Key header. 409 Conflict
// means the ledger already applied this id and counts as success.
func (c *Client) Transfer(ctx context.Context, r TransferRequest) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	amount := "0"
	if r.Amount != nil {
		amount = r.Amount.String()
	}
	body := transferBody{
		ID:          r.ID,
		TokenWallet: r.TokenWallet.ToRaw(),
		Recipient:   r.Recipient.ToRaw(),
		Amount:      amount,
		QueryID:     r.QueryID,
		ProjectID:   r.ProjectID,
	}
	h := http.Header{}
	h.Set("Idempotency-Key", r.ID)

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/transfers", body, h)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("ledger Transfer %s: %w", r.ID, ErrInsufficientBalance)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("ledger Transfer %s: %w", r.ID, ErrUnknownWallet)
	case resp.StatusCode >= 300:
		return fmt.Errorf("ledger Transfer %s: status %d", r.ID, resp.StatusCode)
	}
	return nil
}

func (c *Client) Balance(ctx context.Context, owner ton.AccountID) (*big.Int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/wallets/"+owner.ToRaw()+"/balance", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger Balance %s: status %d", owner.ToRaw(), resp.StatusCode)
	}
	var b balanceBody
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(b.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("ledger Balance %s: invalid balance %q", owner.ToRaw(), b.Balance)
	}
	return v, nil
}
