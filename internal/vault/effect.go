package vault

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/tonkeeper/tongo/ton"
)

type EffectKind string

const (
	// TransferOut instructs the token ledger to pay Amount from the vault's
	// token wallet to Counterparty.
	TransferOut EffectKind = "transfer_out"
	// DepositRecorded reports that a deposit from Counterparty was accepted.
	DepositRecorded EffectKind = "deposit_recorded"
)

// Effect is the single settlement instruction a successful fund-moving
// operation emits. ID is assigned by the engine when the effect is committed.
type Effect struct {
	ID           string
	Kind         EffectKind
	QueryID      uint32
	ProjectID    uint64
	CreatedAt    uint64
	TokenWallet  ton.AccountID
	Counterparty ton.AccountID
	Amount       *big.Int
}

type effectJSON struct {
	ID           string     `json:"id"`
	Kind         EffectKind `json:"kind"`
	QueryID      uint32     `json:"query_id"`
	ProjectID    uint64     `json:"project_id"`
	CreatedAt    uint64     `json:"created_at"`
	TokenWallet  string     `json:"token_wallet"`
	Counterparty string     `json:"counterparty"`
	Amount       string     `json:"amount"`
}

func (e Effect) MarshalJSON() ([]byte, error) {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return json.Marshal(effectJSON{
		ID:           e.ID,
		Kind:         e.Kind,
		QueryID:      e.QueryID,
		ProjectID:    e.ProjectID,
		CreatedAt:    e.CreatedAt,
		TokenWallet:  e.TokenWallet.ToRaw(),
		Counterparty: e.Counterparty.ToRaw(),
		Amount:       amount,
	})
}

func (e *Effect) UnmarshalJSON(b []byte) error {
	var j effectJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	wallet, err := ton.ParseAccountID(j.TokenWallet)
	if err != nil {
		return fmt.Errorf("token_wallet: %w", err)
	}
	cp, err := ton.ParseAccountID(j.Counterparty)
	if err != nil {
		return fmt.Errorf("counterparty: %w", err)
	}
	amount, ok := new(big.Int).SetString(j.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return fmt.Errorf("amount: invalid value %q", j.Amount)
	}
	*e = Effect{
		ID:           j.ID,
		Kind:         j.Kind,
		QueryID:      j.QueryID,
		ProjectID:    j.ProjectID,
		CreatedAt:    j.CreatedAt,
		TokenWallet:  wallet,
		Counterparty: cp,
		Amount:       amount,
	}
	return nil
}
