package payload

import (
	"fmt"

	"github.com/kl456123/reward-vault-ton/internal/sigverify"
)

// SignWithdraw signs auth and wraps it into a withdraw message body.
func SignWithdraw(s sigverify.Signer, queryID uint64, auth Withdraw) (WithdrawMessage, error) {
	h, err := auth.Hash()
	if err != nil {
		return WithdrawMessage{}, fmt.Errorf("hash withdraw: %w", err)
	}
	sig, err := s.Sign(h)
	if err != nil {
		return WithdrawMessage{}, fmt.Errorf("sign withdraw: %w", err)
	}
	return WithdrawMessage{QueryID: queryID, Signature: sig, Auth: auth}, nil
}

// SignDeposit signs auth and wraps it into the forward payload a depositor
// attaches to its token transfer.
func SignDeposit(s sigverify.Signer, auth Deposit) (DepositForward, error) {
	h, err := auth.Hash()
	if err != nil {
		return DepositForward{}, fmt.Errorf("hash deposit: %w", err)
	}
	sig, err := s.Sign(h)
	if err != nil {
		return DepositForward{}, fmt.Errorf("sign deposit: %w", err)
	}
	return DepositForward{Signature: sig, Auth: auth}, nil
}
