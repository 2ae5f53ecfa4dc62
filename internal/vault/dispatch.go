package vault

import (
	"math/big"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/replay"
	"github.com/kl456123/reward-vault-ton/internal/sigverify"
)

// Env is what the host supplies alongside each message.
type Env struct {
	Sender   ton.AccountID
	Now      uint64
	Verifier sigverify.Verifier
}

// Journal lists the replay ledger changes of an applied operation so stores
// can persist them incrementally.
type Journal struct {
	Marked *replay.Entry
	Purged []uint32
}

type Result struct {
	Code    ExitCode
	Effect  *Effect
	Journal Journal
}

func reject(code ExitCode) Result { return Result{Code: code} }

// Handle decodes body and dispatches it.
func Handle(st *State, env Env, body *boc.Cell) Result {
	op, err := Decode(body, env.Verifier.KeySize())
	if err != nil {
		return reject(DecodeExit(err))
	}
	return Dispatch(st, env, op)
}

// Dispatch applies op to st. On any non-success code st is left unchanged.
// On success the replay ledger is purged against env.Now.
func Dispatch(st *State, env Env, op Operation) Result {
	var res Result
	switch op := op.(type) {
	case Deposit:
		res = st.deposit(env, op)
	case Withdraw:
		res = st.withdraw(env, op)
	case ConfigSigner:
		res = st.configSigner(env, op)
	case TransferOwnership:
		res = st.transferOwnership(env, op)
	case Lock:
		res = st.setLocked(env, true)
	case Unlock:
		res = st.setLocked(env, false)
	case Upgrade:
		res = st.upgrade(env, op)
	case ConfigTimeout:
		res = st.configTimeout(env, op)
	case Claim:
		res = reject(InvalidOp)
	default:
		res = reject(InvalidOp)
	}
	if res.Code.OK() {
		res.Journal.Purged = st.Replay.Purge(env.Now, st.Timeout)
	}
	return res
}

// authorize runs the checks shared by every signed operation, in order:
// signature, lock, freshness, replay.
func (st *State) authorize(env Env, digest [32]byte, sig []byte, queryID uint32, createdAt uint64) ExitCode {
	if !env.Verifier.Verify(digest, sig, st.SignerKey) {
		return InvalidSignature
	}
	if st.Locked {
		return Locked
	}
	if !st.Replay.Fresh(env.Now, st.Timeout, createdAt) {
		return InvalidCreatedAt
	}
	if st.Replay.Seen(queryID) {
		return AlreadyExecuted
	}
	return Success
}

func (st *State) consume(queryID uint32, createdAt uint64) Journal {
	st.Replay.Mark(queryID, createdAt)
	return Journal{Marked: &replay.Entry{QueryID: queryID, CreatedAt: createdAt}}
}

func (st *State) deposit(env Env, op Deposit) Result {
	if env.Sender != op.Auth.TokenWallet {
		return reject(InvalidSender)
	}
	// Notifications are trusted only from the vault's own token wallet.
	if st.TokenWallet == nil || env.Sender != *st.TokenWallet {
		return reject(InvalidSender)
	}
	if code := st.authorize(env, op.Digest, op.Signature, op.Auth.QueryID, op.Auth.CreatedAt); !code.OK() {
		return reject(code)
	}
	if !positive(op.Amount) || op.Amount.Cmp(op.Auth.Amount) != 0 {
		return reject(InvalidMessageToSend)
	}
	j := st.consume(op.Auth.QueryID, op.Auth.CreatedAt)
	return Result{
		Code: Success,
		Effect: &Effect{
			Kind:         DepositRecorded,
			QueryID:      op.Auth.QueryID,
			ProjectID:    op.Auth.ProjectID,
			CreatedAt:    op.Auth.CreatedAt,
			TokenWallet:  op.Auth.TokenWallet,
			Counterparty: op.From,
			Amount:       new(big.Int).Set(op.Amount),
		},
		Journal: j,
	}
}

func (st *State) withdraw(env Env, op Withdraw) Result {
	if code := st.authorize(env, op.Digest, op.Signature, op.Auth.QueryID, op.Auth.CreatedAt); !code.OK() {
		return reject(code)
	}
	if !positive(op.Auth.Amount) {
		return reject(InvalidMessageToSend)
	}
	if st.TokenWallet != nil && op.Auth.TokenWallet != *st.TokenWallet {
		return reject(InvalidMessageToSend)
	}
	j := st.consume(op.Auth.QueryID, op.Auth.CreatedAt)
	return Result{
		Code: Success,
		Effect: &Effect{
			Kind:         TransferOut,
			QueryID:      op.Auth.QueryID,
			ProjectID:    op.Auth.ProjectID,
			CreatedAt:    op.Auth.CreatedAt,
			TokenWallet:  op.Auth.TokenWallet,
			Counterparty: op.Auth.Recipient,
			Amount:       new(big.Int).Set(op.Auth.Amount),
		},
		Journal: j,
	}
}

func (st *State) isAdmin(env Env) bool { return env.Sender == st.Admin }

func (st *State) configSigner(env Env, op ConfigSigner) Result {
	if !st.isAdmin(env) {
		return reject(InvalidSender)
	}
	if len(op.Key) != env.Verifier.KeySize() {
		return reject(InvalidOp)
	}
	st.SignerKey = append([]byte(nil), op.Key...)
	return Result{Code: Success}
}

func (st *State) transferOwnership(env Env, op TransferOwnership) Result {
	if !st.isAdmin(env) {
		return reject(InvalidSender)
	}
	if op.NewAdmin == st.Admin {
		return reject(InvalidMessageToSend)
	}
	st.Admin = op.NewAdmin
	return Result{Code: Success}
}

func (st *State) setLocked(env Env, locked bool) Result {
	if !st.isAdmin(env) {
		return reject(InvalidSender)
	}
	st.Locked = locked
	return Result{Code: Success}
}

func (st *State) upgrade(env Env, op Upgrade) Result {
	if !st.isAdmin(env) {
		return reject(InvalidSender)
	}
	st.CodeHash = op.CodeHash
	return Result{Code: Success}
}

func (st *State) configTimeout(env Env, op ConfigTimeout) Result {
	if !st.isAdmin(env) {
		return reject(InvalidSender)
	}
	if !st.TimeoutMutable {
		return reject(InvalidOp)
	}
	if op.Timeout == 0 {
		return reject(InvalidMessageToSend)
	}
	st.Timeout = op.Timeout
	return Result{Code: Success}
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
