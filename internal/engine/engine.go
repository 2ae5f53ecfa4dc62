// Package engine runs vault messages one at a time against persisted state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"github.com/kl456123/reward-vault-ton/internal/sigverify"
	"github.com/kl456123/reward-vault-ton/internal/store"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

type Store interface {
	Load(ctx context.Context) (*vault.State, error)
	Init(ctx context.Context, st *vault.State) error
	Commit(ctx context.Context, st *vault.State, j vault.Journal, e *vault.Effect) error
}

// Message is one inbound message as delivered by the host.
type Message struct {
	Sender ton.AccountID
	Now    uint64
	Body   *boc.Cell
}

type Engine struct {
	mu       sync.Mutex
	store    Store
	verifier sigverify.Verifier
	state    *vault.State // nil until loaded, and after a failed commit
	log      *zap.Logger
}

func New(s Store, v sigverify.Verifier, log *zap.Logger) *Engine {
	return &Engine{store: s, verifier: v, log: log}
}

// Init loads the persisted state, writing g as the genesis state if the store
// is empty.
func (e *Engine) Init(ctx context.Context, g vault.Genesis) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.Load(ctx)
	if errors.Is(err, store.ErrNotInitialized) {
		if st, err = vault.NewState(g, e.verifier.KeySize()); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		switch err := e.store.Init(ctx, st); {
		case errors.Is(err, store.ErrAlreadyInitialized):
			// another instance wrote genesis first
			if st, err = e.store.Load(ctx); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			e.log.Info("vault initialized",
				zap.String("admin", st.Admin.ToRaw()),
				zap.Uint32("timeout", st.Timeout),
			)
		}
	} else if err != nil {
		return err
	}
	e.state = st
	return nil
}

func (e *Engine) loadLocked(ctx context.Context) (*vault.State, error) {
	if e.state != nil {
		return e.state, nil
	}
	st, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	e.state = st
	return st, nil
}

// Submit processes msg to completion. A rejected message is a Result with a
// non-success code and a nil error; an error means the store failed and the
// message had no effect.
func (e *Engine) Submit(ctx context.Context, msg Message) (vault.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.loadLocked(ctx)
	if err != nil {
		return vault.Result{}, err
	}

	next := cur.Clone()
	res := vault.Handle(next, vault.Env{Sender: msg.Sender, Now: msg.Now, Verifier: e.verifier}, msg.Body)
	if !res.Code.OK() {
		e.log.Info("message rejected",
			zap.String("sender", msg.Sender.ToRaw()),
			zap.String("code", res.Code.String()),
		)
		return res, nil
	}

	if res.Effect != nil {
		res.Effect.ID = uuid.New().String()
	}
	if err := e.store.Commit(ctx, next, res.Journal, res.Effect); err != nil {
		// the store may be partially written; reload before the next message
		e.state = nil
		return vault.Result{}, fmt.Errorf("commit: %w", err)
	}
	e.state = next

	fields := []zap.Field{
		zap.String("sender", msg.Sender.ToRaw()),
		zap.Int("purged", len(res.Journal.Purged)),
	}
	if res.Effect != nil {
		fields = append(fields,
			zap.String("effect", res.Effect.ID),
			zap.String("kind", string(res.Effect.Kind)),
			zap.Uint32("query_id", res.Effect.QueryID),
		)
	}
	e.log.Info("message applied", fields...)
	return res, nil
}

// Data returns the read-only vault view.
func (e *Engine) Data(ctx context.Context) (vault.Data, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.loadLocked(ctx)
	if err != nil {
		return vault.Data{}, err
	}
	return st.Data(), nil
}

// Ready reports whether the state is loaded.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != nil
}

// Notifier adapts the engine to ledger notifications: a notification is
// accepted iff the vault applies it.
func (e *Engine) Notifier(now func() uint64) func(ctx context.Context, sender ton.AccountID, body *boc.Cell) (bool, error) {
	return func(ctx context.Context, sender ton.AccountID, body *boc.Cell) (bool, error) {
		res, err := e.Submit(ctx, Message{Sender: sender, Now: now(), Body: body})
		if err != nil {
			return false, err
		}
		return res.Code.OK(), nil
	}
}
