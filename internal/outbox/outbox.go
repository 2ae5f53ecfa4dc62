// Package outbox moves committed settlement effects to the token ledger.
//
// Effects are written to a Redis list in the same transaction as the vault
// state. The settler claims them into a processing list, applies transfer_out
// effects to the ledger, re-queues a failed transfer until MaxAttempts, and
// then dead-letters it.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kl456123/reward-vault-ton/internal/ledger"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

const (
	QueueKeyFmt      = "%s:effects:queue"      // prefix
	ProcessingKeyFmt = "%s:effects:processing" // prefix
	DLQKeyFmt        = "%s:effects:dlq"        // prefix
)

func QueueKey(prefix string) string      { return fmt.Sprintf(QueueKeyFmt, prefix) }
func ProcessingKey(prefix string) string { return fmt.Sprintf(ProcessingKeyFmt, prefix) }
func DLQKey(prefix string) string        { return fmt.Sprintf(DLQKeyFmt, prefix) }

// Envelope is the queued form of an effect.
type Envelope struct {
	Effect   vault.Effect `json:"effect"`
	Attempts int          `json:"attempts"`
	Error    string       `json:"error,omitempty"`
}

func Encode(e vault.Effect) (string, error) {
	raw, err := json.Marshal(Envelope{Effect: e})
	if err != nil {
		return "", fmt.Errorf("marshal effect: %w", err)
	}
	return string(raw), nil
}

// Apply settles one effect against the ledger.
func Apply(ctx context.Context, l ledger.Ledger, e vault.Effect, log *zap.Logger) error {
	switch e.Kind {
	case vault.TransferOut:
		if err := l.Transfer(ctx, ledger.FromEffect(e)); err != nil {
			return fmt.Errorf("transfer %s: %w", e.ID, err)
		}
		log.Info("withdraw settled",
			zap.String("effect", e.ID),
			zap.Uint32("query_id", e.QueryID),
			zap.Uint64("project_id", e.ProjectID),
			zap.String("recipient", e.Counterparty.ToRaw()),
			zap.String("amount", e.Amount.String()),
		)
	case vault.DepositRecorded:
		log.Info("deposit recorded",
			zap.String("effect", e.ID),
			zap.Uint32("query_id", e.QueryID),
			zap.Uint64("project_id", e.ProjectID),
			zap.String("from", e.Counterparty.ToRaw()),
			zap.String("amount", e.Amount.String()),
		)
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
	return nil
}

type Settler struct {
	rdb           *redis.Client
	ledger        ledger.Ledger
	queueKey      string
	processingKey string
	dlqKey        string
	maxAttempts   int
	pollTimeout   time.Duration
	log           *zap.Logger
}

func NewSettler(rdb *redis.Client, l ledger.Ledger, prefix string, maxAttempts int, pollTimeout time.Duration, log *zap.Logger) *Settler {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Settler{
		rdb:           rdb,
		ledger:        l,
		queueKey:      QueueKey(prefix),
		processingKey: ProcessingKey(prefix),
		dlqKey:        DLQKey(prefix),
		maxAttempts:   maxAttempts,
		pollTimeout:   pollTimeout,
		log:           log,
	}
}

// Run is the settler loop: BLMOVE queue → processing, apply, then remove the
// item from processing together with any requeue or dead-letter push. Items
// left in processing by a crash or a failed write are recovered first.
func (s *Settler) Run(ctx context.Context) {
	s.log.Info("settler started", zap.String("queue", s.queueKey))
	if err := s.Recover(ctx); err != nil {
		s.log.Error("settler: recover processing list", zap.Error(err))
	}

	for {
		if ctx.Err() != nil {
			s.log.Info("settler stopped")
			return
		}

		raw, err := s.rdb.BLMove(ctx, s.queueKey, s.processingKey, "LEFT", "RIGHT", s.pollTimeout).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Error("settler: BLMOVE error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		if err := s.Handle(ctx, raw); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("settler: handle effect", zap.Error(err))
			time.Sleep(time.Second)
			if err := s.Recover(ctx); err != nil {
				s.log.Error("settler: recover processing list", zap.Error(err))
			}
		}
	}
}

// Recover moves every item in the processing list back to the head of the
// queue. Ledger transfers are idempotent by effect id, so an effect that was
// applied before a crash is safe to apply again.
func (s *Settler) Recover(ctx context.Context) error {
	for n := 0; ; n++ {
		_, err := s.rdb.LMove(ctx, s.processingKey, s.queueKey, "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			if n > 0 {
				s.log.Warn("settler: recovered in-flight effects", zap.Int("count", n))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("lmove %s: %w", s.processingKey, err)
		}
	}
}

// Handle processes one claimed item. A nil return means the item has left the
// processing list; on error it stays there until Recover.
func (s *Settler) Handle(ctx context.Context, raw string) error {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		s.log.Error("settler: unmarshal effect", zap.String("raw", raw), zap.Error(err))
		return s.release(ctx, raw, s.dlqKey, raw)
	}

	err := Apply(ctx, s.ledger, env.Effect, s.log)
	if err == nil {
		return s.release(ctx, raw, "", "")
	}

	env.Attempts++
	env.Error = err.Error()
	out, merr := json.Marshal(env)
	if merr != nil {
		return fmt.Errorf("marshal envelope: %w", merr)
	}
	if env.Attempts < s.maxAttempts {
		s.log.Warn("settler: effect failed, requeued",
			zap.String("effect", env.Effect.ID),
			zap.Int("attempts", env.Attempts),
			zap.Error(err),
		)
		return s.release(ctx, raw, s.queueKey, string(out))
	}
	if rerr := s.release(ctx, raw, s.dlqKey, string(out)); rerr != nil {
		return rerr
	}
	s.log.Error("settler: effect dead-lettered",
		zap.String("effect", env.Effect.ID),
		zap.String("kind", string(env.Effect.Kind)),
		zap.Int("attempts", env.Attempts),
		zap.Error(err),
	)
	return nil
}

// release removes raw from the processing list and, when target is set,
// pushes item onto it in the same transaction.
func (s *Settler) release(ctx context.Context, raw, target, item string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if target != "" {
			p.RPush(ctx, target, item)
		}
		p.LRem(ctx, s.processingKey, 1, raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("release effect: %w", err)
	}
	return nil
}

// Drain applies effects from ch until ctx is done or ch closes. It serves the
// in-memory store, which has no durable queue; failures are only logged.
func Drain(ctx context.Context, ch <-chan vault.Effect, l ledger.Ledger, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := Apply(ctx, l, e, log); err != nil {
				log.Error("settler: effect failed", zap.String("effect", e.ID), zap.Error(err))
			}
		}
	}
}
