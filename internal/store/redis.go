package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/kl456123/reward-vault-ton/internal/outbox"
	"github.com/kl456123/reward-vault-ton/internal/replay"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

const (
	StateKeyFmt  = "%s:state"  // prefix
	ReplayKeyFmt = "%s:replay" // prefix; zset member=query_id score=created_at
)

// Redis persists the state as a hash, the replay ledger as a sorted set, and
// appends committed effects to the outbox queue, all in one MULTI/EXEC.
type Redis struct {
	rdb       *redis.Client
	stateKey  string
	replayKey string
	queueKey  string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{
		rdb:       rdb,
		stateKey:  fmt.Sprintf(StateKeyFmt, prefix),
		replayKey: fmt.Sprintf(ReplayKeyFmt, prefix),
		queueKey:  outbox.QueueKey(prefix),
	}
}

func (r *Redis) Load(ctx context.Context) (*vault.State, error) {
	h, err := r.rdb.HGetAll(ctx, r.stateKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if len(h) == 0 {
		return nil, ErrNotInitialized
	}
	zs, err := r.rdb.ZRangeWithScores(ctx, r.replayKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load replay ledger: %w", err)
	}
	entries := make([]replay.Entry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.ParseUint(member, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("replay member %q: %w", member, err)
		}
		entries = append(entries, replay.Entry{QueryID: uint32(id), CreatedAt: uint64(z.Score)})
	}
	st, err := decodeState(h, entries)
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// Init writes the genesis state. The existence check and the writes run under
// WATCH so a failed or concurrent Init leaves no partial hash behind.
func (r *Redis) Init(ctx context.Context, st *vault.State) error {
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, r.stateKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyInitialized
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, r.stateKey, encodeState(st))
			p.Del(ctx, r.replayKey)
			for _, e := range st.Replay.Entries() {
				p.ZAdd(ctx, r.replayKey, redis.Z{Score: float64(e.CreatedAt), Member: strconv.FormatUint(uint64(e.QueryID), 10)})
			}
			return nil
		})
		return err
	}, r.stateKey)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return ErrAlreadyInitialized
	case errors.Is(err, ErrAlreadyInitialized):
		return err
	case err != nil:
		return fmt.Errorf("init state: %w", err)
	}
	return nil
}

func (r *Redis) Commit(ctx context.Context, st *vault.State, j vault.Journal, e *vault.Effect) error {
	var item string
	if e != nil {
		var err error
		if item, err = outbox.Encode(*e); err != nil {
			return err
		}
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.stateKey, encodeState(st))
		if m := j.Marked; m != nil {
			p.ZAdd(ctx, r.replayKey, redis.Z{Score: float64(m.CreatedAt), Member: strconv.FormatUint(uint64(m.QueryID), 10)})
		}
		if len(j.Purged) > 0 {
			members := make([]any, len(j.Purged))
			for i, id := range j.Purged {
				members[i] = strconv.FormatUint(uint64(id), 10)
			}
			p.ZRem(ctx, r.replayKey, members...)
		}
		if item != "" {
			p.RPush(ctx, r.queueKey, item)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
