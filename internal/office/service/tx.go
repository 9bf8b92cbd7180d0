package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	dErrors "officehub/pkg/domain-errors"
	"officehub/pkg/requestcontext"
)

// Tx provides the transactional boundary for office mutations.
// Implementations may wrap a database transaction or, in memory, a lock.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// numTenantShards spreads tenants over independent locks; one tenant always
// maps to the same shard so its mutations are serialized.
const numTenantShards = 64

const defaultTxTimeout = 5 * time.Second

// Checkpointer is implemented by stores without native transactions. The
// returned restore undoes every write to the tenant in ctx made after the
// checkpoint was taken.
type Checkpointer interface {
	Checkpoint(ctx context.Context) (restore func())
}

type shardedTx struct {
	shards       [numTenantShards]sync.Mutex
	timeout      time.Duration
	checkpointer Checkpointer
}

// NewShardedTx returns the in-memory Tx used with store.InMemory. When
// checkpointer is set, a failed fn leaves the tenant's state as it found it.
func NewShardedTx(checkpointer Checkpointer) Tx {
	return &shardedTx{timeout: defaultTxTimeout, checkpointer: checkpointer}
}

func (t *shardedTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := selectShard(requestcontext.Tenant(ctx))
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// The wait for the lock may have outlived the deadline.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if t.checkpointer == nil {
		return fn(ctx)
	}
	restore := t.checkpointer.Checkpoint(ctx)
	if err := fn(ctx); err != nil {
		restore()
		return err
	}
	return nil
}

func selectShard(tenant string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenant))
	return h.Sum32() % numTenantShards
}
