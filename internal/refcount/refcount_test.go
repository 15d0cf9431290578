package refcount_test

import (
	"testing"

	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/internal/blockpool"
	"github.com/oriondev/cowfs/internal/refcount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asBlockIndex(v uint64) cowfs.BlockIndex {
	return cowfs.BlockIndex(v)
}

func chainOf(t *testing.T, pool *blockpool.Pool, n int) (head uint64) {
	t.Helper()
	var prev *uint64
	for i := 0; i < n; i++ {
		idx, err := pool.AllocateOne()
		require.Nil(t, err)
		if prev == nil {
			head = uint64(idx)
		} else {
			pool.Blocks[*prev].Next = idx
		}
		v := uint64(idx)
		prev = &v
	}
	return head
}

func TestIncrementChain(t *testing.T) {
	pool := blockpool.New(8, 16)
	head := chainOf(t, pool, 3)

	refcount.IncrementChain(pool, asBlockIndex(head))

	for b := head; b != 0; b = uint64(pool.Blocks[b].Next) {
		assert.EqualValues(t, 2, pool.Blocks[b].RefCount)
	}
}

func TestDecrementChain_FreesAtZero(t *testing.T) {
	pool := blockpool.New(8, 16)
	head := chainOf(t, pool, 3)

	err := refcount.DecrementChain(pool, asBlockIndex(head))
	require.Nil(t, err)

	for i := 1; i < len(pool.Blocks); i++ {
		assert.False(t, pool.Blocks[i].InUse)
	}
}

func TestDecrementChain_SharedSurvives(t *testing.T) {
	pool := blockpool.New(8, 16)
	head := chainOf(t, pool, 2)
	refcount.IncrementChain(pool, asBlockIndex(head))

	err := refcount.DecrementChain(pool, asBlockIndex(head))
	require.Nil(t, err)

	for b := head; b != 0; b = uint64(pool.Blocks[b].Next) {
		assert.True(t, pool.Blocks[b].InUse, "block still referenced by the other chain")
		assert.EqualValues(t, 1, pool.Blocks[b].RefCount)
	}
}

func TestCountShared(t *testing.T) {
	pool := blockpool.New(8, 16)
	head := chainOf(t, pool, 2)
	refcount.IncrementChain(pool, asBlockIndex(head))

	assert.Equal(t, 2, refcount.CountShared(pool, asBlockIndex(head)))
}
