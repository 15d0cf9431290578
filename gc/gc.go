// Package gc implements mark-sweep garbage collection over the block
// array, followed by a free-list rebuild. The mark phase tracks liveness
// with a bitmap, one bit per block, built on github.com/boljen/go-bitmap.
package gc

import (
	"github.com/boljen/go-bitmap"
	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/internal/blockpool"
	"github.com/oriondev/cowfs/internal/inode"
)

// Run performs one mark-sweep pass: every block reachable from any version
// of any in-use inode is marked live; every unmarked block is cleared and
// returned to the pool; the free-extent list is rebuilt from the resulting
// layout. It is idempotent: running it twice in succession leaves the
// block array unchanged.
func Run(table *inode.Table, pool *blockpool.Pool) {
	live := bitmap.New(len(pool.Blocks))
	live.Set(0, true) // the sentinel is always considered live

	for i := range table.Slots {
		if !table.Slots[i].InUse {
			continue
		}
		for _, v := range table.Slots[i].History {
			markChain(pool, live, v.HeadBlock)
		}
	}

	for i := range pool.Blocks {
		if live.Get(i) {
			continue
		}
		block := &pool.Blocks[i]
		for j := range block.Data {
			block.Data[j] = 0
		}
		block.Next = 0
		block.InUse = false
		block.RefCount = 0
	}

	pool.RebuildFreeList()
}

func markChain(pool *blockpool.Pool, live bitmap.Bitmap, head cowfs.BlockIndex) {
	for b := head; b != 0; {
		if live.Get(int(b)) {
			// Already marked by another version/chain; since chains never
			// cycle, stopping here only skips redundant work, it never
			// under-marks.
			return
		}
		live.Set(int(b), true)
		b = pool.Blocks[b].Next
	}
}
