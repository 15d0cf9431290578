// Package refcount implements walking a block chain to bump or drop the
// reference count every block in it carries, freeing any block whose
// count reaches zero. Chains are acyclic by construction, so a simple
// forward walk terminating at the sentinel (Next == 0) is sufficient;
// there is no cycle detection.
package refcount

import (
	"github.com/hashicorp/go-multierror"

	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/internal/blockpool"
)

// IncrementChain walks the chain starting at head and increments every
// block's ref count by one, because another version now also references it.
func IncrementChain(pool *blockpool.Pool, head cowfs.BlockIndex) {
	for b := head; b != 0; {
		block := &pool.Blocks[b]
		block.RefCount++
		b = block.Next
	}
}

// DecrementChain walks the chain starting at head and decrements every
// block's ref count by one. Any block whose count reaches zero is freed
// back to the pool. The walk always covers every block in the chain, even
// after a failure on one of them, so one bad block never leaves the rest
// of the chain leaked; any failures encountered along the way are
// aggregated with multierror.Append and returned together.
func DecrementChain(pool *blockpool.Pool, head cowfs.BlockIndex) cowfs.DriverError {
	var result *multierror.Error

	for b := head; b != 0; {
		block := &pool.Blocks[b]
		next := block.Next

		if block.RefCount == 0 {
			result = multierror.Append(result, cowfs.ErrIOFailed.WithMessage("ref count underflow"))
			b = next
			continue
		}
		block.RefCount--
		if block.RefCount == 0 {
			if err := pool.FreeOne(b); err != nil {
				result = multierror.Append(result, err)
			}
		}

		b = next
	}

	if result == nil {
		return nil
	}
	return cowfs.ErrIOFailed.Wrap(result)
}

// CountShared walks the chain starting at head and counts blocks whose ref
// count is greater than one, i.e. also retained by some other version.
// This backs the FileStatus.SharedBlocks diagnostic.
func CountShared(pool *blockpool.Pool, head cowfs.BlockIndex) int {
	var n int
	for b := head; b != 0; {
		block := &pool.Blocks[b]
		if block.RefCount > 1 {
			n++
		}
		b = block.Next
	}
	return n
}
