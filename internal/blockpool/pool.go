// Package blockpool implements the fixed-size block array and its
// free-extent list, with best-fit allocation and extent merging.
//
// Block index 0 is a reserved sentinel meaning "no successor" / "empty
// chain". It is never present in the free list and AllocateOne/FreeOne
// never touch it.
package blockpool

import (
	"sort"

	"github.com/oriondev/cowfs"
)

// Block is a single fixed-size record in the pool. Data is always exactly
// BlockSize bytes long.
type Block struct {
	Data     []byte
	Next     cowfs.BlockIndex
	InUse    bool
	RefCount uint64
}

// Extent describes a contiguous run of free blocks: [Start, Start+Count).
type Extent struct {
	Start cowfs.BlockIndex
	Count uint64
}

// Pool owns the flat block array and the free-extent list describing which
// blocks in it are unallocated.
type Pool struct {
	BlockSize uint
	Blocks    []Block
	free      []Extent
}

// New creates a pool of totalBlocks blocks, each blockSize bytes, with every
// block except the sentinel (index 0) free. Block 0 is marked in-use so it
// can never be handed out by AllocateOne.
func New(totalBlocks uint64, blockSize uint) *Pool {
	p := &Pool{
		BlockSize: blockSize,
		Blocks:    make([]Block, totalBlocks),
	}
	for i := range p.Blocks {
		p.Blocks[i].Data = make([]byte, blockSize)
	}
	if totalBlocks > 0 {
		p.Blocks[0].InUse = true
	}
	if totalBlocks > 1 {
		p.free = []Extent{{Start: 1, Count: totalBlocks - 1}}
	}
	return p
}

// Restore rebuilds a Pool around blocks already loaded from the backing
// store and reconstructs the free list by scanning for unallocated runs,
// exactly as garbage collection does. The free list is never itself
// persisted; it is always derived from the block array.
func Restore(blocks []Block, blockSize uint) *Pool {
	p := &Pool{
		BlockSize: blockSize,
		Blocks:    blocks,
	}
	p.RebuildFreeList()
	return p
}

// TotalBlocks returns the size of the block array, including the sentinel.
func (p *Pool) TotalBlocks() uint64 {
	return uint64(len(p.Blocks))
}

// FreeExtentCount reports the number of distinct free extents currently
// tracked. Exposed for testing the sorted/non-overlapping/merged invariant
// the free list maintains.
func (p *Pool) FreeExtentCount() int {
	return len(p.free)
}

// InUseCount returns the number of blocks currently marked in-use,
// including the sentinel.
func (p *Pool) InUseCount() uint64 {
	var n uint64
	for i := range p.Blocks {
		if p.Blocks[i].InUse {
			n++
		}
	}
	return n
}

// AllocateOne finds the free extent whose surplus (count-1) is smallest —
// best-fit — takes its first block, shrinks or removes the extent, and
// returns the newly-allocated, zeroed block's index with RefCount set to 1.
func (p *Pool) AllocateOne() (cowfs.BlockIndex, cowfs.DriverError) {
	if len(p.free) == 0 {
		return 0, cowfs.ErrOutOfSpace
	}

	bestIdx := -1
	var bestSurplus uint64
	for i, ext := range p.free {
		surplus := ext.Count - 1
		if bestIdx == -1 || surplus < bestSurplus {
			bestIdx = i
			bestSurplus = surplus
		}
	}

	ext := p.free[bestIdx]
	chosen := ext.Start

	if ext.Count == 1 {
		p.free = append(p.free[:bestIdx], p.free[bestIdx+1:]...)
	} else {
		p.free[bestIdx] = Extent{Start: ext.Start + 1, Count: ext.Count - 1}
	}

	block := &p.Blocks[chosen]
	for i := range block.Data {
		block.Data[i] = 0
	}
	block.Next = 0
	block.InUse = true
	block.RefCount = 1

	return chosen, nil
}

// FreeOne clears a block's contents and metadata and returns it to the free
// list. It is a no-op error case to free the sentinel block.
func (p *Pool) FreeOne(index cowfs.BlockIndex) cowfs.DriverError {
	if index == 0 || uint64(index) >= uint64(len(p.Blocks)) {
		return cowfs.ErrIOFailed.WithMessage("invalid block index")
	}

	block := &p.Blocks[index]
	for i := range block.Data {
		block.Data[i] = 0
	}
	block.Next = 0
	block.InUse = false
	block.RefCount = 0

	p.AddToFreeList(index, 1)
	return nil
}

// AddToFreeList inserts (start, count) into the free list in sorted
// position and merges it with any adjacent extents.
func (p *Pool) AddToFreeList(start cowfs.BlockIndex, count uint64) {
	insertAt := sort.Search(len(p.free), func(i int) bool {
		return p.free[i].Start > start
	})

	p.free = append(p.free, Extent{})
	copy(p.free[insertAt+1:], p.free[insertAt:])
	p.free[insertAt] = Extent{Start: start, Count: count}

	p.MergeFree()
}

// MergeFree performs a single pass over the sorted free list, coalescing
// any extents where a.Start+a.Count == b.Start. It is idempotent.
func (p *Pool) MergeFree() {
	if len(p.free) < 2 {
		return
	}

	merged := make([]Extent, 0, len(p.free))
	merged = append(merged, p.free[0])

	for _, ext := range p.free[1:] {
		last := &merged[len(merged)-1]
		if last.Start+cowfs.BlockIndex(last.Count) == ext.Start {
			last.Count += ext.Count
		} else {
			merged = append(merged, ext)
		}
	}

	p.free = merged
}

// RebuildFreeList discards the current free list and reconstructs it by
// scanning the block array for maximal runs of unallocated blocks, skipping
// the sentinel at index 0. Used on reload (Restore) and by the garbage
// collector's sweep phase.
func (p *Pool) RebuildFreeList() {
	p.free = nil

	var runStart cowfs.BlockIndex
	var runLen uint64

	flush := func() {
		if runLen > 0 {
			p.free = append(p.free, Extent{Start: runStart, Count: runLen})
			runLen = 0
		}
	}

	for i := 1; i < len(p.Blocks); i++ {
		if p.Blocks[i].InUse {
			flush()
			continue
		}
		if runLen == 0 {
			runStart = cowfs.BlockIndex(i)
		}
		runLen++
	}
	flush()

	p.MergeFree()
}

// FreeBlockCount returns the total number of free blocks across all
// extents.
func (p *Pool) FreeBlockCount() uint64 {
	var n uint64
	for _, ext := range p.free {
		n += ext.Count
	}
	return n
}

// Chain returns a copy of the free-extent list, for inspection in tests.
func (p *Pool) Chain() []Extent {
	out := make([]Extent, len(p.free))
	copy(out, p.free)
	return out
}
