// Package engine implements the public descriptor-based file API
// (create/open/read/write/close/list/status/history/rollback/gc) that
// orchestrates the lower-level components -- the block pool, inode table,
// descriptor table, delta writer, and reference counter -- into one
// copy-on-write storage engine.
//
// Engine is a single facade type holding the pieces other packages
// implement, with no state of its own beyond those pieces.
package engine

import (
	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/gc"
	"github.com/oriondev/cowfs/internal/blockpool"
	"github.com/oriondev/cowfs/internal/delta"
	"github.com/oriondev/cowfs/internal/descriptor"
	"github.com/oriondev/cowfs/internal/inode"
	"github.com/oriondev/cowfs/internal/refcount"
	"github.com/oriondev/cowfs/store"
)

// Engine is the single-process, single-threaded copy-on-write file-storage
// engine. It is not safe for concurrent use; a caller needing concurrent
// access must serialize calls with an external mutex.
type Engine struct {
	config      cowfs.Config
	store       *store.Store
	inodes      *inode.Table
	pool        *blockpool.Pool
	descriptors *descriptor.Table
}

// New opens (or creates) the backing file at path, sized to hold
// totalBytes/BlockSize blocks, and returns a ready-to-use Engine.
func New(path string, totalBytes uint64, opts ...cowfs.Option) (*Engine, cowfs.DriverError) {
	cfg := cowfs.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s, table, pool, err := store.OpenFile(path, totalBytes, cfg)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:      cfg,
		store:       s,
		inodes:      table,
		pool:        pool,
		descriptors: descriptor.New(cfg.MaxFiles),
	}, nil
}

// Shutdown flushes the current in-memory state to the backing file exactly
// once and releases the file handle. All mutations between construction
// and Shutdown live only in memory until this call.
func (e *Engine) Shutdown() cowfs.DriverError {
	if err := e.store.Save(e.inodes, e.pool); err != nil {
		return err
	}
	if closeErr := e.store.Close(); closeErr != nil {
		return cowfs.ErrIOFailed.Wrap(closeErr)
	}
	return nil
}

// Create allocates a new, empty file and returns a descriptor open for
// writing, positioned at 0.
func (e *Engine) Create(name string) (cowfs.FD, cowfs.DriverError) {
	if len(name) == 0 || uint(len(name)) >= e.config.MaxFilenameLength {
		return -1, cowfs.ErrNameTooLong
	}
	if _, err := e.inodes.Find(name); err == nil {
		return -1, cowfs.ErrAlreadyExists
	}

	idx, err := e.inodes.Allocate(name)
	if err != nil {
		return -1, err
	}

	fd, err := e.descriptors.Allocate(idx, cowfs.ModeWrite, 0)
	if err != nil {
		e.inodes.Release(idx)
		return -1, err
	}
	return fd, nil
}

// Open returns a new descriptor for an existing file: positioned at 0 for
// ModeRead, or at the file's current size for ModeWrite (append semantics).
func (e *Engine) Open(name string, mode cowfs.Mode) (cowfs.FD, cowfs.DriverError) {
	idx, err := e.inodes.Find(name)
	if err != nil {
		return -1, err
	}

	position := uint64(0)
	if mode == cowfs.ModeWrite {
		position = e.inodes.Slots[idx].Size
	}

	return e.descriptors.Allocate(idx, mode, position)
}

// Close invalidates fd. The inode it referenced is untouched.
func (e *Engine) Close(fd cowfs.FD) cowfs.DriverError {
	return e.descriptors.Free(fd)
}

// Read copies up to len(buf) bytes from fd's current position into buf,
// advancing the position by the number of bytes actually returned. At EOF
// it returns 0 with no error.
func (e *Engine) Read(fd cowfs.FD, buf []byte) (int, cowfs.DriverError) {
	d, err := e.descriptors.Get(fd)
	if err != nil {
		return 0, err
	}
	if d.Mode != cowfs.ModeRead {
		return 0, cowfs.ErrWrongMode
	}

	in := &e.inodes.Slots[d.InodeIndex]
	if d.Position >= in.Size {
		return 0, nil
	}

	content := readChainBytes(e.pool, in.HeadBlock, in.Size)
	end := d.Position + uint64(len(buf))
	if end > in.Size {
		end = in.Size
	}

	n := copy(buf, content[d.Position:end])
	d.Position += uint64(n)
	return n, nil
}

// Write replaces the file's content from fd's current position onward with
// buf, computing a delta against the previous version, and appends exactly
// one new version on success. fd's position advances by len(buf).
func (e *Engine) Write(fd cowfs.FD, buf []byte) (int, cowfs.DriverError) {
	d, err := e.descriptors.Get(fd)
	if err != nil {
		return 0, err
	}
	if d.Mode != cowfs.ModeWrite {
		return 0, cowfs.ErrWrongMode
	}

	in := &e.inodes.Slots[d.InodeIndex]
	oldBytes := readChainBytes(e.pool, in.HeadBlock, in.Size)

	prefixLen := d.Position
	if prefixLen > uint64(len(oldBytes)) {
		prefixLen = uint64(len(oldBytes))
	}

	newBytes := make([]byte, 0, prefixLen+uint64(len(buf)))
	newBytes = append(newBytes, oldBytes[:prefixLen]...)
	newBytes = append(newBytes, buf...)

	newHead, deltaStart, deltaSize, buildErr := buildNewChain(
		e.pool, in.HeadBlock, in.Size, newBytes)
	if buildErr != nil {
		return 0, buildErr
	}

	newVersion := cowfs.VersionInfo{
		VersionNumber: in.VersionCount + 1,
		HeadBlock:     newHead,
		Size:          uint64(len(newBytes)),
		Timestamp:     cowfs.TimestampNow(),
		DeltaStart:    deltaStart,
		DeltaSize:     deltaSize,
		PrevVersion:   in.VersionCount,
	}
	e.inodes.AppendVersion(d.InodeIndex, newVersion)

	d.Position += uint64(len(buf))
	return len(buf), nil
}

// Rollback creates a new version whose chain is the same chain recorded for
// targetVersion, retaining it with an incremented ref count, and makes it
// the file's current version.
func (e *Engine) Rollback(fd cowfs.FD, targetVersion uint64) cowfs.DriverError {
	d, err := e.descriptors.Get(fd)
	if err != nil {
		return err
	}

	v, err := e.inodes.FindVersion(d.InodeIndex, targetVersion)
	if err != nil {
		return err
	}

	if v.HeadBlock != 0 {
		refcount.IncrementChain(e.pool, v.HeadBlock)
	}

	in := &e.inodes.Slots[d.InodeIndex]
	newVersion := cowfs.VersionInfo{
		VersionNumber: in.VersionCount + 1,
		HeadBlock:     v.HeadBlock,
		Size:          v.Size,
		Timestamp:     cowfs.TimestampNow(),
		DeltaStart:    0,
		DeltaSize:     v.Size,
		PrevVersion:   targetVersion,
	}
	e.inodes.AppendVersion(d.InodeIndex, newVersion)
	return nil
}

// GarbageCollect runs a mark-sweep pass over every live version chain and
// rebuilds the free-extent list from the result.
func (e *Engine) GarbageCollect() {
	gc.Run(e.inodes, e.pool)
}

// ListFiles returns the names of every currently in-use file, in inode-slot
// order.
func (e *Engine) ListFiles() []string {
	return e.inodes.Names()
}

// VersionCount returns the number of versions recorded for fd's file.
func (e *Engine) VersionCount(fd cowfs.FD) (uint64, cowfs.DriverError) {
	d, err := e.descriptors.Get(fd)
	if err != nil {
		return 0, err
	}
	return e.inodes.Slots[d.InodeIndex].VersionCount, nil
}

// VersionHistory returns every recorded version for fd's file, oldest
// first.
func (e *Engine) VersionHistory(fd cowfs.FD) ([]cowfs.VersionInfo, cowfs.DriverError) {
	d, err := e.descriptors.Get(fd)
	if err != nil {
		return nil, err
	}
	history := e.inodes.Slots[d.InodeIndex].History
	out := make([]cowfs.VersionInfo, len(history))
	copy(out, history)
	return out, nil
}

// FileSize returns the current size of fd's file.
func (e *Engine) FileSize(fd cowfs.FD) (uint64, cowfs.DriverError) {
	d, err := e.descriptors.Get(fd)
	if err != nil {
		return 0, err
	}
	return e.inodes.Slots[d.InodeIndex].Size, nil
}

// FileStatus reports whether fd is open, whether it was opened for
// writing, the current size and version, and the SharedBlocks diagnostic.
func (e *Engine) FileStatus(fd cowfs.FD) (cowfs.FileStatus, cowfs.DriverError) {
	d, err := e.descriptors.Get(fd)
	if err != nil {
		return cowfs.FileStatus{}, err
	}
	in := &e.inodes.Slots[d.InodeIndex]
	return cowfs.FileStatus{
		Open:         true,
		Modified:     d.Mode == cowfs.ModeWrite,
		Size:         in.Size,
		Version:      in.VersionCount,
		SharedBlocks: refcount.CountShared(e.pool, in.HeadBlock),
	}, nil
}

// TotalMemoryUsage returns the number of bytes held by in-use blocks,
// excluding the permanently-reserved sentinel at index 0.
func (e *Engine) TotalMemoryUsage() uint64 {
	used := e.pool.TotalBlocks() - e.pool.FreeBlockCount() - 1
	return used * uint64(e.config.BlockSize)
}

// TotalFreeBytes returns the number of bytes held by free blocks, the
// complement of TotalMemoryUsage.
func (e *Engine) TotalFreeBytes() uint64 {
	return e.pool.FreeBlockCount() * uint64(e.config.BlockSize)
}

// FreeExtentCount returns the number of distinct free extents currently
// tracked, exposed for testing the merge invariant of the free list.
func (e *Engine) FreeExtentCount() int {
	return e.pool.FreeExtentCount()
}

// -----------------------------------------------------------------------------
// Chain construction

// readChainBytes walks a block chain from head and returns the first size
// bytes of its content. Trailing bytes in the final block beyond size are
// never included; they are leftover padding from a previous, larger
// version and are not part of this version's content.
func readChainBytes(pool *blockpool.Pool, head cowfs.BlockIndex, size uint64) []byte {
	out := make([]byte, 0, size)
	for b := head; b != 0 && uint64(len(out)) < size; b = pool.Blocks[b].Next {
		out = append(out, pool.Blocks[b].Data...)
	}
	if uint64(len(out)) > size {
		out = out[:size]
	}
	return out
}

// buildNewChain builds a version's block chain so its head always points
// to a complete representation of the new content.
//
// A block's Next field is shared global state, so a chain can only safely
// reuse another chain's blocks where the two chains agree on everything
// from that point onward -- which is only true of a common *tail*. The
// unchanged tail, when it spans whole blocks and starts on a block boundary
// in both the old and the new content, is therefore shared by reference
// (ref count bumped, Next left untouched); everything before
// that point -- the actual delta plus any partial-block remainder of the
// unchanged prefix -- is written into a freshly allocated chain. The
// returned delta start/size are computed independently and are advisory
// statistics; they never drive the reconstruction above.
func buildNewChain(
	pool *blockpool.Pool,
	oldHead cowfs.BlockIndex,
	oldSize uint64,
	newBytes []byte,
) (cowfs.BlockIndex, uint64, uint64, cowfs.DriverError) {
	n := uint64(len(newBytes))
	oldBytes := readChainBytes(pool, oldHead, oldSize)
	d := delta.Compute(oldBytes, newBytes)

	if d.Size == 0 {
		// Content identical, or a pure truncation: the existing chain
		// already represents every byte the new version needs (trailing
		// bytes beyond the new, smaller size are simply ignored on read).
		if oldHead != 0 {
			refcount.IncrementChain(pool, oldHead)
		}
		return oldHead, d.Start, d.Size, nil
	}

	blockSize := uint64(pool.BlockSize)
	cutNew := d.Start + d.Size // first byte of the unchanged shared tail, in new's numbering
	sharedLen := n - cutNew

	var sharedHead cowfs.BlockIndex
	freshByteBoundary := n

	if sharedLen > 0 && oldHead != 0 {
		cutOld := oldSize - sharedLen
		sharedBlockStart := ceilDiv(cutOld, blockSize) * blockSize
		if sharedBlockStart < oldSize {
			actualSharedLen := oldSize - sharedBlockStart
			// Reads concatenate whole blocks, so the fresh part must end on
			// a block boundary too, or its zero padding would become content.
			if (n-actualSharedLen)%blockSize == 0 {
				freshByteBoundary = n - actualSharedLen
				sharedHead = blockAtByteOffset(pool, oldHead, sharedBlockStart, blockSize)
			}
		}
	}

	fresh, buildErr := writeFreshChain(pool, newBytes[:freshByteBoundary], blockSize)
	if buildErr != nil {
		return 0, 0, 0, buildErr
	}

	var head cowfs.BlockIndex
	switch {
	case len(fresh) > 0 && sharedHead != 0:
		pool.Blocks[fresh[len(fresh)-1]].Next = sharedHead
		refcount.IncrementChain(pool, sharedHead)
		head = fresh[0]
	case len(fresh) > 0:
		head = fresh[0]
	case sharedHead != 0:
		refcount.IncrementChain(pool, sharedHead)
		head = sharedHead
	default:
		head = 0
	}

	return head, d.Start, d.Size, nil
}

// writeFreshChain allocates a new chain long enough to hold data, zero-
// padding the tail of the final block, and writes data into it. If
// allocation fails partway through, every block allocated so far in this
// call is freed via refcount.DecrementChain before returning the error, so
// a failed write leaves the pool exactly as it found it. If that cleanup
// itself hits a block it can't free, the cleanup failure is aggregated
// onto the original allocation error with multierror.Append rather than
// discarded, so the caller sees both.
func writeFreshChain(pool *blockpool.Pool, data []byte, blockSize uint64) ([]cowfs.BlockIndex, cowfs.DriverError) {
	if len(data) == 0 {
		return nil, nil
	}

	numBlocks := ceilDiv(uint64(len(data)), blockSize)
	blocks := make([]cowfs.BlockIndex, 0, numBlocks)

	for i := uint64(0); i < numBlocks; i++ {
		idx, err := pool.AllocateOne()
		if err != nil {
			if len(blocks) > 0 {
				if cleanupErr := refcount.DecrementChain(pool, blocks[0]); cleanupErr != nil {
					return nil, err.Wrap(cleanupErr)
				}
			}
			return nil, err
		}
		if len(blocks) > 0 {
			pool.Blocks[blocks[len(blocks)-1]].Next = idx
		}
		blocks = append(blocks, idx)

		start := i * blockSize
		end := start + blockSize
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		copy(pool.Blocks[idx].Data, data[start:end])
	}

	return blocks, nil
}

// blockAtByteOffset walks head forward offset/blockSize blocks and returns
// the block index found there. offset must be an exact multiple of
// blockSize within the chain's valid range.
func blockAtByteOffset(pool *blockpool.Pool, head cowfs.BlockIndex, offset, blockSize uint64) cowfs.BlockIndex {
	steps := offset / blockSize
	b := head
	for i := uint64(0); i < steps && b != 0; i++ {
		b = pool.Blocks[b].Next
	}
	return b
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
