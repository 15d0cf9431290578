// Package storetest provides an in-memory backing stream for exercising
// store.Store without touching the filesystem, using
// bytesextra.NewReadWriteSeeker to turn a plain []byte into an
// io.ReadWriteSeeker.
package storetest

import (
	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/internal/blockpool"
	"github.com/oriondev/cowfs/internal/inode"
	"github.com/oriondev/cowfs/store"
	"github.com/xaionaro-go/bytesextra"
)

// NewFreshStore builds a Store backed by an in-memory buffer with a
// zero-initialized inode table and block pool, without writing anything
// back through Save until the caller chooses to.
func NewFreshStore(cfg cowfs.Config, totalBlocks uint64) (*store.Store, *inode.Table, *blockpool.Pool) {
	size := estimateSize(cfg, totalBlocks)
	stream := bytesextra.NewReadWriteSeeker(make([]byte, size))

	s := store.FromStream(stream, cfg)
	table, pool := s.CreateFresh(totalBlocks)
	return s, table, pool
}

// RoundTrip saves table/pool through a new in-memory Store and loads a fresh
// table/pool pair back from the same bytes, the way a process restart would.
func RoundTrip(cfg cowfs.Config, totalBlocks uint64, table *inode.Table, pool *blockpool.Pool) (*inode.Table, *blockpool.Pool, cowfs.DriverError) {
	size := estimateSize(cfg, totalBlocks)
	stream := bytesextra.NewReadWriteSeeker(make([]byte, size*2))

	s := store.FromStream(stream, cfg)
	if err := s.Save(table, pool); err != nil {
		return nil, nil, err
	}
	return s.Load(totalBlocks)
}

func estimateSize(cfg cowfs.Config, totalBlocks uint64) uint64 {
	inodeSize := (uint64(cfg.MaxFilenameLength) + 25) * uint64(cfg.MaxFiles)
	blockSize := (uint64(cfg.BlockSize) + 17) * totalBlocks
	// Generous allowance for the version-history sidecar.
	sidecar := uint64(cfg.MaxFiles) * (8 + 64*67)
	return inodeSize + blockSize + sidecar
}
