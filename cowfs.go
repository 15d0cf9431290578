// Package cowfs implements a single-process, single-threaded block-storage
// engine that persists a fixed-size pool of fixed-size blocks to one backing
// file. Every write preserves the previous contents of the file it touches
// through copy-on-write: each file carries a linear version history, and any
// prior version can be re-materialized and promoted back to current with
// Engine.Rollback.
//
// The engine is not safe for concurrent use from multiple goroutines. A
// caller that needs concurrent access must serialize calls with an external
// mutex.
package cowfs

import "time"

// Mode selects the access mode a descriptor was opened with.
type Mode int

const (
	// ModeRead positions new descriptors at offset 0 and disallows Write.
	ModeRead Mode = iota + 1
	// ModeWrite positions new descriptors at the file's current size
	// (append semantics) and disallows Read.
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "READ"
	case ModeWrite:
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}

// BlockIndex addresses a block in the pool. Index 0 is the reserved
// sentinel meaning "no successor" / "empty chain"; it is never allocated.
type BlockIndex uint64

// FD is a file-descriptor handle returned by Create and Open. A valid
// descriptor is never negative; on failure Create and Open return -1
// together with the error.
type FD int32

// VersionInfo is an immutable record of one version of a file's contents.
// Once appended to an inode's history it is never mutated.
type VersionInfo struct {
	VersionNumber uint64
	HeadBlock     BlockIndex
	Size          uint64
	Timestamp     string
	DeltaStart    uint64
	DeltaSize     uint64
	PrevVersion   uint64
}

// FileStatus reports the current state of an open file as seen through a
// descriptor. SharedBlocks is a diagnostic field: the number of blocks in
// the current version's chain whose ref count is greater than one, i.e.
// blocks also retained by some older version.
type FileStatus struct {
	Open         bool
	Modified     bool
	Size         uint64
	Version      uint64
	SharedBlocks int
}

// TimestampNow formats the current local time as VersionInfo.Timestamp
// expects it: "YYYY-MM-DD HH:MM:SS", local time, treated as an opaque
// string by the engine.
func TimestampNow() string {
	return time.Now().Format("2006-01-02 15:04:05")
}
