// Package inode implements the inode table and the per-inode version
// history it carries. The write/rollback protocol itself lives in the
// engine package, which orchestrates this table together with
// internal/blockpool and internal/refcount.
package inode

import (
	"github.com/oriondev/cowfs"
)

// Inode is a single file record: identity, current head/size, and the full
// version history.
type Inode struct {
	Filename     string
	HeadBlock    cowfs.BlockIndex
	Size         uint64
	VersionCount uint64
	InUse        bool
	History      []cowfs.VersionInfo
}

// Table is the fixed-size array of Inode records, indexed by slot.
type Table struct {
	Slots []Inode
}

// New allocates an empty table with room for maxFiles inodes.
func New(maxFiles uint) *Table {
	return &Table{Slots: make([]Inode, maxFiles)}
}

// Restore wraps a table already loaded from the backing store.
func Restore(slots []Inode) *Table {
	return &Table{Slots: slots}
}

// Find scans for an in-use slot with the given filename.
func (t *Table) Find(name string) (int, cowfs.DriverError) {
	for i := range t.Slots {
		if t.Slots[i].InUse && t.Slots[i].Filename == name {
			return i, nil
		}
	}
	return -1, cowfs.ErrNotFound
}

// Allocate returns the index of the first free slot, marking it in-use
// with the given filename and an empty history.
func (t *Table) Allocate(name string) (int, cowfs.DriverError) {
	for i := range t.Slots {
		if !t.Slots[i].InUse {
			t.Slots[i] = Inode{
				Filename: name,
				InUse:    true,
			}
			return i, nil
		}
	}
	return -1, cowfs.ErrNoInodes
}

// Release rolls back an inode allocation, e.g. when Create fails after the
// inode slot was claimed but before a descriptor could be obtained.
func (t *Table) Release(index int) {
	t.Slots[index] = Inode{}
}

// AppendVersion appends v to the inode's history and updates its
// convenience fields (HeadBlock, Size, VersionCount) to match, preserving
// the invariant that they always equal those of the most recent
// VersionInfo.
func (t *Table) AppendVersion(index int, v cowfs.VersionInfo) {
	slot := &t.Slots[index]
	slot.History = append(slot.History, v)
	slot.HeadBlock = v.HeadBlock
	slot.Size = v.Size
	slot.VersionCount = uint64(len(slot.History))
}

// FindVersion returns the VersionInfo with the given 1-based version
// number.
func (t *Table) FindVersion(index int, versionNumber uint64) (cowfs.VersionInfo, cowfs.DriverError) {
	slot := &t.Slots[index]
	if versionNumber == 0 || versionNumber > slot.VersionCount {
		return cowfs.VersionInfo{}, cowfs.ErrVersionNotFound
	}
	for _, v := range slot.History {
		if v.VersionNumber == versionNumber {
			return v, nil
		}
	}
	return cowfs.VersionInfo{}, cowfs.ErrVersionNotFound
}

// Names returns the filenames of every in-use inode, in slot order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Slots))
	for i := range t.Slots {
		if t.Slots[i].InUse {
			names = append(names, t.Slots[i].Filename)
		}
	}
	return names
}
