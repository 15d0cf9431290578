// Package descriptor implements the fixed-size table of active open-file
// handles. A descriptor is a non-owning reference to an inode slot plus a
// mode and cursor; it is never persisted.
package descriptor

import "github.com/oriondev/cowfs"

// Descriptor is one open-file handle.
type Descriptor struct {
	InodeIndex int
	Mode       cowfs.Mode
	Position   uint64
	Valid      bool
}

// Table is the fixed-size array of descriptors, indexed by FD.
type Table struct {
	slots []Descriptor
}

// New allocates a table with room for maxFiles descriptors, matching the
// inode table's size.
func New(maxFiles uint) *Table {
	return &Table{slots: make([]Descriptor, maxFiles)}
}

// Allocate returns the first invalid slot, positioned and moded as given.
func (t *Table) Allocate(inodeIndex int, mode cowfs.Mode, position uint64) (cowfs.FD, cowfs.DriverError) {
	for i := range t.slots {
		if !t.slots[i].Valid {
			t.slots[i] = Descriptor{
				InodeIndex: inodeIndex,
				Mode:       mode,
				Position:   position,
				Valid:      true,
			}
			return cowfs.FD(i), nil
		}
	}
	return -1, cowfs.ErrNoDescriptors
}

// Get returns the descriptor for fd if it is currently valid.
func (t *Table) Get(fd cowfs.FD) (*Descriptor, cowfs.DriverError) {
	if fd < 0 || int(fd) >= len(t.slots) {
		return nil, cowfs.ErrBadFileDescriptor
	}
	d := &t.slots[fd]
	if !d.Valid {
		return nil, cowfs.ErrBadFileDescriptor
	}
	return d, nil
}

// Free invalidates fd without touching the inode it referenced.
func (t *Table) Free(fd cowfs.FD) cowfs.DriverError {
	d, err := t.Get(fd)
	if err != nil {
		return err
	}
	*d = Descriptor{}
	return nil
}
