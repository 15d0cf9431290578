package inode_test

import (
	"testing"

	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/internal/inode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_AllocateAndFind(t *testing.T) {
	table := inode.New(4)

	idx, err := table.Allocate("a.txt")
	require.Nil(t, err)

	found, err := table.Find("a.txt")
	require.Nil(t, err)
	assert.Equal(t, idx, found)

	_, err = table.Find("missing.txt")
	assert.ErrorIs(t, err, cowfs.ErrNotFound)
}

func TestTable_Allocate_NoInodes(t *testing.T) {
	table := inode.New(1)
	_, err := table.Allocate("a.txt")
	require.Nil(t, err)

	_, err = table.Allocate("b.txt")
	assert.ErrorIs(t, err, cowfs.ErrNoInodes)
}

func TestTable_AppendVersion_UpdatesHeadAndSize(t *testing.T) {
	table := inode.New(2)
	idx, err := table.Allocate("a.txt")
	require.Nil(t, err)

	table.AppendVersion(idx, cowfs.VersionInfo{VersionNumber: 1, HeadBlock: 3, Size: 5})
	assert.EqualValues(t, 3, table.Slots[idx].HeadBlock)
	assert.EqualValues(t, 5, table.Slots[idx].Size)
	assert.EqualValues(t, 1, table.Slots[idx].VersionCount)

	table.AppendVersion(idx, cowfs.VersionInfo{VersionNumber: 2, HeadBlock: 7, Size: 6})
	assert.EqualValues(t, 7, table.Slots[idx].HeadBlock)
	assert.EqualValues(t, 6, table.Slots[idx].Size)
	assert.EqualValues(t, 2, table.Slots[idx].VersionCount)
	assert.Len(t, table.Slots[idx].History, 2)
}

func TestTable_FindVersion(t *testing.T) {
	table := inode.New(1)
	idx, err := table.Allocate("a.txt")
	require.Nil(t, err)
	table.AppendVersion(idx, cowfs.VersionInfo{VersionNumber: 1, Size: 1})
	table.AppendVersion(idx, cowfs.VersionInfo{VersionNumber: 2, Size: 2})

	v, err := table.FindVersion(idx, 1)
	require.Nil(t, err)
	assert.EqualValues(t, 1, v.Size)

	_, err = table.FindVersion(idx, 0)
	assert.ErrorIs(t, err, cowfs.ErrVersionNotFound)

	_, err = table.FindVersion(idx, 99)
	assert.ErrorIs(t, err, cowfs.ErrVersionNotFound)
}

func TestTable_Release(t *testing.T) {
	table := inode.New(1)
	idx, err := table.Allocate("a.txt")
	require.Nil(t, err)
	table.Release(idx)

	_, err = table.Find("a.txt")
	assert.ErrorIs(t, err, cowfs.ErrNotFound)
}
