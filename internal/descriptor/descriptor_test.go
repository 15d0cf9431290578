package descriptor_test

import (
	"testing"

	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/internal/descriptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_AllocateAndGet(t *testing.T) {
	table := descriptor.New(2)

	fd, err := table.Allocate(3, cowfs.ModeWrite, 0)
	require.Nil(t, err)

	d, err := table.Get(fd)
	require.Nil(t, err)
	assert.Equal(t, 3, d.InodeIndex)
	assert.Equal(t, cowfs.ModeWrite, d.Mode)
}

func TestTable_Allocate_NoDescriptors(t *testing.T) {
	table := descriptor.New(1)
	_, err := table.Allocate(0, cowfs.ModeRead, 0)
	require.Nil(t, err)

	_, err = table.Allocate(0, cowfs.ModeRead, 0)
	assert.ErrorIs(t, err, cowfs.ErrNoDescriptors)
}

func TestTable_Free_InvalidatesFD(t *testing.T) {
	table := descriptor.New(1)
	fd, err := table.Allocate(0, cowfs.ModeRead, 0)
	require.Nil(t, err)

	require.Nil(t, table.Free(fd))

	_, err = table.Get(fd)
	assert.ErrorIs(t, err, cowfs.ErrBadFileDescriptor)
}

func TestTable_Get_OutOfRange(t *testing.T) {
	table := descriptor.New(1)
	_, err := table.Get(cowfs.FD(99))
	assert.ErrorIs(t, err, cowfs.ErrBadFileDescriptor)

	_, err = table.Get(cowfs.FD(-1))
	assert.ErrorIs(t, err, cowfs.ErrBadFileDescriptor)
}
