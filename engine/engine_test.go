package engine_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, opts ...cowfs.Option) (*engine.Engine, string) {
	path := filepath.Join(t.TempDir(), "store.img")
	e, err := engine.New(path, 1<<20, opts...)
	require.Nil(t, err)
	t.Cleanup(func() { e.Shutdown() })
	return e, path
}

func TestFreshStore_HasNoFiles(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))
	assert.Empty(t, e.ListFiles())
}

func TestHelloWorld_WriteReadCloseReopen(t *testing.T) {
	e, path := newEngine(t, cowfs.WithBlockSize(4096))

	fd, err := e.Create("hello.txt")
	require.Nil(t, err)
	n, err := e.Write(fd, []byte("hello world"))
	require.Nil(t, err)
	assert.Equal(t, 11, n)
	require.Nil(t, e.Close(fd))

	rfd, err := e.Open("hello.txt", cowfs.ModeRead)
	require.Nil(t, err)
	buf := make([]byte, 11)
	n, err = e.Read(rfd, buf)
	require.Nil(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf))
	require.Nil(t, e.Close(rfd))
	require.Nil(t, e.Shutdown())

	e2, err := engine.New(path, 1<<20, cowfs.WithBlockSize(4096))
	require.Nil(t, err)
	defer e2.Shutdown()

	rfd2, err := e2.Open("hello.txt", cowfs.ModeRead)
	require.Nil(t, err)
	buf2 := make([]byte, 11)
	n, err = e2.Read(rfd2, buf2)
	require.Nil(t, err)
	assert.Equal(t, "hello world", string(buf2))
}

func TestAppend_RecordsDeltaAsPureAppend(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))

	fd, err := e.Create("f.txt")
	require.Nil(t, err)
	_, err = e.Write(fd, []byte("hello"))
	require.Nil(t, err)
	require.Nil(t, e.Close(fd))

	wfd, err := e.Open("f.txt", cowfs.ModeWrite)
	require.Nil(t, err)
	_, err = e.Write(wfd, []byte("!"))
	require.Nil(t, err)

	history, err := e.VersionHistory(wfd)
	require.Nil(t, err)
	require.Len(t, history, 2)

	latest := history[1]
	assert.Equal(t, uint64(5), latest.DeltaStart)
	assert.Equal(t, uint64(1), latest.DeltaSize)
	assert.Equal(t, uint64(6), latest.Size)
}

func TestRollback_RestoresPriorVersionBytes(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))

	fd, err := e.Create("f.txt")
	require.Nil(t, err)
	_, err = e.Write(fd, []byte("version one"))
	require.Nil(t, err)
	require.Nil(t, e.Close(fd))

	wfd, err := e.Open("f.txt", cowfs.ModeWrite)
	require.Nil(t, err)
	_, err = e.Write(wfd, []byte(" plus more"))
	require.Nil(t, err)
	require.Nil(t, e.Close(wfd))

	rbfd, err := e.Open("f.txt", cowfs.ModeRead)
	require.Nil(t, err)
	require.Nil(t, e.Rollback(rbfd, 1))

	size, err := e.FileSize(rbfd)
	require.Nil(t, err)
	assert.Equal(t, uint64(11), size)

	buf := make([]byte, 11)
	n, err := e.Read(rbfd, buf)
	require.Nil(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "version one", string(buf))
}

func TestTwoFiles_NoCrossFileDeduplication(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))

	content := make([]byte, 8000)
	for i := range content {
		content[i] = 'x'
	}

	fd1, err := e.Create("a.bin")
	require.Nil(t, err)
	_, err = e.Write(fd1, content)
	require.Nil(t, err)

	fd2, err := e.Create("b.bin")
	require.Nil(t, err)
	_, err = e.Write(fd2, content)
	require.Nil(t, err)

	assert.Equal(t, uint64(4*4096), e.TotalMemoryUsage())
}

func TestFiveFiles_CloseGCIdempotence(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))

	var fds [5]cowfs.FD
	for i := 0; i < 5; i++ {
		fd, err := e.Create(fmt.Sprintf("f%d", i))
		require.Nil(t, err)
		_, err = e.Write(fd, []byte("12345678901234567890"))
		require.Nil(t, err)
		fds[i] = fd
	}

	for _, i := range []int{0, 2, 4} {
		require.Nil(t, e.Close(fds[i]))
	}

	e.GarbageCollect()
	usageAfterFirst := e.TotalMemoryUsage()

	e.GarbageCollect()
	assert.Equal(t, usageAfterFirst, e.TotalMemoryUsage())
}

func TestCreate_DuplicateNameFails(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))

	_, err := e.Create("dup.txt")
	require.Nil(t, err)

	_, err = e.Create("dup.txt")
	assert.ErrorIs(t, err, cowfs.ErrAlreadyExists)
}

func TestOpen_MissingFileFails(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))

	_, err := e.Open("missing.txt", cowfs.ModeRead)
	assert.ErrorIs(t, err, cowfs.ErrNotFound)
}

func TestRead_WrongModeFails(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))

	fd, err := e.Create("f.txt")
	require.Nil(t, err)

	_, err = e.Read(fd, make([]byte, 4))
	assert.ErrorIs(t, err, cowfs.ErrWrongMode)
}

func TestWrite_OutOfSpaceLeavesPoolAndInodeUnchanged(t *testing.T) {
	// A tiny explicit pool (4 blocks, one of them the sentinel) makes it
	// easy to exhaust with a single oversized write; newEngine's default
	// 1<<20-byte store is far too large for that.
	path := filepath.Join(t.TempDir(), "store.img")
	e, err := engine.New(path, 256, cowfs.WithBlockSize(64))
	require.Nil(t, err)
	t.Cleanup(func() { e.Shutdown() })

	fd, err := e.Create("f.txt")
	require.Nil(t, err)
	first := make([]byte, 60)
	for i := range first {
		first[i] = 'a'
	}
	_, err = e.Write(fd, first)
	require.Nil(t, err)

	usageBefore := e.TotalMemoryUsage()
	versionsBefore, err := e.VersionCount(fd)
	require.Nil(t, err)
	sizeBefore, err := e.FileSize(fd)
	require.Nil(t, err)

	tooBig := make([]byte, 512)
	_, err = e.Write(fd, tooBig)
	assert.ErrorIs(t, err, cowfs.ErrOutOfSpace)

	assert.Equal(t, usageBefore, e.TotalMemoryUsage())

	versionsAfter, err := e.VersionCount(fd)
	require.Nil(t, err)
	assert.Equal(t, versionsBefore, versionsAfter)

	sizeAfter, err := e.FileSize(fd)
	require.Nil(t, err)
	assert.Equal(t, sizeBefore, sizeAfter)

	require.Nil(t, e.Close(fd))
	rfd, err := e.Open("f.txt", cowfs.ModeRead)
	require.Nil(t, err)
	buf := make([]byte, int(sizeAfter))
	_, err = e.Read(rfd, buf)
	require.Nil(t, err)
	assert.Equal(t, first, buf)
}

func TestClose_InvalidatesDescriptor(t *testing.T) {
	e, _ := newEngine(t, cowfs.WithBlockSize(4096))

	fd, err := e.Create("f.txt")
	require.Nil(t, err)
	require.Nil(t, e.Close(fd))

	_, err = e.Write(fd, []byte("x"))
	assert.ErrorIs(t, err, cowfs.ErrBadFileDescriptor)
}

