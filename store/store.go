// Package store implements loading and saving the entire inode table and
// block array to one backing file in a fixed binary layout, treating the
// stream as a sequence of fixed-size records at a known offset.
//
// The on-disk format is not versioned: a store created with a different
// block size, inode count, or block count than the one it is reopened
// with is undefined. Callers must supply matching parameters.
package store

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/noxer/bytewriter"
	"github.com/oriondev/cowfs"
	"github.com/oriondev/cowfs/internal/blockpool"
	"github.com/oriondev/cowfs/internal/inode"
)

const timestampWidth = 19 // len("YYYY-MM-DD HH:MM:SS")

// versionInfoSize is the fixed width of one serialized VersionInfo record:
// three uint64 fields, the fixed-width timestamp, then three more uint64
// fields.
const versionInfoSize = 8 + 8 + 8 + timestampWidth + 8 + 8 + 8

// inodeRecordSize returns the width of one fixed inode record: identity
// and head/size bookkeeping only. The variable-length version history is
// kept in a separate sidecar region instead (see readHistory/writeHistory).
func inodeRecordSize(maxFilenameLength uint) uint64 {
	return uint64(maxFilenameLength) + 8 + 8 + 8 + 1
}

// blockRecordSize returns the width of one fixed block record: data,
// successor index, in-use flag, ref count.
func blockRecordSize(blockSize uint) uint64 {
	return uint64(blockSize) + 8 + 1 + 8
}

// Store owns the on-disk representation of an inode table and block pool
// and knows how to load and save them.
type Store struct {
	stream io.ReadWriteSeeker
	closer io.Closer
	Config cowfs.Config
}

// FromStream wraps an already-open stream (e.g. an in-memory buffer in
// tests) as a Store, without any notion of a backing path to check for
// existence. Callers decide whether to call CreateFresh or Load.
func FromStream(stream io.ReadWriteSeeker, cfg cowfs.Config) *Store {
	return &Store{stream: stream, Config: cfg}
}

// OpenFile is the real filesystem entry point: it opens path, creating it
// (and a zero-initialized state) if it doesn't exist, or loading the
// existing state back verbatim if it does. totalBytes determines the block
// count: totalBlocks = totalBytes / BlockSize.
func OpenFile(path string, totalBytes uint64, cfg cowfs.Config) (*Store, *inode.Table, *blockpool.Pool, cowfs.DriverError) {
	_, statErr := os.Stat(path)
	exists := statErr == nil

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, nil, cowfs.ErrIOFailed.Wrap(err)
	}

	s := &Store{stream: file, closer: file, Config: cfg}
	totalBlocks := totalBytes / uint64(cfg.BlockSize)

	if exists {
		table, pool, loadErr := s.Load(totalBlocks)
		if loadErr != nil {
			file.Close()
			return nil, nil, nil, loadErr
		}
		return s, table, pool, nil
	}

	table, pool := s.CreateFresh(totalBlocks)
	if saveErr := s.Save(table, pool); saveErr != nil {
		file.Close()
		return nil, nil, nil, saveErr
	}
	return s, table, pool, nil
}

// CreateFresh builds a zero-initialized inode table and block pool without
// touching the stream.
func (s *Store) CreateFresh(totalBlocks uint64) (*inode.Table, *blockpool.Pool) {
	table := inode.New(s.Config.MaxFiles)
	pool := blockpool.New(totalBlocks, s.Config.BlockSize)
	return table, pool
}

// Load reads the inode table, block array, and version-history sidecar back
// from the stream, verbatim, starting at offset 0.
func (s *Store) Load(totalBlocks uint64) (*inode.Table, *blockpool.Pool, cowfs.DriverError) {
	if _, err := s.stream.Seek(0, io.SeekStart); err != nil {
		return nil, nil, cowfs.ErrIOFailed.Wrap(err)
	}

	slots := make([]inode.Inode, s.Config.MaxFiles)
	for i := range slots {
		rec, err := readInodeRecord(s.stream, s.Config.MaxFilenameLength)
		if err != nil {
			return nil, nil, cowfs.ErrIOFailed.Wrap(err)
		}
		slots[i] = rec
	}

	blocks := make([]blockpool.Block, totalBlocks)
	for i := range blocks {
		rec, err := readBlockRecord(s.stream, s.Config.BlockSize)
		if err != nil {
			return nil, nil, cowfs.ErrIOFailed.Wrap(err)
		}
		blocks[i] = rec
	}

	for i := range slots {
		history, err := readHistory(s.stream)
		if err != nil {
			return nil, nil, cowfs.ErrIOFailed.Wrap(err)
		}
		slots[i].History = history
	}

	return inode.Restore(slots), blockpool.Restore(blocks, s.Config.BlockSize), nil
}

// Save overwrites the entire backing file with the current in-memory inode
// table and block array. Apart from the initial write OpenFile makes for a
// newly created file, state is only flushed on shutdown; the whole image is
// assembled in one pre-sized buffer, written sequentially with bytewriter,
// and then flushed in a single write.
func (s *Store) Save(table *inode.Table, pool *blockpool.Pool) cowfs.DriverError {
	total := inodeRecordSize(s.Config.MaxFilenameLength)*uint64(len(table.Slots)) +
		blockRecordSize(s.Config.BlockSize)*uint64(len(pool.Blocks)) +
		historySize(table)

	buf := make([]byte, total)
	writer := bytewriter.New(buf)

	for i := range table.Slots {
		if err := writeInodeRecord(writer, &table.Slots[i], s.Config.MaxFilenameLength); err != nil {
			return cowfs.ErrIOFailed.Wrap(err)
		}
	}
	for i := range pool.Blocks {
		if err := writeBlockRecord(writer, &pool.Blocks[i], s.Config.BlockSize); err != nil {
			return cowfs.ErrIOFailed.Wrap(err)
		}
	}
	for i := range table.Slots {
		if err := writeHistory(writer, table.Slots[i].History); err != nil {
			return cowfs.ErrIOFailed.Wrap(err)
		}
	}

	if _, err := s.stream.Seek(0, io.SeekStart); err != nil {
		return cowfs.ErrIOFailed.Wrap(err)
	}
	if w, ok := s.stream.(io.Writer); ok {
		if _, err := w.Write(buf); err != nil {
			return cowfs.ErrIOFailed.Wrap(err)
		}
	} else {
		return cowfs.ErrIOFailed.WithMessage("backing stream is not writable")
	}
	return nil
}

// Close releases the underlying file handle, if any (storetest streams have
// none).
func (s *Store) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func historySize(table *inode.Table) uint64 {
	var total uint64
	for i := range table.Slots {
		total += 8 + uint64(len(table.Slots[i].History))*versionInfoSize
	}
	return total
}

// -----------------------------------------------------------------------------
// Record encoding

func writeInodeRecord(w io.Writer, n *inode.Inode, maxFilenameLength uint) error {
	nameBuf := make([]byte, maxFilenameLength)
	copy(nameBuf, n.Filename)
	if _, err := w.Write(nameBuf); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(n.HeadBlock)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, n.Size); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, n.VersionCount); err != nil {
		return err
	}
	var inUse byte
	if n.InUse {
		inUse = 1
	}
	return binary.Write(w, binary.LittleEndian, inUse)
}

func readInodeRecord(r io.Reader, maxFilenameLength uint) (inode.Inode, error) {
	var n inode.Inode

	nameBuf := make([]byte, maxFilenameLength)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return n, err
	}
	n.Filename = cStringToGo(nameBuf)

	var head, size, versionCount uint64
	var inUse byte
	for _, err := range []error{
		binary.Read(r, binary.LittleEndian, &head),
		binary.Read(r, binary.LittleEndian, &size),
		binary.Read(r, binary.LittleEndian, &versionCount),
		binary.Read(r, binary.LittleEndian, &inUse),
	} {
		if err != nil {
			return n, err
		}
	}

	n.HeadBlock = cowfs.BlockIndex(head)
	n.Size = size
	n.VersionCount = versionCount
	n.InUse = inUse != 0
	return n, nil
}

func writeBlockRecord(w io.Writer, b *blockpool.Block, blockSize uint) error {
	if _, err := w.Write(b.Data); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(b.Next)); err != nil {
		return err
	}
	var inUse byte
	if b.InUse {
		inUse = 1
	}
	if err := binary.Write(w, binary.LittleEndian, inUse); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, b.RefCount)
}

func readBlockRecord(r io.Reader, blockSize uint) (blockpool.Block, error) {
	var b blockpool.Block
	b.Data = make([]byte, blockSize)
	if _, err := io.ReadFull(r, b.Data); err != nil {
		return b, err
	}

	var next uint64
	var inUse byte
	var refCount uint64
	for _, err := range []error{
		binary.Read(r, binary.LittleEndian, &next),
		binary.Read(r, binary.LittleEndian, &inUse),
		binary.Read(r, binary.LittleEndian, &refCount),
	} {
		if err != nil {
			return b, err
		}
	}

	b.Next = cowfs.BlockIndex(next)
	b.InUse = inUse != 0
	b.RefCount = refCount
	return b, nil
}

func writeHistory(w io.Writer, history []cowfs.VersionInfo) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(history))); err != nil {
		return err
	}
	for _, v := range history {
		if err := writeVersionInfo(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readHistory(r io.Reader) ([]cowfs.VersionInfo, error) {
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	history := make([]cowfs.VersionInfo, count)
	for i := range history {
		v, err := readVersionInfo(r)
		if err != nil {
			return nil, err
		}
		history[i] = v
	}
	return history, nil
}

func writeVersionInfo(w io.Writer, v cowfs.VersionInfo) error {
	tsBuf := make([]byte, timestampWidth)
	copy(tsBuf, v.Timestamp)

	fields := []interface{}{
		v.VersionNumber,
		uint64(v.HeadBlock),
		v.Size,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if _, err := w.Write(tsBuf); err != nil {
		return err
	}
	fields2 := []interface{}{v.DeltaStart, v.DeltaSize, v.PrevVersion}
	for _, f := range fields2 {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readVersionInfo(r io.Reader) (cowfs.VersionInfo, error) {
	var v cowfs.VersionInfo
	var head uint64

	if err := binary.Read(r, binary.LittleEndian, &v.VersionNumber); err != nil {
		return v, err
	}
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
		return v, err
	}
	v.HeadBlock = cowfs.BlockIndex(head)
	if err := binary.Read(r, binary.LittleEndian, &v.Size); err != nil {
		return v, err
	}

	tsBuf := make([]byte, timestampWidth)
	if _, err := io.ReadFull(r, tsBuf); err != nil {
		return v, err
	}
	v.Timestamp = string(tsBuf)

	if err := binary.Read(r, binary.LittleEndian, &v.DeltaStart); err != nil {
		return v, err
	}
	if err := binary.Read(r, binary.LittleEndian, &v.DeltaSize); err != nil {
		return v, err
	}
	if err := binary.Read(r, binary.LittleEndian, &v.PrevVersion); err != nil {
		return v, err
	}
	return v, nil
}

func cStringToGo(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
