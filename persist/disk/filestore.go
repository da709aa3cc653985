package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/copernet/blockstore/crypto"
	"github.com/copernet/blockstore/errcode"
	"github.com/copernet/blockstore/log"
	"github.com/copernet/blockstore/model/block"
	"github.com/copernet/blockstore/util"
)

const (
	// BlockFileChunkSize is the pre-allocation granularity of body files.
	BlockFileChunkSize = 0x1000000
	// UndoFileChunkSize is the pre-allocation granularity of undo files.
	UndoFileChunkSize = 0x100000
	// MaxBlockFileSize caps a body file; the next block opens a new file.
	MaxBlockFileSize = 0x8000000

	recordOverhead   = 8
	undoChecksumSize = util.Hash256Size
)

// DefaultMagic is the record separator written in front of every payload.
var DefaultMagic = [4]byte{0xf9, 0xbe, 0xb4, 0xd9}

// Role selects between the two families of data files.
type Role int

const (
	RoleBlock Role = iota
	RoleUndo
)

func (r Role) prefix() string {
	if r == RoleBlock {
		return "blk"
	}
	return "rev"
}

// dataFile caches the live mapping of one (role, index) pair.
type dataFile struct {
	m    *mapping
	size int64
}

// FileStore owns the numbered blk/rev files of one data directory. All
// writes funnel through one mutex; reads share the cached mappings and the
// returned views stay valid across file growth.
type FileStore struct {
	mtx     sync.Mutex
	baseDir string
	altDirs []string
	magic   [4]byte

	lastFile  int32
	fileInfos map[int32]*block.BlockFileInfo
	dirty     map[int32]struct{}

	files [2]map[int32]*dataFile

	blockChunkSize int64
	undoChunkSize  int64
	maxFileSize    int64
}

// NewFileStore opens a store rooted at baseDir. altDirs are searched, in
// order, when a numbered file is absent from baseDir; they are only ever
// read from.
func NewFileStore(baseDir string, altDirs []string, magic [4]byte) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	fs := &FileStore{
		baseDir:        baseDir,
		altDirs:        altDirs,
		magic:          magic,
		fileInfos:      make(map[int32]*block.BlockFileInfo),
		dirty:          make(map[int32]struct{}),
		blockChunkSize: BlockFileChunkSize,
		undoChunkSize:  UndoFileChunkSize,
		maxFileSize:    MaxBlockFileSize,
	}
	fs.files[RoleBlock] = make(map[int32]*dataFile)
	fs.files[RoleUndo] = make(map[int32]*dataFile)
	return fs, nil
}

func (fs *FileStore) chunkSize(role Role) int64 {
	if role == RoleBlock {
		return fs.blockChunkSize
	}
	return fs.undoChunkSize
}

// FileName returns the bare name of a numbered data file, e.g. blk00012.dat.
func FileName(fileIndex int32, role Role) string {
	return fmt.Sprintf("%s%05d.dat", role.prefix(), fileIndex)
}

// FilePath resolves a numbered file, falling back to the alternate
// directories when it does not exist in the primary one.
func (fs *FileStore) FilePath(fileIndex int32, role Role, findHarder bool) string {
	name := FileName(fileIndex, role)
	path := filepath.Join(fs.baseDir, name)
	if findHarder && !fileExists(path) {
		for _, dir := range fs.altDirs {
			alt := filepath.Join(dir, "blocks", name)
			if fileExists(alt) {
				return alt
			}
		}
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Magic returns the record separator this store frames payloads with.
func (fs *FileStore) Magic() [4]byte {
	return fs.magic
}

// RecordKnownBlock rebuilds the bookkeeping for a record that already sits
// on disk, during a reindex. endPos is the file offset one past the record's
// payload.
func (fs *FileStore) RecordKnownBlock(fileIndex int32, endPos uint32, height int32, timestamp uint32) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	info := fs.fileInfos[fileIndex]
	if info == nil {
		info = block.NewBlockFileInfo()
		fs.fileInfos[fileIndex] = info
	}
	info.AddBlock(uint32(height), uint64(timestamp))
	if endPos > info.Size {
		info.Size = endPos
	}
	if fileIndex > fs.lastFile {
		fs.lastFile = fileIndex
	}
	fs.dirty[fileIndex] = struct{}{}
}

// LastFile reports the index of the active body file.
func (fs *FileStore) LastFile() int32 {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	return fs.lastFile
}

// SetLastFile restores the active file index from the metadata store.
func (fs *FileStore) SetLastFile(n int32) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	fs.lastFile = n
}

// FileInfo returns the bookkeeping aggregate for a file, or nil.
func (fs *FileStore) FileInfo(fileIndex int32) *block.BlockFileInfo {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	return fs.fileInfos[fileIndex]
}

// SetFileInfo restores a bookkeeping aggregate loaded from the metadata
// store.
func (fs *FileStore) SetFileInfo(fileIndex int32, bfi *block.BlockFileInfo) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	fs.fileInfos[fileIndex] = bfi
}

// DirtyFileInfos drains the set of aggregates modified since the last
// flush, keyed by file index.
func (fs *FileStore) DirtyFileInfos() map[int32]*block.BlockFileInfo {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	out := make(map[int32]*block.BlockFileInfo, len(fs.dirty))
	for n := range fs.dirty {
		if info := fs.fileInfos[n]; info != nil {
			out[n] = info
		}
	}
	fs.dirty = make(map[int32]struct{})
	return out
}

// MapFile returns a view over the whole useful range of a numbered file
// together with the mapped size. A missing or pruned file yields a nil
// view, zero size and no error.
func (fs *FileStore) MapFile(fileIndex int32, role Role) (*BufView, int64, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	df, err := fs.mapFileLocked(fileIndex, role)
	if err != nil || df == nil {
		return nil, 0, err
	}
	return df.m.view(df.m.data[:df.size]), df.size, nil
}

// NotifyGrown drops the cached mapping of a file so the next MapFile maps
// it at its current size. Views handed out earlier keep the old mapping
// alive and stay valid for the ranges they cover.
func (fs *FileStore) NotifyGrown(fileIndex int32, role Role) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	fs.notifyGrownLocked(fileIndex, role)
}

func (fs *FileStore) notifyGrownLocked(fileIndex int32, role Role) {
	if df, ok := fs.files[role][fileIndex]; ok {
		df.m.release()
		delete(fs.files[role], fileIndex)
	}
}

// mapFileLocked returns the cached mapping for (role, fileIndex), mapping
// the file on a miss. A missing file returns (nil, nil).
func (fs *FileStore) mapFileLocked(fileIndex int32, role Role) (*dataFile, error) {
	if df, ok := fs.files[role][fileIndex]; ok {
		return df, nil
	}
	path := fs.FilePath(fileIndex, role, true)
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errcode.NewWith(errcode.ErrorOpenFileFailed, "stat %s: %v", path, err)
	}
	if st.Size() == 0 {
		return nil, nil
	}

	// Undo data lands in the rev file matching the block's body file, which
	// can be older than the active one, so every file in the primary
	// directory maps writable. Alternate-directory files are read-only.
	writable := path == filepath.Join(fs.baseDir, FileName(fileIndex, role))
	flag := os.O_RDONLY
	prot := unix.PROT_READ
	if writable {
		flag = os.O_RDWR
		prot |= unix.PROT_WRITE
	}
	f, err := os.OpenFile(path, flag, 0600)
	if err != nil {
		return nil, errcode.NewWith(errcode.ErrorOpenFileFailed, "open %s: %v", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), prot, unix.MAP_SHARED)
	f.Close()
	if err != nil {
		log.Error("disk: failed to memory map %s: %v", path, err)
		return nil, errcode.NewWith(errcode.ErrorOpenFileFailed, "mmap %s: %v", path, err)
	}
	df := &dataFile{m: newMapping(data), size: st.Size()}
	fs.files[role][fileIndex] = df
	return df, nil
}

// WriteBlockRecord appends a block body to the active body file, rolling
// to a new file when the current one would exceed MaxBlockFileSize. The
// returned position addresses the payload, not the record start.
func (fs *FileStore) WriteBlockRecord(payload []byte, height int32, timestamp uint32) (*BufView, block.DiskBlockPos, error) {
	return fs.writeRecord(RoleBlock, payload, height, timestamp, nil, 0)
}

// WriteUndoRecord appends undo data to the rev file matching the block's
// body file. The trailing checksum commits to the block hash, so the undo
// record can only be read back for the block it belongs to.
func (fs *FileStore) WriteUndoRecord(payload []byte, blockHash util.Hash, fileIndex int32) (*BufView, uint32, error) {
	view, pos, err := fs.writeRecord(RoleUndo, payload, 0, 0, &blockHash, fileIndex)
	return view, pos.Pos, err
}

func (fs *FileStore) writeRecord(role Role, payload []byte, height int32, timestamp uint32,
	blockHash *util.Hash, fileIndex int32) (*BufView, block.DiskBlockPos, error) {
	nullPos := *block.NewDiskBlockPosNull()
	recordSize := int64(len(payload)) + recordOverhead
	if blockHash != nil {
		recordSize += undoChecksumSize
	}
	if recordSize >= fs.maxFileSize {
		return nil, nullPos, errcode.NewWith(errcode.ErrorOutOfDiskSpace,
			"record of %d bytes exceeds the file size limit", recordSize)
	}

	fs.mtx.Lock()
	defer fs.mtx.Unlock()

	// Undo records get to say which file they want to be in; body records
	// go to the active file, rolling to a new one when it would overflow.
	useBlk := role == RoleBlock
	newFile := false
	if useBlk {
		fileIndex = fs.lastFile
		if fs.fileInfos[fileIndex] == nil {
			newFile = true
		} else if int64(fs.fileInfos[fileIndex].Size)+recordSize > fs.maxFileSize {
			fs.lastFile++
			fileIndex = fs.lastFile
			newFile = true
		}
	}
	info := fs.fileInfos[fileIndex]
	if info == nil {
		info = block.NewBlockFileInfo()
		fs.fileInfos[fileIndex] = info
	}

	path := fs.FilePath(fileIndex, role, false)
	if newFile || (!useBlk && info.UndoSize == 0) {
		log.Debug("disk: starting new file %s", path)
		size := fs.chunkSize(role)
		if recordSize > size {
			size = recordSize
		}
		if err := allocateFile(path, size); err != nil {
			return nil, nullPos, errcode.NewWith(errcode.ErrorOutOfDiskSpace, "allocate %s: %v", path, err)
		}
		fs.notifyGrownLocked(fileIndex, role)
	}

	df, err := fs.mapFileLocked(fileIndex, role)
	if err != nil {
		return nil, nullPos, err
	}
	if df == nil {
		return nil, nullPos, errcode.NewWith(errcode.ErrorOpenFileFailed, "cannot map %s", path)
	}

	used := int64(info.Size)
	if !useBlk {
		used = int64(info.UndoSize)
	}
	for used+recordSize > df.size {
		newSize := df.size + fs.chunkSize(role)
		log.Debug("disk: file %s grows to %d bytes", path, newSize)
		if err := os.Truncate(path, newSize); err != nil {
			return nil, nullPos, errcode.NewWith(errcode.ErrorOutOfDiskSpace, "resize %s: %v", path, err)
		}
		fs.notifyGrownLocked(fileIndex, role)
		if df, err = fs.mapFileLocked(fileIndex, role); err != nil {
			return nil, nullPos, err
		}
		if df == nil {
			return nil, nullPos, errcode.NewWith(errcode.ErrorOpenFileFailed, "cannot remap %s", path)
		}
	}

	pos := block.DiskBlockPos{File: fileIndex, Pos: uint32(used) + recordOverhead}
	data := df.m.data
	copy(data[used:], fs.magic[:])
	binary.LittleEndian.PutUint32(data[used+4:], uint32(len(payload)))
	copy(data[used+recordOverhead:], payload)
	if useBlk {
		info.AddBlock(uint32(height), uint64(timestamp))
		info.Size += uint32(recordSize)
	} else {
		preimage := make([]byte, 0, util.Hash256Size+len(payload))
		preimage = append(preimage, blockHash[:]...)
		preimage = append(preimage, payload...)
		copy(data[used+recordOverhead+int64(len(payload)):], crypto.DoubleSha256Bytes(preimage))
		info.UndoSize += uint32(recordSize)
	}
	fs.dirty[fileIndex] = struct{}{}

	start := used + recordOverhead
	return df.m.view(data[start : start+int64(len(payload))]), pos, nil
}

// allocateFile creates the file if needed and extends it to size bytes.
func allocateFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() >= size {
		return nil
	}
	return f.Truncate(size)
}

// ReadBlockRecord returns a view over a block body written earlier.
func (fs *FileStore) ReadBlockRecord(pos block.DiskBlockPos) (*BufView, error) {
	return fs.readRecord(RoleBlock, pos, nil)
}

// ReadUndoRecord returns a view over an undo payload, verifying the
// trailing checksum against the block hash it was written with.
func (fs *FileStore) ReadUndoRecord(pos block.DiskBlockPos, blockHash util.Hash) (*BufView, error) {
	return fs.readRecord(RoleUndo, pos, &blockHash)
}

func (fs *FileStore) readRecord(role Role, pos block.DiskBlockPos, blockHash *util.Hash) (*BufView, error) {
	if pos.Pos < 4 {
		return nil, errcode.NewWith(errcode.ErrorStorageCorruption,
			"record position %d cannot hold a length prefix", pos.Pos)
	}

	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	df, err := fs.mapFileLocked(pos.File, role)
	if err != nil {
		return nil, err
	}
	if df == nil {
		// Pruned or never written; deliberately not an error.
		return nil, nil
	}
	if int64(pos.Pos) >= df.size {
		return nil, errcode.NewWith(errcode.ErrorStorageCorruption,
			"position %d outside of file %s", pos.Pos, FileName(pos.File, role))
	}
	data := df.m.data
	payloadSize := int64(binary.LittleEndian.Uint32(data[pos.Pos-4 : pos.Pos]))
	end := int64(pos.Pos) + payloadSize
	tail := int64(0)
	if blockHash != nil {
		tail = undoChecksumSize
	}
	if end+tail > df.size {
		return nil, errcode.NewWith(errcode.ErrorStorageCorruption,
			"record of %d bytes at %d overruns file %s", payloadSize, pos.Pos, FileName(pos.File, role))
	}
	if blockHash != nil {
		preimage := make([]byte, 0, util.Hash256Size+payloadSize)
		preimage = append(preimage, blockHash[:]...)
		preimage = append(preimage, data[pos.Pos:end]...)
		want := crypto.DoubleSha256Bytes(preimage)
		if !bytes.Equal(want, data[end:end+undoChecksumSize]) {
			return nil, errcode.NewWith(errcode.ErrorUndoChecksumMismatch,
				"undo record at %d of %s fails its checksum", pos.Pos, FileName(pos.File, role))
		}
	}
	return df.m.view(data[pos.Pos:end]), nil
}

// Close drops every cached mapping. Mappings pinned by outstanding views
// are unmapped once those views are released.
func (fs *FileStore) Close() {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	for _, table := range fs.files {
		for n, df := range table {
			df.m.release()
			delete(table, n)
		}
	}
}
