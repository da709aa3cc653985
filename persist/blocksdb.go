package persist

import (
	"math/big"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	set "gopkg.in/fatih/set.v0"

	"github.com/copernet/blockstore/errcode"
	"github.com/copernet/blockstore/log"
	"github.com/copernet/blockstore/model/block"
	"github.com/copernet/blockstore/model/blockindex"
	"github.com/copernet/blockstore/model/chain"
	"github.com/copernet/blockstore/model/pow"
	"github.com/copernet/blockstore/persist/blkdb"
	"github.com/copernet/blockstore/persist/db"
	"github.com/copernet/blockstore/persist/disk"
	"github.com/copernet/blockstore/util"
)

const blockCacheSize = 64

// Config carries everything BlocksDB needs to open its data directory.
type Config struct {
	// BlocksDir holds blk?????.dat / rev?????.dat.
	BlocksDir string
	// IndexDir holds the leveldb block index.
	IndexDir string
	// AltBlockDirs are searched for data files missing from BlocksDir.
	AltBlockDirs []string
	// CacheSize is the leveldb cache budget in bytes.
	CacheSize int
	// Magic is the record separator written before every payload.
	Magic [4]byte
	// Wipe discards the block index on open, for a reindex from scratch.
	Wipe bool
}

// BlocksDB ties the data files, the metadata store and the in-memory header
// graph together. One RWMutex serializes every mutation of the index map,
// the headers chain and the chain tips.
type BlocksDB struct {
	mtx sync.RWMutex

	fileStore *disk.FileStore
	treeDB    *blkdb.BlockTreeDB

	indexMap        map[util.Hash]*blockindex.BlockIndex
	headersChain    *chain.Chain
	headerChainTips *set.Set
	bestHeader      *blockindex.BlockIndex

	dirtyIndexes map[*blockindex.BlockIndex]struct{}
	reindexing   bool

	blockCache *lru.Cache
}

var instance *BlocksDB

// InitInstance opens the process-wide BlocksDB. Library users should prefer
// NewBlocksDB.
func InitInstance(cfg *Config) error {
	bdb, err := NewBlocksDB(cfg)
	if err != nil {
		return err
	}
	instance = bdb
	return nil
}

func GetInstance() *BlocksDB {
	if instance == nil {
		panic("BlocksDB has not been initialized")
	}
	return instance
}

func NewBlocksDB(cfg *Config) (*BlocksDB, error) {
	fileStore, err := disk.NewFileStore(cfg.BlocksDir, cfg.AltBlockDirs, cfg.Magic)
	if err != nil {
		return nil, err
	}
	treeDB := blkdb.NewBlockTreeDB(&db.DBOption{
		FilePath:  cfg.IndexDir,
		CacheSize: cfg.CacheSize,
		Wipe:      cfg.Wipe,
	})
	cache, err := lru.New(blockCacheSize)
	if err != nil {
		return nil, err
	}

	bdb := &BlocksDB{
		fileStore:       fileStore,
		treeDB:          treeDB,
		indexMap:        make(map[util.Hash]*blockindex.BlockIndex),
		headersChain:    chain.NewChain(),
		headerChainTips: set.New(),
		dirtyIndexes:    make(map[*blockindex.BlockIndex]struct{}),
		blockCache:      cache,
	}
	bdb.reindexing = treeDB.ReadReindexing()
	if lastFile, err := treeDB.ReadLastBlockFile(); err == nil {
		fileStore.SetLastFile(lastFile)
	}
	return bdb, nil
}

// WriteBlock appends a full block to the active body file. The returned
// FastBlock wraps the mapped on-disk bytes instead of the caller's copy.
func (bdb *BlocksDB) WriteBlock(height int32, blk *block.FastBlock) (*block.FastBlock, block.DiskBlockPos, error) {
	if !blk.IsFullBlock() {
		return nil, *block.NewDiskBlockPosNull(), errcode.New(errcode.ErrorNotFullBlock)
	}
	view, pos, err := bdb.fileStore.WriteBlockRecord(blk.Data(), height, blk.Timestamp())
	if err != nil {
		return nil, pos, err
	}
	return block.NewFastBlockFromView(view.Bytes(), view), pos, nil
}

// WriteUndoBlock appends undo data into the rev file matching the block's
// body file. blockHash names the block the undo data reverts.
func (bdb *BlocksDB) WriteUndoBlock(undo *block.FastUndoBlock, blockHash util.Hash, fileIndex int32) (*block.FastUndoBlock, uint32, error) {
	view, pos, err := bdb.fileStore.WriteUndoRecord(undo.Data(), blockHash, fileIndex)
	if err != nil {
		return nil, 0, err
	}
	return block.NewFastUndoBlockFromView(view.Bytes(), view), pos, nil
}

// LoadBlock returns the block stored at pos. A pruned file yields a nil
// block and no error.
func (bdb *BlocksDB) LoadBlock(pos block.DiskBlockPos) (*block.FastBlock, error) {
	if cached, ok := bdb.blockCache.Get(pos); ok {
		return cached.(*block.FastBlock), nil
	}
	view, err := bdb.fileStore.ReadBlockRecord(pos)
	if err != nil || view == nil {
		return nil, err
	}
	blk := block.NewFastBlockFromView(view.Bytes(), view)
	bdb.blockCache.Add(pos, blk)
	return blk, nil
}

// LoadUndoBlock returns the undo data stored at pos, verified against the
// hash of the block it reverts.
func (bdb *BlocksDB) LoadUndoBlock(pos block.DiskBlockPos, blockHash util.Hash) (*block.FastUndoBlock, error) {
	view, err := bdb.fileStore.ReadUndoRecord(pos, blockHash)
	if err != nil || view == nil {
		return nil, err
	}
	return block.NewFastUndoBlockFromView(view.Bytes(), view), nil
}

// LoadBlockFile maps a whole body file, for bulk consumers like reindexing.
func (bdb *BlocksDB) LoadBlockFile(fileIndex int32) (*disk.BufView, error) {
	view, _, err := bdb.fileStore.MapFile(fileIndex, disk.RoleBlock)
	return view, err
}

// FileStore exposes the underlying data-file layer.
func (bdb *BlocksDB) FileStore() *disk.FileStore {
	return bdb.fileStore
}

// TreeDB exposes the underlying metadata store.
func (bdb *BlocksDB) TreeDB() *blkdb.BlockTreeDB {
	return bdb.treeDB
}

// CacheAllBlockInfos loads the whole block index into memory, recomputes
// the accumulated work and the skip pointers, and restores the per-file
// aggregates. Chain work is derived rather than stored, so entries are
// processed parents first.
func (bdb *BlocksDB) CacheAllBlockInfos() error {
	bdb.mtx.Lock()
	defer bdb.mtx.Unlock()

	maxFile, err := bdb.treeDB.LoadBlockIndexGuts(bdb.indexMap)
	if err != nil {
		return err
	}
	for _, bi := range bdb.sortedByHeightLocked() {
		work := pow.GetBlockProof(bi.Header.Bits)
		if bi.Prev != nil {
			bi.ChainWork = *new(big.Int).Add(&bi.Prev.ChainWork, work)
			bi.TimeMax = bi.Prev.TimeMax
			if bi.Header.Time > bi.TimeMax {
				bi.TimeMax = bi.Header.Time
			}
		} else {
			bi.ChainWork = *work
			bi.TimeMax = bi.Header.Time
		}
		bi.BuildSkip()
	}

	lastFile := bdb.fileStore.LastFile()
	if maxFile > lastFile {
		lastFile = maxFile
	}
	for n := int32(0); n <= lastFile; n++ {
		bfi, err := bdb.treeDB.ReadBlockFileInfo(n)
		if err != nil {
			continue
		}
		bdb.fileStore.SetFileInfo(n, bfi)
	}
	log.Info("loaded %d block index entries, last file %d", len(bdb.indexMap), lastFile)
	return nil
}

func (bdb *BlocksDB) sortedByHeightLocked() []*blockindex.BlockIndex {
	sorted := make([]*blockindex.BlockIndex, 0, len(bdb.indexMap))
	for _, bi := range bdb.indexMap {
		sorted = append(sorted, bi)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Height < sorted[j].Height })
	return sorted
}

// RestoreChains re-runs the fork choice over every loaded entry, parents
// first, rebuilding the canonical chain and the branch tips after a cold
// start. Failed entries are left out.
func (bdb *BlocksDB) RestoreChains() {
	bdb.mtx.Lock()
	sorted := bdb.sortedByHeightLocked()
	bdb.mtx.Unlock()
	for _, bi := range sorted {
		if !bi.IsInvalid() {
			bdb.AppendHeader(bi)
		}
	}
}

func (bdb *BlocksDB) IsReindexing() bool {
	bdb.mtx.RLock()
	defer bdb.mtx.RUnlock()
	return bdb.reindexing
}

func (bdb *BlocksDB) SetIsReindexing(reindexing bool) error {
	bdb.mtx.Lock()
	defer bdb.mtx.Unlock()
	if bdb.reindexing == reindexing {
		return nil
	}
	if err := bdb.treeDB.WriteReindexing(reindexing); err != nil {
		return err
	}
	bdb.reindexing = reindexing
	return nil
}

// GetOrCreateBlockIndex returns the index entry for hash, creating an empty
// one when the hash is new.
func (bdb *BlocksDB) GetOrCreateBlockIndex(hash util.Hash) *blockindex.BlockIndex {
	bdb.mtx.Lock()
	defer bdb.mtx.Unlock()
	return bdb.getOrCreateLocked(hash)
}

func (bdb *BlocksDB) getOrCreateLocked(hash util.Hash) *blockindex.BlockIndex {
	if bi, ok := bdb.indexMap[hash]; ok {
		return bi
	}
	bi := blockindex.NewBlockIndex(block.NewBlockHeader())
	bi.SetBlockHash(hash)
	bdb.indexMap[hash] = bi
	return bi
}

func (bdb *BlocksDB) FindBlockIndex(hash util.Hash) (*blockindex.BlockIndex, bool) {
	bdb.mtx.RLock()
	defer bdb.mtx.RUnlock()
	bi, ok := bdb.indexMap[hash]
	return bi, ok
}

func (bdb *BlocksDB) IndexCount() int {
	bdb.mtx.RLock()
	defer bdb.mtx.RUnlock()
	return len(bdb.indexMap)
}

// MarkIndexDirty queues an index entry for the next FlushDirty.
func (bdb *BlocksDB) MarkIndexDirty(bi *blockindex.BlockIndex) {
	bdb.mtx.Lock()
	defer bdb.mtx.Unlock()
	bdb.dirtyIndexes[bi] = struct{}{}
}

// AppendHeader feeds one header entry into the fork-choice bookkeeping.
// It extends or forks the tracked header branches and moves the canonical
// chain when the entry's branch accumulates strictly more work than the
// current tip; ties keep the incumbent. The return value reports whether the
// canonical chain changed.
func (bdb *BlocksDB) AppendHeader(bi *blockindex.BlockIndex) bool {
	bdb.mtx.Lock()
	defer bdb.mtx.Unlock()

	valid := bi.Status&blockindex.BlockInvalidMask == 0
	if !valid && bi.Prev == nil {
		log.Error("refusing to mark the genesis header invalid")
		return false
	}
	bdb.indexMap[*bi.GetBlockHash()] = bi
	bdb.dirtyIndexes[bi] = struct{}{}

	found := false
	for _, tip := range bdb.tipsLocked() {
		parent := bi
		for parent != nil && parent.Height > tip.Height {
			parent = parent.Prev
		}
		if parent != tip {
			continue
		}
		// bi extends this branch. An invalid entry retreats the branch to
		// its parent.
		if !valid {
			bi = bi.Prev
		}
		bdb.headerChainTips.Remove(tip)
		bdb.headerChainTips.Add(bi)
		if tip == bdb.headersChain.Tip() {
			bdb.headersChain.SetTip(bi)
			bdb.bestHeader = bi
			return true
		}
		found = true
		break
	}

	if !found {
		for _, tip := range bdb.tipsLocked() {
			if tip.GetAncestor(bi.Height) != bi {
				continue
			}
			// bi sits in the middle of a known branch.
			if valid {
				return false
			}
			modifyingMainChain := bdb.headersChain.Contains(tip)
			bdb.headerChainTips.Remove(tip)
			bi = bi.Prev
			bdb.headerChainTips.Add(bi)
			if modifyingMainChain {
				bdb.headersChain.SetTip(bi)
				bdb.bestHeader = bi
			}
			return modifyingMainChain
		}
		if valid {
			bdb.headerChainTips.Add(bi)
			if bdb.headersChain.Height() == -1 {
				bdb.headersChain.SetTip(bi)
				bdb.bestHeader = bi
				return true
			}
		}
	}

	tip := bdb.headersChain.Tip()
	if valid && tip != nil && tip.ChainWork.Cmp(&bi.ChainWork) < 0 {
		bdb.headersChain.SetTip(bi)
		bdb.bestHeader = bi
		return true
	}
	return false
}

// AppendBlock persists a single index entry together with the last file
// number, outside the regular flush cycle.
func (bdb *BlocksDB) AppendBlock(bi *blockindex.BlockIndex, lastFile int32) error {
	return bdb.treeDB.WriteBatchSync(nil, lastFile, []*blockindex.BlockIndex{bi})
}

// FlushDirty lands every modified file aggregate and index entry plus the
// last file number in one synchronous batch.
func (bdb *BlocksDB) FlushDirty() error {
	bdb.mtx.Lock()
	dirtyIndexes := make([]*blockindex.BlockIndex, 0, len(bdb.dirtyIndexes))
	for bi := range bdb.dirtyIndexes {
		dirtyIndexes = append(dirtyIndexes, bi)
	}
	bdb.dirtyIndexes = make(map[*blockindex.BlockIndex]struct{})
	bdb.mtx.Unlock()

	fileInfos := bdb.fileStore.DirtyFileInfos()
	return bdb.treeDB.WriteBatchSync(fileInfos, bdb.fileStore.LastFile(), dirtyIndexes)
}

// HeaderChain is the canonical header chain. The returned chain is owned by
// BlocksDB; callers must not mutate it.
func (bdb *BlocksDB) HeaderChain() *chain.Chain {
	bdb.mtx.RLock()
	defer bdb.mtx.RUnlock()
	return bdb.headersChain
}

// HeaderChainTips snapshots the tips of every tracked header branch.
func (bdb *BlocksDB) HeaderChainTips() []*blockindex.BlockIndex {
	bdb.mtx.RLock()
	defer bdb.mtx.RUnlock()
	return bdb.tipsLocked()
}

func (bdb *BlocksDB) tipsLocked() []*blockindex.BlockIndex {
	tips := make([]*blockindex.BlockIndex, 0, bdb.headerChainTips.Size())
	bdb.headerChainTips.Each(func(item interface{}) bool {
		tips = append(tips, item.(*blockindex.BlockIndex))
		return true
	})
	return tips
}

// BestHeader is the tip of the branch with the most accumulated work.
func (bdb *BlocksDB) BestHeader() *blockindex.BlockIndex {
	bdb.mtx.RLock()
	defer bdb.mtx.RUnlock()
	return bdb.bestHeader
}

func (bdb *BlocksDB) Close() {
	bdb.fileStore.Close()
	bdb.treeDB.Close()
}
