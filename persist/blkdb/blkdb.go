package blkdb

import (
	"bytes"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/copernet/blockstore/errcode"
	"github.com/copernet/blockstore/log"
	"github.com/copernet/blockstore/model/block"
	"github.com/copernet/blockstore/model/blockindex"
	"github.com/copernet/blockstore/model/pow"
	"github.com/copernet/blockstore/persist/db"
	"github.com/copernet/blockstore/util"
)

// BlockTreeDB persists file bookkeeping rows, the block index and the
// optional transaction index in one key value store.
type BlockTreeDB struct {
	dbw *db.DBWrapper
}

var blockTreeDb *BlockTreeDB

type BlockTreeDBConfig struct {
	Do *db.DBOption
}

func InitBlockTreeDB(uc *BlockTreeDBConfig) {
	blockTreeDb = NewBlockTreeDB(uc.Do)
}

func GetInstance() *BlockTreeDB {
	if blockTreeDb == nil {
		panic("blockTreeDb has not been initialized")
	}
	return blockTreeDb
}

func NewBlockTreeDB(do *db.DBOption) *BlockTreeDB {
	if do == nil {
		return nil
	}
	dbw, err := db.NewDBWrapper(do)
	if err != nil {
		panic("init DBWrapper failed: " + err.Error())
	}
	return &BlockTreeDB{
		dbw: dbw,
	}
}

func (btd *BlockTreeDB) Close() {
	btd.dbw.Close()
}

func fileInfoKey(file int32) []byte {
	keyBuf := bytes.NewBuffer(nil)
	keyBuf.WriteByte(db.DbBlockFiles)
	if err := util.WriteElements(keyBuf, uint64(file)); err != nil {
		log.Error("blkdb: serialize file info key failed: %v", err)
	}
	return keyBuf.Bytes()
}

func (btd *BlockTreeDB) ReadBlockFileInfo(file int32) (*block.BlockFileInfo, error) {
	vbytes, err := btd.dbw.Read(fileInfoKey(file))
	if err == leveldb.ErrNotFound {
		return nil, err
	}
	if err != nil {
		log.Error("blkdb: ReadBlockFileInfo(%d) failed: %v", file, err)
		return nil, err
	}
	bfi := new(block.BlockFileInfo)
	if err := bfi.Unserialize(bytes.NewBuffer(vbytes)); err != nil {
		return nil, err
	}
	bfi.SetIndex(file)
	return bfi, nil
}

func (btd *BlockTreeDB) WriteReindexing(reindexing bool) error {
	if reindexing {
		return btd.dbw.Write([]byte{db.DbReindexFlag}, []byte{1}, false)
	}
	return btd.dbw.Erase([]byte{db.DbReindexFlag}, false)
}

func (btd *BlockTreeDB) ReadReindexing() bool {
	return btd.dbw.Exists([]byte{db.DbReindexFlag})
}

func (btd *BlockTreeDB) ReadLastBlockFile() (int32, error) {
	data, err := btd.dbw.Read([]byte{db.DbLastBlock})
	if err != nil {
		return 0, err
	}
	var lastFile int32
	err = util.ReadElements(bytes.NewBuffer(data), &lastFile)
	return lastFile, err
}

// WriteBatchSync lands the dirty file infos, the last file number and the
// dirty index entries in a single synchronous batch. Either everything in
// the batch becomes visible or nothing does.
func (btd *BlockTreeDB) WriteBatchSync(fileInfoList map[int32]*block.BlockFileInfo, lastFile int32,
	blockIndexes []*blockindex.BlockIndex) error {
	batch := db.NewBatchWrapper(btd.dbw)
	valueBuf := bytes.NewBuffer(make([]byte, 0, 100))

	for fileNum, v := range fileInfoList {
		valueBuf.Reset()
		if err := v.Serialize(valueBuf); err != nil {
			return err
		}
		batch.Write(fileInfoKey(fileNum), valueBuf.Bytes())
	}
	valueBuf.Reset()
	if err := util.WriteElements(valueBuf, lastFile); err != nil {
		return err
	}
	batch.Write([]byte{db.DbLastBlock}, valueBuf.Bytes())

	keyBuf := bytes.NewBuffer(make([]byte, 0, 100))
	for _, v := range blockIndexes {
		keyBuf.Reset()
		valueBuf.Reset()
		keyBuf.WriteByte(db.DbBlockIndex)
		if _, err := v.GetBlockHash().Serialize(keyBuf); err != nil {
			return err
		}
		if err := v.Serialize(valueBuf); err != nil {
			return err
		}
		batch.Write(keyBuf.Bytes(), valueBuf.Bytes())
	}

	if err := btd.dbw.WriteBatch(batch, true); err != nil {
		log.Error("blkdb: sync batch failed: %v", err)
		return errcode.New(errcode.ErrorFailedToWriteBlockIndexDatabase)
	}
	return nil
}

func (btd *BlockTreeDB) ReadTxIndex(txid *util.Hash) (*block.DiskTxPos, error) {
	key := make([]byte, 0, 1+util.Hash256Size)
	key = append(key, db.DbTxIndex)
	key = append(key, txid[:]...)
	vdata, err := btd.dbw.Read(key)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dtp := block.NewDiskTxPos(nil, 0)
	err = dtp.Unserialize(bytes.NewBuffer(vdata))
	return dtp, err
}

func (btd *BlockTreeDB) WriteTxIndex(txIndexes map[util.Hash]block.DiskTxPos) error {
	batch := db.NewBatchWrapper(btd.dbw)
	keyBuf := bytes.NewBuffer(make([]byte, 0, 100))
	valueBuf := bytes.NewBuffer(make([]byte, 0, 100))
	for k, v := range txIndexes {
		keyBuf.Reset()
		valueBuf.Reset()
		keyBuf.WriteByte(db.DbTxIndex)
		keyBuf.Write(k[:])
		if err := v.Serialize(valueBuf); err != nil {
			return err
		}
		batch.Write(keyBuf.Bytes(), valueBuf.Bytes())
	}
	return btd.dbw.WriteBatch(batch, false)
}

func flagKey(name string) []byte {
	key := make([]byte, 0, 1+len(name))
	key = append(key, db.DbFlag)
	key = append(key, name...)
	return key
}

func (btd *BlockTreeDB) WriteFlag(name string, value bool) error {
	if value {
		return btd.dbw.Write(flagKey(name), []byte{'1'}, false)
	}
	return btd.dbw.Write(flagKey(name), []byte{'0'}, false)
}

func (btd *BlockTreeDB) ReadFlag(name string) bool {
	b, err := btd.dbw.Read(flagKey(name))
	if err == nil && len(b) == 1 && b[0] == '1' {
		return true
	}
	return false
}

// LoadBlockIndexGuts walks every block index row and rebuilds the in memory
// header graph. Parent entries are resolved through blkIdxMap, creating
// placeholders for parents whose own row has not been visited yet. Returns
// the highest file number referenced by any entry.
func (btd *BlockTreeDB) LoadBlockIndexGuts(blkIdxMap map[util.Hash]*blockindex.BlockIndex) (int32, error) {
	cursor := btd.dbw.Iterator()
	defer cursor.Close()

	cursor.Seek([]byte{db.DbBlockIndex})

	maxFile := int32(-1)
	for ; cursor.Valid(); cursor.Next() {
		k := cursor.GetKey()
		if len(k) == 0 || k[0] != db.DbBlockIndex {
			break
		}
		val := cursor.GetVal()
		if val == nil {
			log.Error("blkdb: failed to read block index value")
			return maxFile, errcode.New(errcode.ErrorIndexRowDecodeFailed)
		}

		bi := blockindex.NewBlockIndex(block.NewBlockHeader())
		if err := bi.Unserialize(bytes.NewBuffer(val)); err != nil {
			log.Error("blkdb: block index row decode failed: %v", err)
			return maxFile, errcode.New(errcode.ErrorIndexRowDecodeFailed)
		}

		hash := bi.Header.GetHash()
		newIndex := insertBlockIndex(hash, blkIdxMap)
		newIndex.Prev = insertBlockIndex(bi.Header.HashPrevBlock, blkIdxMap)
		newIndex.SetBlockHash(hash)
		newIndex.Height = bi.Height
		newIndex.File = bi.File
		newIndex.DataPos = bi.DataPos
		newIndex.UndoPos = bi.UndoPos
		newIndex.Header = bi.Header
		newIndex.Status = bi.Status
		newIndex.TxCount = bi.TxCount

		if !pow.CheckProofOfWork(&hash, bi.Header.Bits) {
			log.Error("blkdb: proof of work check failed for %s", hash.String())
			return maxFile, errcode.New(errcode.ErrorIndexInconsistency)
		}
		if bi.File > maxFile {
			maxFile = bi.File
		}
	}
	return maxFile, nil
}

func insertBlockIndex(hash util.Hash, blkIdxMap map[util.Hash]*blockindex.BlockIndex) *blockindex.BlockIndex {
	if i, ok := blkIdxMap[hash]; ok {
		return i
	}
	if hash.IsNull() {
		return nil
	}
	bi := blockindex.NewBlockIndex(block.NewBlockHeader())
	bi.SetBlockHash(hash)
	blkIdxMap[hash] = bi
	return bi
}
