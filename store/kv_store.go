package store

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
	"github.com/tendermint/tm-db/memdb"

	"pocbft/types"
)

// key layout
// header:  hdr/{round}{packingIndex}  -> Header  按(round, slot)排序，倒序遍历即为轮次降序
// height:  hgt/{height}               -> header key
// block:   blk/{hash}                 -> Block
// punish:  pun/{round}{seq}           -> PunishLog
// valid:   val/{address}              -> Validator
// skipped: skp/{round}{packingIndex}  -> CommitNotice
var (
	prefixHeader    = []byte("hdr/")
	prefixHeight    = []byte("hgt/")
	prefixBlock     = []byte("blk/")
	prefixPunish    = []byte("pun/")
	prefixValidator = []byte("val/")
	prefixSkipped   = []byte("skp/")
	keyPunishSeq    = []byte("meta/punish_seq")
)

var (
	ErrNotFound       = errors.New("not found")
	ErrHeightConflict = errors.New("height already committed")
)

// 支持的数据库，对应配置中的db_backend
const (
	BackendGoLevelDB = "goleveldb"
	BackendMemDB     = "memdb"
)

func NewKVStore(name, backend, dir string, logger log.Logger) (*KVStore, error) {
	var (
		db  tmdb.DB
		err error
	)
	switch backend {
	case BackendGoLevelDB, "":
		db, err = leveldb.NewDB(name, dir)
	case BackendMemDB:
		db = memdb.NewDB()
	default:
		return nil, errors.Errorf("unsupported db backend %q", backend)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s db at %s", name, dir)
	}
	return NewKVStoreWithDB(db, logger), nil
}

func NewKVStoreWithDB(kvdb tmdb.DB, logger log.Logger) *KVStore {
	return &KVStore{kvDB: kvdb, logger: logger}
}

// KVStore 保存区块头、区块、惩罚记录和验证者注册信息
// 共识的工作状态都可以从这里重新计算出来
type KVStore struct {
	mtx  sync.Mutex // 保护punish seq的读改写
	kvDB tmdb.DB

	logger log.Logger
}

func uint64Bytes(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func genKey(prefix []byte, parts ...[]byte) []byte {
	key := make([]byte, 0, 32)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func slotKey(prefix []byte, roundIndex uint64, packingIndex uint32) []byte {
	return genKey(prefix, uint64Bytes(roundIndex), binary.BigEndian.AppendUint32(nil, packingIndex))
}

// prefixEnd 返回大于所有以prefix开头的key的最小key
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (kv *KVStore) get(key []byte, ptr interface{}) error {
	bz, err := kv.kvDB.Get(key)
	if err != nil {
		return err
	}
	if bz == nil {
		return ErrNotFound
	}
	return tmjson.Unmarshal(bz, ptr)
}

func setJSON(batch tmdb.Batch, key []byte, v interface{}) error {
	bz, err := tmjson.Marshal(v)
	if err != nil {
		return err
	}
	return batch.Set(key, bz)
}

// SaveBlock 原子地写入区块、区块头和高度索引
func (kv *KVStore) SaveBlock(block *types.Block) error {
	has, err := kv.kvDB.Has(genKey(prefixHeight, uint64Bytes(block.Height)))
	if err != nil {
		return err
	}
	if has {
		return errors.Wrapf(ErrHeightConflict, "height %d", block.Height)
	}

	batch := kv.kvDB.NewBatch()
	defer batch.Close()

	hash := block.Hash()
	hdrKey := slotKey(prefixHeader, block.RoundIndex, block.PackingIndexOfRound)
	if err := setJSON(batch, genKey(prefixBlock, hash.Bytes()), block); err != nil {
		return err
	}
	if err := setJSON(batch, hdrKey, &block.Header); err != nil {
		return err
	}
	if err := batch.Set(genKey(prefixHeight, uint64Bytes(block.Height)), hdrKey); err != nil {
		return err
	}
	return batch.WriteSync()
}

// SaveGenesisHeader 只写入高度为0的区块头
func (kv *KVStore) SaveGenesisHeader(hdr *types.Header) error {
	batch := kv.kvDB.NewBatch()
	defer batch.Close()

	hdrKey := slotKey(prefixHeader, hdr.RoundIndex, hdr.PackingIndexOfRound)
	if err := setJSON(batch, hdrKey, hdr); err != nil {
		return err
	}
	if err := batch.Set(genKey(prefixHeight, uint64Bytes(hdr.Height)), hdrKey); err != nil {
		return err
	}
	return batch.WriteSync()
}

func (kv *KVStore) LoadHeader(height uint64) (*types.Header, error) {
	hdrKey, err := kv.kvDB.Get(genKey(prefixHeight, uint64Bytes(height)))
	if err != nil {
		return nil, err
	}
	if hdrKey == nil {
		return nil, errors.Wrapf(ErrNotFound, "header at height %d", height)
	}
	hdr := new(types.Header)
	if err := kv.get(hdrKey, hdr); err != nil {
		return nil, err
	}
	return hdr, nil
}

func (kv *KVStore) LoadBlock(hash types.Hash) (*types.Block, error) {
	block := new(types.Block)
	if err := kv.get(genKey(prefixBlock, hash.Bytes()), block); err != nil {
		return nil, errors.Wrapf(err, "block %v", hash)
	}
	return block, nil
}

// BestHeader 返回最高的区块头，空库返回nil
func (kv *KVStore) BestHeader() (*types.Header, error) {
	itr, err := kv.kvDB.ReverseIterator(prefixHeight, prefixEnd(prefixHeight))
	if err != nil {
		return nil, err
	}
	if !itr.Valid() {
		err = itr.Error()
		itr.Close()
		return nil, err
	}
	// memdb的迭代器持有读锁，先关闭再读取
	hdrKey := append([]byte(nil), itr.Value()...)
	if err := itr.Close(); err != nil {
		return nil, err
	}

	hdr := new(types.Header)
	if err := kv.get(hdrKey, hdr); err != nil {
		return nil, err
	}
	return hdr, nil
}

// IterateHeadersDesc 按(round, slot)降序遍历区块头，fn返回true时停止
func (kv *KVStore) IterateHeadersDesc(fn func(hdr *types.Header) (stop bool)) error {
	itr, err := kv.kvDB.ReverseIterator(prefixHeader, prefixEnd(prefixHeader))
	if err != nil {
		return err
	}
	defer itr.Close()

	for ; itr.Valid(); itr.Next() {
		hdr := new(types.Header)
		if err := tmjson.Unmarshal(itr.Value(), hdr); err != nil {
			return errors.Wrapf(err, "decode header %X", itr.Key())
		}
		if fn(hdr) {
			break
		}
	}
	return itr.Error()
}

// AppendPunishLog 惩罚记录只追加，同一轮内按写入顺序排列
func (kv *KVStore) AppendPunishLog(p *types.PunishLog) error {
	kv.mtx.Lock()
	defer kv.mtx.Unlock()

	var seq uint64
	bz, err := kv.kvDB.Get(keyPunishSeq)
	if err != nil {
		return err
	}
	if len(bz) == 8 {
		seq = binary.BigEndian.Uint64(bz)
	}

	batch := kv.kvDB.NewBatch()
	defer batch.Close()

	if err := setJSON(batch, genKey(prefixPunish, uint64Bytes(p.RoundIndex), uint64Bytes(seq)), p); err != nil {
		return err
	}
	if err := batch.Set(keyPunishSeq, uint64Bytes(seq+1)); err != nil {
		return err
	}
	return batch.WriteSync()
}

// IteratePunishLogsDesc 按轮次降序遍历惩罚记录
func (kv *KVStore) IteratePunishLogsDesc(fn func(p *types.PunishLog) (stop bool)) error {
	itr, err := kv.kvDB.ReverseIterator(prefixPunish, prefixEnd(prefixPunish))
	if err != nil {
		return err
	}
	defer itr.Close()

	for ; itr.Valid(); itr.Next() {
		p := new(types.PunishLog)
		if err := tmjson.Unmarshal(itr.Value(), p); err != nil {
			return errors.Wrapf(err, "decode punish log %X", itr.Key())
		}
		if fn(p) {
			break
		}
	}
	return itr.Error()
}

func (kv *KVStore) SaveValidator(v *types.Validator) error {
	bz, err := tmjson.Marshal(v)
	if err != nil {
		return err
	}
	return kv.kvDB.SetSync(genKey(prefixValidator, v.PackingAddress), bz)
}

// Validators 返回所有注册过的验证者(按地址升序)，记录原样返回，由调用方校验
func (kv *KVStore) Validators() ([]*types.Validator, error) {
	itr, err := kv.kvDB.Iterator(prefixValidator, prefixEnd(prefixValidator))
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	var vals []*types.Validator
	for ; itr.Valid(); itr.Next() {
		v := new(types.Validator)
		if err := tmjson.Unmarshal(itr.Value(), v); err != nil {
			return nil, errors.Wrapf(err, "decode validator %X", itr.Key())
		}
		vals = append(vals, v)
	}
	return vals, itr.Error()
}

func (kv *KVStore) SaveSkippedSlot(notice *types.CommitNotice) error {
	bz, err := tmjson.Marshal(notice)
	if err != nil {
		return err
	}
	return kv.kvDB.SetSync(slotKey(prefixSkipped, notice.RoundIndex, notice.PackingIndexOfRound), bz)
}

// SkippedSlots 返回roundIndex轮中被确认为空的slot
func (kv *KVStore) SkippedSlots(roundIndex uint64) ([]*types.CommitNotice, error) {
	prefix := genKey(prefixSkipped, uint64Bytes(roundIndex))
	itr, err := kv.kvDB.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	var notices []*types.CommitNotice
	for ; itr.Valid(); itr.Next() {
		n := new(types.CommitNotice)
		if err := tmjson.Unmarshal(itr.Value(), n); err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	return notices, itr.Error()
}

func (kv *KVStore) GetDB() tmdb.DB {
	return kv.kvDB
}

func (kv *KVStore) Close() error {
	return kv.kvDB.Close()
}
