package store

import (
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"
)

// NewMemStore 基于内存数据库的store，测试使用
func NewMemStore(logger log.Logger) *KVStore {
	return NewKVStoreWithDB(memdb.NewDB(), logger)
}
