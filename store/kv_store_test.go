package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"

	"pocbft/types"
)

func makeTestBlock(height, round uint64, packingIndex uint32, addr byte) *types.Block {
	return &types.Block{
		Header: types.Header{
			ChainID:             "test-chain",
			Height:              height,
			RoundIndex:          round,
			RoundStartTime:      1000 + round*100,
			PackingIndexOfRound: packingIndex,
			PackingAddress:      types.Address{addr},
		},
		Signature: []byte("sig"),
	}
}

func TestSaveAndLoadBlock(t *testing.T) {
	kv := NewMemStore(log.TestingLogger())
	defer kv.Close()

	best, err := kv.BestHeader()
	require.NoError(t, err)
	assert.Nil(t, best, "空库没有区块头")

	b1 := makeTestBlock(1, 1, 1, 0x01)
	b2 := makeTestBlock(2, 1, 3, 0x02)
	require.NoError(t, kv.SaveBlock(b1))
	require.NoError(t, kv.SaveBlock(b2))
	assert.ErrorIs(t, kv.SaveBlock(makeTestBlock(2, 2, 1, 0x03)), ErrHeightConflict, "同一高度不能提交两次")

	best, err = kv.BestHeader()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), best.Height)
	assert.Equal(t, b2.Hash(), best.Hash())

	hdr, err := kv.LoadHeader(1)
	require.NoError(t, err)
	assert.Equal(t, b1.Hash(), hdr.Hash())

	_, err = kv.LoadHeader(9)
	assert.ErrorIs(t, err, ErrNotFound)

	block, err := kv.LoadBlock(b2.Hash())
	require.NoError(t, err)
	assert.Equal(t, b2.PackingAddress, block.PackingAddress)
}

func TestIterateHeadersDesc(t *testing.T) {
	kv := NewMemStore(log.TestingLogger())
	require.NoError(t, kv.SaveGenesisHeader(&types.Header{ChainID: "test-chain", Time: 1000}))
	require.NoError(t, kv.SaveBlock(makeTestBlock(1, 1, 2, 0x01)))
	require.NoError(t, kv.SaveBlock(makeTestBlock(2, 2, 1, 0x02)))
	require.NoError(t, kv.SaveBlock(makeTestBlock(3, 2, 4, 0x03)))
	require.NoError(t, kv.SaveBlock(makeTestBlock(4, 10, 1, 0x04)))

	var heights []uint64
	require.NoError(t, kv.IterateHeadersDesc(func(hdr *types.Header) bool {
		heights = append(heights, hdr.Height)
		return false
	}))
	assert.Equal(t, []uint64{4, 3, 2, 1, 0}, heights, "按轮次降序，同轮按slot降序")

	heights = heights[:0]
	require.NoError(t, kv.IterateHeadersDesc(func(hdr *types.Header) bool {
		if hdr.RoundIndex < 2 {
			return true
		}
		heights = append(heights, hdr.Height)
		return false
	}))
	assert.Equal(t, []uint64{4, 3, 2}, heights, "回调返回true时停止")
}

func TestPunishLogs(t *testing.T) {
	kv := NewMemStore(log.TestingLogger())
	for _, r := range []uint64{3, 1, 3, 7} {
		require.NoError(t, kv.AppendPunishLog(&types.PunishLog{
			Address:    types.Address{byte(r)},
			Type:       types.PunishYellow,
			RoundIndex: r,
		}))
	}

	var rounds []uint64
	require.NoError(t, kv.IteratePunishLogsDesc(func(p *types.PunishLog) bool {
		rounds = append(rounds, p.RoundIndex)
		return false
	}))
	assert.Equal(t, []uint64{7, 3, 3, 1}, rounds)
}

func TestValidatorsAndSkippedSlots(t *testing.T) {
	kv := NewKVStoreWithDB(memdb.NewDB(), log.TestingLogger())
	require.NoError(t, kv.SaveValidator(&types.Validator{PackingAddress: types.Address{0x02}, RegisterHeight: 3}))
	require.NoError(t, kv.SaveValidator(&types.Validator{PackingAddress: types.Address{0x01}}))

	vals, err := kv.Validators()
	require.NoError(t, err)
	require.Len(t, vals, 2)
	assert.Equal(t, types.Address{0x01}, vals[0].PackingAddress)
	assert.Equal(t, uint64(3), vals[1].RegisterHeight)

	require.NoError(t, kv.SaveSkippedSlot(&types.CommitNotice{Height: 5, RoundIndex: 4, PackingIndexOfRound: 2}))
	require.NoError(t, kv.SaveSkippedSlot(&types.CommitNotice{Height: 5, RoundIndex: 4, PackingIndexOfRound: 3}))
	require.NoError(t, kv.SaveSkippedSlot(&types.CommitNotice{Height: 6, RoundIndex: 5, PackingIndexOfRound: 1}))

	skipped, err := kv.SkippedSlots(4)
	require.NoError(t, err)
	assert.Len(t, skipped, 2)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("hdr0"), prefixEnd([]byte("hdr/")))
	assert.Equal(t, []byte{0x02}, prefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}

func TestNewKVStoreBackends(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewKVStore("blockstore", BackendGoLevelDB, dir, log.TestingLogger())
	require.NoError(t, err)
	require.NoError(t, kv.SaveBlock(makeTestBlock(1, 1, 1, 0x01)))
	require.NoError(t, kv.Close())

	// 重新打开后数据还在
	kv, err = NewKVStore("blockstore", BackendGoLevelDB, dir, log.TestingLogger())
	require.NoError(t, err)
	hdr, err := kv.LoadHeader(1)
	require.NoError(t, err)
	assert.Equal(t, types.Address{0x01}, hdr.PackingAddress)
	require.NoError(t, kv.Close())

	kv, err = NewKVStore("blockstore", BackendMemDB, "", log.TestingLogger())
	require.NoError(t, err)
	best, err := kv.BestHeader()
	require.NoError(t, err)
	assert.Nil(t, best)

	_, err = NewKVStore("blockstore", "rocksdb", dir, log.TestingLogger())
	assert.Error(t, err)
}
