package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/log"

	"pocbft/store"
	"pocbft/types"
)

func newTestExecutor(t *testing.T, n int) (*BlockExecutor, *Chain, *types.Round) {
	genDoc, pvs := makeGenesis(t, n)
	chain, err := NewChain(genDoc, store.NewMemStore(log.TestingLogger()), log.TestingLogger())
	require.NoError(t, err)
	round := makeRound(genDoc)
	// 第一个成员的私钥负责签名
	signer := pvs[0]
	for _, pv := range pvs {
		if pv.GetAddress().Equal(round.Members[0].PackingAddress) {
			signer = pv
		}
	}
	exec := NewBlockExecutor(chain, signer)
	exec.SetLogger(log.TestingLogger())
	return exec, chain, round
}

// 测试出块的正确性
func TestCreateAndValidateBlock(t *testing.T) {
	exec, _, round := newTestExecutor(t, 3)
	exec.SetPayloadSource(func(height uint64) []tmbytes.HexBytes {
		return []tmbytes.HexBytes{[]byte("payload")}
	})

	block, err := exec.CreateBlock(context.Background(), round, round.Members[0], round.SlotStart(1), false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), block.Height)
	assert.Equal(t, round.Members[0].PackingAddress, block.PackingAddress)
	assert.Len(t, block.Data.Payload, 1)
	assert.NoError(t, exec.ValidateBlock(round, block))

	// 不是该slot的打包者
	round.PackingIndexOfRound = 2
	forged, err := exec.CreateBlock(context.Background(), round, round.Members[0], round.SlotStart(2), false)
	require.NoError(t, err)
	err = exec.ValidateBlock(round, forged)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid block: ")

	// 签名被篡改
	tampered := *block
	tampered.Signature = []byte("bad")
	assert.Error(t, exec.ValidateBlock(round, &tampered))
}

func TestCreateBlockRespectsDeadline(t *testing.T) {
	exec, _, round := newTestExecutor(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block, err := exec.CreateBlock(ctx, round, round.Members[0], round.SlotStart(1), false)
	assert.Error(t, err)
	assert.Nil(t, block)
}

func TestCommitBlock(t *testing.T) {
	exec, chain, round := newTestExecutor(t, 2)
	block, err := exec.CreateBlock(context.Background(), round, round.Members[0], round.SlotStart(1), false)
	require.NoError(t, err)

	notice := &types.CommitNotice{Height: 1, BlockHash: types.Hash{9}}
	assert.ErrorIs(t, exec.Commit(notice, block), ErrBlockHashMismatch)

	notice.BlockHash = block.Hash()
	assert.ErrorIs(t, exec.Commit(notice, nil), ErrBlockMissing)
	require.NoError(t, exec.Commit(notice, block))

	best, err := chain.BestHeader()
	require.NoError(t, err)
	assert.Equal(t, block.Hash(), best.Hash())

	assert.ErrorIs(t, exec.Commit(notice, block), ErrBlockNotNext, "同一个区块不能提交两次")
}

// 确认为空的slot记录跳过并惩罚打包者
func TestCommitEmptySlot(t *testing.T) {
	exec, chain, round := newTestExecutor(t, 2)
	packer := round.MemberAt(2)

	notice := &types.CommitNotice{
		Height:              1,
		BlockHash:           types.EmptyHash,
		RoundIndex:          round.Index,
		RoundStartTime:      round.StartTime,
		PackingIndexOfRound: 2,
		PackingAddress:      packer.PackingAddress,
	}
	require.NoError(t, exec.Commit(notice, nil))

	var logs []*types.PunishLog
	require.NoError(t, chain.IteratePunishLogsDesc(func(p *types.PunishLog) bool {
		logs = append(logs, p)
		return false
	}))
	require.Len(t, logs, 1)
	assert.Equal(t, types.PunishYellow, logs[0].Type)
	assert.Equal(t, packer.PackingAddress, logs[0].Address)

	best, err := chain.BestHeader()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), best.Height, "空slot不增加高度")
}

// 升级后的slot不允许出块，为空时只记录跳过，不惩罚打包者
func TestCommitEscalatedEmptySlot(t *testing.T) {
	exec, chain, round := newTestExecutor(t, 3)
	packer := round.MemberAt(3)

	notice := &types.CommitNotice{
		Height:              1,
		BlockHash:           types.EmptyHash,
		RoundIndex:          round.Index,
		RoundStartTime:      round.StartTime,
		PackingIndexOfRound: 3,
		VoteRoundIndex:      2,
		PackingAddress:      packer.PackingAddress,
	}
	require.NoError(t, exec.Commit(notice, nil))

	var logs []*types.PunishLog
	require.NoError(t, chain.IteratePunishLogsDesc(func(p *types.PunishLog) bool {
		logs = append(logs, p)
		return false
	}))
	assert.Empty(t, logs)

	skipped, err := chain.Store().(*store.KVStore).SkippedSlots(round.Index)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, uint32(2), skipped[0].VoteRoundIndex)
}
