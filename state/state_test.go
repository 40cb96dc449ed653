package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	"pocbft/crypto/bls"
	"pocbft/privval"
	"pocbft/store"
	"pocbft/types"
)

const testChainID = "state_test"

func makeGenesis(t *testing.T, n int) (*types.GenesisDoc, []*privval.FilePV) {
	pvs := make([]*privval.FilePV, n)
	vals := make([]types.GenesisValidator, n)
	for i := 0; i < n; i++ {
		pv, err := privval.NewFilePV(bls.GenPrivKeyWithSeed(int64(i+1)), "")
		require.NoError(t, err)
		pvs[i] = pv
		vals[i] = types.GenesisValidator{Address: pv.Key.Address, PubKey: pv.Key.PubKey}
	}
	genDoc := &types.GenesisDoc{
		GenesisTime: time.Unix(1000, 0),
		ChainID:     testChainID,
		Validators:  vals,
	}
	require.NoError(t, genDoc.ValidateAndComplete())
	return genDoc, pvs
}

func makeRound(genDoc *types.GenesisDoc) *types.Round {
	members := make([]*types.Member, 0, len(genDoc.Validators))
	for _, v := range genDoc.Validators {
		members = append(members, &types.Member{PackingAddress: v.Address, PubKey: v.PubKey, Seed: true})
	}
	r := types.NewRound(1, genDoc.StartTime(), genDoc.ConsensusParams.PackingInterval, members)
	r.PackingIndexOfRound = 1
	return r
}

func TestNewChainWritesGenesis(t *testing.T) {
	genDoc, _ := makeGenesis(t, 2)
	kv := store.NewMemStore(log.TestingLogger())

	chain, err := NewChain(genDoc, kv, log.TestingLogger())
	require.NoError(t, err)

	best, err := chain.BestHeader()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), best.Height)
	assert.Equal(t, uint64(1000), best.Time)
	assert.Len(t, chain.SeedValidators(), 2)
	assert.True(t, chain.IsPackingEligible())

	other := *genDoc
	other.ChainID = "other"
	_, err = NewChain(&other, kv, log.TestingLogger())
	assert.Error(t, err, "store已经属于另一条链")
}

func TestChainValidators(t *testing.T) {
	genDoc, _ := makeGenesis(t, 1)
	chain, err := NewChain(genDoc, store.NewMemStore(log.TestingLogger()), log.TestingLogger())
	require.NoError(t, err)

	pub, err := bls.GenPrivKeyWithSeed(42).PubKey()
	require.NoError(t, err)
	v := types.NewValidator(pub, 5)
	v.StopHeight = 9
	require.NoError(t, chain.RegisterValidator(v))
	assert.Error(t, chain.RegisterValidator(&types.Validator{PackingAddress: types.Address{1}}), "无效的记录不能注册")

	for height, want := range map[uint64]int{4: 0, 5: 1, 8: 1, 9: 0} {
		vals, err := chain.Validators(height)
		require.NoError(t, err)
		assert.Len(t, vals, want, "height=%d", height)
	}
}

func TestAwardSettled(t *testing.T) {
	genDoc, pvs := makeGenesis(t, 1)
	chain, err := NewChain(genDoc, store.NewMemStore(log.TestingLogger()), log.TestingLogger())
	require.NoError(t, err)
	exec := NewBlockExecutor(chain, pvs[0])
	round := makeRound(genDoc)

	settled, err := chain.AwardSettled(1)
	require.NoError(t, err)
	assert.False(t, settled)

	block, err := exec.CreateBlock(context.Background(), round, round.Members[0], round.SlotStart(1), settled)
	require.NoError(t, err)
	assert.True(t, block.SettlesAward, "本轮第一个区块负责结算")
	require.NoError(t, exec.Commit(&types.CommitNotice{Height: 1, BlockHash: block.Hash()}, block))

	settled, err = chain.AwardSettled(1)
	require.NoError(t, err)
	assert.True(t, settled)

	settled, err = chain.AwardSettled(2)
	require.NoError(t, err)
	assert.False(t, settled)

	st, err := chain.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.LastBlockHeight)
	assert.Equal(t, block.Hash(), st.LastBlockHash)
}
