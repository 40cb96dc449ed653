package consensus

import (
	"sort"
	"testing"
	"time"

	"github.com/go-kit/kit/log/term"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"

	"pocbft/crypto/bls"
	"pocbft/privval"
	"pocbft/state"
	"pocbft/store"
	"pocbft/types"
)

const (
	testChainID  = "consensus_test"
	testInterval = uint64(10)
)

var testGenesisTime = time.Unix(1600000000, 0)

func genesisStart() uint64 {
	return uint64(testGenesisTime.Unix())
}

// makeGenesis n个种子节点，私钥由下标决定
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
		GenesisTime: testGenesisTime,
		ChainID:     testChainID,
		ConsensusParams: types.ConsensusParams{
			PackingInterval: testInterval,
			CreditRange:     types.DefaultCreditRange,
		},
		Validators: vals,
	}
	require.NoError(t, genDoc.ValidateAndComplete())
	return genDoc, pvs
}

// consensusLogger 按validator字段给每个节点的日志上色
func consensusLogger() log.Logger {
	return log.TestingLoggerWithColorFn(func(keyvals ...interface{}) term.FgBgColor {
		for i := 0; i < len(keyvals)-1; i += 2 {
			if keyvals[i] == "validator" {
				return term.FgBgColor{Fg: term.Color(uint8(keyvals[i+1].(int) + 1))}
			}
		}
		return term.FgBgColor{}
	}).With("module", "consensus")
}

func newTestChain(t *testing.T, genDoc *types.GenesisDoc) (*state.Chain, *store.KVStore) {
	kv := store.NewMemStore(log.TestingLogger())
	chain, err := state.NewChain(genDoc, kv, log.TestingLogger())
	require.NoError(t, err)
	return chain, kv
}

// saveHeader 直接写入历史区块头
func saveHeader(t *testing.T, kv *store.KVStore, height, round, roundStart uint64, pidx uint32, addr types.Address, slotTime uint64) {
	block := &types.Block{
		Header: types.Header{
			ChainID:             testChainID,
			Height:              height,
			Time:                slotTime,
			RoundIndex:          round,
			RoundStartTime:      roundStart,
			PackingIndexOfRound: pidx,
			PackingAddress:      addr,
		},
	}
	require.NoError(t, kv.SaveBlock(block))
}

func punish(t *testing.T, kv *store.KVStore, addr types.Address, ptype types.PunishType, round uint64) {
	require.NoError(t, kv.AppendPunishLog(&types.PunishLog{
		Address:    addr,
		Type:       ptype,
		RoundIndex: round,
		Reason:     "test",
	}))
}

// sortedPVs 按地址升序，信用值相同时轮次成员就是这个顺序
func sortedPVs(pvs []*privval.FilePV) []*privval.FilePV {
	out := make([]*privval.FilePV, len(pvs))
	copy(out, pvs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].GetAddress().Compare(out[j].GetAddress()) < 0
	})
	return out
}

func signVote(
	t *testing.T,
	pv *privval.FilePV,
	round *types.Round,
	height uint64,
	key types.VoteKey,
	stage types.VoteStage,
	hash types.Hash,
) *types.Vote {
	vote := &types.Vote{
		Height:              height,
		RoundIndex:          round.Index,
		RoundStartTime:      round.StartTime,
		PackingIndexOfRound: key.PackingIndexOfRound,
		VoteRoundIndex:      key.VoteRoundIndex,
		Stage:               stage,
		BlockHash:           hash,
		Address:             pv.GetAddress(),
	}
	sig, err := pv.Sign(vote.Address, vote.SignBytes(testChainID))
	require.NoError(t, err)
	vote.Signature = sig
	return vote
}

func makeResult(
	t *testing.T,
	pvs []*privval.FilePV,
	round *types.Round,
	height uint64,
	key types.VoteKey,
	stage types.VoteStage,
	hash types.Hash,
) *types.VoteResultData {
	votes := make([]*types.Vote, 0, len(pvs))
	for _, pv := range pvs {
		votes = append(votes, signVote(t, pv, round, height, key, stage, hash))
	}
	result, err := types.NewVoteResultData(votes)
	require.NoError(t, err)
	return result
}
