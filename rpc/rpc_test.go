package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	cfg "pocbft/config"
	"pocbft/consensus"
	"pocbft/crypto/bls"
	"pocbft/libs/metric"
	"pocbft/privval"
	"pocbft/state"
	"pocbft/store"
	"pocbft/types"
)

const interval = uint64(10)

var genesisTime = time.Unix(1600000000, 0)

type fakePeers struct {
	set *p2p.PeerSet
}

func (fp fakePeers) Peers() p2p.IPeerSet { return fp.set }

func (fp fakePeers) NumPeers() (int, int, int) { return 1, 2, 3 }

func setupEnv(t *testing.T) (*store.KVStore, []*privval.FilePV) {
	pvs := make([]*privval.FilePV, 2)
	vals := make([]types.GenesisValidator, 2)
	for i := range pvs {
		pv, err := privval.NewFilePV(bls.GenPrivKeyWithSeed(int64(i+1)), "")
		require.NoError(t, err)
		pvs[i] = pv
		vals[i] = types.GenesisValidator{Address: pv.Key.Address, PubKey: pv.Key.PubKey}
	}
	genDoc := &types.GenesisDoc{
		GenesisTime:     genesisTime,
		ChainID:         "rpc_test",
		ConsensusParams: types.ConsensusParams{PackingInterval: interval, CreditRange: types.DefaultCreditRange},
		Validators:      vals,
	}
	require.NoError(t, genDoc.ValidateAndComplete())

	kv := store.NewMemStore(log.TestingLogger())
	chain, err := state.NewChain(genDoc, kv, log.TestingLogger())
	require.NoError(t, err)
	exec := state.NewBlockExecutor(chain, pvs[0])
	cs := consensus.NewConsensusState(cfg.TestConsensusConfig(), genDoc, chain, exec, exec)

	ms := metric.NewMetricSet()
	require.NoError(t, ms.SetMetrics("consensus", cs.Metric()))

	SetEnvironment(&Environment{
		Consensus: cs,
		Chain:     chain,
		Store:     kv,
		P2PPeers:  fakePeers{set: p2p.NewPeerSet()},
		MetricSet: ms,
		Logger:    log.TestingLogger(),
	})
	return kv, pvs
}

func saveHeader(t *testing.T, kv *store.KVStore, height uint64, pidx uint32, addr types.Address, slotTime uint64) {
	start := uint64(genesisTime.Unix())
	require.NoError(t, kv.SaveBlock(&types.Block{Header: types.Header{
		ChainID:             "rpc_test",
		Height:              height,
		Time:                start + slotTime,
		RoundIndex:          1,
		RoundStartTime:      start,
		PackingIndexOfRound: pidx,
		PackingAddress:      addr,
	}}))
}

func TestHeaders(t *testing.T) {
	kv, pvs := setupEnv(t)
	a, b := pvs[0].GetAddress(), pvs[1].GetAddress()
	saveHeader(t, kv, 1, 1, a, 2)
	saveHeader(t, kv, 2, 2, b, 10)
	saveHeader(t, kv, 3, 3, a, 24)

	res, err := Headers(&rpctypes.Context{}, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.LastHeight)
	require.Len(t, res.Headers, 3)
	assert.EqualValues(t, 3, res.Headers[0].Height)
	assert.EqualValues(t, 1, res.Headers[2].Height)
	assert.Equal(t, ResultDelay{Max: "4.00", Min: "0.00", Median: "2.00", Avg: "2.00"}, res.Delay)

	res, err = Headers(&rpctypes.Context{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, res.Headers, 1)
	assert.EqualValues(t, 2, res.Headers[0].Height)

	_, err = Headers(&rpctypes.Context{}, 3, 2)
	assert.Error(t, err)
}

func TestCreditAndPunishLogs(t *testing.T) {
	kv, pvs := setupEnv(t)
	a, b := pvs[0].GetAddress(), pvs[1].GetAddress()
	saveHeader(t, kv, 1, 1, a, 0)
	saveHeader(t, kv, 2, 2, b, 10)
	saveHeader(t, kv, 3, 3, a, 20)
	require.NoError(t, kv.AppendPunishLog(&types.PunishLog{Address: a, Type: types.PunishYellow, RoundIndex: 1}))
	require.NoError(t, kv.AppendPunishLog(&types.PunishLog{Address: b, Type: types.PunishRed, RoundIndex: 1}))

	res, err := Credit(&rpctypes.Context{}, []byte(a), 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Blocks)
	assert.EqualValues(t, 1, res.Yellow)
	assert.Equal(t, "0.0100", res.Credit)

	logs, err := PunishLogs(&rpctypes.Context{}, "", 0)
	require.NoError(t, err)
	assert.Len(t, logs.Logs, 2)

	logs, err = PunishLogs(&rpctypes.Context{}, b.String(), 0)
	require.NoError(t, err)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, types.PunishRed, logs.Logs[0].Type)
}

func TestRoundMembers(t *testing.T) {
	setupEnv(t)
	res, err := RoundMembers(&rpctypes.Context{}, 1, uint64(genesisTime.Unix()))
	require.NoError(t, err)

	var r types.Round
	require.NoError(t, json.Unmarshal(res.Round, &r))
	assert.EqualValues(t, 1, r.Index)
	assert.Len(t, r.Members, 2)
}

func TestJSONMetricsAndNetInfo(t *testing.T) {
	setupEnv(t)
	res, err := JSONMetrics(&rpctypes.Context{}, "")
	require.NoError(t, err)
	require.Contains(t, res.Metrics, "consensus")
	assert.True(t, json.Valid(res.Metrics["consensus"]))

	res, err = JSONMetrics(&rpctypes.Context{}, "unknown")
	require.NoError(t, err)
	assert.Empty(t, res.Metrics)

	info, err := NetInfo(&rpctypes.Context{})
	require.NoError(t, err)
	assert.Equal(t, 1, info.Outbound)
	assert.Equal(t, 2, info.Inbound)
	assert.Equal(t, 3, info.Dialing)
	assert.Empty(t, info.Peers)
}
