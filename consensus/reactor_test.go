package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmcfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"

	"pocbft/privval"
	"pocbft/types"
)

// makeAndConnectReactors n个reactor两两相连，waitSync为true，共识不会启动
func makeAndConnectReactors(t *testing.T, n int, options ...ReactorOption) ([]*Reactor, []*p2p.Switch, []*testNode) {
	nodes, _ := makeNodes(t, n, clockAt(1))
	reactors := make([]*Reactor, n)
	for i := 0; i < n; i++ {
		reactors[i] = NewReactor(nodes[i].cs, true, options...)
		reactors[i].SetLogger(log.TestingLogger().With("validator", i))
	}
	switches := p2p.MakeConnectedSwitches(tmcfg.TestP2PConfig(), n, func(i int, s *p2p.Switch) *p2p.Switch {
		s.AddReactor("CONSENSUS", reactors[i])
		return s
	}, p2p.Connect2Switches)
	return reactors, switches, nodes
}

func stopSwitches(t *testing.T, switches []*p2p.Switch) {
	for _, s := range switches {
		require.NoError(t, s.Stop())
	}
}

func readMsg(t *testing.T, ch <-chan msgInfo) msgInfo {
	select {
	case mi := <-ch:
		return mi
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for message")
	}
	return msgInfo{}
}

func TestReactorBroadcastVote(t *testing.T) {
	reactors, switches, nodes := makeAndConnectReactors(t, 2, WithMinPeers(1))
	defer stopSwitches(t, switches)
	require.Eventually(t, func() bool {
		return reactors[0].IsReady() && reactors[1].IsReady()
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, reactors[0].WaitSync())
	assert.False(t, nodes[0].cs.IsRunning())

	round, err := nodes[0].cs.rounds.GetRound(1, genesisStart())
	require.NoError(t, err)
	vote := signVote(t, nodes[0].pv, round, 1, types.VoteKey{RoundIndex: 1, PackingIndexOfRound: 1},
		types.VoteStageOne, types.EmptyHash)
	vote.IsLocal = true

	// 共识产生的事件由reactor转发
	nodes[0].cs.eventSwitch.FireEvent(EventVote, msgInfo{Msg: &VoteMessage{Vote: vote}})

	mi := readMsg(t, nodes[1].cs.peerVoteCh)
	assert.Equal(t, switches[0].NodeInfo().ID(), mi.PeerID)
	got, ok := mi.Msg.(*VoteMessage)
	require.True(t, ok)
	assert.False(t, got.Vote.IsLocal)
	assert.Equal(t, vote.SignBytes(testChainID), got.Vote.SignBytes(testChainID))
	assert.Equal(t, vote.Signature, got.Vote.Signature)

	// 消息不会发回给来源
	chID, bz, err := encodeMsg(&VoteMessage{Vote: vote})
	require.NoError(t, err)
	assert.Equal(t, 0, reactors[0].BroadcastInConsensus(testChainID, chID, bz, switches[1].NodeInfo().ID()))
	assert.Equal(t, 0, reactors[0].BroadcastInConsensus("other-chain", chID, bz, ""))
	assert.Equal(t, 1, reactors[0].BroadcastInConsensus(testChainID, chID, bz, ""))
}

func TestReactorRoutesResultsSeparately(t *testing.T) {
	reactors, switches, nodes := makeAndConnectReactors(t, 2)
	defer stopSwitches(t, switches)
	require.Eventually(t, func() bool {
		return reactors[0].peers.Size() == 1
	}, 5*time.Second, 10*time.Millisecond)

	round, err := nodes[0].cs.rounds.GetRound(1, genesisStart())
	require.NoError(t, err)
	key := types.VoteKey{RoundIndex: 1, PackingIndexOfRound: 1}
	result := makeResult(t, []*privval.FilePV{nodes[0].pv, nodes[1].pv}, round, 1, key, types.VoteStageTwo, types.EmptyHash)

	chID, bz, err := encodeMsg(&VoteResultMessage{Result: result})
	require.NoError(t, err)
	require.Equal(t, VoteResultChannel, chID)
	assert.Equal(t, 1, reactors[0].BroadcastInConsensus(testChainID, chID, bz, ""))

	mi := readMsg(t, nodes[1].cs.peerResultCh)
	got, ok := mi.Msg.(*VoteResultMessage)
	require.True(t, ok)
	assert.Equal(t, result.Key(), got.Result.Key())
	assert.Equal(t, result.AggSignature, got.Result.AggSignature)
	assert.Len(t, got.Result.Votes, 2)
}

func TestReactorStopsPeerOnBadMessage(t *testing.T) {
	reactors, switches, _ := makeAndConnectReactors(t, 2)
	defer stopSwitches(t, switches)
	require.Eventually(t, func() bool {
		return reactors[1].peers.Size() == 1
	}, 5*time.Second, 10*time.Millisecond)

	reactors[0].BroadcastInConsensus(testChainID, VoteChannel, []byte("not a vote"), "")
	assert.Eventually(t, func() bool {
		return reactors[1].peers.Size() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReactorNotReadyWithoutPeers(t *testing.T) {
	nodes, _ := makeNodes(t, 1, clockAt(1))
	conR := NewReactor(nodes[0].cs, true, WithMinPeers(2))
	assert.False(t, conR.IsReady())
	assert.Len(t, conR.GetChannels(), 3)
	assert.Equal(t, conR, nodes[0].cs.network)
}

func TestMessageCodec(t *testing.T) {
	genDoc, pvs := makeGenesis(t, 1)
	round := types.NewRound(1, genDoc.StartTime(), testInterval, nil)
	vote := signVote(t, pvs[0], round, 3, types.VoteKey{RoundIndex: 1, PackingIndexOfRound: 1}, types.VoteStageTwo, types.Hash{0x01})

	chID, bz, err := encodeMsg(&VoteMessage{Vote: vote})
	require.NoError(t, err)
	assert.Equal(t, VoteChannel, chID)
	msg, err := decodeMsg(chID, bz)
	require.NoError(t, err)
	require.NoError(t, msg.ValidateBasic())
	assert.Equal(t, msgKey(&VoteMessage{Vote: vote}), msgKey(msg))

	_, err = decodeMsg(0x7f, bz)
	assert.Error(t, err)
	_, err = decodeMsg(VoteChannel, make([]byte, maxMsgSize+1))
	assert.Error(t, err)

	assert.Error(t, (&BlockMessage{}).ValidateBasic())
	assert.Error(t, (&VoteResultMessage{}).ValidateBasic())
	assert.Error(t, (&VoteMessage{Vote: &types.Vote{}}).ValidateBasic())
}
