package consensus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/p2p"

	cfg "pocbft/config"
	"pocbft/crypto/bls"
	"pocbft/privval"
	"pocbft/state"
	"pocbft/store"
	"pocbft/types"
)

type testNode struct {
	id    p2p.ID
	pv    *privval.FilePV
	chain *state.Chain
	kv    *store.KVStore
	cs    *ConsensusState

	online bool
}

func newTestNode(t *testing.T, i int, genDoc *types.GenesisDoc, pv *privval.FilePV, clock clockwork.Clock) *testNode {
	chain, kv := newTestChain(t, genDoc)
	exec := state.NewBlockExecutor(chain, pv)
	cs := NewConsensusState(cfg.TestConsensusConfig(), genDoc, chain, exec, exec,
		SetPrivValidator(pv), SetClock(clock))
	logger := consensusLogger().With("validator", i)
	cs.SetLogger(logger)
	exec.SetLogger(logger)
	return &testNode{
		id:    p2p.ID(fmt.Sprintf("node%d", i)),
		pv:    pv,
		chain: chain,
		kv:    kv,
		cs:    cs,
	}
}

func (n *testNode) bestHeight() uint64 {
	hdr, err := n.chain.BestHeader()
	if err != nil {
		return 0
	}
	return hdr.Height
}

// connectNodes 把每个节点需要广播的消息转发给其他在线的节点，经过编码后IsLocal不会被带过去
// 在线节点启动前收到的消息留在管道里，启动后再处理
func connectNodes(t *testing.T, nodes []*testNode) {
	for _, n := range nodes {
		src := n
		for _, event := range []string{EventVote, EventBlock, EventVoteResult} {
			err := src.cs.eventSwitch.AddListenerForEvent("test-hub", event, func(data events.EventData) {
				mi := data.(msgInfo)
				chID, bz, err := encodeMsg(mi.Msg)
				if err != nil {
					return
				}
				for _, dst := range nodes {
					if dst == src || dst.id == mi.PeerID || !dst.online {
						continue
					}
					msg, err := decodeMsg(chID, bz)
					if err != nil {
						return
					}
					dst.cs.AddPeerMessage(msg, src.id)
				}
			})
			require.NoError(t, err)
		}
	}
}

// runClock 每2ms推进20ms，模拟时间是真实时间的10倍
func runClock(clock clockwork.FakeClock) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				clock.Advance(20 * time.Millisecond)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func makeNodes(t *testing.T, n int, clock clockwork.Clock) ([]*testNode, []*privval.FilePV) {
	genDoc, pvs := makeGenesis(t, n)
	sorted := sortedPVs(pvs)
	nodes := make([]*testNode, n)
	for i, pv := range sorted {
		nodes[i] = newTestNode(t, i, genDoc, pv, clock)
	}
	return nodes, sorted
}

func startNodes(t *testing.T, nodes []*testNode) {
	for _, n := range nodes {
		n.online = true
	}
	for _, n := range nodes {
		require.NoError(t, n.cs.Start())
	}
}

func stopNodes(t *testing.T, nodes []*testNode) {
	for _, n := range nodes {
		if n.cs.IsRunning() {
			require.NoError(t, n.cs.Stop())
		}
	}
}

func TestCheckVoteFilters(t *testing.T) {
	clock := clockAt(1)
	nodes, pvs := makeNodes(t, 4, clock)
	cs := nodes[0].cs

	round, err := cs.rounds.GetRound(1, genesisStart())
	require.NoError(t, err)
	round.PackingIndexOfRound = 2
	cs.Round = round
	cs.Height = 2
	cs.bestHeight = 1
	cs.voteCache.Reset(2)

	key := types.VoteKey{RoundIndex: 1, PackingIndexOfRound: 2}
	hash := types.Hash{0x0a}
	outsider, err := privval.NewFilePV(bls.GenPrivKeyWithSeed(99), "")
	require.NoError(t, err)

	stale := signVote(t, pvs[1], round, 1, key, types.VoteStageOne, hash)
	assert.Equal(t, errStaleHeight, cs.checkVote(stale))

	next := signVote(t, pvs[1], round, 3, key, types.VoteStageOne, hash)
	assert.Equal(t, errBuffered, cs.checkVote(next))

	future := signVote(t, pvs[1], round, 5, key, types.VoteStageOne, hash)
	assert.Equal(t, errFutureHeight, cs.checkVote(future))

	old := signVote(t, pvs[1], round, 2, types.VoteKey{RoundIndex: 1, PackingIndexOfRound: 1}, types.VoteStageOne, hash)
	assert.Equal(t, errOldKey, cs.checkVote(old))

	stranger := signVote(t, outsider, round, 2, key, types.VoteStageOne, hash)
	assert.Equal(t, errNotMember, cs.checkVote(stranger))

	forged := signVote(t, pvs[1], round, 2, key, types.VoteStageOne, hash)
	forged.BlockHash = types.Hash{0x0b}
	assert.Equal(t, types.ErrVoteInvalidSignature, cs.checkVote(forged))

	tooFar := signVote(t, pvs[1], &types.Round{Index: 5, StartTime: genesisStart() + 160}, 2,
		types.VoteKey{RoundIndex: 5, PackingIndexOfRound: 1}, types.VoteStageOne, hash)
	assert.Equal(t, errUnknownRound, cs.checkVote(tooFar))

	good := signVote(t, pvs[1], round, 2, key, types.VoteStageOne, hash)
	assert.NoError(t, cs.checkVote(good))
}

func TestHandleVoteRelaysOnlyAddedVotes(t *testing.T) {
	clock := clockAt(1)
	nodes, pvs := makeNodes(t, 4, clock)
	cs := nodes[0].cs

	round, err := cs.rounds.GetRound(1, genesisStart())
	require.NoError(t, err)
	cs.Round = round
	cs.Height = 1
	cs.voteCache.Reset(1)

	var relayed []msgInfo
	require.NoError(t, cs.eventSwitch.AddListenerForEvent("test", EventVote, func(data events.EventData) {
		relayed = append(relayed, data.(msgInfo))
	}))

	key := types.VoteKey{RoundIndex: 1, PackingIndexOfRound: 1}
	vote := signVote(t, pvs[1], round, 1, key, types.VoteStageOne, types.EmptyHash)
	cs.handleVote(vote, "peer1")
	cs.handleVote(vote, "peer2")
	require.Len(t, relayed, 1)
	assert.Equal(t, p2p.ID("peer1"), relayed[0].PeerID)

	// 同一坐标改投另一个hash
	conflict := signVote(t, pvs[1], round, 1, key, types.VoteStageOne, types.Hash{0x01})
	cs.handleVote(conflict, "peer2")
	assert.Len(t, relayed, 1)
	assert.Equal(t, 1, cs.voteCache.VoteCount(types.VoteStageOne, key))

	for _, pv := range pvs[2:] {
		cs.handleVote(signVote(t, pv, round, 1, key, types.VoteStageOne, types.EmptyHash), "peer3")
	}
	hash, votes, ok := cs.voteCache.Quorum(types.VoteStageOne, key, round.Quorum())
	require.True(t, ok)
	assert.True(t, hash.IsEmpty())
	assert.Len(t, votes, 3)
}

// 签名错误的票先到达，不能挡住同一个成员真实的票
func TestForgedVotesDoNotShadowGenuine(t *testing.T) {
	clock := clockAt(1)
	nodes, pvs := makeNodes(t, 4, clock)
	cs := nodes[0].cs

	round, err := cs.rounds.GetRound(1, genesisStart())
	require.NoError(t, err)
	cs.Round = round
	cs.Height = 1
	cs.voteCache.Reset(1)

	key := types.VoteKey{RoundIndex: 1, PackingIndexOfRound: 1}
	junk := signVote(t, pvs[0], round, 1, key, types.VoteStageTwo, types.Hash{0xff}).Signature
	for _, pv := range pvs[1:] {
		forged := signVote(t, pv, round, 1, key, types.VoteStageOne, types.EmptyHash)
		forged.Signature = junk
		require.True(t, cs.voteQueue.Push(msgKey(&VoteMessage{Vote: forged}), msgInfo{Msg: &VoteMessage{Vote: forged}, PeerID: "evil"}))
	}
	cs.drainQueues()
	assert.Equal(t, 0, cs.voteCache.VoteCount(types.VoteStageOne, key))

	for _, pv := range pvs[1:] {
		genuine := signVote(t, pv, round, 1, key, types.VoteStageOne, types.EmptyHash)
		require.True(t, cs.voteQueue.Push(msgKey(&VoteMessage{Vote: genuine}), msgInfo{Msg: &VoteMessage{Vote: genuine}, PeerID: "peer1"}))
	}
	cs.drainQueues()
	assert.Equal(t, 3, cs.voteCache.VoteCount(types.VoteStageOne, key))
}

// 下一个高度的消息要先通过签名检查才暂存，同一个成员同一坐标只暂存一次
func TestNextHeightBufferRejectsJunk(t *testing.T) {
	clock := clockAt(1)
	nodes, pvs := makeNodes(t, 4, clock)
	cs := nodes[0].cs

	round, err := cs.rounds.GetRound(1, genesisStart())
	require.NoError(t, err)
	round.PackingIndexOfRound = 2
	cs.Round = round
	cs.Height = 2
	cs.bestHeight = 1
	cs.voteCache.Reset(2)

	key := types.VoteKey{RoundIndex: 1, PackingIndexOfRound: 2}
	junk := signVote(t, pvs[2], round, 3, key, types.VoteStageOne, types.Hash{0xff}).Signature
	template := signVote(t, pvs[1], round, 3, key, types.VoteStageOne, types.EmptyHash)
	for i := 0; i < 200; i++ {
		v := template.Copy()
		v.VoteRoundIndex = uint32(i)
		v.Signature = junk
		assert.Equal(t, types.ErrVoteInvalidSignature, cs.checkVote(v))
	}
	outsider, err := privval.NewFilePV(bls.GenPrivKeyWithSeed(99), "")
	require.NoError(t, err)
	assert.Equal(t, errNotMember, cs.checkVote(signVote(t, outsider, round, 3, key, types.VoteStageOne, types.EmptyHash)))
	assert.Equal(t, 0, cs.GetVoteStatus().Future)

	assert.Equal(t, errBuffered, cs.checkVote(template))
	assert.Equal(t, errNotBuffered, cs.checkVote(template))
	assert.Equal(t, 1, cs.GetVoteStatus().Future)

	// 聚合签名被篡改的结果
	result := makeResult(t, pvs[1:], round, 3, key, types.VoteStageTwo, types.EmptyHash)
	bad := *result
	bad.AggSignature = junk
	cs.handleResult(&bad, "evil")
	assert.Equal(t, 1, cs.GetVoteStatus().Future)
	cs.handleResult(result, "peer1")
	assert.Equal(t, 2, cs.GetVoteStatus().Future)

	votes, results, _ := cs.voteCache.Reset(3)
	require.Len(t, votes, 1)
	assert.Equal(t, template, votes[0])
	assert.Equal(t, []*types.VoteResultData{result}, results)
}

// 恢复后本地已经签过的坐标不会再签另一个hash
func TestSignAddVoteNeverSignsTwice(t *testing.T) {
	clock := clockAt(1)
	nodes, _ := makeNodes(t, 4, clock)
	cs := nodes[0].cs

	round, err := cs.rounds.GetRound(1, genesisStart())
	require.NoError(t, err)
	require.NotNil(t, round.LocalMember)
	cs.Round = round
	cs.Height = 1
	cs.voteCache.Reset(1)

	first := cs.signAddVote(types.VoteStageOne, types.Hash{0x01})
	require.NotNil(t, first)

	cs.voteCache.Clear()
	assert.Nil(t, cs.signAddVote(types.VoteStageOne, types.Hash{0x02}))
	again := cs.signAddVote(types.VoteStageOne, types.Hash{0x01})
	assert.Equal(t, first, again)
	assert.Equal(t, 1, cs.voteCache.VoteCount(types.VoteStageOne, cs.Key()))

	// 第二阶段是另一票
	assert.NotNil(t, cs.signAddVote(types.VoteStageTwo, types.EmptyHash))
}

// 最近提交的区块没有写入链时，下一个高度不开始
func TestEnterHeightWaitsForCommittedBlock(t *testing.T) {
	clock := clockAt(1)
	nodes, _ := makeNodes(t, 4, clock)
	cs := nodes[0].cs

	cs.LastCommit = &types.CommitNotice{Height: 1, BlockHash: types.Hash{0x01}}
	require.NoError(t, cs.enterHeight())
	assert.Equal(t, uint64(1), cs.Height)
	assert.False(t, cs.voteCache.PrevRoundConfirmed())

	cs.LastCommit = &types.CommitNotice{Height: 1}
	require.NoError(t, cs.enterHeight())
	assert.True(t, cs.voteCache.PrevRoundConfirmed(), "空slot不需要等待")

	cs.LastCommit = nil
	cs.voteCache.SetPrevRoundConfirmed(false)
	require.NoError(t, cs.enterHeight())
	assert.True(t, cs.voteCache.PrevRoundConfirmed())
}

func TestEscalationWithoutQuorum(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	clock := clockAt(1)
	nodes, _ := makeNodes(t, 4, clock)
	cs := nodes[0].cs

	var (
		mtx  sync.Mutex
		keys []types.VoteKey
	)
	require.NoError(t, cs.eventSwitch.AddListenerForEvent("test", EventVote, func(data events.EventData) {
		vote := data.(msgInfo).Msg.(*VoteMessage).Vote
		if vote.Stage != types.VoteStageOne {
			return
		}
		mtx.Lock()
		keys = append(keys, vote.Key())
		mtx.Unlock()
	}))

	require.NoError(t, cs.Start())
	stopClock := runClock(clock)
	require.Eventually(t, func() bool {
		mtx.Lock()
		defer mtx.Unlock()
		return len(keys) >= 4
	}, 20*time.Second, 10*time.Millisecond)
	require.NoError(t, cs.Stop())
	stopClock()

	mtx.Lock()
	defer mtx.Unlock()
	for i := 1; i < len(keys); i++ {
		assert.Equal(t, 1, keys[i].Compare(keys[i-1]), "%v after %v", keys[i], keys[i-1])
		assert.Equal(t, keys[i-1].VoteRoundIndex+1, keys[i].VoteRoundIndex)
	}
	assert.Equal(t, uint64(0), nodes[0].bestHeight())
	assert.Equal(t, uint64(1), cs.GetRoundStateSimple().Height)
	assert.True(t, cs.GetVoteStatus().Escalated)
}

func TestFourNodesCommitBlocks(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	clock := clockAt(1)
	nodes, pvs := makeNodes(t, 4, clock)
	connectNodes(t, nodes)
	startNodes(t, nodes)
	stopClock := runClock(clock)

	ok := assert.Eventually(t, func() bool {
		for _, n := range nodes {
			if n.bestHeight() < 2 {
				return false
			}
		}
		return true
	}, 30*time.Second, 10*time.Millisecond)
	stopNodes(t, nodes)
	stopClock()
	require.True(t, ok)

	for h := uint64(1); h <= 2; h++ {
		expected, err := nodes[0].kv.LoadHeader(h)
		require.NoError(t, err)
		for i, n := range nodes[1:] {
			hdr, err := n.kv.LoadHeader(h)
			require.NoError(t, err)
			assert.Equal(t, expected.Hash(), hdr.Hash(), "node %d height %d", i+1, h)
		}
	}
	first, err := nodes[0].kv.LoadHeader(1)
	require.NoError(t, err)
	assert.Equal(t, pvs[0].GetAddress(), first.PackingAddress)
	assert.True(t, first.SettlesAward)
}

func TestEmptySlotWhenPackerOffline(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	clock := clockAt(1)
	nodes, pvs := makeNodes(t, 4, clock)
	connectNodes(t, nodes)
	// 第一个slot的打包者不在线
	running := nodes[1:]
	startNodes(t, running)
	stopClock := runClock(clock)

	ok := assert.Eventually(t, func() bool {
		for _, n := range running {
			if n.bestHeight() < 1 {
				return false
			}
		}
		return true
	}, 30*time.Second, 10*time.Millisecond)
	stopNodes(t, running)
	stopClock()
	require.True(t, ok)

	for i, n := range running {
		hdr, err := n.kv.LoadHeader(1)
		require.NoError(t, err)
		assert.NotEqual(t, pvs[0].GetAddress(), hdr.PackingAddress, "node %d", i+1)

		var yellow int
		require.NoError(t, n.chain.IteratePunishLogsDesc(func(p *types.PunishLog) bool {
			if p.Type == types.PunishYellow && p.Address.Equal(pvs[0].GetAddress()) {
				yellow++
			}
			return false
		}))
		assert.GreaterOrEqual(t, yellow, 1, "node %d", i+1)

		skipped, err := n.kv.SkippedSlots(1)
		require.NoError(t, err)
		assert.NotEmpty(t, skipped)
	}
}
