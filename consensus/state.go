package consensus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"golang.org/x/sync/errgroup"

	cfg "pocbft/config"
	cstypes "pocbft/consensus/types"
	"pocbft/crypto/bls"
	"pocbft/libs/metric"
	"pocbft/slot"
	"pocbft/types"
)

// 消息被过滤的原因
var (
	errStaleHeight       = errors.New("height already committed")
	errFutureHeight      = errors.New("height too far ahead")
	errBuffered          = errors.New("buffered for next height")
	errNotBuffered       = errors.New("next height buffer full or duplicate")
	errOldKey            = errors.New("vote key older than active")
	errNotMember         = errors.New("signer is not a round member")
	errUnknownRound      = errors.New("round too far ahead")
	errBadBlockSignature = errors.New("bad block signature")
)

// PrivValidator 本节点的签名者
type PrivValidator interface {
	Signer
	GetAddress() types.Address
}

type waitResult uint8

const (
	waitCond    waitResult = iota // 等待的条件满足
	waitTimeout                   // 到达截止时间
	waitDone                      // 当前高度已经通过别的节点的结果提交
	waitQuit
)

// ConsensusState 共识状态机，每条链一个实例
// 只有驱动协程修改RoundState和VoteCache，两个读协程只负责把收到的消息放进队列
type ConsensusState struct {
	service.BaseService

	config  *cfg.ConsensusConfig
	chainID string

	chain    ChainReader
	rounds   *RoundManager
	producer BlockProducer
	verifier *ResultVerifier
	network  Network
	clock    clockwork.Clock

	privVal   PrivValidator
	localAddr types.Address

	// 共识内部状态
	mtx sync.RWMutex
	cstypes.RoundState
	voteCache  *cstypes.VoteCache
	bestHeight uint64
	heightDone *types.CommitNotice

	// 通信管道
	peerVoteCh   chan msgInfo // 投票和区块
	peerResultCh chan msgInfo
	voteQueue    *cstypes.MsgQueue[msgInfo]
	resultQueue  *cstypes.MsgQueue[msgInfo]
	eventSwitch  events.EventSwitch // consensus和reactor之间通信的组件

	cancel context.CancelFunc
	done   chan struct{}

	metrics *Metrics
	metric  *consensusMetric
}

type ConsensusOption func(*ConsensusState)

// SetPrivValidator 没有设置时节点只观察，不投票也不出块
func SetPrivValidator(pv PrivValidator) ConsensusOption {
	return func(cs *ConsensusState) {
		cs.privVal = pv
		cs.localAddr = pv.GetAddress()
	}
}

func SetClock(clock clockwork.Clock) ConsensusOption {
	return func(cs *ConsensusState) { cs.clock = clock }
}

func StateMetrics(metrics *Metrics) ConsensusOption {
	return func(cs *ConsensusState) { cs.metrics = metrics }
}

func NewConsensusState(
	config *cfg.ConsensusConfig,
	genDoc *types.GenesisDoc,
	chain ChainReader,
	producer BlockProducer,
	committer BlockCommitter,
	options ...ConsensusOption,
) *ConsensusState {
	cs := &ConsensusState{
		config:       config,
		chainID:      chain.ChainID(),
		chain:        chain,
		producer:     producer,
		network:      alwaysReady{},
		clock:        clockwork.NewRealClock(),
		voteCache:    cstypes.NewVoteCache(),
		peerVoteCh:   make(chan msgInfo, config.QueueSize),
		peerResultCh: make(chan msgInfo, config.QueueSize),
		voteQueue:    cstypes.NewMsgQueue[msgInfo](config.QueueSize),
		resultQueue:  cstypes.NewMsgQueue[msgInfo](config.QueueSize),
		eventSwitch:  events.NewEventSwitch(),
		done:         make(chan struct{}),
		metrics:      NopMetrics(),
		metric:       newConsensusMetric(),
	}
	cs.BaseService = *service.NewBaseService(nil, "CONSENSUS", cs)

	for _, opt := range options {
		opt(cs)
	}

	params := genDoc.ConsensusParams
	cs.rounds = NewRoundManager(
		chain,
		NewCreditEvaluator(chain, params.CreditRange),
		genDoc.StartTime(),
		params.PackingInterval,
		WithRoundClock(cs.clock),
		WithLocalAddress(cs.localAddr),
		WithRoundCacheSize(config.RoundCacheSize),
	)
	cs.verifier = NewResultVerifier(chain, cs.rounds, committer)

	return cs
}

func (cs *ConsensusState) String() string {
	return "ConsensusState"
}

func (cs *ConsensusState) SetLogger(logger log.Logger) {
	cs.BaseService.Logger = logger
	cs.rounds.SetLogger(logger.With("module", "round"))
	cs.verifier.SetLogger(logger)
	cs.eventSwitch.SetLogger(logger.With("module", "events"))
}

// SetNetwork 由reactor设置
func (cs *ConsensusState) SetNetwork(network Network) {
	cs.network = network
}

func (cs *ConsensusState) Rounds() *RoundManager {
	return cs.rounds
}

func (cs *ConsensusState) Metric() metric.MetricItem {
	return cs.metric
}

// GetRoundStateSimple 当前状态的快照
func (cs *ConsensusState) GetRoundStateSimple() cstypes.RoundStateSimple {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	return cs.RoundState.RoundStateSimple()
}

func (cs *ConsensusState) GetVoteStatus() cstypes.VoteStatus {
	return cs.voteCache.Status()
}

func (cs *ConsensusState) OnStart() error {
	if err := cs.eventSwitch.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cs.readRoutine(gctx, cs.peerVoteCh, cs.voteQueue) })
	g.Go(func() error { return cs.readRoutine(gctx, cs.peerResultCh, cs.resultQueue) })
	g.Go(func() error { return cs.driveRoutine(gctx) })

	go func() {
		if err := g.Wait(); err != nil {
			cs.Logger.Error("Consensus routines exited", "err", err)
		}
		close(cs.done)
	}()
	cs.Logger.Info("Consensus routines started.", "address", cs.localAddr)
	return nil
}

func (cs *ConsensusState) OnStop() {
	if cs.cancel != nil {
		cs.cancel()
		<-cs.done
	}
	if err := cs.eventSwitch.Stop(); err != nil {
		cs.Logger.Error("failed trying to stop eventSwitch", "error", err)
	}
	cs.Logger.Info("consensus server stopped.")
}

// AddPeerMessage reactor收到的消息从这里进入共识
func (cs *ConsensusState) AddPeerMessage(msg Message, peerID p2p.ID) {
	ch := cs.peerVoteCh
	if _, ok := msg.(*VoteResultMessage); ok {
		ch = cs.peerResultCh
	}
	select {
	case ch <- msgInfo{Msg: msg, PeerID: peerID}:
	case <-cs.Quit():
	}
}

// readRoutine 每个管道一个读协程，检查格式后放入去重队列
func (cs *ConsensusState) readRoutine(ctx context.Context, in <-chan msgInfo, queue *cstypes.MsgQueue[msgInfo]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case mi := <-in:
			if err := mi.Msg.ValidateBasic(); err != nil {
				cs.Logger.Debug("Dropped invalid message", "peer", mi.PeerID, "err", err)
				cs.metrics.DroppedMessages.With("reason", "invalid").Add(1)
				continue
			}
			if !queue.Push(msgKey(mi.Msg), mi) {
				cs.Logger.Debug("Dropped duplicate message", "peer", mi.PeerID, "msg", mi.Msg)
			}
		}
	}
}

func (cs *ConsensusState) driveRoutine(ctx context.Context) error {
	cs.Logger.Debug("consensus drive routine starts.")
	for ctx.Err() == nil {
		cs.runAttempt(ctx)
	}
	cs.Logger.Info("driveRoutine quit.")
	return nil
}

// runAttempt 在一个slot上完成一次出块和两阶段投票
// 提交成功或者第二阶段超时后返回，由driveRoutine进入下一次
func (cs *ConsensusState) runAttempt(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			cs.Logger.Error("CONSENSUS FAILURE!!!", "err", r, "stack", string(debug.Stack()))
			cs.updateStep(cstypes.RoundStepHeightFinished)
			cs.voteCache.Clear()
			cs.setRound(nil)
			cs.heightDone = nil
			select {
			case <-ctx.Done():
			case <-cs.clock.After(cs.config.PollInterval):
			}
		}
	}()

	if cs.heightDone != nil {
		cs.finishHeight()
		return
	}

	cs.updateStep(cstypes.RoundStepWaitRoundInit)
	round, err := cs.prepareRound()
	if err != nil {
		cs.Logger.Error("Failed to init round", "err", err)
		cs.sleep(ctx)
		return
	}

	cs.updateStep(cstypes.RoundStepWaitNetworkReady)
	if !cs.network.IsReady() {
		cs.sleep(ctx)
		return
	}

	cs.updateStep(cstypes.RoundStepWaitPrevHeightConfirmed)
	if err := cs.enterHeight(); err != nil {
		cs.Logger.Error("Failed to load best header", "err", err)
		cs.sleep(ctx)
		return
	}
	if !cs.voteCache.PrevRoundConfirmed() {
		cs.Logger.Info("Waiting for previous block", "height", cs.bestHeight, "commit", cs.LastCommit)
		cs.sleep(ctx)
		return
	}
	cs.markSlot(round)

	window := slot.NewWindow(round, round.PackingIndexOfRound, cs.config.ReservedDrain)
	key := cs.Key()
	m := round.Quorum()

	// 等待slot开始，期间照常处理收到的消息
	if res := cs.waitUntil(ctx, window.StartTime(), nil); res == waitDone || res == waitQuit {
		return
	}

	cs.updateStep(cstypes.RoundStepProduceIfTurn)
	if cs.isLocalTurn(round) {
		cs.produceBlock(ctx, round, window)
	} else if cs.VoteRoundIndex == 0 && cs.voteCache.ObservedBlock(key) == nil {
		res := cs.waitUntil(ctx, window.ProduceDeadline(), func() bool {
			return cs.voteCache.ObservedBlock(key) != nil
		})
		if res == waitDone || res == waitQuit {
			return
		}
	}
	block := cs.voteCache.ObservedBlock(key)
	cs.setBlock(block)

	// 第一阶段
	cs.updateStep(cstypes.RoundStepStageOneVote)
	stageOneHash := types.EmptyHash
	if block != nil {
		stageOneHash = block.Hash()
	}
	cs.signAddVote(types.VoteStageOne, stageOneHash)

	cs.updateStep(cstypes.RoundStepStageOneCollect)
	res := cs.waitUntil(ctx, window.StageOneDeadline(cs.clock.Now(), cs.config.MaxStageWait), func() bool {
		_, _, ok := cs.voteCache.Quorum(types.VoteStageOne, key, m)
		return ok
	})
	if res == waitDone || res == waitQuit {
		return
	}
	stageTwoHash := types.EmptyHash
	if hash, votes, ok := cs.voteCache.Quorum(types.VoteStageOne, key, m); ok {
		result, err := types.NewVoteResultData(votes)
		if err != nil {
			cs.Logger.Error("Failed to build stage one result", "key", key, "err", err)
		} else {
			stageTwoHash = hash
			cs.setStageOneResult(result)
		}
	} else {
		cs.Logger.Info("Stage one failed", "key", key, "votes", cs.voteCache.VoteCount(types.VoteStageOne, key))
	}

	// 第二阶段
	cs.updateStep(cstypes.RoundStepStageTwoVote)
	cs.signAddVote(types.VoteStageTwo, stageTwoHash)

	cs.updateStep(cstypes.RoundStepStageTwoCollect)
	res = cs.waitUntil(ctx, window.StageTwoDeadline(cs.clock.Now(), cs.config.MaxStageWait), func() bool {
		_, _, ok := cs.voteCache.Quorum(types.VoteStageTwo, key, m)
		return ok
	})
	if res == waitDone || res == waitQuit {
		return
	}
	if _, votes, ok := cs.voteCache.Quorum(types.VoteStageTwo, key, m); ok {
		result, err := types.NewVoteResultData(votes)
		if err != nil {
			cs.Logger.Error("Failed to build stage two result", "key", key, "err", err)
		} else if cs.commitResult(result, "") {
			cs.finishHeight()
			return
		}
	}
	cs.escalate(round, window)
}

// prepareRound 沿用上一次切换得到的slot，已经错过时按当前时间重新计算
func (cs *ConsensusState) prepareRound() (*types.Round, error) {
	if r := cs.Round; r != nil && cs.now() < r.SlotEnd(r.PackingIndexOfRound) {
		return r, nil
	}
	r, err := cs.rounds.InitRound()
	if err != nil {
		return nil, err
	}
	cs.setRound(r)
	return r, nil
}

// enterHeight 最高区块变化时切换VoteCache的高度，并重放暂存的消息
func (cs *ConsensusState) enterHeight() error {
	best, err := cs.chain.BestHeader()
	if err != nil {
		return err
	}
	height := best.Height + 1
	cs.bestHeight = best.Height
	cs.metrics.Height.Set(float64(best.Height))
	// 最近一次提交的区块还没有写入链时不能开始下一个高度
	confirmed := cs.LastCommit == nil || cs.LastCommit.IsEmpty() || cs.LastCommit.Height <= best.Height
	if height == cs.Height && cs.voteCache.Height() == height {
		cs.voteCache.SetPrevRoundConfirmed(confirmed)
		return nil
	}

	cs.mtx.Lock()
	cs.Height = height
	cs.VoteRoundIndex = 0
	cs.mtx.Unlock()
	votes, results, blocks := cs.voteCache.Reset(height)
	cs.voteCache.SetPrevRoundConfirmed(confirmed)
	cs.Logger.Info("Enter new height", "height", height, "replay", len(votes)+len(results)+len(blocks))

	for _, b := range blocks {
		cs.handleBlock(b, "")
	}
	for _, v := range votes {
		cs.handleVote(v, "")
	}
	for _, r := range results {
		cs.handleResult(r, "")
	}
	return nil
}

func (cs *ConsensusState) isLocalTurn(round *types.Round) bool {
	return round.IsLocalTurn() && cs.VoteRoundIndex == 0 && cs.privVal != nil && cs.chain.IsPackingEligible()
}

// produceBlock 出块必须在slot结束前ReservedDrain完成，超时的区块被丢弃
func (cs *ConsensusState) produceBlock(ctx context.Context, round *types.Round, window slot.Window) {
	settled, err := cs.chain.AwardSettled(round.Index)
	if err != nil {
		cs.Logger.Error("Failed to check award", "round", round.Index, "err", err)
		settled = true
	}
	pctx, cancel := cs.deadlineContext(ctx, window.ProduceDeadline())
	defer cancel()

	block, err := cs.producer.CreateBlock(pctx, round, round.LocalMember, window.Start, settled)
	if err != nil {
		cs.Logger.Error("Failed to create block", "height", cs.Height, "err", err)
		return
	}
	if block == nil {
		cs.Logger.Info("No block produced", "height", cs.Height, "key", cs.Key())
		return
	}
	if cs.voteCache.AddObservedBlock(block) {
		cs.metric.MarkObservedBlock(true)
		cs.eventSwitch.FireEvent(EventBlock, msgInfo{Msg: &BlockMessage{Block: block}})
	}
}

// signAddVote 签名失败时只放弃这一票
// 同一坐标同一阶段已经签过的，只重新广播原来的票，不会签第二个hash
func (cs *ConsensusState) signAddVote(stage types.VoteStage, hash types.Hash) *types.Vote {
	round := cs.Round
	if cs.privVal == nil || round.LocalMember == nil {
		return nil
	}
	if prev := cs.voteCache.LocalVote(stage, cs.Key()); prev != nil {
		if prev.BlockHash != hash {
			cs.Logger.Error("Refused to sign a second vote", "key", cs.Key(), "stage", stage,
				"signed", prev.BlockHash.ShortString(), "want", hash.ShortString())
			return nil
		}
		_ = cs.voteCache.AddVote(prev)
		cs.eventSwitch.FireEvent(EventVote, msgInfo{Msg: &VoteMessage{Vote: prev}})
		return prev
	}
	vote := &types.Vote{
		Height:              cs.Height,
		RoundIndex:          round.Index,
		RoundStartTime:      round.StartTime,
		PackingIndexOfRound: round.PackingIndexOfRound,
		VoteRoundIndex:      cs.VoteRoundIndex,
		Stage:               stage,
		BlockHash:           hash,
		Address:             cs.localAddr,
		IsLocal:             true,
	}
	sig, err := cs.privVal.Sign(cs.localAddr, vote.SignBytes(cs.chainID))
	if err != nil {
		cs.Logger.Error("Error signing vote", "height", cs.Height, "key", vote.Key(), "stage", stage, "err", err)
		return nil
	}
	vote.Signature = sig
	if err := cs.voteCache.AddVote(vote); err != nil {
		cs.Logger.Error("Error adding local vote", "vote", vote, "err", err)
		return nil
	}
	cs.voteCache.SetLocalVote(vote)
	cs.Logger.Debug("Signed and added vote", "vote", vote)
	cs.eventSwitch.FireEvent(EventVote, msgInfo{Msg: &VoteMessage{Vote: vote}})
	return vote
}

// commitResult 验证并提交结果，成功后广播结果
func (cs *ConsensusState) commitResult(result *types.VoteResultData, peerID p2p.ID) bool {
	var block *types.Block
	if !result.BlockHash.IsEmpty() {
		block = cs.voteCache.ObservedBlockByHash(result.BlockHash)
	}
	notice, err := cs.verifier.Process(result, cs.Key(), block)
	if err != nil {
		switch errors.Cause(err) {
		case ErrAmbiguousResult:
			cs.Logger.Error("Discarded ambiguous result", "result", result, "peer", peerID)
		case ErrStaleResult, ErrSupersededResult:
			cs.Logger.Debug("Ignored old result", "result", result, "err", err)
		default:
			cs.Logger.Error("Failed to process vote result", "result", result, "peer", peerID, "err", err)
		}
		return false
	}
	cs.voteCache.SetConfirmed(result)
	cs.heightDone = notice
	cs.eventSwitch.FireEvent(EventVoteResult, msgInfo{Msg: &VoteResultMessage{Result: result}, PeerID: peerID})
	return true
}

// finishHeight 释放投票，切换到提交的slot的下一个slot
func (cs *ConsensusState) finishHeight() {
	notice := cs.heightDone
	cs.heightDone = nil
	cs.updateStep(cstypes.RoundStepHeightFinished)

	cs.rounds.Confirm(notice.RoundIndex)
	cs.mtx.Lock()
	cs.LastCommit = notice
	cs.Block = nil
	cs.StageOneResult = nil
	cs.VoteRoundIndex = 0
	cs.mtx.Unlock()

	if notice.IsEmpty() {
		cs.metrics.EmptySlots.Add(1)
	} else {
		cs.bestHeight = notice.Height
		cs.metrics.CommittedBlocks.Add(1)
		cs.metrics.Height.Set(float64(notice.Height))
	}
	cs.metric.MarkCommit(notice)
	cs.Logger.Info("Height finished", "commit", notice)
	cs.eventSwitch.FireEvent(EventCommit, notice)
	cs.voteCache.Clear()

	nextStart := cs.now()
	if r, err := cs.rounds.GetRound(notice.RoundIndex, notice.RoundStartTime); err == nil {
		if end := r.SlotEnd(notice.PackingIndexOfRound); end > nextStart {
			nextStart = end
		}
	}
	next, err := cs.rounds.SwitchPackingIndex(notice.RoundIndex, notice.RoundStartTime,
		notice.PackingIndexOfRound+1, nextStart)
	if err != nil {
		cs.Logger.Error("Failed to switch packing index", "err", err)
		next = nil
	}
	cs.setRound(next)
}

// escalate 第二阶段超时：VoteRoundIndex加一，同一高度在下一个slot重新投票
func (cs *ConsensusState) escalate(round *types.Round, window slot.Window) {
	cs.voteCache.SetEscalated()
	cs.metrics.Escalations.Add(1)
	cs.metric.MarkEscalation()

	nextStart := cs.now()
	if window.End > nextStart {
		nextStart = window.End
	}
	next, err := cs.rounds.SwitchPackingIndex(round.Index, round.StartTime, round.PackingIndexOfRound+1, nextStart)
	if err != nil {
		cs.Logger.Error("Failed to switch packing index", "err", err)
		next = nil
	}

	cs.mtx.Lock()
	cs.VoteRoundIndex++
	cs.Block = nil
	cs.StageOneResult = nil
	cs.mtx.Unlock()
	cs.setRound(next)
	cs.Logger.Info("Stage two timeout", "height", cs.Height, "voteRoundIndex", cs.VoteRoundIndex, "next", next)
}

//-----------------------------------------------------------------------------
// 消息处理，只在驱动协程中调用

func (cs *ConsensusState) drainQueues() {
	for _, mi := range cs.voteQueue.Drain() {
		cs.handleMsg(mi)
	}
	for _, mi := range cs.resultQueue.Drain() {
		cs.handleMsg(mi)
	}
}

func (cs *ConsensusState) handleMsg(mi msgInfo) {
	switch msg := mi.Msg.(type) {
	case *VoteMessage:
		cs.handleVote(msg.Vote, mi.PeerID)
	case *BlockMessage:
		cs.handleBlock(msg.Block, mi.PeerID)
	case *VoteResultMessage:
		cs.handleResult(msg.Result, mi.PeerID)
	default:
		cs.Logger.Error("Unknown msg type", "type", fmt.Sprintf("%T", msg))
	}
}

func (cs *ConsensusState) dropped(kind string, err error, peerID p2p.ID, msg interface{}) {
	if err == errBuffered {
		return
	}
	cs.metrics.DroppedMessages.With("reason", kind).Add(1)
	cs.Logger.Debug("Dropped message", "peer", peerID, "msg", msg, "err", err)
}

// checkHeight 小于等于已提交高度的丢弃，下一个高度的暂存
func (cs *ConsensusState) checkHeight(height uint64) error {
	switch {
	case height <= cs.bestHeight:
		return errStaleHeight
	case height == cs.Height+1:
		return errBuffered
	case height != cs.Height:
		return errFutureHeight
	}
	return nil
}

// roundOf 消息所属的轮次，最多比当前轮次新一轮
func (cs *ConsensusState) roundOf(index, start uint64) (*types.Round, error) {
	if r := cs.Round; r != nil {
		if r.Index == index && r.StartTime == start {
			return r, nil
		}
		if index > r.Index+1 {
			return nil, errUnknownRound
		}
	}
	return cs.rounds.GetRound(index, start)
}

// checkVote 下一个高度的票也要先通过成员和签名检查才能暂存
func (cs *ConsensusState) checkVote(vote *types.Vote) error {
	if err := cs.checkHeight(vote.Height); err != nil {
		if err == errBuffered {
			if verr := cs.verifyVoter(vote); verr != nil {
				return verr
			}
			if !cs.voteCache.BufferVote(vote) {
				return errNotBuffered
			}
		}
		return err
	}
	if vote.Key().Compare(cs.Key()) < 0 {
		return errOldKey
	}
	return cs.verifyVoter(vote)
}

func (cs *ConsensusState) verifyVoter(vote *types.Vote) error {
	round, err := cs.roundOf(vote.RoundIndex, vote.RoundStartTime)
	if err != nil {
		return err
	}
	member := round.GetMember(vote.Address)
	if member == nil {
		return errNotMember
	}
	return vote.Verify(cs.chainID, bls.PubKey(member.PubKey))
}

// verifyPacker 只检查打包者和签名，前一个区块还没有提交时无法做完整的检查
func (cs *ConsensusState) verifyPacker(block *types.Block) error {
	round, err := cs.roundOf(block.RoundIndex, block.RoundStartTime)
	if err != nil {
		return err
	}
	packer := round.MemberAt(block.PackingIndexOfRound)
	if packer == nil || !packer.PackingAddress.Equal(block.PackingAddress) {
		return errNotMember
	}
	if !bls.PubKey(packer.PubKey).VerifySignature(block.Hash().Bytes(), block.Signature) {
		return errBadBlockSignature
	}
	return nil
}

// bufferResult 结果的轮次最多新一轮，并且通过成员、票数和聚合签名检查
func (cs *ConsensusState) bufferResult(result *types.VoteResultData) error {
	if _, err := cs.roundOf(result.RoundIndex, result.RoundStartTime); err != nil {
		return err
	}
	if _, err := cs.verifier.Verify(result, types.VoteKey{}); err != nil {
		return err
	}
	if !cs.voteCache.BufferResult(result) {
		return errNotBuffered
	}
	return errBuffered
}

func (cs *ConsensusState) handleVote(vote *types.Vote, peerID p2p.ID) {
	if err := cs.checkVote(vote); err != nil {
		cs.dropped("vote", err, peerID, vote)
		return
	}
	if err := cs.voteCache.AddVote(vote); err != nil {
		if errors.Is(err, cstypes.ErrConflictingVote) {
			cs.metrics.ConflictingVotes.Add(1)
			cs.Logger.Error("Found conflicting vote", "vote", vote, "peer", peerID)
		}
		return
	}
	// 只有正确加入VoteCache的投票才会继续转发
	cs.eventSwitch.FireEvent(EventVote, msgInfo{Msg: &VoteMessage{Vote: vote}, PeerID: peerID})
}

func (cs *ConsensusState) handleBlock(block *types.Block, peerID p2p.ID) {
	if err := cs.checkHeight(block.Height); err != nil {
		if err == errBuffered {
			if verr := cs.verifyPacker(block); verr != nil {
				err = verr
			} else if !cs.voteCache.BufferBlock(block) {
				err = errNotBuffered
			}
		}
		cs.dropped("block", err, peerID, block)
		return
	}
	if block.Key().Compare(types.VoteKey{RoundIndex: cs.Key().RoundIndex, PackingIndexOfRound: cs.Key().PackingIndexOfRound}) < 0 {
		cs.dropped("block", errOldKey, peerID, block)
		return
	}
	round, err := cs.roundOf(block.RoundIndex, block.RoundStartTime)
	if err != nil {
		cs.dropped("block", err, peerID, block)
		return
	}
	if err := cs.producer.ValidateBlock(round, block); err != nil {
		cs.dropped("block", err, peerID, block)
		return
	}
	if cs.voteCache.AddObservedBlock(block) {
		cs.Logger.Debug("Observed block", "height", block.Height, "hash", block.Hash().ShortString(), "peer", peerID)
		if block.Key() == (types.VoteKey{RoundIndex: cs.Key().RoundIndex, PackingIndexOfRound: cs.Key().PackingIndexOfRound}) {
			cs.metric.MarkObservedBlock(true)
		}
		cs.eventSwitch.FireEvent(EventBlock, msgInfo{Msg: &BlockMessage{Block: block}, PeerID: peerID})
	}
}

func (cs *ConsensusState) handleResult(result *types.VoteResultData, peerID p2p.ID) {
	if err := cs.checkHeight(result.Height); err != nil {
		if err == errBuffered {
			err = cs.bufferResult(result)
		}
		cs.dropped("result", err, peerID, result)
		return
	}
	if cs.heightDone != nil || cs.voteCache.Confirmed(result.Key()) != nil {
		return
	}
	cs.commitResult(result, peerID)
}

//-----------------------------------------------------------------------------
// 等待

// waitUntil 处理收到的消息直到cond满足或者到达deadline
func (cs *ConsensusState) waitUntil(ctx context.Context, deadline time.Time, cond func() bool) waitResult {
	for {
		cs.drainQueues()
		if cs.heightDone != nil {
			return waitDone
		}
		if cond != nil && cond() {
			return waitCond
		}
		d := deadline.Sub(cs.clock.Now())
		if d <= 0 {
			return waitTimeout
		}

		timer := cs.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waitQuit
		case <-cs.voteQueue.Notify():
		case <-cs.resultQueue.Notify():
		case <-timer.Chan():
		}
		timer.Stop()
	}
}

func (cs *ConsensusState) sleep(ctx context.Context) {
	cs.waitUntil(ctx, cs.clock.Now().Add(cs.config.PollInterval), nil)
}

// deadlineContext 按cs.clock计时的context
func (cs *ConsensusState) deadlineContext(parent context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	d := deadline.Sub(cs.clock.Now())
	if d <= 0 {
		cancel()
		return ctx, cancel
	}
	timer := cs.clock.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.Chan():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (cs *ConsensusState) now() uint64 {
	return uint64(cs.clock.Now().Unix())
}

//-----------------------------------------------------------------------------
// 状态修改

func (cs *ConsensusState) updateStep(step cstypes.RoundStepType) {
	now := cs.clock.Now()
	cs.mtx.Lock()
	prev, prevStart := cs.Step, cs.StepStartTime
	if prev == step {
		cs.mtx.Unlock()
		return
	}
	cs.Step = step
	cs.StepStartTime = now
	cs.mtx.Unlock()

	if prev.IsValid() {
		cs.metrics.StepDuration.With("step", prev.String()).Observe(now.Sub(prevStart).Seconds())
	}
	cs.metric.MarkStep(cs.Height, step, now)
	cs.eventSwitch.FireEvent(EventNewRoundStep, cs.GetRoundStateSimple())
}

func (cs *ConsensusState) setRound(r *types.Round) {
	cs.mtx.Lock()
	cs.Round = r
	cs.mtx.Unlock()
}

func (cs *ConsensusState) setBlock(b *types.Block) {
	cs.mtx.Lock()
	cs.Block = b
	cs.mtx.Unlock()
}

func (cs *ConsensusState) setStageOneResult(r *types.VoteResultData) {
	cs.mtx.Lock()
	cs.StageOneResult = r
	cs.mtx.Unlock()
}

func (cs *ConsensusState) markSlot(round *types.Round) {
	cs.metric.MarkSlot(round, cs.VoteRoundIndex)
	cs.metrics.RoundIndex.Set(float64(round.Index))
	cs.metrics.PackingIndex.Set(float64(round.PackingIndexOfRound))
	cs.metrics.VoteRoundIndex.Set(float64(cs.VoteRoundIndex))
	cs.metrics.Members.Set(float64(round.MemberCount()))
}
