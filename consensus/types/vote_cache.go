package types

import (
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/pkg/errors"

	"pocbft/types"
)

var (
	ErrDuplicateVote      = errors.New("duplicate vote")
	ErrConflictingVote    = errors.New("conflicting vote")
	ErrVoteHeightMismatch = errors.New("vote height does not match cache height")
)

// outcome 投票的结果，轮次开始时间不同的票签名内容不同，不能合并
type outcome struct {
	hash       types.Hash
	roundStart uint64
}

// voteSet 某个坐标某个阶段收到的所有投票，每个成员只保留第一票
type voteSet struct {
	byAddr    map[string]*types.Vote
	byOutcome map[outcome][]*types.Vote
	order     []*types.Vote
}

func newVoteSet() *voteSet {
	return &voteSet{
		byAddr:    make(map[string]*types.Vote),
		byOutcome: make(map[outcome][]*types.Vote),
	}
}

func (vs *voteSet) addVote(vote *types.Vote) error {
	if existing, ok := vs.byAddr[string(vote.Address)]; ok {
		if existing.BlockHash == vote.BlockHash && existing.RoundStartTime == vote.RoundStartTime {
			return ErrDuplicateVote
		}
		return errors.Wrapf(ErrConflictingVote, "%v voted %v then %v",
			vote.Address, existing.BlockHash.ShortString(), vote.BlockHash.ShortString())
	}
	vs.byAddr[string(vote.Address)] = vote
	o := outcome{hash: vote.BlockHash, roundStart: vote.RoundStartTime}
	vs.byOutcome[o] = append(vs.byOutcome[o], vote)
	vs.order = append(vs.order, vote)
	return nil
}

// quorum 成员互不相同且M超过半数，最多只有一个hash能达到M
func (vs *voteSet) quorum(m int) (types.Hash, []*types.Vote, bool) {
	if m <= 0 {
		return types.EmptyHash, nil, false
	}
	for o, votes := range vs.byOutcome {
		if len(votes) >= m {
			out := make([]*types.Vote, len(votes))
			copy(out, votes)
			return o.hash, out, true
		}
	}
	return types.EmptyHash, nil, false
}

type stageKey struct {
	stage types.VoteStage
	key   types.VoteKey
}

// MaxFutureMsgs 每种暂存消息的上限
const MaxFutureMsgs = 1024

// signerKey 每个成员在每个坐标每个阶段只暂存一票
type signerKey struct {
	addr string
	stageKey
}

// VoteCache 当前正在决定的高度的投票状态，每条链一个，由共识驱动协程独占写入
// RPC只读访问，所以仍然加锁
type VoteCache struct {
	mtx sync.RWMutex

	height    uint64
	votes     map[stageKey]*voteSet
	local     map[stageKey]*types.Vote
	confirmed map[types.VoteKey]*types.VoteResultData
	observed  map[types.VoteKey]*types.Block

	escalated          bool // 本高度至少升级过一次
	prevRoundConfirmed bool // 上一个高度的区块已经写入链

	// 高度+1的消息验签后先暂存，进入该高度时重放
	futureVotes   *orderedmap.OrderedMap[signerKey, *types.Vote]
	futureResults *orderedmap.OrderedMap[types.VoteKey, *types.VoteResultData]
	futureBlocks  *orderedmap.OrderedMap[types.VoteKey, *types.Block]
}

func NewVoteCache() *VoteCache {
	vc := &VoteCache{}
	vc.reset(0)
	vc.resetFuture()
	return vc
}

func (vc *VoteCache) reset(height uint64) {
	vc.height = height
	vc.votes = make(map[stageKey]*voteSet)
	vc.local = make(map[stageKey]*types.Vote)
	vc.confirmed = make(map[types.VoteKey]*types.VoteResultData)
	vc.observed = make(map[types.VoteKey]*types.Block)
	vc.escalated = false
	vc.prevRoundConfirmed = false
}

func (vc *VoteCache) resetFuture() {
	vc.futureVotes = orderedmap.NewOrderedMap[signerKey, *types.Vote]()
	vc.futureResults = orderedmap.NewOrderedMap[types.VoteKey, *types.VoteResultData]()
	vc.futureBlocks = orderedmap.NewOrderedMap[types.VoteKey, *types.Block]()
}

// Reset 切换到新的高度，清空当前高度的投票状态
// 返回暂存的属于新高度的消息，其余暂存消息被丢弃
func (vc *VoteCache) Reset(height uint64) ([]*types.Vote, []*types.VoteResultData, []*types.Block) {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()

	vc.reset(height)
	var (
		votes   []*types.Vote
		results []*types.VoteResultData
		blocks  []*types.Block
	)
	for el := vc.futureVotes.Front(); el != nil; el = el.Next() {
		if el.Value.Height == height {
			votes = append(votes, el.Value)
		}
	}
	for el := vc.futureResults.Front(); el != nil; el = el.Next() {
		if el.Value.Height == height {
			results = append(results, el.Value)
		}
	}
	for el := vc.futureBlocks.Front(); el != nil; el = el.Next() {
		if el.Value.Height == height {
			blocks = append(blocks, el.Value)
		}
	}
	vc.resetFuture()
	return votes, results, blocks
}

// Clear 释放本高度的投票，本地已经签过的票保留到切换高度，同一坐标不会签第二次
func (vc *VoteCache) Clear() {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	local := vc.local
	vc.reset(vc.height)
	vc.local = local
}

func (vc *VoteCache) Height() uint64 {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.height
}

// AddVote 调用方已经完成高度、坐标、成员和签名的过滤
func (vc *VoteCache) AddVote(vote *types.Vote) error {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()

	if vote.Height != vc.height {
		return ErrVoteHeightMismatch
	}
	sk := stageKey{stage: vote.Stage, key: vote.Key()}
	vs, ok := vc.votes[sk]
	if !ok {
		vs = newVoteSet()
		vc.votes[sk] = vs
	}
	return vs.addVote(vote)
}

// Quorum 检查stage阶段key坐标上是否有hash得到了至少m票
func (vc *VoteCache) Quorum(stage types.VoteStage, key types.VoteKey, m int) (types.Hash, []*types.Vote, bool) {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()

	vs, ok := vc.votes[stageKey{stage: stage, key: key}]
	if !ok {
		return types.EmptyHash, nil, false
	}
	return vs.quorum(m)
}

// VoteCount 返回某个坐标某个阶段收到的票数
func (vc *VoteCache) VoteCount(stage types.VoteStage, key types.VoteKey) int {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()

	vs, ok := vc.votes[stageKey{stage: stage, key: key}]
	if !ok {
		return 0
	}
	return len(vs.order)
}

func (vc *VoteCache) SetLocalVote(vote *types.Vote) {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	vc.local[stageKey{stage: vote.Stage, key: vote.Key()}] = vote
}

func (vc *VoteCache) LocalVote(stage types.VoteStage, key types.VoteKey) *types.Vote {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.local[stageKey{stage: stage, key: key}]
}

func (vc *VoteCache) SetEscalated() {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	vc.escalated = true
}

func (vc *VoteCache) Escalated() bool {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.escalated
}

func (vc *VoteCache) SetPrevRoundConfirmed(confirmed bool) {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	vc.prevRoundConfirmed = confirmed
}

func (vc *VoteCache) PrevRoundConfirmed() bool {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.prevRoundConfirmed
}

// SetConfirmed 记录已经验证过的结果
func (vc *VoteCache) SetConfirmed(result *types.VoteResultData) {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	vc.confirmed[result.Key()] = result
}

func (vc *VoteCache) Confirmed(key types.VoteKey) *types.VoteResultData {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.confirmed[key]
}

// AddObservedBlock 每个slot只接受第一个区块
func (vc *VoteCache) AddObservedBlock(block *types.Block) bool {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	key := block.Header.Key()
	if _, ok := vc.observed[key]; ok {
		return false
	}
	vc.observed[key] = block
	return true
}

func (vc *VoteCache) ObservedBlock(key types.VoteKey) *types.Block {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	return vc.observed[types.VoteKey{RoundIndex: key.RoundIndex, PackingIndexOfRound: key.PackingIndexOfRound}]
}

// ObservedBlockByHash 提交时按hash找回区块
func (vc *VoteCache) ObservedBlockByHash(hash types.Hash) *types.Block {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()
	for _, b := range vc.observed {
		if b.Hash() == hash {
			return b
		}
	}
	return nil
}

// BufferVote 调用方已经验过签名，每个成员每个坐标每个阶段只保留第一票
func (vc *VoteCache) BufferVote(vote *types.Vote) bool {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	k := signerKey{addr: string(vote.Address), stageKey: stageKey{stage: vote.Stage, key: vote.Key()}}
	if vc.futureVotes.Len() >= MaxFutureMsgs {
		return false
	}
	if _, ok := vc.futureVotes.Get(k); ok {
		return false
	}
	vc.futureVotes.Set(k, vote)
	return true
}

// BufferResult 每个坐标只保留一个结果
func (vc *VoteCache) BufferResult(result *types.VoteResultData) bool {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	if vc.futureResults.Len() >= MaxFutureMsgs {
		return false
	}
	if _, ok := vc.futureResults.Get(result.Key()); ok {
		return false
	}
	vc.futureResults.Set(result.Key(), result)
	return true
}

// BufferBlock 每个slot只保留一个区块
func (vc *VoteCache) BufferBlock(block *types.Block) bool {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	if vc.futureBlocks.Len() >= MaxFutureMsgs {
		return false
	}
	if _, ok := vc.futureBlocks.Get(block.Header.Key()); ok {
		return false
	}
	vc.futureBlocks.Set(block.Header.Key(), block)
	return true
}

// VoteStatus RPC展示的投票统计
type VoteStatus struct {
	Height    uint64         `json:"height"`
	Escalated bool           `json:"escalated"`
	Sets      []VoteSetCount `json:"sets"`
	Confirmed int            `json:"confirmed"`
	Future    int            `json:"future"`
}

type VoteSetCount struct {
	Stage types.VoteStage `json:"stage"`
	Key   types.VoteKey   `json:"key"`
	Votes int             `json:"votes"`
}

func (vc *VoteCache) Status() VoteStatus {
	vc.mtx.RLock()
	defer vc.mtx.RUnlock()

	status := VoteStatus{
		Height:    vc.height,
		Escalated: vc.escalated,
		Confirmed: len(vc.confirmed),
		Future:    vc.futureVotes.Len() + vc.futureResults.Len() + vc.futureBlocks.Len(),
	}
	for sk, vs := range vc.votes {
		status.Sets = append(status.Sets, VoteSetCount{Stage: sk.stage, Key: sk.key, Votes: len(vs.order)})
	}
	return status
}
