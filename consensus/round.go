package consensus

import (
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"pocbft/slot"
	"pocbft/types"
)

const DefaultRoundCacheSize = 64

var ErrEmptyRound = errors.New("round has no members")

// RoundManager 计算和缓存轮次
// 轮次完全由已提交的区块头和惩罚记录决定，缓存丢失后可以重新算出来
type RoundManager struct {
	mtx sync.Mutex

	chain       ChainReader
	credit      *CreditEvaluator
	clock       clockwork.Clock
	genesisTime uint64
	interval    uint64
	localAddr   types.Address

	cache   *lru.Cache[uint64, *types.Round]
	current *types.Round

	logger log.Logger
}

type RoundManagerOption func(*RoundManager)

func WithRoundClock(clock clockwork.Clock) RoundManagerOption {
	return func(rm *RoundManager) { rm.clock = clock }
}

// WithLocalAddress 设置本节点的打包地址，用来确定本节点在轮次中的位置
func WithLocalAddress(addr types.Address) RoundManagerOption {
	return func(rm *RoundManager) { rm.localAddr = addr }
}

func WithRoundCacheSize(size int) RoundManagerOption {
	return func(rm *RoundManager) {
		if size <= 0 {
			return
		}
		rm.cache, _ = lru.New[uint64, *types.Round](size)
	}
}

func NewRoundManager(
	chain ChainReader,
	credit *CreditEvaluator,
	genesisTime, interval uint64,
	options ...RoundManagerOption,
) *RoundManager {
	cache, _ := lru.New[uint64, *types.Round](DefaultRoundCacheSize)
	rm := &RoundManager{
		chain:       chain,
		credit:      credit,
		clock:       clockwork.NewRealClock(),
		genesisTime: genesisTime,
		interval:    interval,
		cache:       cache,
		logger:      log.NewNopLogger(),
	}
	for _, opt := range options {
		opt(rm)
	}
	return rm
}

func (rm *RoundManager) SetLogger(logger log.Logger) {
	rm.logger = logger
}

func (rm *RoundManager) now() uint64 {
	return uint64(rm.clock.Now().Unix())
}

// InitRound 返回覆盖当前时间的轮次
// 没有缓存时从最高区块所在的轮次(或创世时间)开始，一直推进到当前时间
func (rm *RoundManager) InitRound() (*types.Round, error) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()

	now := rm.now()
	if rm.current != nil && now < rm.current.EndTime() {
		return rm.snapshot(rm.current, now), nil
	}

	base := rm.current
	if base == nil {
		best, err := rm.chain.BestHeader()
		if err != nil {
			return nil, errors.Wrap(err, "load best header")
		}
		if best.Height == 0 {
			base, err = rm.getRound(1, rm.genesisTime)
		} else {
			base, err = rm.getRound(best.RoundIndex, best.RoundStartTime)
		}
		if err != nil {
			return nil, err
		}
	}

	r, err := rm.fastForward(base, now)
	if err != nil {
		return nil, err
	}
	rm.current = r
	rm.logger.Info("Init round", "round", r.Index, "start", r.StartTime, "members", r.MemberCount())
	return rm.snapshot(r, now), nil
}

// fastForward 从r开始推进到覆盖now的轮次
// 中间的轮次没有新的区块，成员数不变，可以一次跳过
func (rm *RoundManager) fastForward(r *types.Round, now uint64) (*types.Round, error) {
	var err error
	for now >= r.EndTime() {
		span := uint64(r.MemberCount()) * rm.interval
		if span == 0 {
			return nil, errors.Wrapf(ErrEmptyRound, "round %d", r.Index)
		}
		index, start := r.Index+1, r.EndTime()
		if now >= start+span {
			skip := (now-start)/span - 1
			index += skip
			start += skip * span
		}
		if r, err = rm.getRound(index, start); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NextRound 紧接着cur的下一轮
// start = cur.Start + cur.Delayed + len(cur.Members) * interval
func (rm *RoundManager) NextRound(cur *types.Round) (*types.Round, error) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()

	r, err := rm.getRound(cur.Index+1, cur.EndTime())
	if err != nil {
		return nil, err
	}
	rm.setCurrent(r)
	return rm.snapshot(r, rm.now()), nil
}

// GetRound 多次调用返回相同的成员和顺序
func (rm *RoundManager) GetRound(index, start uint64) (*types.Round, error) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()

	r, err := rm.getRound(index, start)
	if err != nil {
		return nil, err
	}
	return rm.snapshot(r, rm.now()), nil
}

// Current 最近一次使用的轮次，还没有初始化时返回nil
func (rm *RoundManager) Current() *types.Round {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()

	if rm.current == nil {
		return nil
	}
	return rm.snapshot(rm.current, rm.now())
}

// SwitchPackingIndex 切换到roundIndex轮的第nextPackingIndex个slot，该slot在nextPackingStart开始
// 超出本轮成员数时进入下一轮的第一个slot
// 实际开始时间晚于理想时间时增加DelayedSeconds，不会减小
func (rm *RoundManager) SwitchPackingIndex(
	roundIndex, roundStart uint64,
	nextPackingIndex uint32,
	nextPackingStart uint64,
) (*types.Round, error) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()

	r, err := rm.getRound(roundIndex, roundStart)
	if err != nil {
		return nil, err
	}
	if nextPackingIndex == 0 {
		nextPackingIndex = 1
	}

	if int(nextPackingIndex) > r.MemberCount() {
		if end := r.EndTime(); nextPackingStart > end {
			r.DelayedSeconds += nextPackingStart - end
		}
		next, err := rm.getRound(roundIndex+1, r.EndTime())
		if err != nil {
			return nil, err
		}
		rm.setCurrent(next)
		rm.logger.Info("Switch to next round", "round", next.Index, "start", next.StartTime,
			"members", next.MemberCount())
		sn := next.Copy()
		sn.PackingIndexOfRound = 1
		return sn, nil
	}

	if ideal := r.SlotStart(nextPackingIndex); nextPackingStart > ideal {
		r.DelayedSeconds += nextPackingStart - ideal
	}
	rm.setCurrent(r)
	sr := r.Copy()
	sr.PackingIndexOfRound = nextPackingIndex
	return sr, nil
}

// Confirm 标记轮次中已经有结果提交
func (rm *RoundManager) Confirm(index uint64) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	if r, ok := rm.cache.Peek(index); ok {
		r.Confirmed = true
	}
}

func (rm *RoundManager) setCurrent(r *types.Round) {
	if rm.current == nil || r.Index >= rm.current.Index {
		rm.current = r
	}
}

// snapshot 返回副本，PackingIndexOfRound按now计算
func (rm *RoundManager) snapshot(r *types.Round, now uint64) *types.Round {
	rc := r.Copy()
	rc.PackingIndexOfRound = slot.IndexAt(rc, now)
	return rc
}

func (rm *RoundManager) getRound(index, start uint64) (*types.Round, error) {
	if r, ok := rm.cache.Get(index); ok && r.StartTime == start {
		return r, nil
	}
	r, err := rm.calcRound(index, start)
	if err != nil {
		rm.logger.Error("Failed to calc round", "round", index, "start", start, "err", err)
		return nil, err
	}
	rm.cache.Add(index, r)
	return r, nil
}

// calcRound 成员为轮次开始时注册的验证者加上种子节点，去掉受过RED惩罚的地址
// 按信用值降序排列，信用值相同按地址升序
func (rm *RoundManager) calcRound(index, start uint64) (*types.Round, error) {
	height, delayed, err := rm.scanHistory(index, start)
	if err != nil {
		return nil, err
	}
	registered, err := rm.chain.Validators(height)
	if err != nil {
		return nil, errors.Wrapf(err, "load validators at %d", height)
	}
	red, err := rm.credit.RedPunished(index)
	if err != nil {
		return nil, errors.Wrap(err, "load punish logs")
	}

	candidates := append(rm.chain.SeedValidators(), registered...)
	seen := make(map[string]bool, len(candidates))
	members := make([]*types.Member, 0, len(candidates))
	for _, v := range candidates {
		if err := v.ValidateBasic(); err != nil {
			return nil, errors.Wrapf(err, "validator %v", v.PackingAddress)
		}
		key := string(v.PackingAddress)
		if seen[key] || red[key] {
			continue
		}
		seen[key] = true

		credit, err := rm.credit.CreditValue(v.PackingAddress, index)
		if err != nil {
			return nil, errors.Wrapf(err, "credit of %v", v.PackingAddress)
		}
		members = append(members, &types.Member{
			PackingAddress: v.PackingAddress,
			PubKey:         v.PubKey,
			CreditVal:      credit,
			Seed:           v.Seed,
		})
	}
	if len(members) == 0 {
		return nil, errors.Wrapf(ErrEmptyRound, "round %d at height %d", index, height)
	}
	sort.Sort(types.MembersByCredit(members))

	r := types.NewRound(index, start, rm.interval, members)
	r.DelayedSeconds = delayed
	if len(rm.localAddr) > 0 {
		r.LocalMember = r.GetMember(rm.localAddr)
	}
	rm.logger.Debug("Calculated round", "round", fmt.Sprintf("%v", r), "height", height)
	return r, nil
}

// scanHistory 返回index轮开始时的区块高度，以及该轮最后一个区块体现出的延迟
func (rm *RoundManager) scanHistory(index, start uint64) (height, delayed uint64, err error) {
	latestSeen := false
	err = rm.chain.IterateHeadersDesc(func(hdr *types.Header) bool {
		if hdr.RoundIndex > index {
			return false
		}
		if hdr.RoundIndex == index {
			if !latestSeen && hdr.RoundStartTime == start && hdr.PackingIndexOfRound > 0 {
				latestSeen = true
				ideal := start + uint64(hdr.PackingIndexOfRound-1)*rm.interval
				if hdr.Time > ideal {
					delayed = hdr.Time - ideal
				}
			}
			return false
		}
		height = hdr.Height
		return true
	})
	return height, delayed, err
}
