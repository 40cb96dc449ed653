package state

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"pocbft/types"
)

// State 最后提交的区块的信息
type State struct {
	ChainID string

	LastBlockHeight uint64
	LastBlockHash   types.Hash
	LastBlockTime   uint64 // slot开始时间，unix秒
	LastRoundIndex  uint64
}

func (s State) String() string {
	return fmt.Sprintf("State{%s H:%d %v R:%d}",
		s.ChainID, s.LastBlockHeight, s.LastBlockHash.ShortString(), s.LastRoundIndex)
}

// Chain 共识读取链上数据的入口：区块头、惩罚记录、注册的验证者
type Chain struct {
	mtx sync.RWMutex

	genDoc *types.GenesisDoc
	store  Store
	seeds  []*types.Validator

	packingEligible bool

	logger log.Logger
}

// NewChain 空库时写入创世区块头
func NewChain(genDoc *types.GenesisDoc, store Store, logger log.Logger) (*Chain, error) {
	best, err := store.BestHeader()
	if err != nil {
		return nil, errors.Wrap(err, "load best header")
	}
	if best == nil {
		if err := store.SaveGenesisHeader(types.MakeGenesisHeader(genDoc)); err != nil {
			return nil, errors.Wrap(err, "save genesis header")
		}
		logger.Info("Saved genesis header", "chainID", genDoc.ChainID, "time", genDoc.StartTime())
	} else if best.ChainID != "" && best.ChainID != genDoc.ChainID {
		return nil, fmt.Errorf("store belongs to chain %s, genesis is %s", best.ChainID, genDoc.ChainID)
	}

	return &Chain{
		genDoc:          genDoc,
		store:           store,
		seeds:           genDoc.SeedValidators(),
		packingEligible: true,
		logger:          logger,
	}, nil
}

func (c *Chain) ChainID() string {
	return c.genDoc.ChainID
}

func (c *Chain) Genesis() *types.GenesisDoc {
	return c.genDoc
}

func (c *Chain) Store() Store {
	return c.store
}

// BestHeader 最高的已提交区块头
func (c *Chain) BestHeader() (*types.Header, error) {
	hdr, err := c.store.BestHeader()
	if err != nil {
		return nil, err
	}
	if hdr == nil {
		return types.MakeGenesisHeader(c.genDoc), nil
	}
	return hdr, nil
}

func (c *Chain) State() (State, error) {
	hdr, err := c.BestHeader()
	if err != nil {
		return State{}, err
	}
	return State{
		ChainID:         c.genDoc.ChainID,
		LastBlockHeight: hdr.Height,
		LastBlockHash:   hdr.Hash(),
		LastBlockTime:   hdr.Time,
		LastRoundIndex:  hdr.RoundIndex,
	}, nil
}

func (c *Chain) IterateHeadersDesc(fn func(hdr *types.Header) (stop bool)) error {
	return c.store.IterateHeadersDesc(fn)
}

func (c *Chain) IteratePunishLogsDesc(fn func(p *types.PunishLog) (stop bool)) error {
	return c.store.IteratePunishLogsDesc(fn)
}

// Validators 在height高度处于注册状态的验证者，记录不做校验
func (c *Chain) Validators(height uint64) ([]*types.Validator, error) {
	all, err := c.store.Validators()
	if err != nil {
		return nil, err
	}
	active := make([]*types.Validator, 0, len(all))
	for _, v := range all {
		if v.ActiveAt(height) {
			active = append(active, v)
		}
	}
	return active, nil
}

// RegisterValidator 注册一个新的验证者，从registerHeight开始参与轮次计算
func (c *Chain) RegisterValidator(v *types.Validator) error {
	if err := v.ValidateBasic(); err != nil {
		return err
	}
	return c.store.SaveValidator(v)
}

func (c *Chain) SeedValidators() []*types.Validator {
	vals := make([]*types.Validator, len(c.seeds))
	for i, v := range c.seeds {
		vals[i] = v.Copy()
	}
	return vals
}

func (c *Chain) IsPackingEligible() bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.packingEligible
}

// SetPackingEligible 节点同步落后等情况下暂停出块
func (c *Chain) SetPackingEligible(eligible bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.packingEligible = eligible
}

// AwardSettled 第roundIndex轮是否已经有区块结算过共识奖励
func (c *Chain) AwardSettled(roundIndex uint64) (bool, error) {
	settled := false
	err := c.store.IterateHeadersDesc(func(hdr *types.Header) bool {
		if hdr.RoundIndex < roundIndex {
			return true
		}
		if hdr.RoundIndex == roundIndex && hdr.SettlesAward {
			settled = true
			return true
		}
		return false
	})
	return settled, err
}
