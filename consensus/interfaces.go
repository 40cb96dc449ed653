package consensus

import (
	"context"

	"pocbft/types"
)

// ChainReader 共识需要读取的链上数据，全部来自已提交的区块头和惩罚记录
type ChainReader interface {
	ChainID() string
	BestHeader() (*types.Header, error)
	// 按轮次从新到旧遍历，fn返回true时停止
	IterateHeadersDesc(fn func(hdr *types.Header) (stop bool)) error
	IteratePunishLogsDesc(fn func(p *types.PunishLog) (stop bool)) error
	Validators(height uint64) ([]*types.Validator, error)
	SeedValidators() []*types.Validator
	IsPackingEligible() bool
	AwardSettled(roundIndex uint64) (bool, error)
}

// Signer 签名失败时返回privval.SigningError
type Signer interface {
	Sign(address types.Address, digest []byte) ([]byte, error)
}

// BlockProducer 出块和检查别人的区块
type BlockProducer interface {
	// 可能返回nil，表示本slot不出块
	CreateBlock(ctx context.Context, round *types.Round, member *types.Member,
		slotTime uint64, consensusAwardSettled bool) (*types.Block, error)
	ValidateBlock(round *types.Round, block *types.Block) error
}

// BlockCommitter 提交验证通过的结果，确认为空的slot时block为nil
type BlockCommitter interface {
	Commit(notice *types.CommitNotice, block *types.Block) error
}

// Network 网络是否已经连接到足够的节点
type Network interface {
	IsReady() bool
}

type alwaysReady struct{}

func (alwaysReady) IsReady() bool { return true }
