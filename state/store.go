package state

import "pocbft/types"

// Store 共识需要的持久化接口，store.KVStore是它的实现
type Store interface {
	BestHeader() (*types.Header, error)
	LoadHeader(height uint64) (*types.Header, error)
	LoadBlock(hash types.Hash) (*types.Block, error)
	IterateHeadersDesc(fn func(hdr *types.Header) (stop bool)) error
	IteratePunishLogsDesc(fn func(p *types.PunishLog) (stop bool)) error
	Validators() ([]*types.Validator, error)

	SaveGenesisHeader(hdr *types.Header) error
	SaveBlock(block *types.Block) error
	SaveValidator(v *types.Validator) error
	AppendPunishLog(p *types.PunishLog) error
	SaveSkippedSlot(notice *types.CommitNotice) error
}
