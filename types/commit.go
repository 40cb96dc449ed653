package types

import "fmt"

// CommitNotice 交给提交模块的最终结果
// BlockHash为EmptyHash时表示这个slot被确认为空
type CommitNotice struct {
	Height              uint64    `json:"height"`
	BlockHash           Hash      `json:"block_hash"`
	Signers             []Address `json:"signers"`
	RoundIndex          uint64    `json:"round_index"`
	RoundStartTime      uint64    `json:"round_start_time"`
	PackingIndexOfRound uint32    `json:"packing_index_of_round"`
	VoteRoundIndex      uint32    `json:"vote_round_index"`
	PackingAddress      Address   `json:"packing_address"` // 该slot的打包者
}

// NewCommitNotice 打包者地址由调用方根据轮次填写
func NewCommitNotice(result *VoteResultData) *CommitNotice {
	return &CommitNotice{
		Height:              result.Height,
		BlockHash:           result.BlockHash,
		Signers:             result.Signers(),
		RoundIndex:          result.RoundIndex,
		RoundStartTime:      result.RoundStartTime,
		PackingIndexOfRound: result.PackingIndexOfRound,
		VoteRoundIndex:      result.VoteRoundIndex,
	}
}

func (c *CommitNotice) IsEmpty() bool {
	return c.BlockHash.IsEmpty()
}

func (c *CommitNotice) Key() VoteKey {
	return VoteKey{
		RoundIndex:          c.RoundIndex,
		PackingIndexOfRound: c.PackingIndexOfRound,
		VoteRoundIndex:      c.VoteRoundIndex,
	}
}

func (c *CommitNotice) String() string {
	return fmt.Sprintf("Commit{H:%d K:%v %v signers:%d}",
		c.Height, c.Key(), c.BlockHash.ShortString(), len(c.Signers))
}
