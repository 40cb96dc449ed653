package types

import (
	"fmt"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"

	"pocbft/crypto/bls"
)

var (
	ErrResultNoVotes        = errors.New("vote result carries no votes")
	ErrResultVoteMismatch   = errors.New("vote does not match result coordinates")
	ErrResultDuplicateVoter = errors.New("duplicate signer in vote result")
)

// ByzantineThreshold 返回n个成员时达成共识所需的最少票数 ceil(0.66*n)
// 使用整数计算，避免浮点误差导致各节点阈值不一致
func ByzantineThreshold(n int) int {
	if n <= 0 {
		return 0
	}
	return (66*n + 99) / 100
}

// VoteResultData 明确表示某个坐标上有至少M个成员在同一阶段投了同一个hash
// 签名者由Votes得出，AggSignature是Votes签名的聚合
type VoteResultData struct {
	Height              uint64           `json:"height"`
	RoundIndex          uint64           `json:"round_index"`
	RoundStartTime      uint64           `json:"round_start_time"`
	PackingIndexOfRound uint32           `json:"packing_index_of_round"`
	VoteRoundIndex      uint32           `json:"vote_round_index"`
	Stage               VoteStage        `json:"stage"`
	BlockHash           Hash             `json:"block_hash"`
	Success             bool             `json:"success"`
	ConfirmedEmpty      bool             `json:"confirmed_empty"`
	Votes               []*Vote          `json:"votes"`
	AggSignature        tmbytes.HexBytes `json:"agg_signature"`
}

// NewVoteResultData 使用已经达成quorum的投票生成结果，调用方保证votes坐标一致
func NewVoteResultData(votes []*Vote) (*VoteResultData, error) {
	if len(votes) == 0 {
		return nil, ErrResultNoVotes
	}
	first := votes[0]
	result := &VoteResultData{
		Height:              first.Height,
		RoundIndex:          first.RoundIndex,
		RoundStartTime:      first.RoundStartTime,
		PackingIndexOfRound: first.PackingIndexOfRound,
		VoteRoundIndex:      first.VoteRoundIndex,
		Stage:               first.Stage,
		BlockHash:           first.BlockHash,
		Votes:               make([]*Vote, 0, len(votes)),
	}
	for _, v := range votes {
		vc := v.Copy()
		vc.IsLocal = false
		result.Votes = append(result.Votes, vc)
	}
	result.Success = result.CandidateOutcomeCount() == 1
	result.ConfirmedEmpty = result.Success && result.BlockHash.IsEmpty()
	if err := result.ValidateBasic(); err != nil {
		return nil, err
	}
	if err := result.Aggregate(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *VoteResultData) Key() VoteKey {
	return VoteKey{
		RoundIndex:          r.RoundIndex,
		PackingIndexOfRound: r.PackingIndexOfRound,
		VoteRoundIndex:      r.VoteRoundIndex,
	}
}

// Signers 按投票顺序返回签名者
func (r *VoteResultData) Signers() []Address {
	signers := make([]Address, 0, len(r.Votes))
	for _, v := range r.Votes {
		signers = append(signers, v.Address)
	}
	return signers
}

// CandidateOutcomeCount 投票中出现的不同hash的数量，只有等于1时结果才有效
func (r *VoteResultData) CandidateOutcomeCount() int {
	outcomes := make(map[Hash]struct{})
	for _, v := range r.Votes {
		outcomes[v.BlockHash] = struct{}{}
	}
	return len(outcomes)
}

// ValidateBasic 检查每个投票的坐标都和结果一致，且签名者不重复
func (r *VoteResultData) ValidateBasic() error {
	if len(r.Votes) == 0 {
		return ErrResultNoVotes
	}
	if !r.Stage.IsValid() {
		return ErrVoteInvalidStage
	}
	seen := make(map[string]struct{}, len(r.Votes))
	for i, v := range r.Votes {
		if err := v.ValidateBasic(); err != nil {
			return errors.Wrapf(err, "vote #%d", i)
		}
		if v.Height != r.Height || v.Key() != r.Key() ||
			v.RoundStartTime != r.RoundStartTime || v.Stage != r.Stage {
			return errors.Wrapf(ErrResultVoteMismatch, "vote #%d %v", i, v)
		}
		if _, ok := seen[string(v.Address)]; ok {
			return errors.Wrapf(ErrResultDuplicateVoter, "%v", v.Address)
		}
		seen[string(v.Address)] = struct{}{}
	}
	return nil
}

// Aggregate 把Votes的签名聚合为AggSignature
func (r *VoteResultData) Aggregate() error {
	sigs := make([][]byte, 0, len(r.Votes))
	for _, v := range r.Votes {
		sigs = append(sigs, v.Signature)
	}
	agg, err := bls.AggregateSignatures(sigs...)
	if err != nil {
		return err
	}
	r.AggSignature = agg
	return nil
}

// SignBytes 结果中所有投票签署的摘要
func (r *VoteResultData) SignBytes(chainID string) []byte {
	v := Vote{
		Height:              r.Height,
		RoundIndex:          r.RoundIndex,
		RoundStartTime:      r.RoundStartTime,
		PackingIndexOfRound: r.PackingIndexOfRound,
		VoteRoundIndex:      r.VoteRoundIndex,
		Stage:               r.Stage,
		BlockHash:           r.BlockHash,
	}
	return v.SignBytes(chainID)
}

func (r *VoteResultData) String() string {
	if r == nil {
		return "nil-VoteResult"
	}
	return fmt.Sprintf("VoteResult{H:%d K:%v %v %v votes:%d success:%v}",
		r.Height,
		r.Key(),
		r.Stage,
		r.BlockHash.ShortString(),
		len(r.Votes),
		r.Success)
}
