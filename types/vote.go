package types

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"

	"pocbft/crypto/bls"
)

var (
	ErrVoteInvalidStage         = errors.New("invalid vote stage")
	ErrVoteInvalidSignature     = errors.New("invalid vote signature")
	ErrVoteInvalidPackingIndex  = errors.New("invalid packing index")
	ErrVoteInvalidValidatorAddr = errors.New("invalid validator address")
)

// VoteStage 两阶段投票的阶段
type VoteStage uint8

const (
	VoteStageOne = VoteStage(1)
	VoteStageTwo = VoteStage(2)
)

func (s VoteStage) String() string {
	switch s {
	case VoteStageOne:
		return "StageOne"
	case VoteStageTwo:
		return "StageTwo"
	default:
		return "UnknownStage"
	}
}

func (s VoteStage) IsValid() bool {
	return s == VoteStageOne || s == VoteStageTwo
}

// VoteKey 同一高度下一次投票尝试的坐标，按字典序比较新旧
type VoteKey struct {
	RoundIndex          uint64 `json:"round_index"`
	PackingIndexOfRound uint32 `json:"packing_index_of_round"`
	VoteRoundIndex      uint32 `json:"vote_round_index"`
}

// Compare returns -1, 0 or 1. 先比较round，再比较slot，最后比较升级次数
func (k VoteKey) Compare(o VoteKey) int {
	switch {
	case k.RoundIndex < o.RoundIndex:
		return -1
	case k.RoundIndex > o.RoundIndex:
		return 1
	case k.PackingIndexOfRound < o.PackingIndexOfRound:
		return -1
	case k.PackingIndexOfRound > o.PackingIndexOfRound:
		return 1
	case k.VoteRoundIndex < o.VoteRoundIndex:
		return -1
	case k.VoteRoundIndex > o.VoteRoundIndex:
		return 1
	}
	return 0
}

func (k VoteKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.RoundIndex, k.PackingIndexOfRound, k.VoteRoundIndex)
}

// Vote - 某个高度在某个投票坐标上的单个投票，一个成员在同一坐标的同一阶段只能投一次
type Vote struct {
	Height              uint64           `json:"height"`
	RoundIndex          uint64           `json:"round_index"`
	RoundStartTime      uint64           `json:"round_start_time"`
	PackingIndexOfRound uint32           `json:"packing_index_of_round"`
	VoteRoundIndex      uint32           `json:"vote_round_index"`
	Stage               VoteStage        `json:"stage"`
	BlockHash           Hash             `json:"block_hash"`
	Address             Address          `json:"address"`
	Signature           tmbytes.HexBytes `json:"signature"`

	// 本地产生的投票，不参与序列化
	IsLocal bool `json:"-"`
}

func (vote *Vote) Key() VoteKey {
	return VoteKey{
		RoundIndex:          vote.RoundIndex,
		PackingIndexOfRound: vote.PackingIndexOfRound,
		VoteRoundIndex:      vote.VoteRoundIndex,
	}
}

// SignBytes 返回签名所用的摘要
// 签名者地址不参与计算，同一坐标上投同一个hash的成员签的是同一段消息，这样结果可以做聚合签名验证
func (vote *Vote) SignBytes(chainID string) []byte {
	bz := make([]byte, 0, len(chainID)+8*3+4*2+1+HashSize)
	bz = append(bz, chainID...)
	bz = binary.BigEndian.AppendUint64(bz, vote.Height)
	bz = binary.BigEndian.AppendUint64(bz, vote.RoundIndex)
	bz = binary.BigEndian.AppendUint64(bz, vote.RoundStartTime)
	bz = binary.BigEndian.AppendUint32(bz, vote.PackingIndexOfRound)
	bz = binary.BigEndian.AppendUint32(bz, vote.VoteRoundIndex)
	bz = append(bz, byte(vote.Stage))
	bz = append(bz, vote.BlockHash[:]...)
	return tmhash.Sum(bz)
}

// Verify 检查签名是否由pubKey对应的私钥产生，同时地址要和公钥对应
func (vote *Vote) Verify(chainID string, pubKey bls.PubKey) error {
	if !vote.Address.Equal(Address(pubKey.Address())) {
		return ErrVoteInvalidValidatorAddr
	}
	if !pubKey.VerifySignature(vote.SignBytes(chainID), vote.Signature) {
		return ErrVoteInvalidSignature
	}
	return nil
}

// ValidateBasic performs basic validation.
func (vote *Vote) ValidateBasic() error {
	if vote == nil {
		return errors.New("nil vote")
	}
	if !vote.Stage.IsValid() {
		return ErrVoteInvalidStage
	}
	if vote.PackingIndexOfRound == 0 {
		return ErrVoteInvalidPackingIndex
	}
	if len(vote.Address) == 0 {
		return ErrVoteInvalidValidatorAddr
	}
	if len(vote.Signature) == 0 {
		return errors.Wrap(ErrVoteInvalidSignature, "signature is missing")
	}
	return nil
}

func (vote *Vote) Copy() *Vote {
	voteCopy := *vote
	return &voteCopy
}

func (vote *Vote) String() string {
	if vote == nil {
		return "nil-Vote"
	}
	return fmt.Sprintf("Vote{H:%d K:%v %v %v by %v}",
		vote.Height,
		vote.Key(),
		vote.Stage,
		vote.BlockHash.ShortString(),
		vote.Address)
}
