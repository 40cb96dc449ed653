package types

import (
	"fmt"
	"time"

	"pocbft/types"
)

//-----------------------------------------------------------------------------
// RoundStepType enum type

// RoundStepType enumerates the state of the consensus state machine
type RoundStepType uint8

// RoundStepType
const (
	RoundStepWaitRoundInit           = RoundStepType(0x01) // 还没有可用的轮次
	RoundStepWaitNetworkReady        = RoundStepType(0x02) // 连接的节点数不够
	RoundStepWaitPrevHeightConfirmed = RoundStepType(0x03) // 上一个高度还没有提交
	RoundStepProduceIfTurn           = RoundStepType(0x04) // 轮到本节点时出块，否则等待区块
	RoundStepStageOneVote            = RoundStepType(0x05)
	RoundStepStageOneCollect         = RoundStepType(0x06)
	RoundStepStageTwoVote            = RoundStepType(0x07)
	RoundStepStageTwoCollect         = RoundStepType(0x08)
	RoundStepHeightFinished          = RoundStepType(0x09) // 提交完成，进入下一个高度
)

// IsValid returns true if the step is valid, false if unknown/undefined.
func (rs RoundStepType) IsValid() bool {
	return uint8(rs) >= 0x01 && uint8(rs) <= 0x09
}

func (rs RoundStepType) String() string {
	switch rs {
	case RoundStepWaitRoundInit:
		return "WaitRoundInit"
	case RoundStepWaitNetworkReady:
		return "WaitNetworkReady"
	case RoundStepWaitPrevHeightConfirmed:
		return "WaitPrevHeightConfirmed"
	case RoundStepProduceIfTurn:
		return "ProduceIfTurn"
	case RoundStepStageOneVote:
		return "StageOneVote"
	case RoundStepStageOneCollect:
		return "StageOneCollect"
	case RoundStepStageTwoVote:
		return "StageTwoVote"
	case RoundStepStageTwoCollect:
		return "StageTwoCollect"
	case RoundStepHeightFinished:
		return "HeightFinished"
	default:
		return "RoundStepUnknown"
	}
}

// definitions of POC BFT Consensus state machine
// 只由共识的驱动协程修改
type RoundState struct {
	Height         uint64        `json:"height"`
	Step           RoundStepType `json:"step"`
	StepStartTime  time.Time     `json:"step_start_time"`
	Round          *types.Round  `json:"round"`
	VoteRoundIndex uint32        `json:"vote_round_index"`

	Block          *types.Block          `json:"block"`            // 本slot观察到的或者自己产生的区块
	StageOneResult *types.VoteResultData `json:"stage_one_result"` // 第一阶段失败时为nil
	LastCommit     *types.CommitNotice   `json:"last_commit"`
}

// Key 当前的投票坐标
func (rs *RoundState) Key() types.VoteKey {
	if rs.Round == nil {
		return types.VoteKey{VoteRoundIndex: rs.VoteRoundIndex}
	}
	return types.VoteKey{
		RoundIndex:          rs.Round.Index,
		PackingIndexOfRound: rs.Round.PackingIndexOfRound,
		VoteRoundIndex:      rs.VoteRoundIndex,
	}
}

// RoundStateSimple 对外暴露的状态快照
type RoundStateSimple struct {
	Height         uint64              `json:"height"`
	Step           string              `json:"step"`
	StepStartTime  time.Time           `json:"step_start_time"`
	Key            types.VoteKey       `json:"key"`
	Round          *types.Round        `json:"round"`
	LastCommit     *types.CommitNotice `json:"last_commit"`
	StageOneResult string              `json:"stage_one_result"`
}

func (rs *RoundState) RoundStateSimple() RoundStateSimple {
	simple := RoundStateSimple{
		Height:         rs.Height,
		Step:           rs.Step.String(),
		StepStartTime:  rs.StepStartTime,
		Key:            rs.Key(),
		LastCommit:     rs.LastCommit,
		StageOneResult: "none",
	}
	if rs.Round != nil {
		simple.Round = rs.Round.Copy()
	}
	if rs.StageOneResult != nil {
		simple.StageOneResult = rs.StageOneResult.BlockHash.String()
	}
	return simple
}

func (rs *RoundState) String() string {
	return fmt.Sprintf("RoundState{H:%d K:%v %v}", rs.Height, rs.Key(), rs.Step)
}
