package rpc

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"pocbft/consensus"
	cstypes "pocbft/consensus/types"
	"pocbft/types"
)

// 信用值是浮点数，包含它的结构先用jsoniter编码
type ResultRound struct {
	RoundState jsoniter.RawMessage `json:"round_state"`
}

// Round 当前的轮次和投票坐标
func Round(ctx *rpctypes.Context) (*ResultRound, error) {
	bz, err := json.Marshal(env.Consensus.GetRoundStateSimple())
	if err != nil {
		return nil, err
	}
	return &ResultRound{RoundState: bz}, nil
}

// VoteStatus 当前高度各坐标收到的票数
func VoteStatus(ctx *rpctypes.Context) (*cstypes.VoteStatus, error) {
	status := env.Consensus.GetVoteStatus()
	return &status, nil
}

type ResultRoundMembers struct {
	Round jsoniter.RawMessage `json:"round"`
}

// RoundMembers 第index轮的成员和顺序，start为该轮的开始时间
func RoundMembers(ctx *rpctypes.Context, index, start uint64) (*ResultRoundMembers, error) {
	r, err := env.Consensus.Rounds().GetRound(index, start)
	if err != nil {
		return nil, err
	}
	bz, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &ResultRoundMembers{Round: bz}, nil
}

type ResultCredit struct {
	Address    types.Address `json:"address"`
	RoundIndex uint64        `json:"round_index"`
	Credit     string        `json:"credit"`
	Blocks     uint64        `json:"blocks"`
	Yellow     uint64        `json:"yellow"`
}

// Credit address在第round轮的信用值，round为0时使用当前轮次
func Credit(ctx *rpctypes.Context, address tmbytes.HexBytes, round uint64) (*ResultCredit, error) {
	if round == 0 {
		if cur := env.Consensus.Rounds().Current(); cur != nil {
			round = cur.Index
		}
	}
	addr := types.Address(address)
	ce := consensus.NewCreditEvaluator(env.Chain, env.Chain.Genesis().ConsensusParams.CreditRange)
	credit, err := ce.CreditValue(addr, round)
	if err != nil {
		return nil, err
	}

	result := &ResultCredit{Address: addr, RoundIndex: round, Credit: fmt.Sprintf("%.4f", credit)}
	if round > 0 {
		start := uint64(0)
		if round > ce.Range() {
			start = round - ce.Range()
		}
		if result.Blocks, err = ce.BlockProductionCount(addr, start, round-1); err != nil {
			return nil, err
		}
		if result.Yellow, err = ce.PunishmentCount(addr, start, round-1, types.PunishYellow); err != nil {
			return nil, err
		}
	}
	return result, nil
}
