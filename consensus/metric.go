package consensus

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	cstypes "pocbft/consensus/types"
	"pocbft/types"
)

// consensusMetric 通过rpc的metrics接口输出的共识状态
type consensusMetric struct {
	mtx sync.Mutex

	Height         uint64    `json:"height"`
	Step           string    `json:"step"`
	StepStartTime  time.Time `json:"step_start_time"`
	RoundIndex     uint64    `json:"round_index"`
	PackingIndex   uint32    `json:"packing_index"`
	VoteRoundIndex uint32    `json:"vote_round_index"`

	IsPacker       bool   `json:"is_packer"`
	PackerAddress  string `json:"packer_address"`
	ObservedBlock  bool   `json:"observed_block"`
	LastCommit     string `json:"last_commit"`
	EmptySlots     int64  `json:"empty_slots"`
	Escalations    int64  `json:"escalations"`
	CommittedCount int64  `json:"committed_count"`
}

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{}
}

func (cm *consensusMetric) JSONString() string {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

func (cm *consensusMetric) MarkStep(height uint64, step cstypes.RoundStepType, t time.Time) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.Height = height
	cm.Step = step.String()
	cm.StepStartTime = t
}

func (cm *consensusMetric) MarkSlot(round *types.Round, voteRoundIndex uint32) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.RoundIndex = round.Index
	cm.PackingIndex = round.PackingIndexOfRound
	cm.VoteRoundIndex = voteRoundIndex
	cm.IsPacker = round.IsLocalTurn()
	cm.PackerAddress = ""
	if packer := round.MemberAt(round.PackingIndexOfRound); packer != nil {
		cm.PackerAddress = packer.PackingAddress.String()
	}
	cm.ObservedBlock = false
}

func (cm *consensusMetric) MarkObservedBlock(v bool) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.ObservedBlock = v
}

func (cm *consensusMetric) MarkEscalation() {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.Escalations++
}

func (cm *consensusMetric) MarkCommit(notice *types.CommitNotice) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.LastCommit = notice.String()
	if notice.IsEmpty() {
		cm.EmptySlots++
	} else {
		cm.CommittedCount++
	}
}
