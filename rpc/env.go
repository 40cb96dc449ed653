package rpc

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"

	"pocbft/consensus"
	"pocbft/libs/metric"
	"pocbft/state"
)

var (
	env  *Environment
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

func SetEnvironment(e *Environment) {
	env = e
}

type peers interface {
	Peers() p2p.IPeerSet
	NumPeers() (outbound, inbound, dialing int)
}

// Environment rpc接口读取的节点组件，只读
type Environment struct {
	Consensus *consensus.ConsensusState
	Chain     *state.Chain
	Store     state.Store
	P2PPeers  peers

	MetricSet *metric.MetricSet
	Logger    log.Logger
}
