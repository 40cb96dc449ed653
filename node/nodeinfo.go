package node

import (
	"github.com/tendermint/tendermint/p2p"

	cfg "pocbft/config"
	"pocbft/consensus"
	"pocbft/types"
)

// Version 节点版本，握手时写在NodeInfo中
const Version = "0.1.0"

// makeNodeInfo Network使用chain id，不同链的节点握手时互相拒绝
func makeNodeInfo(
	config *cfg.Config,
	nodeKey *p2p.NodeKey,
	genDoc *types.GenesisDoc,
) (p2p.NodeInfo, error) {
	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.NewProtocolVersion(
			8, // global
			11,
			0,
		),
		DefaultNodeID: nodeKey.ID(),
		Network:       genDoc.ChainID,
		Version:       Version,
		Channels: []byte{
			consensus.BlockChannel,
			consensus.VoteChannel,
			consensus.VoteResultChannel,
		},
		Moniker: config.Moniker,
		Other: p2p.DefaultNodeInfoOther{
			TxIndex:    "off",
			RPCAddress: config.RPC.ListenAddress,
		},
	}

	lAddr := config.P2P.ExternalAddress
	if lAddr == "" {
		lAddr = config.P2P.ListenAddress
	}
	nodeInfo.ListenAddr = lAddr

	err := nodeInfo.Validate()
	return nodeInfo, err
}
