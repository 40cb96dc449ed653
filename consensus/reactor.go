package consensus

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/events"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmsync "github.com/tendermint/tendermint/libs/sync"
	"github.com/tendermint/tendermint/p2p"

	"pocbft/libs/metric"
	"pocbft/types"
)

const (
	BlockChannel      = byte(0x21)
	VoteChannel       = byte(0x22)
	VoteResultChannel = byte(0x23)

	maxMsgSize = 1048576 // 1MB
)

// ------ Event ------
// reactor监听的consensus广播事件
const (
	EventVote         = "Vote"
	EventVoteResult   = "VoteResult"
	EventBlock        = "Block"
	EventCommit       = "Commit"
	EventNewRoundStep = "NewRoundStep"
)

// ------ Message ------
type Message interface {
	ValidateBasic() error
}

// msgInfo 消息和它的来源，本地产生的消息PeerID为空
type msgInfo struct {
	Msg    Message
	PeerID p2p.ID
}

// ------- Reactor ------
type Reactor struct {
	p2p.BaseReactor

	mtx      tmsync.RWMutex
	waitSync bool

	conS     *ConsensusState
	chainID  string
	peers    *cmap.CMap
	minPeers int

	metric *metric.RegistryItem
}

type ReactorOption func(*Reactor)

// WithMinPeers 连接到n个节点以后才开始投票
func WithMinPeers(n int) ReactorOption {
	return func(conR *Reactor) { conR.minPeers = n }
}

func WithReactorMetric(item *metric.RegistryItem) ReactorOption {
	return func(conR *Reactor) { conR.metric = item }
}

// NewReactor waitSync为true时不会启动共识，直到调用SwitchToConsensus
func NewReactor(consensusState *ConsensusState, waitSync bool, options ...ReactorOption) *Reactor {
	conR := &Reactor{
		conS:     consensusState,
		chainID:  consensusState.chainID,
		waitSync: waitSync,
		peers:    cmap.NewCMap(),
		metric:   metric.NewRegistryItem(),
	}
	conR.BaseReactor = *p2p.NewBaseReactor("Consensus", conR)

	for _, option := range options {
		option(conR)
	}
	consensusState.SetNetwork(conR)

	return conR
}

func (conR *Reactor) OnStart() error {
	conR.Logger.Info("Consensus Reactor started.", "waitSync", conR.WaitSync())
	conR.subscribeToBroadcastEvents()

	if !conR.WaitSync() {
		if err := conR.conS.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (conR *Reactor) OnStop() {
	conR.unsubscribeFromBroadcastEvents()
	if conR.conS.IsRunning() {
		if err := conR.conS.Stop(); err != nil {
			conR.Logger.Error("Error stopping consensus", "err", err)
		}
	}
}

// SwitchToConsensus 启动共识
func (conR *Reactor) SwitchToConsensus() error {
	conR.mtx.Lock()
	conR.waitSync = false
	conR.mtx.Unlock()
	return conR.conS.Start()
}

func (conR *Reactor) WaitSync() bool {
	conR.mtx.RLock()
	defer conR.mtx.RUnlock()
	return conR.waitSync
}

func (conR *Reactor) Metric() *metric.RegistryItem {
	return conR.metric
}

func (conR *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  BlockChannel,
			Priority:            10,
			SendQueueCapacity:   100,
			RecvBufferCapacity:  50 * 4096,
			RecvMessageCapacity: maxMsgSize,
		},
		{
			ID:                  VoteChannel,
			Priority:            7,
			SendQueueCapacity:   100,
			RecvBufferCapacity:  100 * 100,
			RecvMessageCapacity: maxMsgSize,
		},
		{
			ID:                  VoteResultChannel,
			Priority:            8,
			SendQueueCapacity:   100,
			RecvBufferCapacity:  50 * 4096,
			RecvMessageCapacity: maxMsgSize,
		},
	}
}

func (conR *Reactor) InitPeer(peer p2p.Peer) p2p.Peer {
	return peer
}

func (conR *Reactor) AddPeer(peer p2p.Peer) {
	conR.peers.Set(string(peer.ID()), peer)
	conR.Logger.Info("Added peer", "peer", peer.ID(), "peers", conR.peers.Size())
}

func (conR *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	conR.peers.Delete(string(peer.ID()))
	conR.Logger.Info("Removed peer", "peer", peer.ID(), "reason", reason, "peers", conR.peers.Size())
}

// IsReady 连接的节点数是否达到要求
func (conR *Reactor) IsReady() bool {
	return conR.peers.Size() >= conR.minPeers
}

// Receive 解析消息后交给共识的读协程
func (conR *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	if !conR.IsRunning() {
		conR.Logger.Debug("Receive", "src", src, "chID", chID, "bytes", msgBytes)
		return
	}
	conR.metric.Counter(fmt.Sprintf("recv_%X", chID)).Inc(1)
	conR.metric.Histogram("recv_bytes").Update(int64(len(msgBytes)))

	msg, err := decodeMsg(chID, msgBytes)
	if err != nil {
		conR.Logger.Error("Error decoding message", "src", src, "chId", chID, "err", err)
		conR.Switch.StopPeerForError(src, err)
		return
	}
	if err := msg.ValidateBasic(); err != nil {
		conR.Logger.Error("Peer sent us invalid msg", "peer", src, "msg", msg, "err", err)
		conR.Switch.StopPeerForError(src, err)
		return
	}
	conR.conS.AddPeerMessage(msg, src.ID())
}

// BroadcastInConsensus 发给除exclude以外的所有节点
func (conR *Reactor) BroadcastInConsensus(chainID string, chID byte, payload []byte, exclude p2p.ID) int {
	if chainID != conR.chainID {
		conR.Logger.Error("Broadcast for unknown chain", "chainID", chainID)
		return 0
	}
	sent := 0
	for _, v := range conR.peers.Values() {
		peer := v.(p2p.Peer)
		if peer.ID() == exclude {
			continue
		}
		sent++
		go func(p p2p.Peer) {
			if !p.Send(chID, payload) {
				conR.Logger.Debug("Failed to send", "peer", p.ID(), "chID", chID)
			}
		}(peer)
	}
	conR.metric.Counter(fmt.Sprintf("send_%X", chID)).Inc(int64(sent))
	return sent
}

const subscriber = "consensus-reactor"

// subscribeToBroadcastEvents订阅consensus需要广播的消息
// 只有成功加入VoteCache的投票、验证过的区块和结果才会触发事件，所以这里直接转发
func (conR *Reactor) subscribeToBroadcastEvents() {
	for _, event := range []string{EventVote, EventBlock, EventVoteResult} {
		if err := conR.conS.eventSwitch.AddListenerForEvent(subscriber, event, func(data events.EventData) {
			conR.broadcast(data.(msgInfo))
		}); err != nil {
			conR.Logger.Error("Error adding listener for events", "event", event, "err", err)
		}
	}
}

func (conR *Reactor) unsubscribeFromBroadcastEvents() {
	conR.conS.eventSwitch.RemoveListener(subscriber)
}

func (conR *Reactor) broadcast(mi msgInfo) {
	chID, bz, err := encodeMsg(mi.Msg)
	if err != nil {
		conR.Logger.Error("Marshal message failed.", "err", err, "msg", mi.Msg)
		return
	}
	conR.BroadcastInConsensus(conR.chainID, chID, bz, mi.PeerID)
}

//-----------------------------------------------------------------------------
// Messages

func encodeMsg(msg Message) (byte, []byte, error) {
	var (
		chID byte
		v    interface{}
	)
	switch m := msg.(type) {
	case *VoteMessage:
		chID, v = VoteChannel, m.Vote
	case *VoteResultMessage:
		chID, v = VoteResultChannel, m.Result
	case *BlockMessage:
		chID, v = BlockChannel, m.Block
	default:
		return 0, nil, fmt.Errorf("unknown message type %T", msg)
	}
	bz, err := tmjson.Marshal(v)
	return chID, bz, err
}

func decodeMsg(chID byte, bz []byte) (Message, error) {
	if len(bz) > maxMsgSize {
		return nil, fmt.Errorf("msg exceeds max size (%d > %d)", len(bz), maxMsgSize)
	}
	switch chID {
	case VoteChannel:
		vote := new(types.Vote)
		if err := tmjson.Unmarshal(bz, vote); err != nil {
			return nil, errors.Wrap(err, "unmarshal vote")
		}
		return &VoteMessage{Vote: vote}, nil
	case VoteResultChannel:
		result := new(types.VoteResultData)
		if err := tmjson.Unmarshal(bz, result); err != nil {
			return nil, errors.Wrap(err, "unmarshal vote result")
		}
		return &VoteResultMessage{Result: result}, nil
	case BlockChannel:
		block := new(types.Block)
		if err := tmjson.Unmarshal(bz, block); err != nil {
			return nil, errors.Wrap(err, "unmarshal block")
		}
		return &BlockMessage{Block: block}, nil
	default:
		return nil, fmt.Errorf("unknown channel %X", chID)
	}
}

// msgKey 消息队列去重使用的key
// 入队时还没有验签，key必须包含签名，否则伪造的消息会挡住真实的消息
func msgKey(msg Message) string {
	switch m := msg.(type) {
	case *VoteMessage:
		v := m.Vote
		return fmt.Sprintf("v/%d/%v/%d/%d/%X/%v/%X",
			v.Height, v.Key(), v.Stage, v.RoundStartTime, []byte(v.Address), v.BlockHash, []byte(v.Signature))
	case *VoteResultMessage:
		r := m.Result
		var signers strings.Builder
		for _, v := range r.Votes {
			if v != nil {
				fmt.Fprintf(&signers, "%X.", []byte(v.Address))
			}
		}
		return fmt.Sprintf("r/%d/%v/%d/%v/%s/%X",
			r.Height, r.Key(), r.RoundStartTime, r.BlockHash, signers.String(), []byte(r.AggSignature))
	case *BlockMessage:
		return fmt.Sprintf("b/%v/%X", m.Block.Hash(), []byte(m.Block.Signature))
	default:
		return fmt.Sprintf("%T/%p", msg, msg)
	}
}

// VoteMessage 一个成员的投票，IsLocal不会被序列化
type VoteMessage struct {
	Vote *types.Vote
}

func (msg *VoteMessage) ValidateBasic() error {
	if msg.Vote == nil {
		return errors.New("nil vote")
	}
	return msg.Vote.ValidateBasic()
}

func (msg *VoteMessage) String() string {
	return fmt.Sprintf("[Vote %v]", msg.Vote)
}

// VoteResultMessage 第二阶段达成quorum的结果，带完整的投票列表
type VoteResultMessage struct {
	Result *types.VoteResultData
}

func (msg *VoteResultMessage) ValidateBasic() error {
	if msg.Result == nil {
		return errors.New("nil vote result")
	}
	return msg.Result.ValidateBasic()
}

func (msg *VoteResultMessage) String() string {
	return fmt.Sprintf("[VoteResult %v]", msg.Result)
}

// BlockMessage 打包者广播自己产生的区块
type BlockMessage struct {
	Block *types.Block
}

func (msg *BlockMessage) ValidateBasic() error {
	if msg.Block == nil {
		return errors.New("nil block")
	}
	return msg.Block.ValidateBasic()
}

func (msg *BlockMessage) String() string {
	return fmt.Sprintf("[Block %v]", msg.Block)
}
