package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto/merkle"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// local blockchain维护的区块的基本单位
// 交易的选择和执行不在共识层处理，Data只是不透明的载荷
type Block struct {
	Header    `json:"header"`
	Data      `json:"data"`
	Signature tmbytes.HexBytes `json:"signature"` // 打包者对区块hash的签名
}

// 检验一个block是否合法 - 这里的合法指的是没有明确的错误
func (b *Block) ValidateBasic() error {
	if b == nil {
		return errors.New("nil block")
	}
	if b.Height == 0 {
		return errors.New("block height must be positive")
	}
	if b.PackingIndexOfRound == 0 {
		return errors.New("block had no packing index")
	}
	if len(b.PackingAddress) == 0 {
		return errors.New("block had no packing address")
	}
	if !bytes.Equal(b.DataHash, b.Data.Hash()) {
		return errors.New("data hash does not match block data")
	}
	if len(b.Signature) == 0 {
		return errors.New("block had no signature")
	}
	return nil
}

// 填补各种hash value
func (b *Block) fillHeader() {
	if b.DataHash == nil {
		b.DataHash = b.Data.Hash()
	}
}

func (b *Block) Hash() Hash {
	if b == nil {
		return EmptyHash
	}
	b.fillHeader()
	return b.Header.Hash()
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{H:%d R:%d P:%d by %v %v}",
		b.Height,
		b.RoundIndex,
		b.PackingIndexOfRound,
		b.PackingAddress,
		b.Hash().ShortString())
}

type Header struct {
	// 基本的区块信息
	ChainID  string `json:"chain_id"`
	Height   uint64 `json:"height"`
	PrevHash Hash   `json:"prev_hash"`
	Time     uint64 `json:"time"` // 所在slot的开始时间(unix秒)

	// 共识信息，轮次计算依赖这些字段
	RoundIndex          uint64  `json:"round_index"`
	RoundStartTime      uint64  `json:"round_start_time"`
	PackingIndexOfRound uint32  `json:"packing_index_of_round"`
	PackingAddress      Address `json:"packing_address"`
	SettlesAward        bool    `json:"settles_award"` // 本轮第一个区块负责结算共识奖励

	// 数据hash
	ValidatorsHash tmbytes.HexBytes `json:"validators_hash"`
	DataHash       tmbytes.HexBytes `json:"data_hash"`
}

func (h *Header) Hash() Hash {
	if h == nil {
		return EmptyHash
	}
	u64 := func(v uint64) []byte {
		return binary.BigEndian.AppendUint64(nil, v)
	}
	award := []byte{0}
	if h.SettlesAward {
		award[0] = 1
	}
	root := merkle.HashFromByteSlices([][]byte{
		[]byte(h.ChainID),
		u64(h.Height),
		h.PrevHash.Bytes(),
		u64(h.Time),
		u64(h.RoundIndex),
		u64(h.RoundStartTime),
		u64(uint64(h.PackingIndexOfRound)),
		h.PackingAddress,
		award,
		h.ValidatorsHash,
		h.DataHash,
	})
	hash, err := HashFromBytes(root)
	if err != nil {
		panic(err)
	}
	return hash
}

// Key 产生该区块的投票坐标(VoteRoundIndex恒为0，只有第一次尝试允许出块)
func (h *Header) Key() VoteKey {
	return VoteKey{
		RoundIndex:          h.RoundIndex,
		PackingIndexOfRound: h.PackingIndexOfRound,
	}
}

type Data struct {
	Payload []tmbytes.HexBytes `json:"payload"`
}

func (d *Data) Hash() tmbytes.HexBytes {
	if d == nil {
		return merkle.HashFromByteSlices(nil)
	}
	bzs := make([][]byte, len(d.Payload))
	for i, p := range d.Payload {
		bzs[i] = p
	}
	return merkle.HashFromByteSlices(bzs)
}
