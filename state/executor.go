package state

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/log"

	"pocbft/crypto/bls"
	"pocbft/types"
)

var (
	ErrBlockHashMismatch = errors.New("block does not match committed hash")
	ErrBlockNotNext      = errors.New("block does not extend best header")
	ErrBlockMissing      = errors.New("committed block is not available")
)

func ErrInvalidBlock(err error) error {
	return errors.Wrap(err, "invalid block")
}

// Signer 对摘要签名
type Signer interface {
	Sign(address types.Address, digest []byte) ([]byte, error)
}

// PayloadSource 区块里打包的数据，交易的选择不在共识层
type PayloadSource func(height uint64) []tmbytes.HexBytes

// BlockExecutor 只生成和提交区块头，不执行交易
type BlockExecutor struct {
	chain   *Chain
	signer  Signer
	payload PayloadSource

	logger log.Logger
}

func NewBlockExecutor(chain *Chain, signer Signer) *BlockExecutor {
	return &BlockExecutor{
		chain:  chain,
		signer: signer,
		logger: log.NewNopLogger(),
	}
}

// SetLogger implements BlockExecutor
func (exec *BlockExecutor) SetLogger(logger log.Logger) {
	exec.logger = logger
}

func (exec *BlockExecutor) SetPayloadSource(src PayloadSource) {
	exec.payload = src
}

// CreateBlock 在round的当前slot出块
// consensusAwardSettled为false时本区块负责结算本轮的共识奖励
func (exec *BlockExecutor) CreateBlock(
	ctx context.Context,
	round *types.Round,
	member *types.Member,
	slotTime uint64,
	consensusAwardSettled bool,
) (*types.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := exec.chain.State()
	if err != nil {
		return nil, err
	}

	block := &types.Block{
		Header: types.Header{
			ChainID:             st.ChainID,
			Height:              st.LastBlockHeight + 1,
			PrevHash:            st.LastBlockHash,
			Time:                slotTime,
			RoundIndex:          round.Index,
			RoundStartTime:      round.StartTime,
			PackingIndexOfRound: round.PackingIndexOfRound,
			PackingAddress:      member.PackingAddress,
			SettlesAward:        !consensusAwardSettled,
			ValidatorsHash:      membersHash(round),
		},
	}
	if exec.payload != nil {
		block.Data.Payload = exec.payload(block.Height)
	}

	hash := block.Hash()
	sig, err := exec.signer.Sign(member.PackingAddress, hash.Bytes())
	if err != nil {
		return nil, err
	}
	block.Signature = sig

	if err := ctx.Err(); err != nil {
		// 超过出块时间的区块直接丢弃
		return nil, err
	}
	exec.logger.Info("Created block", "height", block.Height, "hash", hash.ShortString(),
		"round", round.Index, "packingIndex", round.PackingIndexOfRound)
	return block, nil
}

// ValidateBlock 检查区块是否是round中对应slot的打包者基于当前最高区块产生的
func (exec *BlockExecutor) ValidateBlock(round *types.Round, block *types.Block) error {
	if err := block.ValidateBasic(); err != nil {
		return ErrInvalidBlock(err)
	}
	st, err := exec.chain.State()
	if err != nil {
		return err
	}
	if block.ChainID != st.ChainID {
		return ErrInvalidBlock(errors.Errorf("wrong chain id %s", block.ChainID))
	}
	if block.Height != st.LastBlockHeight+1 || block.PrevHash != st.LastBlockHash {
		return errors.Wrapf(ErrBlockNotNext, "block %d prev %v, best %v",
			block.Height, block.PrevHash.ShortString(), st)
	}
	if block.RoundIndex != round.Index || block.RoundStartTime != round.StartTime {
		return ErrInvalidBlock(errors.Errorf("block of round %d, expected %d", block.RoundIndex, round.Index))
	}
	packer := round.MemberAt(block.PackingIndexOfRound)
	if packer == nil || !packer.PackingAddress.Equal(block.PackingAddress) {
		return ErrInvalidBlock(errors.Errorf("%v is not the packer of slot %d", block.PackingAddress, block.PackingIndexOfRound))
	}
	if !bytes.Equal(membersHash(round), block.ValidatorsHash) {
		return ErrInvalidBlock(errors.New("validators hash mismatch"))
	}
	if !bls.PubKey(packer.PubKey).VerifySignature(block.Hash().Bytes(), block.Signature) {
		return ErrInvalidBlock(errors.New("bad block signature"))
	}
	return nil
}

// Commit 提交验证过的结果
// 确认为空的slot记录下来，第一次尝试(VoteRoundIndex为0)为空时给该slot的打包者一次YELLOW惩罚
// 升级后的slot不允许出块，为空不是打包者的责任
func (exec *BlockExecutor) Commit(notice *types.CommitNotice, block *types.Block) error {
	store := exec.chain.Store()
	if notice.IsEmpty() {
		if err := store.SaveSkippedSlot(notice); err != nil {
			return err
		}
		if len(notice.PackingAddress) == 0 || notice.VoteRoundIndex > 0 {
			return nil
		}
		exec.logger.Info("Slot confirmed empty", "height", notice.Height, "key", notice.Key(),
			"packer", notice.PackingAddress)
		return store.AppendPunishLog(&types.PunishLog{
			Address:    notice.PackingAddress,
			Type:       types.PunishYellow,
			RoundIndex: notice.RoundIndex,
			Height:     notice.Height,
			Time:       notice.RoundStartTime,
			Reason:     fmt.Sprintf("slot %d of round %d confirmed empty", notice.PackingIndexOfRound, notice.RoundIndex),
		})
	}

	if block == nil {
		return errors.Wrapf(ErrBlockMissing, "%v", notice.BlockHash)
	}
	if block.Hash() != notice.BlockHash {
		return errors.Wrapf(ErrBlockHashMismatch, "block %v, commit %v", block.Hash(), notice.BlockHash)
	}
	st, err := exec.chain.State()
	if err != nil {
		return err
	}
	if block.Height != st.LastBlockHeight+1 || block.PrevHash != st.LastBlockHash {
		return errors.Wrapf(ErrBlockNotNext, "block %d, best %v", block.Height, st)
	}
	if err := store.SaveBlock(block); err != nil {
		return err
	}
	exec.logger.Info("Committed block", "height", block.Height, "hash", notice.BlockHash.ShortString(),
		"signers", len(notice.Signers))
	return nil
}

// membersHash 本轮成员集合的hash
func membersHash(round *types.Round) []byte {
	vals := make([]*types.Validator, 0, len(round.Members))
	for _, m := range round.Members {
		vals = append(vals, &types.Validator{PackingAddress: m.PackingAddress, PubKey: m.PubKey, Seed: m.Seed})
	}
	return types.NewValidatorSet(vals).Hash()
}
