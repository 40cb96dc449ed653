package consensus

import (
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"pocbft/crypto/bls"
	"pocbft/types"
)

var (
	ErrStaleResult        = errors.New("result height already committed")
	ErrSupersededResult   = errors.New("result older than the active vote key")
	ErrAmbiguousResult    = errors.New("result votes for more than one block")
	ErrResultNotFinal     = errors.New("result is not a stage two result")
	ErrUnknownSigner      = errors.New("result signer is not a round member")
	ErrInsufficientVotes  = errors.New("result has fewer votes than the quorum")
	ErrResultHashMismatch = errors.New("result hash differs from its votes")
	ErrBadAggregate       = errors.New("aggregated signature does not verify")
)

// ResultVerifier 检查第二阶段的结果(本地的或别的节点广播的)，通过后交给提交模块
type ResultVerifier struct {
	chainID   string
	chain     ChainReader
	rounds    *RoundManager
	committer BlockCommitter
	logger    log.Logger
}

func NewResultVerifier(chain ChainReader, rounds *RoundManager, committer BlockCommitter) *ResultVerifier {
	return &ResultVerifier{
		chainID:   chain.ChainID(),
		chain:     chain,
		rounds:    rounds,
		committer: committer,
		logger:    log.NewNopLogger(),
	}
}

func (rv *ResultVerifier) SetLogger(logger log.Logger) {
	rv.logger = logger
}

// Verify 依次检查高度、坐标、成员、票数和聚合签名，返回结果所属的轮次
func (rv *ResultVerifier) Verify(result *types.VoteResultData, active types.VoteKey) (*types.Round, error) {
	best, err := rv.chain.BestHeader()
	if err != nil {
		return nil, err
	}
	if result.Height <= best.Height {
		return nil, errors.Wrapf(ErrStaleResult, "height %d, best %d", result.Height, best.Height)
	}
	if result.Key().Compare(active) < 0 {
		return nil, errors.Wrapf(ErrSupersededResult, "%v < %v", result.Key(), active)
	}
	if result.Stage != types.VoteStageTwo {
		return nil, errors.Wrapf(ErrResultNotFinal, "stage %v", result.Stage)
	}
	if err := result.ValidateBasic(); err != nil {
		return nil, err
	}
	if result.CandidateOutcomeCount() != 1 {
		return nil, errors.Wrapf(ErrAmbiguousResult, "%d outcomes", result.CandidateOutcomeCount())
	}
	if result.Votes[0].BlockHash != result.BlockHash {
		return nil, errors.Wrapf(ErrResultHashMismatch, "votes %v, result %v",
			result.Votes[0].BlockHash.ShortString(), result.BlockHash.ShortString())
	}

	round, err := rv.rounds.GetRound(result.RoundIndex, result.RoundStartTime)
	if err != nil {
		return nil, errors.Wrap(err, "load round")
	}
	pubs := make([]bls.PubKey, 0, len(result.Votes))
	for _, v := range result.Votes {
		m := round.GetMember(v.Address)
		if m == nil {
			return nil, errors.Wrapf(ErrUnknownSigner, "%v", v.Address)
		}
		pubs = append(pubs, bls.PubKey(m.PubKey))
	}
	if len(result.Votes) < round.Quorum() {
		return nil, errors.Wrapf(ErrInsufficientVotes, "%d < %d", len(result.Votes), round.Quorum())
	}
	if err := bls.VerifyAggregate(pubs, result.SignBytes(rv.chainID), result.AggSignature); err != nil {
		return nil, errors.Wrap(ErrBadAggregate, err.Error())
	}
	return round, nil
}

// Process 验证并提交，block可以为nil(确认为空的slot，或者还没有收到区块)
func (rv *ResultVerifier) Process(
	result *types.VoteResultData,
	active types.VoteKey,
	block *types.Block,
) (*types.CommitNotice, error) {
	round, err := rv.Verify(result, active)
	if err != nil {
		return nil, err
	}
	result.Success = true
	result.ConfirmedEmpty = result.BlockHash.IsEmpty()

	notice := types.NewCommitNotice(result)
	if packer := round.MemberAt(result.PackingIndexOfRound); packer != nil {
		notice.PackingAddress = packer.PackingAddress
	}
	if err := rv.committer.Commit(notice, block); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	rv.logger.Info("Verified vote result", "result", result, "packer", notice.PackingAddress)
	return notice, nil
}
