package consensus

//
//   +-----------------+   轮次计算失败，PollInterval后重试
//   |  WaitRoundInit  +-----------+
//   +--------+--------+           |
//            v                    |
//   +-----------------+   连接的节点数不够
//   | WaitNetworkReady+-----------+
//   +--------+--------+
//            v
//   +--------------------------+
//   | WaitPrevHeightConfirmed  |  最高区块变化时重置VoteCache，重放暂存的下一高度的消息
//   +--------+-----------------+
//            v
//   +-----------------+
//   |  ProduceIfTurn  |  轮到本节点且VoteRoundIndex为0时出块，否则等待区块直到slot结束前ReservedDrain
//   +--------+--------+
//            v
//   +-----------------+     +------------------+
//   |  StageOneVote   +---->| StageOneCollect  |  quorum或者超时，失败时第二阶段投EMPTY
//   +-----------------+     +--------+---------+
//                                    v
//   +-----------------+     +------------------+
//   |  StageTwoVote   +---->| StageTwoCollect  +-----+ 超时：VoteRoundIndex++，切换到下一个slot，同一高度重新投票
//   +-----------------+     +--------+---------+     |
//                                    v               v
//                           +------------------+   WaitRoundInit
//                           |  HeightFinished  |  提交区块或者记录空slot，清空VoteCache
//                           +------------------+
//
// 任何等待中收到别的节点广播的有效结果，都直接提交并进入HeightFinished

// ConsensusState - 共识状态机，一个驱动协程推进上面的状态
//	- RoundManager - 根据历史区块头和惩罚记录计算每一轮的成员和顺序
//	- CreditEvaluator - 计算成员的信用值，决定轮次中的顺序
//	- VoteCache - 当前高度的投票、观察到的区块、暂存的下一高度消息
//	- ResultVerifier - 检查第二阶段的结果，交给BlockCommitter提交
//	- Reactor - 负责投票、结果和区块的广播，收到的消息经过读协程进入去重队列
