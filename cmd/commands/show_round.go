package commands

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"pocbft/consensus"
	"pocbft/state"
	"pocbft/store"
	"pocbft/types"
)

var roundIndex uint64

// ShowRoundCmd 节点停止时从本地区块库计算轮次，不需要网络
var ShowRoundCmd = &cobra.Command{
	Use:     "show-round",
	Aliases: []string{"show_round"},
	Short:   "Compute the current (or given) round from the local block store",
	PreRun:  deprecateSnakeCase,
	RunE:    showRound,
}

func init() {
	ShowRoundCmd.Flags().Uint64Var(&roundIndex, "round", 0, "轮次编号，为0时计算当前时间所在的轮次")
}

func showRound(cmd *cobra.Command, args []string) error {
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return err
	}
	kv, err := store.NewKVStore("blockstore", config.DBBackend, config.DBDir(), logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	chain, err := state.NewChain(genDoc, kv, logger)
	if err != nil {
		return err
	}
	params := genDoc.ConsensusParams
	rm := consensus.NewRoundManager(
		chain,
		consensus.NewCreditEvaluator(chain, params.CreditRange),
		genDoc.StartTime(),
		params.PackingInterval,
	)
	rm.SetLogger(logger)

	r, err := rm.InitRound()
	if err != nil {
		return err
	}
	for roundIndex > 0 && r.Index < roundIndex {
		if r, err = rm.NextRound(r); err != nil {
			return err
		}
	}
	if roundIndex > 0 && r.Index != roundIndex {
		return fmt.Errorf("round %d is before the current round %d", roundIndex, r.Index)
	}

	// 信用值是浮点数，tendermint的json不支持
	bz, err := jsoniter.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(bz))
	return nil
}
