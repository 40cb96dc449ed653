package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmtime "github.com/tendermint/tendermint/types/time"

	"pocbft/crypto/bls"
	"pocbft/types"
)

var (
	chainID         string
	seedCount       int
	packingInterval uint64
	creditRange     uint64
	startDelay      time.Duration
)

var GenGenesisCmd = &cobra.Command{
	Use:     "gen-genesis",
	Aliases: []string{"gen_genesis"},
	Short:   "Generate a genesis file with deterministic seed validators",
	RunE:    genGenesisFile,
}

func init() {
	GenGenesisCmd.Flags().StringVar(&chainID, "chain-id", "poc-chain", "链名")
	GenGenesisCmd.Flags().IntVar(&seedCount, "seeds", 4, "种子节点个数，第i个节点的私钥由gen-validator --seed i生成")
	GenGenesisCmd.Flags().Uint64Var(&packingInterval, "packing-interval", types.DefaultPackingInterval, "每个slot的秒数")
	GenGenesisCmd.Flags().Uint64Var(&creditRange, "credit-range", types.DefaultCreditRange, "计算信用值使用的轮数")
	GenGenesisCmd.Flags().DurationVar(&startDelay, "start-delay", 10*time.Second, "第一轮在多久以后开始")
}

// seedGenesisDoc 种子节点i的私钥为bls.GenPrivKeyWithSeed(i)
func seedGenesisDoc(chainID string, n int) (*types.GenesisDoc, error) {
	if n <= 0 {
		return nil, fmt.Errorf("seed count must be positive, got %d", n)
	}
	vals := make([]types.GenesisValidator, 0, n)
	for i := 1; i <= n; i++ {
		pub, err := bls.GenPrivKeyWithSeed(int64(i)).PubKey()
		if err != nil {
			return nil, fmt.Errorf("gen pubkey of seed %d: %w", i, err)
		}
		vals = append(vals, types.GenesisValidator{
			Address: types.Address(pub.Address()),
			PubKey:  []byte(pub),
			Name:    fmt.Sprintf("seed-%d", i),
		})
	}
	genDoc := &types.GenesisDoc{
		ChainID:     chainID,
		GenesisTime: tmtime.Now().Add(startDelay).Truncate(time.Second),
		ConsensusParams: types.ConsensusParams{
			PackingInterval: packingInterval,
			CreditRange:     creditRange,
		},
		Validators: vals,
	}
	return genDoc, genDoc.ValidateAndComplete()
}

func genGenesisFile(cmd *cobra.Command, args []string) error {
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}

	genDoc, err := seedGenesisDoc(chainID, seedCount)
	if err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile, "seeds", seedCount, "time", genDoc.GenesisTime)
	return nil
}
