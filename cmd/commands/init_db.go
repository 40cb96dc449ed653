package commands

import (
	"github.com/spf13/cobra"
	leveldb "github.com/tendermint/tm-db/goleveldb"

	"pocbft/state"
	"pocbft/store"
	"pocbft/types"
)

// InitDBCmd 按genesis文件创建区块库并写入高度为0的区块头
var InitDBCmd = &cobra.Command{
	Use:     "init-db",
	Aliases: []string{"init_db", "initdb"},
	Short:   "Initiate the block store from the genesis file",
	RunE:    initDB,
}

func initDB(cmd *cobra.Command, args []string) error {
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return err
	}
	levelDB, err := leveldb.NewDB("blockstore", config.DBDir())
	if err != nil {
		return err
	}
	kv := store.NewKVStoreWithDB(levelDB, logger)
	defer kv.Close()

	chain, err := state.NewChain(genDoc, kv, logger)
	if err != nil {
		return err
	}
	best, err := chain.BestHeader()
	if err != nil {
		return err
	}
	logger.Info("Block store ready", "dir", config.DBDir(), "chainID", chain.ChainID(), "height", best.Height)
	return nil
}
