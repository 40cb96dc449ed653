package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	"github.com/tendermint/tendermint/p2p"
	tmtime "github.com/tendermint/tendermint/types/time"

	cfg "pocbft/config"
	"pocbft/privval"
	"pocbft/types"
)

// InitFilesCmd 初始化单节点的私钥、节点密钥和只有本节点一个种子节点的genesis文件
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a single node network",
	RunE:  initFiles,
}

func init() {
	InitFilesCmd.Flags().Int64Var(&seed, "seed", 0, "私钥种子，为0时随机生成")
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	privValKeyFile := config.PrivValidatorKeyFile()

	var (
		pv  *privval.FilePV
		err error
	)
	if tmos.FileExists(privValKeyFile) {
		if pv, err = privval.LoadFilePV(privValKeyFile); err != nil {
			return err
		}
		logger.Info("Found private validator", "keyFile", privValKeyFile)
	} else {
		if pv, err = genFilePV(privValKeyFile); err != nil {
			return err
		}
		if err := pv.Save(); err != nil {
			return err
		}
		logger.Info("Generated private validator", "keyFile", privValKeyFile)
	}

	nodeKeyFile := config.NodeKeyFile()
	if tmos.FileExists(nodeKeyFile) {
		logger.Info("Found node key", "path", nodeKeyFile)
	} else {
		if _, err := p2p.LoadOrGenNodeKey(nodeKeyFile); err != nil {
			return err
		}
		logger.Info("Generated node key", "path", nodeKeyFile)
	}

	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}

	pubKey, err := pv.GetPubKey()
	if err != nil {
		return fmt.Errorf("can't get pubkey: %w", err)
	}
	genDoc := types.GenesisDoc{
		ChainID:         fmt.Sprintf("test-chain-%v", tmrand.Str(6)),
		GenesisTime:     tmtime.Now().Truncate(time.Second),
		ConsensusParams: types.DefaultConsensusParams(),
		Validators: []types.GenesisValidator{{
			Address: pv.GetAddress(),
			PubKey:  []byte(pubKey),
		}},
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile)
	return nil
}
