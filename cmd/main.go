package main

import (
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/cli"

	cmd "pocbft/cmd/commands"
	cfg "pocbft/config"
	nm "pocbft/node"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.GenNodeKeyCmd,
		cmd.GenValidatorCmd,
		cmd.ShowNodeIDCmd,
		cmd.ShowValidatorCmd,
		cmd.GenGenesisCmd,
		cmd.InitDBCmd,
		cmd.ShowRoundCmd,
		cli.NewCompletionCmd(rootCmd, true),
	)

	// 需要自定义签名器或者区块库时，可以复制这个文件换掉DefaultNewNode
	nodeFunc := nm.DefaultNewNode

	rootCmd.AddCommand(cmd.NewRunNodeCmd(nodeFunc))

	cmd := cli.PrepareBaseCmd(rootCmd, cfg.EnvPrefix, os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultDirName)))
	if err := cmd.Execute(); err != nil {
		panic(err)
	}
}
