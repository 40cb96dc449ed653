package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"

	"pocbft/privval"
)

var seed int64

// GenValidatorCmd 生成打包地址使用的BLS密钥
// seed大于0时由种子确定性地生成，和gen-genesis --seeds生成的种子节点对应
var GenValidatorCmd = &cobra.Command{
	Use:     "gen-validator",
	Aliases: []string{"gen_validator"},
	Short:   "Generate new validator keypair",
	PreRun:  deprecateSnakeCase,
	RunE:    genValidator,
}

func init() {
	GenValidatorCmd.Flags().Int64Var(&seed, "seed", 0, "私钥种子，为0时随机生成")
}

func genFilePV(keyFile string) (*privval.FilePV, error) {
	if seed > 0 {
		return privval.GenFilePVWithSeed(keyFile, seed)
	}
	return privval.GenFilePV(keyFile)
}

func genValidator(cmd *cobra.Command, args []string) error {
	privValKeyFile := config.PrivValidatorKeyFile()
	if tmos.FileExists(privValKeyFile) {
		logger.Info("Found private validator", "keyFile", privValKeyFile)
		return nil
	}

	pv, err := genFilePV(privValKeyFile)
	if err != nil {
		return err
	}
	if err := pv.Save(); err != nil {
		return err
	}
	jsbz, err := tmjson.Marshal(pv.Key)
	if err != nil {
		return err
	}
	fmt.Printf("%v\n", string(jsbz))
	return nil
}

// ShowValidatorCmd 打印本节点的打包地址和公钥
var ShowValidatorCmd = &cobra.Command{
	Use:     "show-validator",
	Aliases: []string{"show_validator"},
	Short:   "Show this node's validator info",
	RunE:    showValidator,
	PreRun:  deprecateSnakeCase,
}

func showValidator(cmd *cobra.Command, args []string) error {
	keyFilePath := config.PrivValidatorKeyFile()
	if !tmos.FileExists(keyFilePath) {
		return fmt.Errorf("private validator file %s does not exist", keyFilePath)
	}
	pv, err := privval.LoadFilePV(keyFilePath)
	if err != nil {
		return err
	}
	pub, err := pv.GetPubKey()
	if err != nil {
		return err
	}
	fmt.Printf("address: %v\npub_key: %X\n", pv.GetAddress(), []byte(pub))
	return nil
}
