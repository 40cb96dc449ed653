// fork from github.com/tendermint/tendermint/types/genesis.go
package types

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/tempfile"
	tmtime "github.com/tendermint/tendermint/types/time"

	"pocbft/crypto/bls"
)

const (
	// MaxChainIDLen is a maximum length of the chain ID.
	MaxChainIDLen = 50

	DefaultPackingInterval = 10  // 秒
	DefaultCreditRange     = 100 // 计算信用值的窗口，单位是轮
)

// GenesisValidator 创世文件中的种子节点，种子节点始终参与每一轮的出块
type GenesisValidator struct {
	Address Address          `json:"address"`
	PubKey  tmbytes.HexBytes `json:"pub_key"`
	Name    string           `json:"name"`
}

// ConsensusParams 必须在所有节点上保持一致的共识参数
type ConsensusParams struct {
	PackingInterval uint64 `json:"packing_interval"`
	CreditRange     uint64 `json:"credit_range"`
}

func DefaultConsensusParams() ConsensusParams {
	return ConsensusParams{
		PackingInterval: DefaultPackingInterval,
		CreditRange:     DefaultCreditRange,
	}
}

// GenesisDoc defines the initial conditions for a blockchain, in particular its validator set.
type GenesisDoc struct {
	GenesisTime     time.Time          `json:"genesis_time"`
	ChainID         string             `json:"chain_id"`
	ConsensusParams ConsensusParams    `json:"consensus_params"`
	Validators      []GenesisValidator `json:"validators"`
}

// SaveAs is a utility method for saving GenensisDoc as a JSON file.
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := tmjson.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(file, genDocBytes, 0644)
}

// ValidateAndComplete checks that all necessary fields are present
// and fills in defaults for optional fields left empty
func (genDoc *GenesisDoc) ValidateAndComplete() error {
	if genDoc.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}
	if len(genDoc.ChainID) > MaxChainIDLen {
		return fmt.Errorf("chain_id in genesis doc is too long (max: %d)", MaxChainIDLen)
	}
	if genDoc.ConsensusParams.PackingInterval == 0 {
		genDoc.ConsensusParams.PackingInterval = DefaultPackingInterval
	}
	if genDoc.ConsensusParams.CreditRange == 0 {
		genDoc.ConsensusParams.CreditRange = DefaultCreditRange
	}
	if len(genDoc.Validators) == 0 {
		return errors.New("genesis doc must include at least one seed validator")
	}

	for i, v := range genDoc.Validators {
		pub := bls.PubKey(v.PubKey)
		if err := pub.Validate(); err != nil {
			return errors.Wrapf(err, "genesis validator #%d", i)
		}
		if len(v.Address) > 0 && !v.Address.Equal(Address(pub.Address())) {
			return fmt.Errorf("incorrect address for validator %v in the genesis file, should be %v",
				v, pub.Address())
		}
		if len(v.Address) == 0 {
			genDoc.Validators[i].Address = Address(pub.Address())
		}
	}

	if genDoc.GenesisTime.IsZero() {
		genDoc.GenesisTime = tmtime.Now()
	}

	return nil
}

// StartTime 第一轮的开始时间(unix秒)
func (genDoc *GenesisDoc) StartTime() uint64 {
	return uint64(genDoc.GenesisTime.Unix())
}

// SeedValidators 种子节点的注册记录
func (genDoc *GenesisDoc) SeedValidators() []*Validator {
	vals := make([]*Validator, 0, len(genDoc.Validators))
	for _, v := range genDoc.Validators {
		vals = append(vals, &Validator{
			PackingAddress: v.Address,
			PubKey:         v.PubKey,
			Seed:           true,
		})
	}
	return vals
}

//------------------------------------------------------------
// Make genesis state from file

// GenesisDocFromJSON unmarshalls JSON data into a GenesisDoc.
func GenesisDocFromJSON(jsonBlob []byte) (*GenesisDoc, error) {
	genDoc := GenesisDoc{}
	err := tmjson.Unmarshal(jsonBlob, &genDoc)
	if err != nil {
		return nil, err
	}

	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}

	return &genDoc, err
}

// GenesisDocFromFile reads JSON data from a file and unmarshalls it into a GenesisDoc.
func GenesisDocFromFile(genDocFile string) (*GenesisDoc, error) {
	jsonBlob, err := os.ReadFile(genDocFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read GenesisDoc file: %w", err)
	}
	genDoc, err := GenesisDocFromJSON(jsonBlob)
	if err != nil {
		return nil, fmt.Errorf("error reading GenesisDoc at %s: %w", genDocFile, err)
	}
	return genDoc, nil
}
