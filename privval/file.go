package privval

import (
	"fmt"
	"os"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"

	"pocbft/crypto/bls"
	"pocbft/types"
)

// SigningError 私钥不可用或者签名失败，只放弃当前这一次投票
type SigningError struct {
	Address types.Address
	Reason  string
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing with %v failed: %s", e.Address, e.Reason)
}

//-------------------------------------------------------------------------------

// FilePVKey stores the immutable part of PrivValidator.
type FilePVKey struct {
	Address types.Address    `json:"address"`
	PubKey  tmbytes.HexBytes `json:"pub_key"`
	PrivKey tmbytes.HexBytes `json:"priv_key"`

	filePath string
}

// Save persists the FilePVKey to its filePath.
func (pvKey FilePVKey) Save() error {
	outFile := pvKey.filePath
	if outFile == "" {
		return fmt.Errorf("cannot save PrivValidator key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(pvKey, "", "  ")
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(outFile, jsonBytes, 0600)
}

//-------------------------------------------------------------------------------

// FilePV 保存在磁盘上的bls私钥
type FilePV struct {
	Key FilePVKey
}

// NewFilePV generates a new validator from the given key and paths.
func NewFilePV(privKey bls.PrivKey, keyFilePath string) (*FilePV, error) {
	pubKey, err := privKey.PubKey()
	if err != nil {
		return nil, err
	}
	return &FilePV{
		Key: FilePVKey{
			Address:  types.Address(pubKey.Address()),
			PubKey:   tmbytes.HexBytes(pubKey),
			PrivKey:  tmbytes.HexBytes(privKey),
			filePath: keyFilePath,
		},
	}, nil
}

// GenFilePVWithSeed 由种子确定性地生成私钥，测试网和本地集群使用
func GenFilePVWithSeed(keyFilePath string, seed int64) (*FilePV, error) {
	return NewFilePV(bls.GenPrivKeyWithSeed(seed), keyFilePath)
}

// GenFilePV generates a new validator with randomly generated private key
// and sets the filePaths, but does not call Save().
func GenFilePV(keyFilePath string) (*FilePV, error) {
	return NewFilePV(bls.GenPrivKey(), keyFilePath)
}

// LoadFilePV loads a FilePV from the filePaths.
func LoadFilePV(keyFilePath string) (*FilePV, error) {
	keyJSONBytes, err := os.ReadFile(keyFilePath)
	if err != nil {
		return nil, err
	}
	pvKey := FilePVKey{}
	err = tmjson.Unmarshal(keyJSONBytes, &pvKey)
	if err != nil {
		return nil, fmt.Errorf("error reading PrivValidator key from %v: %w", keyFilePath, err)
	}

	// overwrite pubkey and address for convenience
	pubKey, err := bls.PrivKey(pvKey.PrivKey).PubKey()
	if err != nil {
		return nil, fmt.Errorf("error reading PrivValidator key from %v: %w", keyFilePath, err)
	}
	pvKey.PubKey = tmbytes.HexBytes(pubKey)
	pvKey.Address = types.Address(pubKey.Address())
	pvKey.filePath = keyFilePath

	return &FilePV{
		Key: pvKey,
	}, nil
}

// LoadOrGenFilePV loads a FilePV from the given filePaths
// or else generates a new one and saves it to the filePaths.
func LoadOrGenFilePV(keyFilePath string) (*FilePV, error) {
	if tmos.FileExists(keyFilePath) {
		return LoadFilePV(keyFilePath)
	}
	pv, err := GenFilePV(keyFilePath)
	if err != nil {
		return nil, err
	}
	return pv, pv.Save()
}

// GetAddress returns the address of the validator.
func (pv *FilePV) GetAddress() types.Address {
	return pv.Key.Address
}

// GetPubKey returns the public key of the validator.
func (pv *FilePV) GetPubKey() (bls.PubKey, error) {
	return bls.PubKey(pv.Key.PubKey), nil
}

// Sign 对摘要签名，只能使用本节点自己的地址
func (pv *FilePV) Sign(address types.Address, digest []byte) ([]byte, error) {
	if len(pv.Key.PrivKey) == 0 {
		return nil, &SigningError{Address: address, Reason: "private key is not loaded"}
	}
	if !pv.Key.Address.Equal(address) {
		return nil, &SigningError{Address: address, Reason: "key for this address is not held"}
	}
	sig, err := bls.PrivKey(pv.Key.PrivKey).Sign(digest)
	if err != nil {
		return nil, &SigningError{Address: address, Reason: err.Error()}
	}
	return sig, nil
}

// Save persists the FilePV to disk.
func (pv *FilePV) Save() error {
	return pv.Key.Save()
}

// String returns a string representation of the FilePV.
func (pv *FilePV) String() string {
	return fmt.Sprintf(
		"PrivValidator{%v}",
		pv.GetAddress(),
	)
}
