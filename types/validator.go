// fork from github.com/tendermint/tendermint/types/validator.go
package types

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"

	"pocbft/crypto/bls"
)

var ErrInvalidValidator = errors.New("invalid validator record")

// Validator 链上注册的共识节点（或者创世配置的种子节点）
// 每一轮的成员列表都由这些记录重新计算出来
type Validator struct {
	PackingAddress Address          `json:"packing_address"`
	PubKey         tmbytes.HexBytes `json:"pub_key"`
	RegisterHeight uint64           `json:"register_height"`
	StopHeight     uint64           `json:"stop_height"` // 0表示仍在运行
	Seed           bool             `json:"seed"`
}

// NewValidator returns a new validator with the given bls pubkey.
func NewValidator(pubKey bls.PubKey, registerHeight uint64) *Validator {
	return &Validator{
		PackingAddress: Address(pubKey.Address()),
		PubKey:         tmbytes.HexBytes(pubKey),
		RegisterHeight: registerHeight,
	}
}

// ValidateBasic performs basic validation.
// 解析失败的记录会让整轮计算放弃，不能静默跳过，否则各节点的成员列表可能不一致
func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.Wrap(ErrInvalidValidator, "nil validator")
	}
	if len(v.PubKey) == 0 {
		return errors.Wrap(ErrInvalidValidator, "validator does not have a public key")
	}
	if len(v.PackingAddress) != crypto.AddressSize {
		return errors.Wrapf(ErrInvalidValidator, "validator address is the wrong size: %v", v.PackingAddress)
	}
	if err := bls.PubKey(v.PubKey).Validate(); err != nil {
		return errors.Wrapf(ErrInvalidValidator, "address %v: %v", v.PackingAddress, err)
	}
	if !v.PackingAddress.Equal(Address(bls.PubKey(v.PubKey).Address())) {
		return errors.Wrapf(ErrInvalidValidator, "address %v does not match public key", v.PackingAddress)
	}
	return nil
}

// ActiveAt 在height高度是否处于注册状态
func (v *Validator) ActiveAt(height uint64) bool {
	if v.Seed {
		return true
	}
	if v.RegisterHeight > height {
		return false
	}
	return v.StopHeight == 0 || v.StopHeight > height
}

// Creates a new copy of the validator.
// Panics if the validator is nil.
func (v *Validator) Copy() *Validator {
	vCopy := *v
	return &vCopy
}

func (v *Validator) String() string {
	if v == nil {
		return "nil-Validator"
	}
	return fmt.Sprintf("Validator{%v seed:%v reg:%d stop:%d}",
		v.PackingAddress,
		v.Seed,
		v.RegisterHeight,
		v.StopHeight)
}

// Bytes 参与validator set hash计算的编码
func (v *Validator) Bytes() []byte {
	bz, err := tmjson.Marshal(v)
	if err != nil {
		panic(err)
	}
	return bz
}
