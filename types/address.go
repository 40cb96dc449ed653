package types

import (
	"bytes"

	"github.com/tendermint/tendermint/crypto"
)

type Address crypto.Address

func (addr Address) Equal(other Address) bool {
	if addr == nil || other == nil {
		return false
	}
	return bytes.Equal(crypto.Address(addr), crypto.Address(other))
}

// Compare 按字节序比较地址，成员排序时作为第二排序键
func (addr Address) Compare(other Address) int {
	return bytes.Compare(addr, other)
}

func (addr Address) String() string {
	return crypto.Address(addr).String()
}

// MarshalJSON / UnmarshalJSON 统一使用大写hex，和tmbytes.HexBytes一致
func (addr Address) MarshalJSON() ([]byte, error) {
	return crypto.Address(addr).MarshalJSON()
}

func (addr *Address) UnmarshalJSON(data []byte) error {
	var hb crypto.Address
	if err := hb.UnmarshalJSON(data); err != nil {
		return err
	}
	*addr = Address(hb)
	return nil
}
