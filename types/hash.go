package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tendermint/tendermint/crypto/tmhash"
)

const HashSize = tmhash.Size

// Hash 32字节的区块hash
type Hash [HashSize]byte

// EmptyHash 表示这个slot没有出块（没收到或者打包失败），不会是任何真实区块的hash
var EmptyHash = Hash{}

func HashFromBytes(bz []byte) (Hash, error) {
	var h Hash
	if len(bz) != HashSize {
		return h, fmt.Errorf("wrong hash size, expected %d, got %d", HashSize, len(bz))
	}
	copy(h[:], bz)
	return h, nil
}

func (h Hash) IsEmpty() bool {
	return h == EmptyHash
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) String() string {
	if h.IsEmpty() {
		return "EMPTY"
	}
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

// ShortString 日志里只打印前8个字节
func (h Hash) ShortString() string {
	if h.IsEmpty() {
		return "EMPTY"
	}
	return strings.ToUpper(hex.EncodeToString(h[:8]))
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strings.ToUpper(hex.EncodeToString(h[:])) + `"`), nil
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid hex string: %s", data)
	}
	bz, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	parsed, err := HashFromBytes(bz)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
