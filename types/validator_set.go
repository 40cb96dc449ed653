// fork from github.com/tendermint/tendermint/types/validator_set.go
package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto/merkle"
)

// ValidatorSet 某个高度下注册的验证者集合，按地址升序保存，保证各节点遍历顺序一致
//
// NOTE: Not goroutine-safe.
type ValidatorSet struct {
	Validators []*Validator `json:"validators"`
}

// NewValidatorSet initializes a ValidatorSet by copying over the values from
// `valz`. Validators with a duplicated address keep the first occurrence.
func NewValidatorSet(valz []*Validator) *ValidatorSet {
	vals := &ValidatorSet{}
	vals.Validators = make([]*Validator, 0, len(valz))

	seen := make(map[string]struct{}, len(valz))
	for _, val := range valz {
		key := string(val.PackingAddress)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		vals.Validators = append(vals.Validators, val.Copy())
	}
	sort.Sort(ValidatorsByAddress(vals.Validators))

	return vals
}

func (vals *ValidatorSet) ValidateBasic() error {
	if vals.IsNilOrEmpty() {
		return errors.New("validator set is nil or empty")
	}

	for idx, val := range vals.Validators {
		if err := val.ValidateBasic(); err != nil {
			return errors.Wrapf(err, "invalid validator #%d", idx)
		}
	}

	return nil
}

// IsNilOrEmpty returns true if validator set is nil or empty.
func (vals *ValidatorSet) IsNilOrEmpty() bool {
	return vals == nil || len(vals.Validators) == 0
}

// HasAddress returns true if address given is in the validator set, false -
// otherwise.
func (vals *ValidatorSet) HasAddress(address Address) bool {
	_, val := vals.GetByAddress(address)
	return val != nil
}

// GetByAddress returns an index of the validator with address and validator
// itself (copy) if found. Otherwise, -1 and nil are returned.
func (vals *ValidatorSet) GetByAddress(address Address) (index int32, val *Validator) {
	for idx, val := range vals.Validators {
		if val.PackingAddress.Equal(address) {
			return int32(idx), val.Copy()
		}
	}
	return -1, nil
}

// Size returns the length of the validator set.
func (vals *ValidatorSet) Size() int {
	return len(vals.Validators)
}

// Hash returns the Merkle root hash build using validators (as leaves) in the
// set.
func (vals *ValidatorSet) Hash() []byte {
	bzs := make([][]byte, len(vals.Validators))
	for i, val := range vals.Validators {
		bzs[i] = val.Bytes()
	}
	return merkle.HashFromByteSlices(bzs)
}

// Iterate will run the given function over the set.
func (vals *ValidatorSet) Iterate(fn func(index int, val *Validator) bool) {
	for i, val := range vals.Validators {
		stop := fn(i, val.Copy())
		if stop {
			break
		}
	}
}

// String returns a string representation of ValidatorSet.
func (vals *ValidatorSet) String() string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	var valStrings []string
	vals.Iterate(func(index int, val *Validator) bool {
		valStrings = append(valStrings, val.String())
		return false
	})
	return fmt.Sprintf("ValidatorSet{%s}", strings.Join(valStrings, ", "))
}

//----------------------------------------

// ValidatorsByAddress implements sort.Interface for []*Validator sorted by address.
type ValidatorsByAddress []*Validator

func (valz ValidatorsByAddress) Len() int { return len(valz) }

func (valz ValidatorsByAddress) Less(i, j int) bool {
	return valz[i].PackingAddress.Compare(valz[j].PackingAddress) < 0
}

func (valz ValidatorsByAddress) Swap(i, j int) {
	valz[i], valz[j] = valz[j], valz[i]
}
