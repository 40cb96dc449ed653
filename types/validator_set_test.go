package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatorSetValidateBasic(t *testing.T) {
	var empty *ValidatorSet
	assert.Error(t, empty.ValidateBasic())

	vals := &ValidatorSet{Validators: []*Validator{{PackingAddress: Address{1}}}}
	err := vals.ValidateBasic()
	assert.ErrorIs(t, err, ErrInvalidValidator, "保留原始错误")
	assert.Contains(t, err.Error(), "invalid validator #0")
}
