package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocbft/privval"
	"pocbft/types"
)

func TestSeedGenesisDocMatchesSeedValidators(t *testing.T) {
	genDoc, err := seedGenesisDoc("poc-test", 3)
	require.NoError(t, err)
	require.Len(t, genDoc.Validators, 3)
	assert.EqualValues(t, types.DefaultPackingInterval, genDoc.ConsensusParams.PackingInterval)
	assert.EqualValues(t, types.DefaultCreditRange, genDoc.ConsensusParams.CreditRange)

	for i, v := range genDoc.Validators {
		pv, err := privval.GenFilePVWithSeed("", int64(i+1))
		require.NoError(t, err)
		assert.Equal(t, pv.GetAddress(), v.Address, "seed %d", i+1)
	}

	_, err = seedGenesisDoc("poc-test", 0)
	assert.Error(t, err)
}
