package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditValueWithoutHistory(t *testing.T) {
	genDoc, pvs := makeGenesis(t, 2)
	chain, _ := newTestChain(t, genDoc)
	ce := NewCreditEvaluator(chain, genDoc.ConsensusParams.CreditRange)

	for _, round := range []uint64{0, 1, 50} {
		credit, err := ce.CreditValue(pvs[0].GetAddress(), round)
		require.NoError(t, err)
		assert.Equal(t, 0.0, credit, "round %d", round)
	}
}

func TestCreditValueCountsWindow(t *testing.T) {
	genDoc, pvs := makeGenesis(t, 2)
	chain, kv := newTestChain(t, genDoc)
	a, b := pvs[0].GetAddress(), pvs[1].GetAddress()

	// a在第1~5轮各出一个块，b在第1~3轮各出一个块
	height := uint64(0)
	for round := uint64(1); round <= 5; round++ {
		start := genesisStart() + (round-1)*2*testInterval
		height++
		saveHeader(t, kv, height, round, start, 1, a, start)
		if round <= 3 {
			height++
			saveHeader(t, kv, height, round, start, 2, b, start+testInterval)
		}
	}
	punish(t, kv, b, 1, 2)

	ce := NewCreditEvaluator(chain, 100)
	credit, err := ce.CreditValue(a, 6)
	require.NoError(t, err)
	assert.Equal(t, 0.05, credit)

	credit, err = ce.CreditValue(b, 6)
	require.NoError(t, err)
	assert.Equal(t, 0.02, credit)

	// 第3轮只能看到第0~2轮
	credit, err = ce.CreditValue(a, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.02, credit)

	count, err := ce.BlockProductionCount(a, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	// 窗口只有3轮
	small := NewCreditEvaluator(chain, 3)
	credit, err = small.CreditValue(a, 6)
	require.NoError(t, err)
	assert.Equal(t, 1.0, credit)

	// 出块数不超过RANGE，信用值不会超过1
	count, err = small.BlockProductionCount(a, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	// 同样的历史得到同样的结果
	again, err := small.CreditValue(a, 6)
	require.NoError(t, err)
	assert.Equal(t, credit, again)
}

func TestPunishmentCountIsClamped(t *testing.T) {
	genDoc, pvs := makeGenesis(t, 1)
	chain, kv := newTestChain(t, genDoc)
	addr := pvs[0].GetAddress()
	for i := 0; i < 10; i++ {
		punish(t, kv, addr, 1, 1)
	}

	ce := NewCreditEvaluator(chain, 3)
	count, err := ce.PunishmentCount(addr, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	// 惩罚不能让信用值低于-1
	credit, err := ce.CreditValue(addr, 2)
	require.NoError(t, err)
	assert.Equal(t, -1.0, credit)

	// 其他类型不计入
	count, err = ce.PunishmentCount(addr, 0, 1, 2)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedPunished(t *testing.T) {
	genDoc, pvs := makeGenesis(t, 2)
	chain, kv := newTestChain(t, genDoc)
	punish(t, kv, pvs[1].GetAddress(), 2, 3)

	ce := NewCreditEvaluator(chain, 100)
	red, err := ce.RedPunished(3)
	require.NoError(t, err)
	assert.Empty(t, red)

	red, err = ce.RedPunished(4)
	require.NoError(t, err)
	assert.True(t, red[string(pvs[1].GetAddress())])
	assert.False(t, red[string(pvs[0].GetAddress())])
}
