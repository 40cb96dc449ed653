package bls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	priv := GenPrivKey()
	pub, err := priv.PubKey()
	require.NoError(t, err)

	msg := []byte("vote sign bytes")
	sig, err := priv.Sign(msg)
	require.NoError(t, err)

	assert.True(t, pub.VerifySignature(msg, sig))
	assert.False(t, pub.VerifySignature([]byte("other"), sig), "篡改消息后签名不应该通过")
	assert.Len(t, pub.Address(), 20)
}

// 同一个seed必须得到同一把私钥，init/gen-genesis依赖这一点
func TestGenPrivKeyWithSeedDeterministic(t *testing.T) {
	a := GenPrivKeyWithSeed(7)
	b := GenPrivKeyWithSeed(7)
	c := GenPrivKeyWithSeed(8)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAggregate(t *testing.T) {
	msg := []byte("stage two")
	pubs := []PubKey{}
	sigs := [][]byte{}
	for i := int64(1); i <= 4; i++ {
		priv := GenPrivKeyWithSeed(i)
		pub, err := priv.PubKey()
		require.NoError(t, err)
		sig, err := priv.Sign(msg)
		require.NoError(t, err)
		pubs = append(pubs, pub)
		sigs = append(sigs, sig)
	}

	agg, err := AggregateSignatures(sigs...)
	require.NoError(t, err)
	assert.NoError(t, VerifyAggregate(pubs, msg, agg))

	// 少一个公钥就不能通过
	assert.Error(t, VerifyAggregate(pubs[1:], msg, agg))

	_, err = AggregateSignatures()
	assert.Equal(t, ErrNoSignatures, err)
}

func TestInvalidPubKey(t *testing.T) {
	assert.Error(t, PubKey([]byte("garbage")).Validate())
	assert.False(t, PubKey([]byte("garbage")).VerifySignature([]byte("m"), []byte("s")))
}
