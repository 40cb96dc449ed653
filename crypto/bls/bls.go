// Package bls 对kyber的bn256 BLS签名做一层封装
// 公钥位于G2，签名位于G1；同一消息的多份签名可以聚合后一次验证
package bls

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	kbls "go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"
	"go.dedis.ch/kyber/v3/xof/blake2xb"
)

const KeyType = "bls-bn256"

var (
	suite = bn256.NewSuite()

	ErrInvalidPubKey    = errors.New("invalid bls public key")
	ErrInvalidPrivKey   = errors.New("invalid bls private key")
	ErrInvalidSignature = errors.New("invalid bls signature")
	ErrNoSignatures     = errors.New("no signatures to aggregate")
)

// PrivKey 私钥，序列化后的标量
type PrivKey []byte

// PubKey 公钥，序列化后的G2点
type PubKey []byte

// GenPrivKey 使用系统随机数生成私钥
func GenPrivKey() PrivKey {
	x, _ := kbls.NewKeyPair(suite, random.New())
	return mustMarshal(x)
}

// GenPrivKeyWithSeed 根据种子确定性地生成私钥，同一个seed总是得到同一个私钥
func GenPrivKeyWithSeed(seed int64) PrivKey {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(seed))
	return GenPrivKeyFromSecret(buf)
}

// GenPrivKeyFromSecret 根据任意字节生成私钥
func GenPrivKeyFromSecret(secret []byte) PrivKey {
	h := sha256.Sum256(secret)
	x, _ := kbls.NewKeyPair(suite, blake2xb.New(h[:]))
	return mustMarshal(x)
}

func (priv PrivKey) scalar() (kyber.Scalar, error) {
	x := suite.G2().Scalar()
	if err := x.UnmarshalBinary(priv); err != nil {
		return nil, errors.Wrap(ErrInvalidPrivKey, err.Error())
	}
	return x, nil
}

// PubKey 由私钥计算公钥
func (priv PrivKey) PubKey() (PubKey, error) {
	x, err := priv.scalar()
	if err != nil {
		return nil, err
	}
	return mustMarshal(suite.G2().Point().Mul(x, nil)), nil
}

// Sign 对msg签名
func (priv PrivKey) Sign(msg []byte) ([]byte, error) {
	x, err := priv.scalar()
	if err != nil {
		return nil, err
	}
	return kbls.Sign(suite, x, msg)
}

func (pub PubKey) point() (kyber.Point, error) {
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(pub); err != nil {
		return nil, errors.Wrap(ErrInvalidPubKey, err.Error())
	}
	return p, nil
}

// Address 公钥对应的20字节地址
func (pub PubKey) Address() crypto.Address {
	return crypto.AddressHash(pub)
}

// Validate 检查公钥能否被解析
func (pub PubKey) Validate() error {
	_, err := pub.point()
	return err
}

// VerifySignature 验证单个签名
func (pub PubKey) VerifySignature(msg, sig []byte) bool {
	p, err := pub.point()
	if err != nil {
		return false
	}
	return kbls.Verify(suite, p, msg, sig) == nil
}

// AggregateSignatures 聚合多个对同一消息的签名
func AggregateSignatures(sigs ...[]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, ErrNoSignatures
	}
	return kbls.AggregateSignatures(suite, sigs...)
}

// VerifyAggregate 用聚合公钥验证聚合签名，所有签名者必须签的是同一个msg
func VerifyAggregate(pubs []PubKey, msg, aggSig []byte) error {
	if len(pubs) == 0 {
		return ErrNoSignatures
	}
	points := make([]kyber.Point, 0, len(pubs))
	for _, pub := range pubs {
		p, err := pub.point()
		if err != nil {
			return err
		}
		points = append(points, p)
	}
	aggPub := kbls.AggregatePublicKeys(suite, points...)
	if err := kbls.Verify(suite, aggPub, msg, aggSig); err != nil {
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return nil
}

func mustMarshal(m interface{ MarshalBinary() ([]byte, error) }) []byte {
	bz, err := m.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return bz
}
