package types

import (
	"fmt"
	"strings"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Member 某一轮中的出块成员，每次计算轮次时重新生成，不做持久化
type Member struct {
	PackingAddress Address          `json:"packing_address"`
	PubKey         tmbytes.HexBytes `json:"pub_key"`
	CreditVal      float64          `json:"credit_val"`
	Position       uint32           `json:"position"` // 从1开始
	Seed           bool             `json:"seed"`
}

func (m *Member) String() string {
	return fmt.Sprintf("Member{#%d %v credit:%.4f}", m.Position, m.PackingAddress, m.CreditVal)
}

// MembersByCredit 信用值降序，信用值相同时按地址字节升序
type MembersByCredit []*Member

func (ms MembersByCredit) Len() int { return len(ms) }

func (ms MembersByCredit) Less(i, j int) bool {
	if ms[i].CreditVal != ms[j].CreditVal {
		return ms[i].CreditVal > ms[j].CreditVal
	}
	return ms[i].PackingAddress.Compare(ms[j].PackingAddress) < 0
}

func (ms MembersByCredit) Swap(i, j int) { ms[i], ms[j] = ms[j], ms[i] }

// Round 一轮出块：每个成员按顺序占用一个PackingInterval长度的slot
type Round struct {
	Index               uint64    `json:"index"`
	StartTime           uint64    `json:"start_time"`
	PackingInterval     uint64    `json:"packing_interval"`
	Members             []*Member `json:"members"`
	PackingIndexOfRound uint32    `json:"packing_index_of_round"`
	DelayedSeconds      uint64    `json:"delayed_seconds"`
	Confirmed           bool      `json:"confirmed"`
	LocalMember         *Member   `json:"local_member,omitempty"`

	memberAddressSet map[string]*Member
}

// NewRound 按给定顺序设置成员的Position并建立地址索引
func NewRound(index, startTime, interval uint64, members []*Member) *Round {
	r := &Round{
		Index:           index,
		StartTime:       startTime,
		PackingInterval: interval,
		Members:         members,
	}
	r.indexMembers()
	return r
}

func (r *Round) indexMembers() {
	r.memberAddressSet = make(map[string]*Member, len(r.Members))
	for i, m := range r.Members {
		m.Position = uint32(i + 1)
		r.memberAddressSet[string(m.PackingAddress)] = m
	}
}

func (r *Round) MemberCount() int {
	return len(r.Members)
}

func (r *Round) HasMember(addr Address) bool {
	_, ok := r.memberAddressSet[string(addr)]
	return ok
}

func (r *Round) GetMember(addr Address) *Member {
	return r.memberAddressSet[string(addr)]
}

// MemberAt 返回packingIndex位置的成员，越界返回nil
func (r *Round) MemberAt(packingIndex uint32) *Member {
	if packingIndex == 0 || int(packingIndex) > len(r.Members) {
		return nil
	}
	return r.Members[packingIndex-1]
}

// Quorum 本轮达成共识需要的票数
func (r *Round) Quorum() int {
	return ByzantineThreshold(len(r.Members))
}

// EffectiveStart 计入延迟后的开始时间
func (r *Round) EffectiveStart() uint64 {
	return r.StartTime + r.DelayedSeconds
}

func (r *Round) SlotStart(packingIndex uint32) uint64 {
	if packingIndex == 0 {
		packingIndex = 1
	}
	return r.EffectiveStart() + uint64(packingIndex-1)*r.PackingInterval
}

func (r *Round) SlotEnd(packingIndex uint32) uint64 {
	return r.SlotStart(packingIndex) + r.PackingInterval
}

// EndTime 下一轮的开始时间
func (r *Round) EndTime() uint64 {
	return r.EffectiveStart() + uint64(len(r.Members))*r.PackingInterval
}

// IsLocalTurn 本节点是否是当前slot的打包者
func (r *Round) IsLocalTurn() bool {
	return r.LocalMember != nil && r.LocalMember.Position == r.PackingIndexOfRound
}

// Copy 深拷贝，成员也会复制
func (r *Round) Copy() *Round {
	members := make([]*Member, len(r.Members))
	for i, m := range r.Members {
		mc := *m
		members[i] = &mc
	}
	rc := *r
	rc.Members = members
	rc.indexMembers()
	if r.LocalMember != nil {
		rc.LocalMember = rc.GetMember(r.LocalMember.PackingAddress)
	}
	return &rc
}

func (r *Round) String() string {
	if r == nil {
		return "nil-Round"
	}
	addrs := make([]string, len(r.Members))
	for i, m := range r.Members {
		addrs[i] = m.PackingAddress.String()
	}
	return fmt.Sprintf("Round{#%d start:%d delayed:%d packing:%d/%d [%s]}",
		r.Index,
		r.StartTime,
		r.DelayedSeconds,
		r.PackingIndexOfRound,
		len(r.Members),
		strings.Join(addrs, " "))
}
