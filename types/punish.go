package types

import "fmt"

type PunishType uint8

const (
	PunishYellow = PunishType(1) // 没有按时出块
	PunishRed    = PunishType(2) // 作恶，不再参与共识
)

func (t PunishType) String() string {
	switch t {
	case PunishYellow:
		return "YELLOW"
	case PunishRed:
		return "RED"
	default:
		return "UnknownPunish"
	}
}

// PunishLog 只追加的惩罚记录
type PunishLog struct {
	Address    Address    `json:"address"`
	Type       PunishType `json:"type"`
	RoundIndex uint64     `json:"round_index"`
	Height     uint64     `json:"height"`
	Time       uint64     `json:"time"`
	Reason     string     `json:"reason"`
}

func (p *PunishLog) String() string {
	return fmt.Sprintf("Punish{%v %v round:%d height:%d %s}",
		p.Type, p.Address, p.RoundIndex, p.Height, p.Reason)
}
