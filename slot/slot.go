// Package slot 计算一个出块slot内各阶段的截止时间
// 所有时间都从slot的理想结束时间倒推，而不是从本地进入阶段的时间顺推，
// 这样落后的节点也会在同一时刻放弃当前slot
package slot

import (
	"time"

	"pocbft/types"
)

// Window 一个slot的时间窗口，Start/End为unix秒
type Window struct {
	Start   uint64
	End     uint64
	Reserve time.Duration // 出块需要给投票留出的时间
}

// NewWindow 返回round中第packingIndex个slot的窗口
func NewWindow(round *types.Round, packingIndex uint32, reserve time.Duration) Window {
	return Window{
		Start:   round.SlotStart(packingIndex),
		End:     round.SlotEnd(packingIndex),
		Reserve: reserve,
	}
}

func (w Window) StartTime() time.Time {
	return time.Unix(int64(w.Start), 0)
}

func (w Window) EndTime() time.Time {
	return time.Unix(int64(w.End), 0)
}

// ProduceDeadline 出块和等待区块的截止时间
func (w Window) ProduceDeadline() time.Time {
	return w.EndTime().Add(-w.Reserve)
}

// StageOneDeadline 第一阶段最多等到slot结束前Reserve/2，且不超过maxWait
func (w Window) StageOneDeadline(now time.Time, maxWait time.Duration) time.Time {
	return minTime(w.EndTime().Add(-w.Reserve/2), now.Add(maxWait))
}

// StageTwoDeadline 第二阶段最多等到slot结束，且不超过maxWait
func (w Window) StageTwoDeadline(now time.Time, maxWait time.Duration) time.Time {
	return minTime(w.EndTime(), now.Add(maxWait))
}

// Contains now是否落在窗口内
func (w Window) Contains(now uint64) bool {
	return now >= w.Start && now < w.End
}

// IndexAt 返回round在now时刻所处的slot，floor((now - (start+delayed)) / interval) + 1，结果限制在[1, N]
func IndexAt(round *types.Round, now uint64) uint32 {
	n := uint64(round.MemberCount())
	if n == 0 || round.PackingInterval == 0 {
		return 1
	}
	start := round.EffectiveStart()
	if now <= start {
		return 1
	}
	idx := (now-start)/round.PackingInterval + 1
	if idx > n {
		idx = n
	}
	return uint32(idx)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
