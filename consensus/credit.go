package consensus

import (
	"pocbft/libs/utils"
	"pocbft/types"
)

// CreditEvaluator 根据最近RANGE轮的出块数和惩罚数计算信用值
// 只读取已提交的数据，相同的历史在任何节点上得到相同的结果
type CreditEvaluator struct {
	chain       ChainReader
	creditRange uint64
}

func NewCreditEvaluator(chain ChainReader, creditRange uint64) *CreditEvaluator {
	if creditRange == 0 {
		creditRange = types.DefaultCreditRange
	}
	return &CreditEvaluator{
		chain:       chain,
		creditRange: creditRange,
	}
}

func (ce *CreditEvaluator) Range() uint64 {
	return ce.creditRange
}

// window 计算roundEnd轮信用值使用的轮次区间[roundEnd-RANGE, roundEnd-1]
func (ce *CreditEvaluator) window(roundEnd uint64) (start, end uint64, ok bool) {
	if roundEnd == 0 {
		return 0, 0, false
	}
	if roundEnd > ce.creditRange {
		start = roundEnd - ce.creditRange
	}
	return start, roundEnd - 1, true
}

// BlockProductionCount address在[roundStart, roundEnd]轮中打包的区块数
func (ce *CreditEvaluator) BlockProductionCount(address types.Address, roundStart, roundEnd uint64) (uint64, error) {
	var count uint64
	err := ce.chain.IterateHeadersDesc(func(hdr *types.Header) bool {
		if hdr.RoundIndex < roundStart {
			return true
		}
		if hdr.RoundIndex <= roundEnd && hdr.Height > 0 && hdr.PackingAddress.Equal(address) {
			count++
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	// 与惩罚数一样不超过RANGE，信用值保持在[-1,1]
	if count > ce.creditRange {
		count = ce.creditRange
	}
	return count, nil
}

// PunishmentCount address在[roundStart, roundEnd]轮中ptype类型的惩罚数
// 最多扫描到RANGE+1条，结果不超过RANGE
func (ce *CreditEvaluator) PunishmentCount(
	address types.Address,
	roundStart, roundEnd uint64,
	ptype types.PunishType,
) (uint64, error) {
	var count uint64
	err := ce.chain.IteratePunishLogsDesc(func(p *types.PunishLog) bool {
		if p.RoundIndex < roundStart {
			return true
		}
		if p.RoundIndex <= roundEnd && p.Type == ptype && p.Address.Equal(address) {
			count++
		}
		return count > ce.creditRange
	})
	if err != nil {
		return 0, err
	}
	if count > ce.creditRange {
		count = ce.creditRange
	}
	return count, nil
}

// CreditValue address在第roundEnd轮的信用值，范围[-1, 1]，保留4位小数
func (ce *CreditEvaluator) CreditValue(address types.Address, roundEnd uint64) (float64, error) {
	start, end, ok := ce.window(roundEnd)
	if !ok {
		return 0, nil
	}
	blocks, err := ce.BlockProductionCount(address, start, end)
	if err != nil {
		return 0, err
	}
	yellow, err := ce.PunishmentCount(address, start, end, types.PunishYellow)
	if err != nil {
		return 0, err
	}
	ability := float64(blocks) / float64(ce.creditRange)
	penalty := float64(yellow) / float64(ce.creditRange)
	return utils.RoundHalfUp(ability-penalty, 4), nil
}

// RedPunished beforeRound之前受过RED惩罚的地址，这些地址不再参与轮次
func (ce *CreditEvaluator) RedPunished(beforeRound uint64) (map[string]bool, error) {
	red := make(map[string]bool)
	err := ce.chain.IteratePunishLogsDesc(func(p *types.PunishLog) bool {
		if p.RoundIndex < beforeRound && p.Type == types.PunishRed {
			red[string(p.Address)] = true
		}
		return false
	})
	return red, err
}
