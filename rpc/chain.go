package rpc

import (
	"fmt"

	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	"pocbft/libs/utils"
	"pocbft/types"
)

const maxHeaders = 20

type ResultHeaders struct {
	LastHeight uint64          `json:"last_height"`
	Headers    []*types.Header `json:"headers"`
	Delay      ResultDelay     `json:"delay"`
}

// ResultDelay 区块时间相对理想slot开始时间的延迟(秒)
type ResultDelay struct {
	Max    string `json:"max"`
	Min    string `json:"min"`
	Median string `json:"median"`
	Avg    string `json:"avg"`
}

func formatDelay(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Headers 返回[minHeight, maxHeight]的区块头，最多20个，maxHeight为0时取最高区块
func Headers(ctx *rpctypes.Context, minHeight, maxHeight uint64) (*ResultHeaders, error) {
	best, err := env.Chain.BestHeader()
	if err != nil {
		return nil, err
	}
	if maxHeight == 0 || maxHeight > best.Height {
		maxHeight = best.Height
	}
	if minHeight == 0 {
		minHeight = 1
	}
	if maxHeight >= maxHeaders && minHeight <= maxHeight-maxHeaders {
		minHeight = maxHeight - maxHeaders + 1
	}
	if minHeight > maxHeight && maxHeight > 0 {
		return nil, fmt.Errorf("min height %d can't be greater than max height %d", minHeight, maxHeight)
	}

	result := &ResultHeaders{LastHeight: best.Height, Headers: []*types.Header{}}
	delays := make([]float64, 0, maxHeaders)
	for h := maxHeight; h >= minHeight && h > 0; h-- {
		hdr, err := env.Store.LoadHeader(h)
		if err != nil {
			return nil, err
		}
		result.Headers = append(result.Headers, hdr)
		if ideal := hdr.RoundStartTime + uint64(hdr.PackingIndexOfRound-1)*env.Chain.Genesis().ConsensusParams.PackingInterval; hdr.Time >= ideal {
			delays = append(delays, float64(hdr.Time-ideal))
		}
	}
	result.Delay = ResultDelay{
		Max:    formatDelay(utils.Max(delays...)),
		Min:    formatDelay(utils.Min(delays...)),
		Median: formatDelay(utils.Median(delays...)),
		Avg:    formatDelay(utils.Avg(delays...)),
	}
	return result, nil
}

type ResultPunishLogs struct {
	Logs []*types.PunishLog `json:"logs"`
}

// PunishLogs 最近的惩罚记录，address为空时返回所有地址的
func PunishLogs(ctx *rpctypes.Context, address string, limit int) (*ResultPunishLogs, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	result := &ResultPunishLogs{Logs: []*types.PunishLog{}}
	err := env.Chain.IteratePunishLogsDesc(func(p *types.PunishLog) bool {
		if address == "" || p.Address.String() == address {
			result.Logs = append(result.Logs, p)
		}
		return len(result.Logs) >= limit
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type ResultNetInfo struct {
	Outbound int      `json:"outbound"`
	Inbound  int      `json:"inbound"`
	Dialing  int      `json:"dialing"`
	Peers    []string `json:"peers"`
}

func NetInfo(ctx *rpctypes.Context) (*ResultNetInfo, error) {
	out, in, dialing := env.P2PPeers.NumPeers()
	result := &ResultNetInfo{Outbound: out, Inbound: in, Dialing: dialing, Peers: []string{}}
	for _, peer := range env.P2PPeers.Peers().List() {
		result.Peers = append(result.Peers, string(peer.ID()))
	}
	return result, nil
}
