package rpc

import (
	jsoniter "github.com/json-iterator/go"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

type ResultMetrics struct {
	Metrics map[string]jsoniter.RawMessage `json:"metrics"`
}

// JSONMetrics label为空时返回所有模块的metric
func JSONMetrics(ctx *rpctypes.Context, label string) (*ResultMetrics, error) {
	result := &ResultMetrics{Metrics: make(map[string]jsoniter.RawMessage)}

	var labels []string
	if label != "" {
		labels = []string{label}
	} else {
		labels = env.MetricSet.GetAllLabels()
	}

	for _, l := range labels {
		item := env.MetricSet.GetMetrics(l)
		if item == nil {
			continue
		}
		s := item.JSONString()
		if !json.Valid([]byte(s)) {
			env.Logger.Error("Bad metric json", "label", l)
			continue
		}
		result.Metrics[l] = jsoniter.RawMessage(s)
	}

	return result, nil
}
