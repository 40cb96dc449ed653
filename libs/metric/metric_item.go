package metric

import (
	jsoniter "github.com/json-iterator/go"
	gometrics "github.com/rcrowley/go-metrics"
)

// MetricItem - 一个独立的metric模块对应一个MetricItem
type MetricItem interface {
	JSONString() string
}

type mockMetricItem struct {
	name string
}

func (mock *mockMetricItem) JSONString() string {
	return mock.name
}

// RegistryItem 把go-metrics的registry包装成MetricItem
// 只使用Counter和Histogram，Meter会在后台启动协程
type RegistryItem struct {
	registry gometrics.Registry
}

func NewRegistryItem() *RegistryItem {
	return &RegistryItem{registry: gometrics.NewRegistry()}
}

func (ri *RegistryItem) Counter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(name, ri.registry)
}

// Histogram 使用容量1028的均匀采样
func (ri *RegistryItem) Histogram(name string) gometrics.Histogram {
	return gometrics.GetOrRegisterHistogram(name, ri.registry, gometrics.NewUniformSample(1028))
}

func (ri *RegistryItem) JSONString() string {
	snapshot := make(map[string]interface{})
	ri.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gometrics.Counter:
			snapshot[name] = m.Count()
		case gometrics.Histogram:
			h := m.Snapshot()
			snapshot[name] = map[string]interface{}{
				"count": h.Count(),
				"min":   h.Min(),
				"max":   h.Max(),
				"mean":  h.Mean(),
				"p99":   h.Percentile(0.99),
			}
		}
	})
	s, _ := jsoniter.MarshalToString(snapshot)
	return s
}
