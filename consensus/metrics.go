package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "consensus"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// 最后提交的区块高度
	Height metrics.Gauge
	// 当前的轮次和slot
	RoundIndex     metrics.Gauge
	PackingIndex   metrics.Gauge
	VoteRoundIndex metrics.Gauge
	// 当前轮次的成员数
	Members metrics.Gauge

	CommittedBlocks metrics.Counter
	EmptySlots      metrics.Counter
	// 第二阶段超时的次数
	Escalations      metrics.Counter
	ConflictingVotes metrics.Counter
	// 被过滤掉的消息，按原因区分
	DroppedMessages metrics.Counter

	// 每个阶段花费的秒数
	StepDuration metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Height: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "height",
			Help:      "Height of the last committed block.",
		}, labels).With(labelsAndValues...),
		RoundIndex: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "round_index",
			Help:      "Index of the current round.",
		}, labels).With(labelsAndValues...),
		PackingIndex: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "packing_index",
			Help:      "Packing slot of the current round.",
		}, labels).With(labelsAndValues...),
		VoteRoundIndex: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "vote_round_index",
			Help:      "Vote round of the current height.",
		}, labels).With(labelsAndValues...),
		Members: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "members",
			Help:      "Number of members in the current round.",
		}, labels).With(labelsAndValues...),
		CommittedBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "committed_blocks",
			Help:      "Number of committed blocks.",
		}, labels).With(labelsAndValues...),
		EmptySlots: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "empty_slots",
			Help:      "Number of slots confirmed empty.",
		}, labels).With(labelsAndValues...),
		Escalations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "escalations",
			Help:      "Number of stage two timeouts.",
		}, labels).With(labelsAndValues...),
		ConflictingVotes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "conflicting_votes",
			Help:      "Number of members seen voting twice for one key.",
		}, labels).With(labelsAndValues...),
		DroppedMessages: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dropped_messages",
			Help:      "Number of peer messages filtered out.",
		}, append(labels, "reason")).With(labelsAndValues...),
		StepDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "step_duration_seconds",
			Help:      "Time spent in each step of the state machine.",
			Buckets:   stdprometheus.ExponentialBuckets(0.05, 2, 10),
		}, append(labels, "step")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Height:           discard.NewGauge(),
		RoundIndex:       discard.NewGauge(),
		PackingIndex:     discard.NewGauge(),
		VoteRoundIndex:   discard.NewGauge(),
		Members:          discard.NewGauge(),
		CommittedBlocks:  discard.NewCounter(),
		EmptySlots:       discard.NewCounter(),
		Escalations:      discard.NewCounter(),
		ConflictingVotes: discard.NewCounter(),
		DroppedMessages:  discard.NewCounter(),
		StepDuration:     discard.NewHistogram(),
	}
}
