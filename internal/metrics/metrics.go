package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "stakedex_indexer"

// Metrics 汇总索引器的 prometheus 指标。所有方法对 nil 接收者安全，
// 未开启监控时组件直接传 nil 即可。
type Metrics struct {
	pagesProcessed  prometheus.Counter
	signatures      *prometheus.CounterVec
	invocations     *prometheus.CounterVec
	decodeFailures  prometheus.Counter
	lutLookups      *prometheus.CounterVec
	cursorSlot      prometheus.Gauge
	txDuration      prometheus.Histogram
	rpcCalls        *prometheus.CounterVec
	rpcDuration     *prometheus.HistogramVec
	sinkPublishings *prometheus.CounterVec
}

// 签名处理结果
const (
	SigStatusIndexed    = "indexed"
	SigStatusFailedTx   = "failed_tx"
	SigStatusMarked     = "already_marked"
	SigStatusUnresolved = "unresolved"
)

// LUT 缓存查询结果
const (
	LutHit     = "hit"
	LutMiss    = "miss"
	LutRefresh = "refresh"
)

func New(reg prometheus.Registerer) (*Metrics, error) {
	buckets := []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	m := &Metrics{
		pagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pages_processed_total",
			Help:      "Total signature pages drained",
		}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "signatures_total",
			Help:      "Signatures seen by the crawler, by outcome",
		}, []string{"status"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "invocations_total",
			Help:      "Invocations persisted, by instruction kind",
		}, []string{"kind"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_failures_total",
			Help:      "Instruction occurrences that failed to decode",
		}),
		lutLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "lut_cache",
			Name:      "lookups_total",
			Help:      "Lookup table cache accesses by result",
		}, []string{"result"}),
		cursorSlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cursor_slot",
			Help:      "Slot of the last signature in the most recently drained page",
		}),
		txDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "tx_processing_duration_seconds",
			Help:      "Fetch, resolve and decode time of one transaction",
			Buckets:   buckets,
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			Buckets:   buckets,
		}, []string{"method"}),
		sinkPublishings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sink",
			Name:      "messages_total",
			Help:      "Invocation messages published to kafka by status",
		}, []string{"status"}),
	}

	err := errors.Join(
		reg.Register(m.pagesProcessed),
		reg.Register(m.signatures),
		reg.Register(m.invocations),
		reg.Register(m.decodeFailures),
		reg.Register(m.lutLookups),
		reg.Register(m.cursorSlot),
		reg.Register(m.txDuration),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.sinkPublishings),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) IncPage(lastSlot uint64) {
	if m == nil {
		return
	}
	m.pagesProcessed.Inc()
	m.cursorSlot.Set(float64(lastSlot))
}

func (m *Metrics) IncSignature(status string) {
	if m == nil {
		return
	}
	m.signatures.WithLabelValues(status).Inc()
}

func (m *Metrics) IncInvocation(kind string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) IncLutLookup(result string) {
	if m == nil {
		return
	}
	m.lutLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTxDuration(seconds float64) {
	if m == nil {
		return
	}
	m.txDuration.Observe(seconds)
}

// RecordRPCCall 记录一次 RPC 调用的结果与耗时
func (m *Metrics) RecordRPCCall(method string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) AddSinkResult(ok, failed int) {
	if m == nil {
		return
	}
	m.sinkPublishings.WithLabelValues("ok").Add(float64(ok))
	m.sinkPublishings.WithLabelValues("failed").Add(float64(failed))
}
