package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 对账周期指标
	cycles        prometheus.Counter
	cycleFailures *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cycleOverruns prometheus.Counter

	// 动作指标
	actions        *prometheus.CounterVec
	actionFailures *prometheus.CounterVec

	// 市场指标
	bidPrice      prometheus.Gauge
	askPrice      prometheus.Gauge
	spreadPercent prometheus.Gauge

	// 推送指标
	listeners prometheus.Gauge

	// 报表指标
	reportVolume   *prometheus.GaugeVec
	reportAvgPrice *prometheus.GaugeVec

	// 系统指标
	restRequests *prometheus.CounterVec
	restErrors   *prometheus.CounterVec
	restLatency  *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "mm",
		Subsystem: "moneymaker",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycles_total",
			Help:      "对账周期总数",
		}),
		cycleFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "cycle_failures_total",
				Help:      "失败的周期数（按阶段）",
			},
			[]string{"stage"},
		),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "对账周期耗时（秒）",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		cycleOverruns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycle_overruns_total",
			Help:      "超过 tick 间隔仍未结束的周期数",
		}),

		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "actions_total",
				Help:      "执行的动作数（按类型）",
			},
			[]string{"kind"},
		),
		actionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "action_failures_total",
				Help:      "失败的动作数（按类型）",
			},
			[]string{"kind"},
		),

		bidPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bid_price",
			Help:      "当前买一价",
		}),
		askPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ask_price",
			Help:      "当前卖一价",
		}),
		spreadPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "spread_percent",
			Help:      "当前价差百分比",
		}),

		listeners: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "state_listeners",
			Help:      "状态推送订阅者数量",
		}),

		reportVolume: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "report_volume",
				Help:      "统计窗口内成交量（按方向）",
			},
			[]string{"side"},
		),
		reportAvgPrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "report_avg_price",
				Help:      "统计窗口内成交均价（按方向）",
			},
			[]string{"side"},
		),

		restRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_requests_total",
				Help:      "REST请求总数",
			},
			[]string{"action"},
		),
		restErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_errors_total",
				Help:      "REST错误总数",
			},
			[]string{"action"},
		),
		restLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_latency_seconds",
				Help:      "REST请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}

	return m
}

// 周期相关方法
func (m *Monitor) RecordCycle(seconds float64) {
	m.cycles.Inc()
	m.cycleDuration.Observe(seconds)
}

func (m *Monitor) RecordCycleFailure(stage string) {
	m.cycleFailures.WithLabelValues(stage).Inc()
}

func (m *Monitor) RecordCycleOverrun() {
	m.cycleOverruns.Inc()
}

// 动作相关方法
func (m *Monitor) RecordAction(kind string, failed bool) {
	m.actions.WithLabelValues(kind).Inc()
	if failed {
		m.actionFailures.WithLabelValues(kind).Inc()
	}
}

// 市场相关方法
func (m *Monitor) UpdateTicker(bid, ask, spreadPct float64) {
	m.bidPrice.Set(bid)
	m.askPrice.Set(ask)
	m.spreadPercent.Set(spreadPct)
}

func (m *Monitor) UpdateListeners(n int) {
	m.listeners.Set(float64(n))
}

func (m *Monitor) UpdateReport(side string, volume, avgPrice float64) {
	m.reportVolume.WithLabelValues(side).Set(volume)
	m.reportAvgPrice.WithLabelValues(side).Set(avgPrice)
}

// 系统相关方法
func (m *Monitor) RecordRESTRequest(action string) {
	m.restRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
