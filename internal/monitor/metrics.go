package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики мониторинга
// ============================================================

// ============ Цикл ============

// CycleDuration - длительность цикла опрос -> решение -> закрытие
var CycleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "profitguard",
		Subsystem: "monitor",
		Name:      "cycle_duration_ms",
		Help:      "Duration of one monitor cycle in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
	[]string{"role"},
)

// CyclesTotal - количество циклов по результату
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "profitguard",
		Subsystem: "monitor",
		Name:      "cycles_total",
		Help:      "Total number of monitor cycles",
	},
	[]string{"role", "result"}, // result: ok, venue_error
)

// PositionsTracked - число живых позиций после последнего цикла
var PositionsTracked = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "profitguard",
		Subsystem: "monitor",
		Name:      "positions_tracked",
		Help:      "Live positions observed in the last cycle",
	},
	[]string{"role"},
)

// ============ Решения и закрытия ============

// IntentsTotal - намерения закрытия по правилу
var IntentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "profitguard",
		Subsystem: "decision",
		Name:      "intents_total",
		Help:      "Close intents emitted by rule",
	},
	[]string{"reason", "kind"},
)

// MarketClosedSkips - позиции, пропущенные из-за закрытого рынка
var MarketClosedSkips = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "profitguard",
		Subsystem: "decision",
		Name:      "market_closed_skips_total",
		Help:      "Positions skipped because their market session was closed",
	},
)

// CloseOutcomes - исходы намерений
var CloseOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "profitguard",
		Subsystem: "executor",
		Name:      "close_outcomes_total",
		Help:      "Close intent outcomes",
	},
	[]string{"outcome", "kind"},
)

// CloseRetries - повторные попытки закрытия
var CloseRetries = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "profitguard",
		Subsystem: "executor",
		Name:      "close_retries_total",
		Help:      "Close attempts retried after a transient venue error",
	},
)

// CloseLatency - время исполнения намерения со всеми повторами
var CloseLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "profitguard",
		Subsystem: "executor",
		Name:      "close_latency_ms",
		Help:      "Time to execute a close intent including retries in milliseconds",
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	},
	[]string{"kind"},
)

// ============ Состояние процесса ============

// PersistenceFailures - ошибки записи в хранилище
var PersistenceFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "profitguard",
		Subsystem: "store",
		Name:      "write_failures_total",
		Help:      "Failed writes to the position store",
	},
	[]string{"op"},
)

// ConsecutiveFailures - подряд неудачные циклы процесса
var ConsecutiveFailures = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "profitguard",
		Subsystem: "monitor",
		Name:      "consecutive_failures",
		Help:      "Consecutive failed cycles",
	},
	[]string{"role"},
)
