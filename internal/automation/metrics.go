package automation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Prometheus метрики автоматизации ============

// CyclesTotal - циклы оценки правил по результату
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "profitguard",
		Subsystem: "automation",
		Name:      "cycles_total",
		Help:      "Total number of rule evaluation cycles",
	},
	[]string{"result"}, // ok, fetch_error, store_error
)

// SignalsFetched - символов в книге сигналов последнего цикла
var SignalsFetched = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "profitguard",
		Subsystem: "automation",
		Name:      "signals",
		Help:      "Symbols in the merged signal book of the last cycle",
	},
)

// PairsActivated - пары, опубликованные или продлённые последним циклом
var PairsActivated = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "profitguard",
		Subsystem: "automation",
		Name:      "active_pairs",
		Help:      "Active pairs published by the last cycle",
	},
	[]string{"direction"},
)

// ConflictsTotal - символы, пропущенные из-за противоположных совпадений
var ConflictsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "profitguard",
		Subsystem: "automation",
		Name:      "conflicts_total",
		Help:      "Symbols skipped because rules matched opposite directions",
	},
)
