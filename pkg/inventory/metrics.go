package inventory

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the quant engine.
// A nil *Metrics is valid and records nothing.
// クォントエンジンの Prometheus メトリクス
type Metrics struct {
	lockContention       prometheus.Counter
	quantsCreated        prometheus.Counter
	mergedGroups         prometheus.Counter
	mergeFailures        prometheus.Counter
	unlinkedQuants       prometheus.Counter
	reservations         *prometheus.CounterVec
	inventoryAdjustments *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg
// メトリクスを作成して登録
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zaiquant",
			Name:      "quant_lock_contention_total",
			Help:      "Quants skipped because another transaction held the row lock.",
		}),
		quantsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zaiquant",
			Name:      "quants_created_total",
			Help:      "Quants created by on-hand updates.",
		}),
		mergedGroups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zaiquant",
			Name:      "quant_merged_groups_total",
			Help:      "Duplicate quant groups merged into one survivor.",
		}),
		mergeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zaiquant",
			Name:      "quant_merge_failures_total",
			Help:      "Duplicate quant groups whose merge failed and was skipped.",
		}),
		unlinkedQuants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zaiquant",
			Name:      "quants_unlinked_total",
			Help:      "Zero quants deleted by the maintenance pass.",
		}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zaiquant",
			Name:      "reservation_updates_total",
			Help:      "Reserved quantity updates by direction.",
		}, []string{"direction"}),
		inventoryAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zaiquant",
			Name:      "inventory_adjustments_total",
			Help:      "Applied inventory adjustments by direction.",
		}, []string{"direction"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.lockContention,
			m.quantsCreated,
			m.mergedGroups,
			m.mergeFailures,
			m.unlinkedQuants,
			m.reservations,
			m.inventoryAdjustments,
		)
	}
	return m
}

func (m *Metrics) lockContended() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}

func (m *Metrics) quantCreated() {
	if m == nil {
		return
	}
	m.quantsCreated.Inc()
}

func (m *Metrics) groupMerged(failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.mergeFailures.Inc()
		return
	}
	m.mergedGroups.Inc()
}

func (m *Metrics) quantsUnlinked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.unlinkedQuants.Add(float64(n))
}

func (m *Metrics) reservationUpdated(reserve bool) {
	if m == nil {
		return
	}
	direction := "unreserve"
	if reserve {
		direction = "reserve"
	}
	m.reservations.WithLabelValues(direction).Inc()
}

func (m *Metrics) inventoryAdjusted(increase bool) {
	if m == nil {
		return
	}
	direction := "out"
	if increase {
		direction = "in"
	}
	m.inventoryAdjustments.WithLabelValues(direction).Inc()
}
