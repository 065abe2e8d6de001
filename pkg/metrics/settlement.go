package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks money movement and transaction health.
type SettlementMetrics struct {
	ordersSettled   prometheus.Counter
	payoutsCreated  prometheus.Counter
	payoutAmount    prometheus.Counter
	payoutFailures  *prometheus.CounterVec
	reconciled      *prometheus.CounterVec
	webhookOutcomes *prometheus.CounterVec
	txRetries       prometheus.Counter
	txFailures      prometheus.Counter
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		ordersSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_orders_settled_total",
			Help: "Orders whose payment was settled into held ledger entries.",
		}),
		payoutsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_payouts_created_total",
			Help: "Payouts created with the provider.",
		}),
		payoutAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_payout_amount_total",
			Help: "Sum of created payout amounts in major currency units.",
		}),
		payoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_payout_failures_total",
			Help: "Payout attempts that did not produce a payout.",
		}, []string{"reason"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_payouts_reconciled_total",
			Help: "Payout webhook reconciliations by resulting status.",
		}, []string{"status"}),
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_webhook_events_total",
			Help: "Provider webhook events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_tx_retries_total",
			Help: "Serializable transactions re-run after a deadlock or serialization failure.",
		}),
		txFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "settlement_tx_failures_total",
			Help: "Serializable transactions that failed after exhausting retries.",
		}),
	}
	reg.MustRegister(
		m.ordersSettled,
		m.payoutsCreated,
		m.payoutAmount,
		m.payoutFailures,
		m.reconciled,
		m.webhookOutcomes,
		m.txRetries,
		m.txFailures,
	)
	return m
}

func (m *SettlementMetrics) IncOrderSettled() {
	if m == nil || m.ordersSettled == nil {
		return
	}
	m.ordersSettled.Inc()
}

// ObservePayoutCreated counts a payout and adds its amount.
func (m *SettlementMetrics) ObservePayoutCreated(amount float64) {
	if m == nil || m.payoutsCreated == nil {
		return
	}
	m.payoutsCreated.Inc()
	if amount > 0 {
		m.payoutAmount.Add(amount)
	}
}

func (m *SettlementMetrics) IncPayoutFailure(reason string) {
	if m == nil || m.payoutFailures == nil {
		return
	}
	m.payoutFailures.WithLabelValues(jobLabel(reason)).Inc()
}

func (m *SettlementMetrics) IncReconciled(status string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(jobLabel(status)).Inc()
}

func (m *SettlementMetrics) IncWebhookOutcome(eventType, outcome string) {
	if m == nil || m.webhookOutcomes == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(jobLabel(eventType), jobLabel(outcome)).Inc()
}

// ObserveTxRetry satisfies db.TxObserver.
func (m *SettlementMetrics) ObserveTxRetry(int) {
	if m == nil || m.txRetries == nil {
		return
	}
	m.txRetries.Inc()
}

// ObserveTxFailure satisfies db.TxObserver.
func (m *SettlementMetrics) ObserveTxFailure() {
	if m == nil || m.txFailures == nil {
		return
	}
	m.txFailures.Inc()
}
