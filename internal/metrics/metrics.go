package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the workflow counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	withdrawalsCreated    *prometheus.CounterVec
	withdrawalTransitions *prometheus.CounterVec
	withdrawalAmount      *prometheus.CounterVec
	depositTransitions    *prometheus.CounterVec
	ledgerEntries         *prometheus.CounterVec
	twoFactorResults      *prometheus.CounterVec
	dispatchErrors        prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		withdrawalsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custody_withdrawals_created_total",
				Help: "Withdrawals accepted, by kind, currency and initial status",
			},
			[]string{"kind", "currency", "status"},
		),
		withdrawalTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custody_withdrawal_transitions_total",
				Help: "Withdrawal status transitions by target status",
			},
			[]string{"kind", "status"},
		),
		withdrawalAmount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custody_withdrawal_amount_total",
				Help: "Sum of requested withdrawal amounts",
			},
			[]string{"currency"},
		),
		depositTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custody_deposit_transitions_total",
				Help: "Deposit status changes by target status",
			},
			[]string{"status"},
		),
		ledgerEntries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custody_ledger_entries_total",
				Help: "Ledger entries appended by type",
			},
			[]string{"type"},
		),
		twoFactorResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custody_two_factor_results_total",
				Help: "Two-factor verification outcomes",
			},
			[]string{"outcome"},
		),
		dispatchErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "custody_executor_dispatch_errors_total",
			Help: "Approved withdrawals that could not be published to the executor",
		}),
	}
}

func (m *Metrics) WithdrawalCreated(kind, currency, status string, amount float64) {
	if m == nil {
		return
	}
	m.withdrawalsCreated.WithLabelValues(kind, currency, status).Inc()
	m.withdrawalAmount.WithLabelValues(currency).Add(amount)
}

func (m *Metrics) WithdrawalTransition(kind, status string) {
	if m == nil {
		return
	}
	m.withdrawalTransitions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) DepositTransition(status string) {
	if m == nil {
		return
	}
	m.depositTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) LedgerEntry(entryType string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(entryType).Inc()
}

// TwoFactor records one verification outcome: ok, rejected, invalid, limited, unavailable or bypassed.
func (m *Metrics) TwoFactor(outcome string) {
	if m == nil {
		return
	}
	m.twoFactorResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DispatchError() {
	if m == nil {
		return
	}
	m.dispatchErrors.Inc()
}
