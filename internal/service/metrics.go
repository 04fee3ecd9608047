package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_ledger_submissions_total",
		Help: "Ledger submissions by intent kind and outcome",
	}, []string{"kind", "result"})

	escrowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_escrow_transitions_total",
		Help: "Escrows entering each status",
	}, []string{"status"})

	intentsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_intents_reconciled_total",
		Help: "Stale settlement intents resolved by reconciliation",
	}, []string{"outcome"})
)
