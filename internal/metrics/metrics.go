package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalsApplied 按结果统计的状态信号处理次数
var SignalsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "svs",
	Name:      "signals_applied_total",
	Help:      "Provider status signals processed by the reconciliation engine",
}, []string{"outcome"})

// RefundsIssued 已落账退款数
var RefundsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "svs",
	Name:      "refunds_issued_total",
	Help:      "Refunds settled against the wallet ledger",
})

// DepositsSettled 按终态统计的充值结算数
var DepositsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "svs",
	Name:      "deposits_settled_total",
	Help:      "Deposit transactions flipped to a terminal status",
}, []string{"status"})

// WebhooksRejected 签名校验失败而被丢弃的webhook数
var WebhooksRejected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "svs",
	Name:      "webhooks_rejected_total",
	Help:      "Inbound webhooks acknowledged but discarded due to invalid signature",
})
