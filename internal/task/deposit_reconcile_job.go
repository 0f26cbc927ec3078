package task

import (
	"context"
	"time"

	"github.com/blues/svs/internal/config"
	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/logger"
	"github.com/blues/svs/internal/payment"
	"github.com/go-co-op/gocron/v2"
)

// DepositReconcileJob 充值对账任务。
// webhook丢失或用户一直没回来查证时，pending 充值由这里兜底结算。
type DepositReconcileJob struct {
	ledger    *ledger.Ledger
	reconcile *payment.Reconciler
	config    *config.Config
}

// NewDepositReconcileJob 创建充值对账任务
func NewDepositReconcileJob(l *ledger.Ledger, rec *payment.Reconciler, cfg *config.Config) *DepositReconcileJob {
	return &DepositReconcileJob{ledger: l, reconcile: rec, config: cfg}
}

// GetName 获取任务名称
func (j *DepositReconcileJob) GetName() string {
	return "deposit_reconcile"
}

// GetSchedule 获取调度配置
func (j *DepositReconcileJob) GetSchedule() gocron.JobDefinition {
	interval := j.config.Task.DepositInterval
	if interval <= 0 {
		interval = 60
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

// Execute 执行一轮对账
func (j *DepositReconcileJob) Execute() {
	txns, err := j.ledger.PendingDeposits()
	if err != nil {
		logger.Error("Failed to fetch pending deposits: %v", err)
		return
	}

	for _, txn := range txns {
		if txn.ExternalRef == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		status, err := j.reconcile.ResolveDeposit(ctx, *txn.ExternalRef)
		cancel()
		if err != nil {
			logger.Error("Failed to reconcile deposit %s: %v", *txn.ExternalRef, err)
			continue
		}
		logger.Debug("Deposit %s reconciled: %s", *txn.ExternalRef, status)
	}
}
