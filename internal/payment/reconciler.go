package payment

import (
	"context"
	"fmt"

	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/model"
)

// Reconciler 充值结算对账器。
// webhook 与用户发起的查证轮询面对同一个竞态：双方都可能观察到处理商的
// success 并尝试入账，因此统一走先重读后结算的路径。
type Reconciler struct {
	ledger   *ledger.Ledger
	verifier Verifier
}

// NewReconciler 创建充值对账器
func NewReconciler(l *ledger.Ledger, v Verifier) *Reconciler {
	return &Reconciler{ledger: l, verifier: v}
}

// ResolveDeposit 解析一笔充值的最终状态。
// 1. 重读当前持久化状态，已终态直接返回；
// 2. 仍 pending 才向处理商查证；
// 3. 只有明确的 successful/failed 才触发翻转；
// 4. 翻转与入账由 ledger 在同一数据库事务内完成，中断后重入会在第1步命中终态。
func (r *Reconciler) ResolveDeposit(ctx context.Context, reference string) (model.TransactionStatus, error) {
	txn, err := r.ledger.FindDeposit(reference)
	if err != nil {
		return "", err
	}
	if txn.Status != model.TransactionStatusPending {
		return txn.Status, nil
	}

	result, err := r.verifier.Verify(ctx, reference)
	if err != nil {
		return "", fmt.Errorf("verify deposit %s: %w", reference, err)
	}

	switch result.State {
	case VerifyStateSuccessful:
		// 入账金额以处理商核实值为准，自报金额不可信
		outcome, err := r.ledger.SettleDeposit(reference, true, result.Amount)
		if err != nil {
			return "", err
		}
		return outcome.Status, nil
	case VerifyStateFailed:
		outcome, err := r.ledger.SettleDeposit(reference, false, 0)
		if err != nil {
			return "", err
		}
		return outcome.Status, nil
	default:
		return model.TransactionStatusPending, nil
	}
}
