package ledger

import (
	"errors"
	"fmt"

	"github.com/blues/svs/internal/logger"
	"github.com/blues/svs/internal/metrics"
	"github.com/blues/svs/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DepositOutcome 充值结算结果
type DepositOutcome struct {
	Status model.TransactionStatus
	// Applied 本次调用是否真正执行了状态翻转与入账
	Applied bool
}

// InitiateDeposit 创建待结算的充值流水，幂等键即支付处理商的交易号。
// 同一交易号重复发起返回已有流水。
func (l *Ledger) InitiateDeposit(userRef string, amount int64, externalRef string) (*model.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", amount)
	}

	txn := &model.LedgerTransaction{
		UserRef:        userRef,
		Amount:         amount,
		IdempotencyKey: externalRef,
		Kind:           model.TransactionKindDeposit,
		Status:         model.TransactionStatusPending,
		ExternalRef:    &externalRef,
	}
	res := l.db.Clauses(clause.OnConflict{DoNothing: true}).Create(txn)
	if res.Error != nil {
		return nil, fmt.Errorf("create deposit transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 同一交易号重复发起，返回已有流水
		return l.findByKey(l.db, userRef, externalRef)
	}
	return txn, nil
}

// FindDeposit 按处理商交易号查找充值流水
func (l *Ledger) FindDeposit(externalRef string) (*model.LedgerTransaction, error) {
	var txn model.LedgerTransaction
	err := l.db.Where("external_ref = ? AND kind = ?", externalRef, model.TransactionKindDeposit).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load deposit: %w", err)
	}
	return &txn, nil
}

// PendingDeposits 查询仍在等待结算的充值流水
func (l *Ledger) PendingDeposits() ([]model.LedgerTransaction, error) {
	var txns []model.LedgerTransaction
	err := l.db.Where("kind = ? AND status = ?", model.TransactionKindDeposit, model.TransactionStatusPending).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}
	return txns, nil
}

// SettleDeposit 将 pending 充值翻转为终态。翻转与入账在同一个数据库事务内，
// 且以 status='pending' 作为CAS条件：webhook与用户轮询并发结算时只有一方生效，
// 另一方拿到影响行数0后按已结算处理。
// verifiedAmount 为处理商核实的实付金额：发起时的金额是用户自报的，
// 两者不符时以处理商为准入账并修正流水，绝不按自报金额入账。
func (l *Ledger) SettleDeposit(externalRef string, successful bool, verifiedAmount int64) (*DepositOutcome, error) {
	target := model.TransactionStatusFailed
	if successful {
		target = model.TransactionStatusSuccessful
	}

	outcome := &DepositOutcome{}
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var txn model.LedgerTransaction
		if err := tx.Where("external_ref = ? AND kind = ?", externalRef, model.TransactionKindDeposit).
			First(&txn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return fmt.Errorf("load deposit: %w", err)
		}

		// 先读当前状态，已终态直接原样返回
		if txn.Status != model.TransactionStatusPending {
			outcome.Status = txn.Status
			return nil
		}

		res := tx.Model(&model.LedgerTransaction{}).
			Where("id = ? AND status = ?", txn.ID, model.TransactionStatusPending).
			Update("status", target)
		if res.Error != nil {
			return fmt.Errorf("flip deposit status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// 并发对手方抢先翻转，重读并返回其结果
			if err := tx.First(&txn, txn.ID).Error; err != nil {
				return fmt.Errorf("reload deposit: %w", err)
			}
			outcome.Status = txn.Status
			return nil
		}

		outcome.Status = target
		outcome.Applied = true

		if successful {
			amount := txn.Amount
			if verifiedAmount > 0 && verifiedAmount != txn.Amount {
				logger.Warn("Deposit %s declared %d but processor verified %d, crediting verified amount",
					externalRef, txn.Amount, verifiedAmount)
				amount = verifiedAmount
				if err := tx.Model(&model.LedgerTransaction{}).
					Where("id = ?", txn.ID).
					Update("amount", verifiedAmount).Error; err != nil {
					return fmt.Errorf("correct deposit amount: %w", err)
				}
			}
			if err := l.incrementBalance(tx, txn.UserRef, amount); err != nil {
				return err
			}
			logger.Info("Deposit %s settled successfully, credited %d to user %s", externalRef, amount, txn.UserRef)
		} else {
			logger.Info("Deposit %s settled as failed", externalRef)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome.Applied {
		metrics.DepositsSettled.WithLabelValues(string(outcome.Status)).Inc()
	}
	return outcome, nil
}
