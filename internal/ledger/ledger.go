package ledger

import (
	"errors"
	"fmt"

	"github.com/blues/svs/internal/logger"
	"github.com/blues/svs/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientFunds 余额不足，购买前置检查失败
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrLedgerConflict 幂等键冲突但金额/类型不一致，说明键生成有缺陷
	ErrLedgerConflict = errors.New("ledger idempotency key conflict")
	// ErrTransactionNotFound 流水不存在
	ErrTransactionNotFound = errors.New("ledger transaction not found")
)

// CreditResult 入账结果
type CreditResult string

const (
	CreditSettled        CreditResult = "settled"         // 本次入账生效
	CreditAlreadyApplied CreditResult = "already_applied" // 幂等重放，直接返回已有结果
)

// Ledger 钱包账务，余额修改的唯一入口
type Ledger struct {
	db *gorm.DB
}

// NewLedger 创建账务层
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Credit 幂等入账：同一 (userRef, key) 至多生效一次，重放返回 AlreadyApplied。
// 流水插入与余额增加在同一个数据库事务内完成。
func (l *Ledger) Credit(userRef string, amount int64, key string, kind model.TransactionKind, externalRef *string) (CreditResult, error) {
	if amount <= 0 {
		return "", fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	result := CreditSettled
	err := l.db.Transaction(func(tx *gorm.DB) error {
		txn := &model.LedgerTransaction{
			UserRef:        userRef,
			Amount:         amount,
			IdempotencyKey: key,
			Kind:           kind,
			Status:         model.TransactionStatusSuccessful,
			ExternalRef:    externalRef,
		}
		// ON CONFLICT DO NOTHING：撞上幂等键时不报错，事务不会被中断，
		// 靠影响行数判断是否为重放
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(txn)
		if res.Error != nil {
			return fmt.Errorf("create credit transaction: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			existing, lookupErr := l.findByKey(tx, userRef, key)
			if lookupErr != nil {
				return lookupErr
			}
			// 同键但经济内容不同：键生成缺陷，不是合法重放
			if existing.Amount != amount || existing.Kind != kind {
				logger.Error("Ledger conflict for user %s key %s: stored amount=%d kind=%s, attempted amount=%d kind=%s",
					userRef, key, existing.Amount, existing.Kind, amount, kind)
				return ErrLedgerConflict
			}
			result = CreditAlreadyApplied
			return nil
		}

		return l.incrementBalance(tx, userRef, amount)
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// Refund 退款入账，幂等语义同 Credit
func (l *Ledger) Refund(userRef string, amount int64, key string) (CreditResult, error) {
	return l.Credit(userRef, amount, key, model.TransactionKindRefund, nil)
}

// Debit 购买扣款。不走幂等键：扣款与购买同步发生，
// 由前置余额检查保护，外部购买失败时通过退款流水冲正。
func (l *Ledger) Debit(userRef string, amount int64, key string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	return l.db.Transaction(func(tx *gorm.DB) error {
		// 带余额条件的扣减，余额不足时影响行数为0
		res := tx.Model(&model.Wallet{}).
			Where("user_ref = ? AND balance >= ?", userRef, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("debit wallet: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientFunds
		}

		txn := &model.LedgerTransaction{
			UserRef:        userRef,
			Amount:         -amount,
			IdempotencyKey: key,
			Kind:           model.TransactionKindDebit,
			Status:         model.TransactionStatusSuccessful,
		}
		if err := tx.Create(txn).Error; err != nil {
			return fmt.Errorf("create debit transaction: %w", err)
		}
		return nil
	})
}

// Balance 查询用户余额，钱包不存在视为0
func (l *Ledger) Balance(userRef string) (int64, error) {
	var wallet model.Wallet
	if err := l.db.Where("user_ref = ?", userRef).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load wallet: %w", err)
	}
	return wallet.Balance, nil
}

// Transactions 分页查询用户流水
func (l *Ledger) Transactions(userRef string, page, pageSize int) ([]model.LedgerTransaction, int64, error) {
	var txns []model.LedgerTransaction
	var total int64

	if err := l.db.Model(&model.LedgerTransaction{}).Where("user_ref = ?", userRef).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := l.db.Where("user_ref = ?", userRef).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&txns).Error; err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}

	return txns, total, nil
}

// findByKey 按幂等键查找流水
func (l *Ledger) findByKey(tx *gorm.DB, userRef, key string) (*model.LedgerTransaction, error) {
	var txn model.LedgerTransaction
	if err := tx.Where("user_ref = ? AND idempotency_key = ?", userRef, key).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load transaction by key: %w", err)
	}
	return &txn, nil
}

// incrementBalance 余额上插：钱包不存在时创建，已存在时累加。
// 两笔并发的首笔入账靠 ON CONFLICT 汇合，不会因唯一索引冲突回滚事务。
func (l *Ledger) incrementBalance(tx *gorm.DB, userRef string, amount int64) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_ref"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"balance": gorm.Expr("balance + ?", amount)}),
	}).Create(&model.Wallet{UserRef: userRef, Balance: amount}).Error
	if err != nil {
		return fmt.Errorf("increment balance: %w", err)
	}
	return nil
}
