package model

import (
	"time"
)

// TransactionKind 账务类型
type TransactionKind string

const (
	TransactionKindDeposit TransactionKind = "deposit" // 外部充值
	TransactionKindDebit   TransactionKind = "debit"   // 购买扣款
	TransactionKindRefund  TransactionKind = "refund"  // 退款
)

// TransactionStatus 账务状态
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusSuccessful TransactionStatus = "successful"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// LedgerTransaction 账务流水（一次货币事件）
// 同一 (user_ref, idempotency_key) 至多一条成功流水；重放返回已有结果。
type LedgerTransaction struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserRef string `json:"user_ref" gorm:"not null;uniqueIndex:idx_user_idem"`
	// Amount 有符号金额，正数为入账
	Amount         int64             `json:"amount" gorm:"not null"`
	IdempotencyKey string            `json:"idempotency_key" gorm:"not null;uniqueIndex:idx_user_idem"`
	Kind           TransactionKind   `json:"kind" gorm:"not null"`
	Status         TransactionStatus `json:"status" gorm:"not null;default:'pending';index"`
	// ExternalRef 支付处理商交易号，内部退款为空
	ExternalRef *string `json:"external_ref" gorm:"index"`
}

// Wallet 用户钱包余额
// 余额是唯一真正共享的可变状态，只允许通过 ledger 包的幂等操作修改。
type Wallet struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserRef string `json:"user_ref" gorm:"not null;uniqueIndex"`
	Balance int64  `json:"balance" gorm:"not null;default:0"`
}

// WebhookEvent 收到的webhook审计记录
type WebhookEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Source       string `json:"source" gorm:"not null;index"` // 服务商名或 "payment"
	RawBody      string `json:"raw_body" gorm:"type:text"`
	SignatureOK  bool   `json:"signature_ok"`
	Applied      bool   `json:"applied"`
	FailedReason string `json:"failed_reason"`
}
