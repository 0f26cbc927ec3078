package model

import (
	"fmt"
	"time"
)

// VerificationState 验证记录生命周期状态
type VerificationState string

const (
	VerificationStateActive    VerificationState = "active"    // 等待验证码
	VerificationStateCompleted VerificationState = "completed" // 已收到验证码（终态）
	VerificationStateCancelled VerificationState = "cancelled" // 已取消/超时（终态）
)

// IsTerminal 是否为终态
func (s VerificationState) IsTerminal() bool {
	return s == VerificationStateCompleted || s == VerificationStateCancelled
}

// ProviderKind 上游短信接码服务商类型
type ProviderKind string

const (
	ProviderKindTextVerified ProviderKind = "textverified"
	ProviderKindSMSPVA       ProviderKind = "smspva"
)

// VerificationRecord 验证记录（一次租用的接码号码）
// 终态之后不再发生任何状态转移；记录永不删除，保留退款审计历史。
type VerificationRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserRef      string       `json:"user_ref" gorm:"not null;index"`
	ProviderKind ProviderKind `json:"provider_kind" gorm:"not null;index:idx_provider_ref"`
	// ProviderRef 上游ID，必须与 ProviderKind 一起存储，禁止根据格式反推服务商
	ProviderRef string `json:"provider_ref" gorm:"not null;index:idx_provider_ref"`

	Service     string `json:"service" gorm:"not null"`
	Country     string `json:"country"`
	PhoneNumber string `json:"phone_number"`

	PricePaid int64     `json:"price_paid" gorm:"not null"` // 最小货币单位，创建后不可变
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`

	State      VerificationState `json:"state" gorm:"not null;default:'active';index"`
	Code       *string           `json:"code"`
	RawMessage *string           `json:"raw_message"`
	// Degraded 验证码来自消息文本的启发式提取，而非结构化字段
	Degraded bool `json:"degraded" gorm:"default:false"`

	// RefundIssued 区分"已转移到cancelled"与"退款已落账"两个阶段
	RefundIssued bool `json:"refund_issued" gorm:"default:false"`
}

// RefundIdempotencyKey 退款幂等键：记录ID加固定后缀，
// 保证轮询与webhook各自观察到终止信号时也只退一次款。
func (r *VerificationRecord) RefundIdempotencyKey() string {
	return RefundKeyForRecord(r.ID)
}

// RefundKeyForRecord 按记录ID生成退款幂等键
func RefundKeyForRecord(id uint) string {
	return fmt.Sprintf("verification:%d:refund", id)
}
