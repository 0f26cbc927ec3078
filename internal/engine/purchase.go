package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/svs/internal/logger"
	"github.com/blues/svs/internal/model"
	"github.com/google/uuid"
)

// PurchaseInput 购买请求
// 价格来自目录层（本服务范围之外的协作方），先扣款再向上游下单。
type PurchaseInput struct {
	UserRef      string
	ProviderKind model.ProviderKind
	Service      string
	Country      string
	Price        int64
}

// Purchase 购买一个接码号码。
// 顺序：前置余额检查并扣款 → 上游租号 → 创建 active 记录。
// 上游租号失败时用购买尝试幂等键冲正扣款，用户余额回到原状。
func (e *Engine) Purchase(ctx context.Context, input PurchaseInput) (*model.VerificationRecord, error) {
	if input.Price <= 0 {
		return nil, fmt.Errorf("purchase price must be positive, got %d", input.Price)
	}

	client, err := e.registry.Get(input.ProviderKind)
	if err != nil {
		return nil, err
	}

	attemptKey := "purchase:" + uuid.NewString()
	if err := e.ledger.Debit(input.UserRef, input.Price, attemptKey); err != nil {
		return nil, err
	}

	rental, err := client.Rent(ctx, input.Service, input.Country)
	if err != nil {
		logger.Warn("Rent from %s failed for user %s, reversing debit: %v", input.ProviderKind, input.UserRef, err)
		if _, refundErr := e.ledger.Refund(input.UserRef, input.Price, attemptKey+":reversal"); refundErr != nil {
			// 冲正失败是需要人工介入的账务事故，保留扣款流水便于追查
			logger.Error("Failed to reverse debit %s for user %s: %v", attemptKey, input.UserRef, refundErr)
		}
		return nil, err
	}

	expiresAt := rental.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(15 * time.Minute)
	}
	if rental.Cost > 0 && rental.Cost != input.Price {
		logger.Warn("Provider %s cost %d differs from catalog price %d for service %s",
			input.ProviderKind, rental.Cost, input.Price, input.Service)
	}

	record := &model.VerificationRecord{
		UserRef:      input.UserRef,
		ProviderKind: input.ProviderKind,
		ProviderRef:  rental.ProviderRef,
		Service:      input.Service,
		Country:      input.Country,
		PhoneNumber:  rental.PhoneNumber,
		PricePaid:    input.Price,
		ExpiresAt:    expiresAt,
		State:        model.VerificationStateActive,
	}
	if err := e.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("create verification record: %w", err)
	}

	logger.Info("User %s purchased %s verification %d (provider ref %s) for %d",
		input.UserRef, input.ProviderKind, record.ID, record.ProviderRef, input.Price)
	return record, nil
}
