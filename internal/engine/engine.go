package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/logger"
	"github.com/blues/svs/internal/metrics"
	"github.com/blues/svs/internal/model"
	"github.com/blues/svs/internal/provider"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound 验证记录不存在
	ErrRecordNotFound = errors.New("verification record not found")
)

// Engine 验证记录对账引擎。
// 轮询与webhook两条独立通道的状态信号都汇入 Apply；每条记录的状态转移
// 通过带前置状态条件的UPDATE线性化，信号重复、乱序、跨通道到达都安全。
type Engine struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	registry *provider.Registry
	checks   singleflight.Group
}

// NewEngine 创建对账引擎
func NewEngine(db *gorm.DB, l *ledger.Ledger, registry *provider.Registry) *Engine {
	return &Engine{db: db, ledger: l, registry: registry}
}

// GetRecord 按内部ID查询验证记录
func (e *Engine) GetRecord(id uint) (*model.VerificationRecord, error) {
	var record model.VerificationRecord
	if err := e.db.First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("load verification record: %w", err)
	}
	return &record, nil
}

// ListRecords 分页查询用户的验证记录
func (e *Engine) ListRecords(userRef string, page, pageSize int) ([]model.VerificationRecord, int64, error) {
	var records []model.VerificationRecord
	var total int64

	if err := e.db.Model(&model.VerificationRecord{}).Where("user_ref = ?", userRef).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count verification records: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := e.db.Where("user_ref = ?", userRef).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("list verification records: %w", err)
	}
	return records, total, nil
}

// FindRecordByReference 按上游引用解析验证记录。
// 历史上webhook里的引用既有裸ID也有带服务商前缀的ID，两种编码都尝试。
func (e *Engine) FindRecordByReference(kind model.ProviderKind, ref string) (*model.VerificationRecord, error) {
	candidates := []string{ref}
	if stripped, ok := strings.CutPrefix(ref, string(kind)+"-"); ok {
		candidates = append(candidates, stripped)
	} else {
		candidates = append(candidates, string(kind)+"-"+ref)
	}

	for _, candidate := range candidates {
		var record model.VerificationRecord
		err := e.db.Where("provider_kind = ? AND provider_ref = ?", kind, candidate).First(&record).Error
		if err == nil {
			return &record, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lookup record by reference: %w", err)
		}
	}
	return nil, ErrRecordNotFound
}

// ActiveRecords 查询所有仍在等待验证码的记录
func (e *Engine) ActiveRecords() ([]model.VerificationRecord, error) {
	var records []model.VerificationRecord
	if err := e.db.Where("state = ?", model.VerificationStateActive).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}
	return records, nil
}

// UnsettledCancellations 查询已取消但退款尚未落账的记录
func (e *Engine) UnsettledCancellations() ([]model.VerificationRecord, error) {
	var records []model.VerificationRecord
	err := e.db.Where("state = ? AND refund_issued = ?", model.VerificationStateCancelled, false).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list unsettled cancellations: %w", err)
	}
	return records, nil
}

// Apply 将一个归一化状态信号作用到记录上。
// 所有转移都以"当前状态仍为active"作为UPDATE条件：条件不满足说明记录
// 已被另一条通道推进到终态，信号丢弃并记录日志，不是错误。
func (e *Engine) Apply(ctx context.Context, record *model.VerificationRecord, status *provider.Status) error {
	switch status.Kind {
	case provider.StatusPending:
		return e.applyPending(record, status)
	case provider.StatusReceived:
		return e.applyReceived(record, status)
	case provider.StatusTerminated:
		return e.applyTerminated(record, status.Reason)
	default:
		return fmt.Errorf("unknown status kind: %s", status.Kind)
	}
}

// applyPending 按上游剩余时间延长过期时间。
// 只延长不缩短：UPDATE条件里带 expires_at 比较，旧读不会收窄窗口。
func (e *Engine) applyPending(record *model.VerificationRecord, status *provider.Status) error {
	if status.RemainingSeconds <= 0 {
		return nil
	}
	newExpiry := time.Now().Add(time.Duration(status.RemainingSeconds) * time.Second)

	res := e.db.Model(&model.VerificationRecord{}).
		Where("id = ? AND state = ? AND expires_at < ?", record.ID, model.VerificationStateActive, newExpiry).
		Update("expires_at", newExpiry)
	if res.Error != nil {
		return fmt.Errorf("extend expiry for record %d: %w", record.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		metrics.SignalsApplied.WithLabelValues("extended").Inc()
		logger.Debug("Extended expiry for record %d to %s", record.ID, newExpiry.Format(time.RFC3339))
	}
	return nil
}

// applyReceived 记录验证码并转移到 completed。无账务副作用：购买时已付费。
func (e *Engine) applyReceived(record *model.VerificationRecord, status *provider.Status) error {
	updates := map[string]interface{}{
		"state":       model.VerificationStateCompleted,
		"raw_message": status.Message,
		"degraded":    status.CodeHeuristic || status.Code == "",
	}
	// 提取不到验证码时 code 保持 NULL
	if status.Code != "" {
		updates["code"] = status.Code
	}

	res := e.db.Model(&model.VerificationRecord{}).
		Where("id = ? AND state = ?", record.ID, model.VerificationStateActive).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("complete record %d: %w", record.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.SignalsApplied.WithLabelValues("dropped_terminal").Inc()
		logger.Info("Record %d already terminal, received signal dropped", record.ID)
		return nil
	}

	metrics.SignalsApplied.WithLabelValues("completed").Inc()
	if status.CodeHeuristic || status.Code == "" {
		logger.Warn("Record %d completed in degraded mode: code=%q extracted from message text", record.ID, status.Code)
	} else {
		logger.Info("Record %d completed with code", record.ID)
	}
	return nil
}

// applyTerminated 转移到 cancelled 并发起恰好一次退款。
// CAS赢家负责退款；退款幂等键绑定记录ID，即便两条通道同时观察到终止，
// 账上也只会出现一条退款流水。
func (e *Engine) applyTerminated(record *model.VerificationRecord, reason provider.TerminationReason) error {
	res := e.db.Model(&model.VerificationRecord{}).
		Where("id = ? AND state = ?", record.ID, model.VerificationStateActive).
		Update("state", model.VerificationStateCancelled)
	if res.Error != nil {
		return fmt.Errorf("cancel record %d: %w", record.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		metrics.SignalsApplied.WithLabelValues("dropped_terminal").Inc()
		logger.Info("Record %d already terminal, terminated(%s) signal dropped", record.ID, reason)
		return nil
	}

	metrics.SignalsApplied.WithLabelValues("cancelled").Inc()
	logger.Info("Record %d cancelled (reason: %s), issuing refund of %d", record.ID, reason, record.PricePaid)
	e.settleRefund(record.ID, record.UserRef, record.PricePaid)
	return nil
}

// settleRefund 向账务层落账退款并标记 refund_issued。
// 失败时记录保持 cancelled + refund_issued=false，由重试任务用同一幂等键补账；
// 账务层报告键已存在视为成功。
func (e *Engine) settleRefund(recordID uint, userRef string, amount int64) {
	result, err := e.ledger.Refund(userRef, amount, model.RefundKeyForRecord(recordID))
	if err != nil {
		logger.Error("Refund for record %d failed, will retry on next sweep: %v", recordID, err)
		return
	}
	if result == ledger.CreditAlreadyApplied {
		logger.Info("Refund for record %d already applied", recordID)
	} else {
		metrics.RefundsIssued.Inc()
	}

	err = e.db.Model(&model.VerificationRecord{}).
		Where("id = ?", recordID).
		Update("refund_issued", true).Error
	if err != nil {
		// 退款已落账且幂等，标记失败只会让重试任务多跑一次空转
		logger.Error("Failed to mark refund issued for record %d: %v", recordID, err)
	}
}

// SettleRefund 为已取消但未落账的记录重试退款（重试任务入口）
func (e *Engine) SettleRefund(record *model.VerificationRecord) {
	if record.State != model.VerificationStateCancelled || record.RefundIssued {
		return
	}
	e.settleRefund(record.ID, record.UserRef, record.PricePaid)
}

// Expire 处理过期记录：尽力而为地通知上游取消，然后走与显式终止
// 完全相同的取消+退款路径。记录绝不会永远停留在 active。
func (e *Engine) Expire(ctx context.Context, record *model.VerificationRecord) error {
	client, err := e.registry.Get(record.ProviderKind)
	if err == nil {
		// 上游取消不阻塞本地转移
		go func(kind model.ProviderKind, ref string) {
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Cancel(cancelCtx, ref); err != nil {
				logger.Debug("Best-effort cancel for %s/%s failed: %v", kind, ref, err)
			}
		}(record.ProviderKind, record.ProviderRef)
	}

	return e.applyTerminated(record, provider.ReasonTimedOut)
}

// CheckRecord 主动核对一条记录：过期走自愈路径，否则向上游拉取状态并作用。
// 瞬态上游错误吞掉等下一轮；确定性错误先重查确认一次，仍失败按上游已取消处理。
func (e *Engine) CheckRecord(ctx context.Context, record *model.VerificationRecord) error {
	if record.State.IsTerminal() {
		return nil
	}
	if time.Now().After(record.ExpiresAt) {
		return e.Expire(ctx, record)
	}

	client, err := e.registry.Get(record.ProviderKind)
	if err != nil {
		return err
	}

	status, err := client.FetchStatus(ctx, record.ProviderRef)
	if err != nil {
		if provider.IsTransient(err) {
			logger.Debug("Transient provider error for record %d, retrying next sweep: %v", record.ID, err)
			return nil
		}
		// 确定性失败再确认一次，避免单次4xx误杀
		status, err = client.FetchStatus(ctx, record.ProviderRef)
		if err != nil {
			if provider.IsTransient(err) {
				return nil
			}
			logger.Warn("Provider reports record %d permanently gone, cancelling: %v", record.ID, err)
			return e.applyTerminated(record, provider.ReasonCancelled)
		}
	}

	return e.Apply(ctx, record, status)
}

// CheckNow 用户触发的立即核对。同一条记录的并发请求通过 singleflight
// 合并为一次上游调用，返回核对后的最新记录。
func (e *Engine) CheckNow(ctx context.Context, recordID uint) (*model.VerificationRecord, error) {
	key := fmt.Sprintf("check:%d", recordID)
	_, err, _ := e.checks.Do(key, func() (interface{}, error) {
		record, err := e.GetRecord(recordID)
		if err != nil {
			return nil, err
		}
		return nil, e.CheckRecord(ctx, record)
	})
	if err != nil {
		return nil, err
	}
	return e.GetRecord(recordID)
}
