package task

import (
	"time"

	"github.com/blues/svs/internal/config"
	"github.com/blues/svs/internal/engine"
	"github.com/blues/svs/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

// RefundSettleJob 退款补账任务。
// 记录已转移到 cancelled 但退款落账时账务层瞬态失败的，
// 用同一个幂等键重试，直到 refund_issued 被标记。
type RefundSettleJob struct {
	engine *engine.Engine
	config *config.Config
}

// NewRefundSettleJob 创建退款补账任务
func NewRefundSettleJob(eng *engine.Engine, cfg *config.Config) *RefundSettleJob {
	return &RefundSettleJob{engine: eng, config: cfg}
}

// GetName 获取任务名称
func (j *RefundSettleJob) GetName() string {
	return "refund_settle"
}

// GetSchedule 获取调度配置
func (j *RefundSettleJob) GetSchedule() gocron.JobDefinition {
	interval := j.config.Task.SettleInterval
	if interval <= 0 {
		interval = 30
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

// Execute 执行一轮补账
func (j *RefundSettleJob) Execute() {
	records, err := j.engine.UnsettledCancellations()
	if err != nil {
		logger.Error("Failed to fetch unsettled cancellations: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	logger.Info("Retrying refund settlement for %d cancelled records", len(records))
	for i := range records {
		j.engine.SettleRefund(&records[i])
	}
}
