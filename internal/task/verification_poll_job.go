package task

import (
	"context"
	"sync"
	"time"

	"github.com/blues/svs/internal/config"
	"github.com/blues/svs/internal/engine"
	"github.com/blues/svs/internal/logger"
	"github.com/go-co-op/gocron/v2"
	"github.com/panjf2000/ants/v2"
)

// VerificationPollJob 验证记录轮询任务。
// 对所有 active 记录向上游拉取状态：各记录的检查相互独立并发执行，
// 慢的服务商不会拖住整批；单条记录的转移由引擎的CAS串行化。
type VerificationPollJob struct {
	engine *engine.Engine
	config *config.Config
}

// NewVerificationPollJob 创建验证记录轮询任务
func NewVerificationPollJob(eng *engine.Engine, cfg *config.Config) *VerificationPollJob {
	return &VerificationPollJob{engine: eng, config: cfg}
}

// GetName 获取任务名称
func (j *VerificationPollJob) GetName() string {
	return "verification_poll"
}

// GetSchedule 获取调度配置
func (j *VerificationPollJob) GetSchedule() gocron.JobDefinition {
	interval := j.config.Task.PollInterval
	if interval <= 0 {
		interval = 5
	}
	return gocron.DurationJob(time.Duration(interval) * time.Second)
}

// Execute 执行一轮轮询
func (j *VerificationPollJob) Execute() {
	records, err := j.engine.ActiveRecords()
	if err != nil {
		logger.Error("Failed to fetch active records: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	logger.Debug("Polling %d active verification records", len(records))

	poolSize := len(records)
	if poolSize > 32 {
		poolSize = 32
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		logger.Error("Failed to create poll worker pool: %v", err)
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range records {
		record := records[i]
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := j.engine.CheckRecord(ctx, &record); err != nil {
				logger.Error("Failed to check record %d: %v", record.ID, err)
			}
		})
		if err != nil {
			wg.Done()
			logger.Error("Failed to submit check for record %d: %v", record.ID, err)
		}
	}
	wg.Wait()
}
