package task

import (
	"github.com/blues/svs/internal/config"
	"github.com/blues/svs/internal/engine"
	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/logger"
	"github.com/blues/svs/internal/payment"
	"github.com/go-co-op/gocron/v2"
)

// Job 定时任务接口
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	engine    *engine.Engine
	ledger    *ledger.Ledger
	reconcile *payment.Reconciler
	config    *config.Config
}

// NewManager 创建新的任务管理器
func NewManager(eng *engine.Engine, l *ledger.Ledger, rec *payment.Reconciler, cfg *config.Config) *Manager {
	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("Failed to create scheduler: %v", err)
	}

	return &Manager{
		scheduler: s,
		engine:    eng,
		ledger:    l,
		reconcile: rec,
		config:    cfg,
	}
}

// Start 启动任务管理器
func Start(eng *engine.Engine, l *ledger.Ledger, rec *payment.Reconciler, cfg *config.Config) *Manager {
	manager := NewManager(eng, l, rec, cfg)

	// 注册所有任务
	manager.RegisterJobs()

	// 启动调度器
	manager.scheduler.Start()

	logger.Info("Task manager started successfully")
	return manager
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	m.register(NewVerificationPollJob(m.engine, m.config))
	m.register(NewRefundSettleJob(m.engine, m.config))
	m.register(NewDepositReconcileJob(m.ledger, m.reconcile, m.config))
}

// register 注册单个任务
func (m *Manager) register(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}
