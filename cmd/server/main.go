package main

import (
	"github.com/blues/svs/internal/config"
	"github.com/blues/svs/internal/database"
	"github.com/blues/svs/internal/engine"
	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/logger"
	"github.com/blues/svs/internal/model"
	"github.com/blues/svs/internal/payment"
	"github.com/blues/svs/internal/provider"
	"github.com/blues/svs/internal/router"
	"github.com/blues/svs/internal/task"
	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志器
	setupLogger(cfg)
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化服务商适配器
	registry := provider.NewRegistry(buildProviders(cfg)...)
	if len(registry.Kinds()) == 0 {
		logger.Warn("No providers enabled, purchases will fail")
	}

	// 账务层与对账引擎
	ledgerStore := ledger.NewLedger(db)
	paymentClient := payment.NewClient(cfg.Payment.BaseURL, cfg.Payment.SecretKey, cfg.Payment.Timeout())
	reconciler := payment.NewReconciler(ledgerStore, paymentClient)
	eng := engine.NewEngine(db, ledgerStore, registry)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(db, eng, ledgerStore, reconciler, cfg)

	// 启动定时任务
	manager := task.Start(eng, ledgerStore, reconciler, cfg)
	defer manager.Stop()

	// 启动服务器
	logger.Info("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

// setupLogger 按配置初始化默认日志器
func setupLogger(cfg *config.Config) {
	level := logger.ParseLogLevel(cfg.Log.Level)

	if cfg.Log.Output == "file" {
		l, err := logger.NewWithRotation(level, logger.RotationConfig{Filename: cfg.Log.File})
		if err != nil {
			logger.Fatal("Failed to initialize file logger: %v", err)
		}
		logger.SetDefaultLogger(l)
		return
	}

	l, err := logger.New(level)
	if err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}
	logger.SetDefaultLogger(l)
}

// buildProviders 按配置构建启用的服务商适配器
func buildProviders(cfg *config.Config) []provider.Client {
	var clients []provider.Client
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		switch model.ProviderKind(name) {
		case model.ProviderKindTextVerified:
			clients = append(clients, provider.NewTextVerifiedClient(pc.BaseURL, pc.APIKey, pc.Timeout()))
		case model.ProviderKindSMSPVA:
			clients = append(clients, provider.NewSMSPVAClient(pc.BaseURL, pc.APIKey, pc.Timeout()))
		default:
			logger.Warn("Unknown provider %q in config, skipping", name)
		}
	}
	return clients
}
