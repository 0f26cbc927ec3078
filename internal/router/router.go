package router

import (
	"github.com/blues/svs/internal/config"
	"github.com/blues/svs/internal/engine"
	"github.com/blues/svs/internal/handler"
	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/payment"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func Setup(db *gorm.DB, eng *engine.Engine, l *ledger.Ledger, rec *payment.Reconciler, cfg *config.Config) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "sms-verification-service",
		})
	})

	// 指标
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// webhook入口（处理器内部做签名校验）
	webhookHandler := handler.NewWebhookHandler(eng, rec, db, cfg)
	r.POST("/webhooks/:provider", webhookHandler.ProviderWebhook)
	r.POST("/payment/webhook", webhookHandler.PaymentWebhook)

	// API版本组
	v1 := r.Group("/api/v1")
	{
		// 验证记录相关路由
		verificationHandler := handler.NewVerificationHandler(eng)
		verifications := v1.Group("/verifications")
		{
			verifications.POST("", verificationHandler.Purchase)
			verifications.GET("", verificationHandler.ListRecords)
			verifications.GET("/:id", verificationHandler.GetRecord)
			verifications.POST("/:id/check", verificationHandler.CheckNow)
		}

		// 钱包相关路由
		walletHandler := handler.NewWalletHandler(l, rec)
		wallet := v1.Group("/wallet")
		{
			wallet.GET("/balance", walletHandler.GetBalance)
			wallet.GET("/transactions", walletHandler.ListTransactions)
			wallet.POST("/deposits", walletHandler.InitiateDeposit)
			wallet.POST("/deposits/:reference/verify", walletHandler.VerifyDeposit)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-User-Ref")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
