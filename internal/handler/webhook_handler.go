package handler

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blues/svs/internal/config"
	"github.com/blues/svs/internal/engine"
	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/logger"
	"github.com/blues/svs/internal/metrics"
	"github.com/blues/svs/internal/model"
	"github.com/blues/svs/internal/payment"
	"github.com/blues/svs/internal/provider"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// WebhookHandler webhook接收器。
// 签名覆盖的是收到的原始字节：必须在任何解析之前取出请求体原文，
// 重新序列化会改变字节布局导致校验失败。
// 签名失败时仍然返回200（确认收到），但丢弃内容不做任何变更，
// 防止上游重试风暴的同时不信任未验证的载荷。
type WebhookHandler struct {
	engine    *engine.Engine
	reconcile *payment.Reconciler
	db        *gorm.DB
	config    *config.Config
}

// NewWebhookHandler 创建webhook接收器
func NewWebhookHandler(eng *engine.Engine, rec *payment.Reconciler, db *gorm.DB, cfg *config.Config) *WebhookHandler {
	return &WebhookHandler{engine: eng, reconcile: rec, db: db, config: cfg}
}

// verifySignature 对原始字节做 HMAC-SHA512 并按配置的编码比较
func verifySignature(secret string, body []byte, signature, encoding string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	var expected string
	if encoding == "base64" {
		expected = base64.StdEncoding.EncodeToString(sum)
	} else {
		expected = hex.EncodeToString(sum)
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// audit 落一条webhook审计记录
func (h *WebhookHandler) audit(source string, body []byte, signatureOK, applied bool, reason string) {
	event := &model.WebhookEvent{
		Source:       source,
		RawBody:      string(body),
		SignatureOK:  signatureOK,
		Applied:      applied,
		FailedReason: reason,
	}
	if err := h.db.Create(event).Error; err != nil {
		logger.Error("Failed to persist webhook event from %s: %v", source, err)
	}
}

// ProviderWebhook 接收服务商推送 POST /webhooks/:provider
func (h *WebhookHandler) ProviderWebhook(c *gin.Context) {
	kind := model.ProviderKind(c.Param("provider"))
	cfg, ok := h.config.Providers[string(kind)]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "未知的服务商"})
		return
	}

	// 解析之前先取原始字节，签名校验依赖逐字节一致
	body, err := c.GetRawData()
	if err != nil {
		logger.Error("Failed to read webhook body from %s: %v", kind, err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	signature := c.GetHeader("X-Signature")
	if !verifySignature(cfg.WebhookSecret, body, signature, cfg.SignatureEncoding) {
		metrics.WebhooksRejected.Inc()
		logger.Warn("Invalid webhook signature from %s, payload discarded", kind)
		h.audit(string(kind), body, false, false, "invalid signature")
		// 确认收到但不信任内容
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	payload, err := provider.ParseWebhook(body)
	if err != nil {
		logger.Warn("Malformed webhook payload from %s: %v", kind, err)
		h.audit(string(kind), body, true, false, err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	status, err := provider.TranslateWebhook(kind, payload)
	if err != nil {
		logger.Warn("Untranslatable webhook from %s: %v", kind, err)
		h.audit(string(kind), body, true, false, err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	record, err := h.engine.FindRecordByReference(kind, payload.ID)
	if err != nil {
		logger.Warn("Webhook from %s references unknown record %q: %v", kind, payload.ID, err)
		h.audit(string(kind), body, true, false, "record not found")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	if err := h.engine.Apply(c.Request.Context(), record, status); err != nil {
		logger.Error("Failed to apply webhook signal for record %d: %v", record.ID, err)
		h.audit(string(kind), body, true, false, err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	h.audit(string(kind), body, true, true, "")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PaymentWebhook 接收支付处理商推送 POST /payment/webhook
// 载荷里的 success 只作为触发：实际结算仍走先重读、再向处理商查证的路径。
func (h *WebhookHandler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		logger.Error("Failed to read payment webhook body: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	signature := c.GetHeader("X-Payment-Signature")
	if !verifySignature(h.config.Payment.WebhookSecret, body, signature, "hex") {
		metrics.WebhooksRejected.Inc()
		logger.Warn("Invalid payment webhook signature, payload discarded")
		h.audit("payment", body, false, false, "invalid signature")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	var payload paymentWebhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn("Malformed payment webhook payload: %v", err)
		h.audit("payment", body, true, false, err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	reference := payload.Data.Reference
	if reference == "" {
		reference = payload.Data.TxRef
	}
	if reference == "" {
		h.audit("payment", body, true, false, "missing reference")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	status, err := h.reconcile.ResolveDeposit(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			logger.Warn("Payment webhook references unknown deposit %s", reference)
			h.audit("payment", body, true, false, "deposit not found")
		} else {
			logger.Error("Failed to resolve deposit %s from webhook: %v", reference, err)
			h.audit("payment", body, true, false, err.Error())
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	h.audit("payment", body, true, true, "")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "deposit_status": status})
}
