package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/blues/svs/internal/engine"
	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/model"
	"github.com/blues/svs/internal/provider"
	"github.com/gin-gonic/gin"
)

// VerificationHandler 验证记录处理器
type VerificationHandler struct {
	engine *engine.Engine
}

// NewVerificationHandler 创建验证记录处理器
func NewVerificationHandler(eng *engine.Engine) *VerificationHandler {
	return &VerificationHandler{engine: eng}
}

// userRef 从请求头取用户标识。
// 鉴权属于被排除的外层，网关注入该头部。
func userRef(c *gin.Context) (string, bool) {
	ref := c.GetHeader("X-User-Ref")
	if ref == "" {
		c.JSON(http.StatusBadRequest, Response{Message: "缺少用户标识"})
		return "", false
	}
	return ref, true
}

// Purchase 购买接码号码
func (h *VerificationHandler) Purchase(c *gin.Context) {
	ref, ok := userRef(c)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: err.Error()})
		return
	}

	record, err := h.engine.Purchase(c.Request.Context(), engine.PurchaseInput{
		UserRef:      ref,
		ProviderKind: model.ProviderKind(req.Provider),
		Service:      req.Service,
		Country:      req.Country,
		Price:        req.Price,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			c.JSON(http.StatusPaymentRequired, Response{Message: "余额不足"})
			return
		}
		if provider.IsPermanent(err) {
			c.JSON(http.StatusBadGateway, Response{Message: "服务商暂无可用号码"})
			return
		}
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: record})
}

// GetRecord 查询单条验证记录
func (h *VerificationHandler) GetRecord(c *gin.Context) {
	ref, ok := userRef(c)
	if !ok {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: "无效的记录ID"})
		return
	}

	record, err := h.engine.GetRecord(uint(id))
	if err != nil {
		if errors.Is(err, engine.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, Response{Message: "记录不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}
	if record.UserRef != ref {
		c.JSON(http.StatusNotFound, Response{Message: "记录不存在"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: record})
}

// CheckNow 用户触发的立即核对
func (h *VerificationHandler) CheckNow(c *gin.Context) {
	ref, ok := userRef(c)
	if !ok {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: "无效的记录ID"})
		return
	}

	record, err := h.engine.GetRecord(uint(id))
	if err != nil {
		if errors.Is(err, engine.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, Response{Message: "记录不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}
	if record.UserRef != ref {
		c.JSON(http.StatusNotFound, Response{Message: "记录不存在"})
		return
	}

	refreshed, err := h.engine.CheckNow(c.Request.Context(), uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: refreshed})
}

// ListRecords 分页查询用户的验证记录
func (h *VerificationHandler) ListRecords(c *gin.Context) {
	ref, ok := userRef(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	records, total, err := h.engine.ListRecords(ref, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success:    true,
		Data:       records,
		Pagination: newPagination(page, pageSize, total),
	})
}
