package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/payment"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler 钱包处理器
type WalletHandler struct {
	ledger    *ledger.Ledger
	reconcile *payment.Reconciler
}

// NewWalletHandler 创建钱包处理器
func NewWalletHandler(l *ledger.Ledger, rec *payment.Reconciler) *WalletHandler {
	return &WalletHandler{ledger: l, reconcile: rec}
}

// GetBalance 查询余额
func (h *WalletHandler) GetBalance(c *gin.Context) {
	ref, ok := userRef(c)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(ref)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"user_ref": ref, "balance": balance}})
}

// ListTransactions 分页查询流水
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	ref, ok := userRef(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	txns, total, err := h.ledger.Transactions(ref, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success:    true,
		Data:       txns,
		Pagination: newPagination(page, pageSize, total),
	})
}

// InitiateDeposit 发起充值，创建 pending 流水等待结算
func (h *WalletHandler) InitiateDeposit(c *gin.Context) {
	ref, ok := userRef(c)
	if !ok {
		return
	}

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Message: err.Error()})
		return
	}

	reference := req.Reference
	if reference == "" {
		reference = "dep-" + uuid.NewString()
	}

	txn, err := h.ledger.InitiateDeposit(ref, req.Amount, reference)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: txn})
}

// VerifyDeposit 用户触发的充值查证。与支付webhook走同一条
// 先重读后结算的路径，双方并发到达也只入账一次。
func (h *WalletHandler) VerifyDeposit(c *gin.Context) {
	if _, ok := userRef(c); !ok {
		return
	}

	reference := c.Param("reference")
	if reference == "" {
		c.JSON(http.StatusBadRequest, Response{Message: "缺少交易号"})
		return
	}

	status, err := h.reconcile.ResolveDeposit(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, Response{Message: "充值记录不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, Response{Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"reference": reference, "status": status}})
}
