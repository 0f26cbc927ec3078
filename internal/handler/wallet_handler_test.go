package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blues/svs/internal/database"
	"github.com/blues/svs/internal/ledger"
	"github.com/blues/svs/internal/model"
	"github.com/blues/svs/internal/payment"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupWallet(t *testing.T) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	l := ledger.NewLedger(db)
	h := NewWalletHandler(l, payment.NewReconciler(l, stubVerifier{}))

	r := gin.New()
	r.GET("/api/v1/wallet/balance", h.GetBalance)
	r.GET("/api/v1/wallet/transactions", h.ListTransactions)
	return r, l
}

func walletGet(r *gin.Engine, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-User-Ref", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetBalanceEnvelope(t *testing.T) {
	r, l := setupWallet(t)

	_, err := l.Credit("user-1", 500, "topup", model.TransactionKindDeposit, nil)
	require.NoError(t, err)

	w := walletGet(r, "/api/v1/wallet/balance", "user-1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			UserRef string `json:"user_ref"`
			Balance int64  `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "user-1", resp.Data.UserRef)
	require.Equal(t, int64(500), resp.Data.Balance)
}

func TestListTransactionsPagination(t *testing.T) {
	r, l := setupWallet(t)

	for i := 0; i < 5; i++ {
		_, err := l.Credit("user-1", 100, fmt.Sprintf("topup-%d", i), model.TransactionKindDeposit, nil)
		require.NoError(t, err)
	}

	w := walletGet(r, "/api/v1/wallet/transactions?page=1&page_size=2", "user-1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success    bool                      `json:"success"`
		Data       []model.LedgerTransaction `json:"data"`
		Pagination Pagination                `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Len(t, resp.Data, 2)
	require.Equal(t, 1, resp.Pagination.Page)
	require.Equal(t, 2, resp.Pagination.PageSize)
	require.Equal(t, int64(5), resp.Pagination.Total)
	require.Equal(t, int64(3), resp.Pagination.TotalPage)
}

func TestMissingUserRefRejected(t *testing.T) {
	r, _ := setupWallet(t)

	w := walletGet(r, "/api/v1/wallet/balance", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "缺少用户标识", resp.Message)
}
