package handler

// Response 统一API响应结构
type Response struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// Pagination 分页信息
type Pagination struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
}

// newPagination 计算总页数
func newPagination(page, pageSize int, total int64) *Pagination {
	return &Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
}

// PurchaseRequest 购买接码号码请求
// 价格由目录层给出，目录本身不在本服务范围内
type PurchaseRequest struct {
	Provider string `json:"provider" binding:"required"`
	Service  string `json:"service" binding:"required"`
	Country  string `json:"country"`
	Price    int64  `json:"price" binding:"required,gt=0"`
}

// DepositRequest 发起充值请求
type DepositRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
	// Reference 支付处理商的交易号；为空时由服务端生成
	Reference string `json:"reference"`
}

// paymentWebhookBody 支付处理商webhook请求体
type paymentWebhookBody struct {
	Event string `json:"event"`
	Data  struct {
		Reference     string `json:"reference"`
		TxRef         string `json:"tx_ref"`
		Amount        int64  `json:"amount"`
		AccountNumber string `json:"account_number"`
	} `json:"data"`
}
