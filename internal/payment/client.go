package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VerifyState 处理商侧的交易状态
type VerifyState string

const (
	VerifyStateSuccessful VerifyState = "successful"
	VerifyStateFailed     VerifyState = "failed"
	VerifyStatePending    VerifyState = "pending"
)

// VerifyResult 向处理商查证一笔交易的结果
type VerifyResult struct {
	Reference string
	State     VerifyState
	Amount    int64
}

// Verifier 支付处理商查证接口
type Verifier interface {
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

// Client 支付处理商HTTP客户端
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient 创建支付处理商客户端
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// verifyResponse 处理商查证响应
type verifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		Reference string `json:"reference"`
		TxRef     string `json:"tx_ref"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}

// Verify 向处理商查证交易状态
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	url := c.baseURL + "/transaction/verify/" + reference
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("processor returned %d for reference %s", resp.StatusCode, reference)
	}

	var parsed verifyResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	ref := parsed.Data.Reference
	if ref == "" {
		ref = parsed.Data.TxRef
	}

	result := &VerifyResult{Reference: ref, Amount: parsed.Data.Amount}
	// 只有处理商明确的 success/failed 才触发结算，其余一律视为仍在处理
	switch parsed.Data.Status {
	case "success", "successful":
		result.State = VerifyStateSuccessful
	case "failed", "cancelled", "abandoned":
		result.State = VerifyStateFailed
	default:
		result.State = VerifyStatePending
	}
	return result, nil
}
