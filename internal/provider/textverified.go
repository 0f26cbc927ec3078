package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blues/svs/internal/model"
)

// TextVerifiedClient TextVerified 服务商适配器
type TextVerifiedClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewTextVerifiedClient 创建 TextVerified 适配器
func NewTextVerifiedClient(baseURL, apiKey string, timeout time.Duration) *TextVerifiedClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TextVerifiedClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Kind 服务商类型
func (c *TextVerifiedClient) Kind() model.ProviderKind {
	return model.ProviderKindTextVerified
}

// rentRequest 租号请求体
type rentRequest struct {
	ServiceName string `json:"serviceName"`
	Country     string `json:"country,omitempty"`
}

// rentResponse 租号响应体
type rentResponse struct {
	ID     string    `json:"id"`
	Number string    `json:"number"`
	Cost   int64     `json:"cost"`
	EndsAt time.Time `json:"endsAt"`
}

// Rent 购买一个接码号码
func (c *TextVerifiedClient) Rent(ctx context.Context, service, country string) (*Rental, error) {
	body, err := json.Marshal(rentRequest{ServiceName: service, Country: country})
	if err != nil {
		return nil, NewPermanent("textverified.rent", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/api/verifications", bytes.NewReader(body), "textverified.rent")
	if err != nil {
		return nil, err
	}

	var resp rentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, NewPermanent("textverified.rent", fmt.Errorf("decode response: %w", err))
	}

	return &Rental{
		ProviderRef: resp.ID,
		PhoneNumber: resp.Number,
		Cost:        resp.Cost,
		ExpiresAt:   resp.EndsAt,
	}, nil
}

// statusResponse 状态响应体
// code 字段历史上有两种形态：纯字符串，或带 href 的对象（需要再取一次）。
type statusResponse struct {
	ID               string          `json:"id"`
	State            string          `json:"state"`
	Code             json.RawMessage `json:"code"`
	SMS              string          `json:"sms"`
	RemainingSeconds int             `json:"remainingSeconds"`
}

// codeLink 结构化 code 对象
type codeLink struct {
	Href  string `json:"href"`
	Value string `json:"value"`
}

// FetchStatus 查询号码当前状态
func (c *TextVerifiedClient) FetchStatus(ctx context.Context, providerRef string) (*Status, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/verifications/"+providerRef, nil, "textverified.status")
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, NewPermanent("textverified.status", fmt.Errorf("decode response: %w", err))
	}

	switch resp.State {
	case "verificationPending":
		return &Status{Kind: StatusPending, RemainingSeconds: resp.RemainingSeconds}, nil
	case "verificationCompleted":
		return c.resolveCode(ctx, &resp)
	case "verificationCanceled":
		return &Status{Kind: StatusTerminated, Reason: ReasonCancelled}, nil
	case "verificationTimedOut":
		return &Status{Kind: StatusTerminated, Reason: ReasonTimedOut}, nil
	case "verificationRefunded":
		return &Status{Kind: StatusTerminated, Reason: ReasonRefunded}, nil
	default:
		return nil, NewPermanent("textverified.status", fmt.Errorf("unknown state: %q", resp.State))
	}
}

// resolveCode 解析 completed 状态的验证码
// 调用方永远看不到中间形态：对象形态的 follow-up 请求在适配器内部完成。
func (c *TextVerifiedClient) resolveCode(ctx context.Context, resp *statusResponse) (*Status, error) {
	if len(resp.Code) > 0 && string(resp.Code) != "null" {
		// 形态一：纯字符串
		var plain string
		if err := json.Unmarshal(resp.Code, &plain); err == nil && plain != "" {
			return &Status{Kind: StatusReceived, Code: plain, Message: resp.SMS}, nil
		}

		// 形态二：带 href 的对象，需要再取一次
		var link codeLink
		if err := json.Unmarshal(resp.Code, &link); err == nil {
			if link.Value != "" {
				return &Status{Kind: StatusReceived, Code: link.Value, Message: resp.SMS}, nil
			}
			if link.Href != "" {
				return c.followCodeLink(ctx, link.Href, resp.SMS)
			}
		}
	}

	// 无结构化验证码，从消息文本提取
	if code, ok := ExtractCode(resp.SMS); ok {
		return &Status{Kind: StatusReceived, Code: code, Message: resp.SMS, CodeHeuristic: true}, nil
	}
	return &Status{Kind: StatusReceived, Message: resp.SMS, CodeHeuristic: true}, nil
}

// followCodeLink 跟随 code 对象中的链接取回验证码
func (c *TextVerifiedClient) followCodeLink(ctx context.Context, href, sms string) (*Status, error) {
	data, err := c.do(ctx, http.MethodGet, href, nil, "textverified.code")
	if err != nil {
		return nil, err
	}

	var link codeLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, NewPermanent("textverified.code", fmt.Errorf("decode response: %w", err))
	}
	if link.Value == "" {
		if code, ok := ExtractCode(sms); ok {
			return &Status{Kind: StatusReceived, Code: code, Message: sms, CodeHeuristic: true}, nil
		}
		return nil, NewPermanent("textverified.code", fmt.Errorf("empty code value"))
	}
	return &Status{Kind: StatusReceived, Code: link.Value, Message: sms}, nil
}

// Cancel 尽力而为地取消号码
func (c *TextVerifiedClient) Cancel(ctx context.Context, providerRef string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/verifications/"+providerRef+"/cancel", nil, "textverified.cancel")
	return err
}

// do 发送请求并按可重试性分类错误
func (c *TextVerifiedClient) do(ctx context.Context, method, path string, body io.Reader, op string) ([]byte, error) {
	url := path
	if len(path) > 0 && path[0] == '/' {
		url = c.baseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, NewPermanent(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 网络错误和超时按可重试处理
		return nil, NewTransient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient(op, err)
	}

	return data, classifyHTTP(op, resp.StatusCode)
}

// classifyHTTP 按HTTP状态码分类：5xx可重试，4xx为上游确定性失败
func classifyHTTP(op string, statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode >= 500:
		return NewTransient(op, fmt.Errorf("upstream returned %d", statusCode))
	default:
		return NewPermanent(op, fmt.Errorf("upstream returned %d", statusCode))
	}
}
