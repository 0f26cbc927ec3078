package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/blues/svs/internal/model"
)

// SMSPVAClient SMSPVA 服务商适配器
// 该上游只返回自由文本短信，验证码靠数字提取。
type SMSPVAClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSMSPVAClient 创建 SMSPVA 适配器
func NewSMSPVAClient(baseURL, apiKey string, timeout time.Duration) *SMSPVAClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SMSPVAClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Kind 服务商类型
func (c *SMSPVAClient) Kind() model.ProviderKind {
	return model.ProviderKindSMSPVA
}

// smspvaResponse 上游通用响应
// response: "1"=有结果 "2"=等待中 "3"=已结束；部分接口用 status 字段表达同样语义。
type smspvaResponse struct {
	Response string          `json:"response"`
	Status   string          `json:"status"`
	ID       json.RawMessage `json:"id"` // 历史上既有数字也有字符串
	Number   string          `json:"number"`
	Cost     float64         `json:"cost"`
	SMS      string          `json:"sms"`
	Code     string          `json:"code"`
	Time     int             `json:"time"` // 剩余秒数
}

// refString 兼容数字与字符串两种ID形态
func (r *smspvaResponse) refString() string {
	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(r.ID, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return string(r.ID)
}

// Rent 购买一个接码号码
func (c *SMSPVAClient) Rent(ctx context.Context, service, country string) (*Rental, error) {
	q := url.Values{}
	q.Set("metod", "get_number")
	q.Set("service", service)
	q.Set("country", country)

	resp, err := c.call(ctx, q, "smspva.rent")
	if err != nil {
		return nil, err
	}
	if resp.Response != "1" {
		return nil, NewPermanent("smspva.rent", fmt.Errorf("no number available: response=%s", resp.Response))
	}

	return &Rental{
		ProviderRef: resp.refString(),
		PhoneNumber: resp.Number,
		// 上游以货币单位报价，四舍五入到最小货币单位
		Cost:      int64(math.Round(resp.Cost * 100)),
		ExpiresAt: time.Now().Add(time.Duration(resp.Time) * time.Second),
	}, nil
}

// FetchStatus 查询号码当前状态
func (c *SMSPVAClient) FetchStatus(ctx context.Context, providerRef string) (*Status, error) {
	q := url.Values{}
	q.Set("metod", "get_sms")
	q.Set("id", providerRef)

	resp, err := c.call(ctx, q, "smspva.status")
	if err != nil {
		return nil, err
	}

	switch resp.Response {
	case "2":
		return &Status{Kind: StatusPending, RemainingSeconds: resp.Time}, nil
	case "1":
		// 优先结构化验证码字段，否则从短信文本提取
		if resp.Code != "" {
			return &Status{Kind: StatusReceived, Code: resp.Code, Message: resp.SMS}, nil
		}
		if code, ok := ExtractCode(resp.SMS); ok {
			return &Status{Kind: StatusReceived, Code: code, Message: resp.SMS, CodeHeuristic: true}, nil
		}
		return &Status{Kind: StatusReceived, Message: resp.SMS, CodeHeuristic: true}, nil
	case "3":
		return &Status{Kind: StatusTerminated, Reason: ReasonTimedOut}, nil
	default:
		if resp.Status == "cancel" || resp.Status == "ban" {
			return &Status{Kind: StatusTerminated, Reason: ReasonCancelled}, nil
		}
		return nil, NewPermanent("smspva.status", fmt.Errorf("unknown response: %q", resp.Response))
	}
}

// Cancel 尽力而为地取消号码
func (c *SMSPVAClient) Cancel(ctx context.Context, providerRef string) error {
	q := url.Values{}
	q.Set("metod", "denial")
	q.Set("id", providerRef)

	_, err := c.call(ctx, q, "smspva.cancel")
	return err
}

// call 发送请求并按可重试性分类错误
func (c *SMSPVAClient) call(ctx context.Context, q url.Values, op string) (*smspvaResponse, error) {
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/priemnik.php?"+q.Encode(), nil)
	if err != nil {
		return nil, NewPermanent(op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewTransient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient(op, err)
	}
	if err := classifyHTTP(op, resp.StatusCode); err != nil {
		return nil, err
	}

	var parsed smspvaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, NewPermanent(op, fmt.Errorf("decode response: %w", err))
	}
	return &parsed, nil
}
