package provider

import (
	"encoding/json"
	"fmt"

	"github.com/blues/svs/internal/model"
)

// WebhookPayload 服务商webhook的通用载荷
// 各家至少携带 {id, status, code?, sms?}
type WebhookPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Code   string `json:"code"`
	SMS    string `json:"sms"`
	// Time 剩余秒数，部分服务商在 pending 推送中携带
	Time int `json:"time"`
}

// ParseWebhook 解析webhook载荷。ID兼容数字与字符串两种形态。
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var raw struct {
		ID     json.RawMessage `json:"id"`
		Status string          `json:"status"`
		Code   string          `json:"code"`
		SMS    string          `json:"sms"`
		Time   int             `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	payload := &WebhookPayload{Status: raw.Status, Code: raw.Code, SMS: raw.SMS, Time: raw.Time}
	if len(raw.ID) > 0 {
		var s string
		if err := json.Unmarshal(raw.ID, &s); err == nil {
			payload.ID = s
		} else {
			payload.ID = string(raw.ID)
		}
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("webhook payload missing id")
	}
	return payload, nil
}

// TranslateWebhook 将webhook载荷归一化为状态信号，与主动拉取走同一个变体类型。
// 状态字符串因服务商而异，这里按各家历史上出现过的取值映射。
func TranslateWebhook(kind model.ProviderKind, payload *WebhookPayload) (*Status, error) {
	switch payload.Status {
	case "pending", "verificationPending", "waiting":
		return &Status{Kind: StatusPending, RemainingSeconds: payload.Time}, nil
	case "received", "completed", "verificationCompleted", "success":
		if payload.Code != "" {
			return &Status{Kind: StatusReceived, Code: payload.Code, Message: payload.SMS}, nil
		}
		if code, ok := ExtractCode(payload.SMS); ok {
			return &Status{Kind: StatusReceived, Code: code, Message: payload.SMS, CodeHeuristic: true}, nil
		}
		return &Status{Kind: StatusReceived, Message: payload.SMS, CodeHeuristic: true}, nil
	case "cancelled", "canceled", "verificationCanceled":
		return &Status{Kind: StatusTerminated, Reason: ReasonCancelled}, nil
	case "timeout", "timed_out", "expired", "verificationTimedOut":
		return &Status{Kind: StatusTerminated, Reason: ReasonTimedOut}, nil
	case "refunded", "verificationRefunded":
		return &Status{Kind: StatusTerminated, Reason: ReasonRefunded}, nil
	default:
		return nil, fmt.Errorf("unknown webhook status %q from %s", payload.Status, kind)
	}
}
