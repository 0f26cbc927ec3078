package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blues/svs/internal/model"
)

// StatusKind 上游状态的封闭变体类型
type StatusKind string

const (
	StatusPending    StatusKind = "pending"    // 仍在等待短信
	StatusReceived   StatusKind = "received"   // 已收到验证码
	StatusTerminated StatusKind = "terminated" // 上游已终止
)

// TerminationReason 终止原因
type TerminationReason string

const (
	ReasonCancelled TerminationReason = "cancelled"
	ReasonTimedOut  TerminationReason = "timed_out"
	ReasonRefunded  TerminationReason = "refunded"
)

// Status 归一化后的上游状态
// Pending 可携带剩余秒数；Received 携带验证码与原始消息；Terminated 携带原因。
type Status struct {
	Kind             StatusKind
	RemainingSeconds int  // Pending 时有效，0 表示上游未提供
	Code             string
	Message          string
	// CodeHeuristic 验证码来自消息文本的数字提取而非结构化字段
	CodeHeuristic bool
	Reason        TerminationReason
}

// Rental 一次成功租号的结果
type Rental struct {
	ProviderRef string
	PhoneNumber string
	Cost        int64
	ExpiresAt   time.Time
}

// Client 单个接码服务商的适配器，纯查询，无副作用
type Client interface {
	Kind() model.ProviderKind
	Rent(ctx context.Context, service, country string) (*Rental, error)
	FetchStatus(ctx context.Context, providerRef string) (*Status, error)
	// Cancel 尽力而为的上游取消，失败不影响本地状态转移
	Cancel(ctx context.Context, providerRef string) error
}

// Error 上游调用错误，按可重试性分类
type Error struct {
	Transient bool
	Op        string
	Err       error
}

func (e *Error) Error() string {
	if e.Transient {
		return fmt.Sprintf("provider %s: transient: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s: permanent: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient 网络/5xx 错误，下一轮轮询重试
func NewTransient(op string, err error) *Error {
	return &Error{Transient: true, Op: op, Err: err}
}

// NewPermanent 4xx/not-found 错误，调用方按 Terminated(Cancelled) 处理
func NewPermanent(op string, err error) *Error {
	return &Error{Transient: false, Op: op, Err: err}
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	// 未分类错误按可重试处理，避免把一次网络抖动当成上游终止
	return true
}

// IsPermanent 判断错误是否为上游确定性失败
func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return !pe.Transient
	}
	return false
}

// Registry 按服务商类型查找适配器
type Registry struct {
	clients map[model.ProviderKind]Client
}

// NewRegistry 创建适配器注册表
func NewRegistry(clients ...Client) *Registry {
	m := make(map[model.ProviderKind]Client, len(clients))
	for _, c := range clients {
		m[c.Kind()] = c
	}
	return &Registry{clients: m}
}

// Get 获取指定服务商的适配器
func (r *Registry) Get(kind model.ProviderKind) (Client, error) {
	c, ok := r.clients[kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider kind: %s", kind)
	}
	return c, nil
}

// Kinds 已注册的服务商类型
func (r *Registry) Kinds() []model.ProviderKind {
	kinds := make([]model.ProviderKind, 0, len(r.clients))
	for k := range r.clients {
		kinds = append(kinds, k)
	}
	return kinds
}
