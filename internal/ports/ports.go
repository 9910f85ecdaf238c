package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/events"
)

// 核心消费的外部协作者契约。
// 失败语义：数据/模型/跟单源不可用时核心降级跳过本周期，绝不致命；
// 通知与历史归档的失败不得传播进决策/执行路径。

// MarketDataProvider 市场数据提供方
type MarketDataProvider interface {
	// GetActiveMarkets 返回当前活跃市场列表（失败时返回空列表/错误，核心视为本周期无新提案）
	GetActiveMarkets(ctx context.Context) ([]*domain.Market, error)
	// GetMarket 按 ID 获取单个市场快照（不存在时返回 nil, nil）
	GetMarket(ctx context.Context, id string) (*domain.Market, error)
}

// ProbabilityModel 概率模型
type ProbabilityModel interface {
	// Estimate 返回 (概率, 置信度)；ok=false 表示模型对该市场无估计
	Estimate(ctx context.Context, market *domain.Market) (prob, confidence decimal.Decimal, ok bool, err error)
}

// Signer 订单签名协作者
// 签名失败是永久性错误：同一内容重签没有意义，订单直接进入 Rejected。
type Signer interface {
	Sign(ctx context.Context, order *domain.Order) ([]byte, error)
}

// Exchange 交易所执行协作者
type Exchange interface {
	// Submit 提交签名订单，返回交易所侧句柄。
	// 错误必须用 TransientError / PermanentError 包装以驱动重试策略。
	Submit(ctx context.Context, order *domain.Order, signature []byte) (handle string, err error)
	// PollFills 轮询累计成交（按交易所回报顺序返回）
	PollFills(ctx context.Context, handle string) ([]domain.Fill, error)
	// Cancel 取消订单
	Cancel(ctx context.Context, handle string) (bool, error)
}

// CopyFeed 跟单 fill 流协作者
// 流允许乱序与重复投递；去重责任在消费方（Copy-Trade Monitor）。
type CopyFeed interface {
	Stream(ctx context.Context) (<-chan domain.CopiedFill, error)
}

// Notifier 通知协作者（火忘式，失败绝不阻塞核心）
type Notifier interface {
	Notify(ctx context.Context, ev events.Event)
}

// HistoryArchiver 历史归档协作者
// 不可用时核心以降级（非持久）模式继续运行。
type HistoryArchiver interface {
	ArchiveOrder(ctx context.Context, o *domain.Order) error
	ArchiveFill(ctx context.Context, orderID string, f domain.Fill) error
	ArchiveSnapshot(ctx context.Context, s domain.AccountState) error
}
