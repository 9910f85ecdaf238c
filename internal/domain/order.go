package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusProposed        OrderStatus = "proposed"         // 已提案（未过风控）
	OrderStatusValidated       OrderStatus = "validated"        // 风控通过
	OrderStatusSubmitted       OrderStatus = "submitted"        // 已提交交易所
	OrderStatusPartiallyFilled OrderStatus = "partially_filled" // 部分成交
	OrderStatusFilled          OrderStatus = "filled"           // 全部成交（终态）
	OrderStatusRejected        OrderStatus = "rejected"         // 被拒绝：风控/永久性错误/交易所拒单（终态）
	OrderStatusFailed          OrderStatus = "failed"           // 重试耗尽（终态）
	OrderStatusCancelled       OrderStatus = "cancelled"        // 已取消（终态）
)

// IsTerminal 检查是否为终态
// 终态记录不可变，任何从终态出发的转换都是非法的。
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// legalTransitions 订单状态机的合法转换表
var legalTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusProposed:        {OrderStatusValidated, OrderStatusRejected},
	OrderStatusValidated:       {OrderStatusSubmitted, OrderStatusRejected, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusSubmitted:       {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusRejected, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
}

// CanTransitionTo 检查状态转换是否合法
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Order 订单领域模型
// 由执行引擎创建；到达终态后归档为不可变记录。
type Order struct {
	ID             string          // 内部订单 ID（uuid）
	IdempotencyKey string          // 幂等键：首次提交前固定，重试时原样复用，交易所侧据此去重
	MarketID       string          // 市场 ID
	Direction      Direction       // 方向
	Size           decimal.Decimal // 下单金额（货币单位）
	PriceLimit     decimal.Decimal // 限价（0-1）
	Source         ProposalSource  // 提案来源
	Status         OrderStatus     // 当前状态
	FilledSize     decimal.Decimal // 已成交金额（累计）
	RetryCount     int             // 已重试次数
	RejectReason   string          // 拒绝/失败原因（终态时填写）
	ExchangeHandle string          // 交易所侧句柄（提交成功后填写）
	CreatedAt      time.Time       // 创建时间
	SubmittedAt    *time.Time      // 首次提交时间（可选）
	ClosedAt       *time.Time      // 终态时间（可选）
}

// Transition 执行状态转换，非法转换返回错误
func (o *Order) Transition(next OrderStatus, at time.Time) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal order transition: %s -> %s (order=%s)", o.Status, next, o.ID)
	}
	o.Status = next
	if next.IsTerminal() {
		t := at
		o.ClosedAt = &t
	}
	return nil
}

// ComputeIdempotencyKey 计算幂等键
// 输入为提案内容 + 决策时间戳：同一决策的所有重试共享同一个键，
// 不同决策（即使参数相同）因时间戳不同而得到不同的键。
func ComputeIdempotencyKey(marketID string, dir Direction, size, priceLimit decimal.Decimal, decidedAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d",
		marketID, dir, size.String(), priceLimit.String(), decidedAt.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// Fill 一次成交回报
type Fill struct {
	Quantity  decimal.Decimal // 成交份额
	Price     decimal.Decimal // 成交价格
	Timestamp time.Time       // 成交时间
}

// Notional 成交金额
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}
