package events

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
)

// Event 通知事件（火忘式投递给 Notifier）
type Event interface {
	Describe() string
}

// TradeExecutedEvent 订单到达终态（成交）事件
type TradeExecutedEvent struct {
	Order     *domain.Order
	Timestamp time.Time
}

func (e TradeExecutedEvent) Describe() string {
	return fmt.Sprintf("✅ 成交 market=%s dir=%s size=%s filled=%s",
		e.Order.MarketID, e.Order.Direction, e.Order.Size, e.Order.FilledSize)
}

// OrderTerminalEvent 订单到达失败类终态事件
type OrderTerminalEvent struct {
	Order     *domain.Order
	Timestamp time.Time
}

func (e OrderTerminalEvent) Describe() string {
	return fmt.Sprintf("⚠️ 订单终态 market=%s status=%s reason=%s",
		e.Order.MarketID, e.Order.Status, e.Order.RejectReason)
}

// RiskRejectedEvent 风控拒绝事件
type RiskRejectedEvent struct {
	MarketID  string
	Reason    string
	Size      decimal.Decimal
	Timestamp time.Time
}

func (e RiskRejectedEvent) Describe() string {
	return fmt.Sprintf("🚫 风控拒绝 market=%s reason=%s size=%s", e.MarketID, e.Reason, e.Size)
}

// DrawdownEvent 回撤阈值跨越事件
type DrawdownEvent struct {
	DrawdownPct decimal.Decimal
	Balance     decimal.Decimal
	Peak        decimal.Decimal
	Timestamp   time.Time
}

func (e DrawdownEvent) Describe() string {
	return fmt.Sprintf("📉 回撤告警 drawdown=%s%% balance=%s peak=%s",
		e.DrawdownPct.Mul(decimal.NewFromInt(100)).StringFixed(1), e.Balance, e.Peak)
}

// BreakerTrippedEvent 熔断触发事件
type BreakerTrippedEvent struct {
	ConsecutiveErrors int64
	Timestamp         time.Time
}

func (e BreakerTrippedEvent) Describe() string {
	return fmt.Sprintf("⛔ 熔断触发 consecutive_errors=%d", e.ConsecutiveErrors)
}

// DailyReportEvent 每日报告事件
type DailyReportEvent struct {
	State     domain.AccountState
	Timestamp time.Time
}

func (e DailyReportEvent) Describe() string {
	return fmt.Sprintf("📊 日报 pnl=%s trades=%d win=%d loss=%d winrate=%s%% maxwin=%s maxloss=%s",
		e.State.RealizedPnLToday, e.State.DailyTradeCount, e.State.DailyWinCount, e.State.DailyLossCount,
		e.State.WinRate().Mul(decimal.NewFromInt(100)).StringFixed(1),
		e.State.LargestWin, e.State.LargestLoss)
}

// StartupEvent 启动事件
type StartupEvent struct {
	Balance   decimal.Decimal
	DryRun    bool
	Timestamp time.Time
}

func (e StartupEvent) Describe() string {
	mode := "live"
	if e.DryRun {
		mode = "dry-run"
	}
	return fmt.Sprintf("🚀 启动 balance=%s mode=%s", e.Balance, mode)
}

// ShutdownEvent 关闭事件
type ShutdownEvent struct {
	Balance   decimal.Decimal
	Timestamp time.Time
}

func (e ShutdownEvent) Describe() string {
	return fmt.Sprintf("🛑 关闭 balance=%s", e.Balance)
}
