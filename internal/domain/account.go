package domain

import (
	"github.com/shopspring/decimal"
)

// AccountState 账户状态快照
// 逻辑所有者是 Account Ledger；任何读方拿到的都是单次临界区内导出的一致快照，
// 不会观察到部分更新的中间态。
type AccountState struct {
	Balance          decimal.Decimal `json:"balance"`            // 账户余额（成本口径的账户价值；开仓不扣减，只被已实现盈亏推动）
	Exposure         decimal.Decimal `json:"exposure"`           // 已占用敞口（所有持仓名义金额之和；开仓占用只记在这里）
	RealizedPnLToday decimal.Decimal `json:"realized_pnl_today"` // 当日已实现盈亏
	PeakBalance      decimal.Decimal `json:"peak_balance"`       // 历史最高余额（回撤高水位）
	BaselineBalance  decimal.Decimal `json:"baseline_balance"`   // 基准余额（sqrt 缩放的分母）
	Streak           int             `json:"streak"`             // 连胜/连败计数（正=连胜，负=连败）
	OpenPositions    int             `json:"open_positions"`     // 当前持仓数
	DailyTradeCount  int             `json:"daily_trade_count"`  // 当日结算笔数
	DailyWinCount    int             `json:"daily_win_count"`    // 当日盈利笔数
	DailyLossCount   int             `json:"daily_loss_count"`   // 当日亏损笔数
	LargestWin       decimal.Decimal `json:"largest_win"`        // 当日最大单笔盈利
	LargestLoss      decimal.Decimal `json:"largest_loss"`       // 当日最大单笔亏损（负数）
	DayKey           string          `json:"day_key"`            // 当前日窗口键（按配置的 UTC 重置小时计算）
}

// DrawdownPct 当前回撤比例（0-1；余额高于峰值时为 0）
func (s AccountState) DrawdownPct() decimal.Decimal {
	if s.PeakBalance.Sign() <= 0 {
		return decimal.Zero
	}
	dd := s.PeakBalance.Sub(s.Balance).Div(s.PeakBalance)
	if dd.Sign() < 0 {
		return decimal.Zero
	}
	return dd
}

// WinRate 当日胜率（无结算时为 0）
func (s AccountState) WinRate() decimal.Decimal {
	if s.DailyTradeCount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(s.DailyWinCount)).
		Div(decimal.NewFromInt(int64(s.DailyTradeCount)))
}

// CopiedTraderProfile 被跟踪 trader 的档案
// 不变式: 每个 trader 一份档案；Cursor 单调不减。
type CopiedTraderProfile struct {
	TraderID  string          `json:"trader_id"`  // trader 地址/句柄
	CopyRatio decimal.Decimal `json:"copy_ratio"` // 跟单比例
	DelaySecs int             `json:"delay_secs"` // 跟单延迟（秒）
	Cursor    int64           `json:"cursor"`     // 最后可见 fill 的时间游标（unix 纳秒，单调不减）
}

// CopiedFill 跟单源观察到的一次成交
type CopiedFill struct {
	TraderID        string          // trader 地址/句柄
	ExternalTradeID string          // 交易所侧成交 ID（去重键）
	MarketID        string          // 市场 ID
	Direction       Direction       // 方向
	Size            decimal.Decimal // 成交金额（货币单位）
	Price           decimal.Decimal // 成交价格
	Timestamp       int64           // 成交时间（unix 纳秒）
}
