package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market 市场快照（每个评估周期不可变，由外部数据源刷新）
type Market struct {
	ID        string          // 市场 ID
	Question  string          // 市场问题文本
	Price     decimal.Decimal // YES 价格（隐含概率，0-1）
	Liquidity decimal.Decimal // 流动性
	Volume    decimal.Decimal // 成交量
	ClosesAt  time.Time       // 市场关闭时间（零值表示未知）
}

// SecondsToClose 返回距市场关闭的秒数（关闭时间未知时返回 -1）
func (m *Market) SecondsToClose(now time.Time) int64 {
	if m == nil || m.ClosesAt.IsZero() {
		return -1
	}
	return int64(m.ClosesAt.Sub(now).Seconds())
}

// IsClosed 检查市场是否已关闭
func (m *Market) IsClosed(now time.Time) bool {
	if m == nil || m.ClosesAt.IsZero() {
		return false
	}
	return !now.Before(m.ClosesAt)
}
