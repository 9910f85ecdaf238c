package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position 持仓
// 归属权在 Account Ledger：只能通过执行引擎的成交回调（经由 Ledger）修改。
type Position struct {
	MarketID      string          `json:"market_id"`
	Direction     Direction       `json:"direction"`
	Quantity      decimal.Decimal `json:"quantity"`        // 持有份额
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"` // 平均入场价格
	OpenedAt      time.Time       `json:"opened_at"`
}

// Notional 持仓名义金额（成本口径，用于敞口统计）
func (p *Position) Notional() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Quantity.Mul(p.AvgEntryPrice)
}

// AddFill 按成交累加持仓并更新平均入场价
func (p *Position) AddFill(quantity, price decimal.Decimal) {
	if p == nil || quantity.Sign() <= 0 {
		return
	}
	newQty := p.Quantity.Add(quantity)
	if newQty.Sign() > 0 {
		// 加权平均: (旧成本 + 新成本) / 总份额
		cost := p.Quantity.Mul(p.AvgEntryPrice).Add(quantity.Mul(price))
		p.AvgEntryPrice = cost.Div(newQty)
	}
	p.Quantity = newQty
}
