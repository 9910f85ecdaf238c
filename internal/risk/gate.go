package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
)

// Reason 风控拒绝原因（类型化，供上层通知/日志使用；拒绝不是异常路径）
type Reason string

const (
	ReasonPositionCap      Reason = "positionCap"      // 单仓位超过上限
	ReasonExposureCap      Reason = "exposureCap"      // 总敞口超过上限
	ReasonDailyLossLimit   Reason = "dailyLossLimit"   // 当日亏损熔断
	ReasonMarketClosing    Reason = "marketClosing"    // 市场已关闭或临近关闭
	ReasonMaxOpenPositions Reason = "maxOpenPositions" // 持仓数超过上限
)

// Rejection 一次风控拒绝
type Rejection struct {
	Reason Reason
}

func (r *Rejection) String() string {
	if r == nil {
		return ""
	}
	return string(r.Reason)
}

// Config 风控配置
type Config struct {
	MaxPositionPct    decimal.Decimal // 单仓位占余额上限比例
	MaxExposurePct    decimal.Decimal // 总敞口占余额上限比例
	MaxDailyLossPct   decimal.Decimal // 当日最大亏损比例
	MinSecondsToClose int64           // 距市场关闭的最小秒数
	MaxOpenPositions  int             // 最大同时持仓数（0 表示不限制）
}

// Gate 风控闸门：对台账快照的只读评估器。
//
// 检查按固定顺序执行，第一个失败的原因即为拒绝原因。
// 评估必须基于调用方传入的单次一致快照，避免与并发成交之间的
// check/use 漂移——同市场并发由执行引擎的串行化不变式另行保证。
type Gate struct {
	cfg Config
}

// NewGate 创建风控闸门
func NewGate(cfg Config) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate 评估提案；返回 nil 表示接受
func (g *Gate) Evaluate(sp *domain.SizedProposal, acct domain.AccountState, now time.Time) *Rejection {
	if g == nil || sp == nil {
		return nil
	}

	// 1. 单仓位上限
	if sp.Size.GreaterThan(g.cfg.MaxPositionPct.Mul(acct.Balance)) {
		return &Rejection{Reason: ReasonPositionCap}
	}

	// 2. 总敞口上限
	if acct.Exposure.Add(sp.Size).GreaterThan(g.cfg.MaxExposurePct.Mul(acct.Balance)) {
		return &Rejection{Reason: ReasonExposureCap}
	}

	// 3. 当日亏损熔断：触发后当日拒绝所有新开仓，直到日窗口滚动
	lossLimit := g.cfg.MaxDailyLossPct.Mul(acct.Balance).Neg()
	if acct.RealizedPnLToday.LessThan(lossLimit) {
		return &Rejection{Reason: ReasonDailyLossLimit}
	}

	// 4. 市场关闭检查：已关闭的市场直接拒绝，临近关闭按配置的最小秒数拒绝。
	// 只有关闭时间未知（零值）时才跳过该检查。
	if sp.Proposal != nil && sp.Proposal.Market != nil {
		m := sp.Proposal.Market
		if m.IsClosed(now) {
			return &Rejection{Reason: ReasonMarketClosing}
		}
		if secs := m.SecondsToClose(now); secs >= 0 && secs < g.cfg.MinSecondsToClose {
			return &Rejection{Reason: ReasonMarketClosing}
		}
	}

	// 5. 持仓数上限
	if g.cfg.MaxOpenPositions > 0 && acct.OpenPositions >= g.cfg.MaxOpenPositions {
		return &Rejection{Reason: ReasonMaxOpenPositions}
	}

	return nil
}
