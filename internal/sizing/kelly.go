package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
)

// ErrDegeneratePrice 表示市场价格退化（<=0 或 >=1），Kelly 分母无意义
var ErrDegeneratePrice = fmt.Errorf("degenerate market price")

var (
	one  = decimal.NewFromInt(1)
	half = decimal.NewFromFloat(0.5)
	two  = decimal.NewFromInt(2)

	ddHalfThreshold = decimal.NewFromFloat(0.9) // 余额 <= 90% 峰值：乘数减半
	ddZeroThreshold = decimal.NewFromFloat(0.8) // 余额 <= 80% 峰值：停止新开仓
)

// Config 仓位计算配置
type Config struct {
	KellyFraction     decimal.Decimal // 分数 Kelly 比例
	CompoundEnabled   bool            // 是否启用连胜/连败复利调整
	CompoundStep      decimal.Decimal // 每次连胜/连败的乘数步长
	SqrtScaling       bool            // 是否启用 sqrt(balance/baseline) 缩放
	MaxPositionPct    decimal.Decimal // 单仓位占余额上限比例
	MinOrderSize      decimal.Decimal // 最小下单金额（低于视为不交易）
	MinBalanceReserve decimal.Decimal // 余额保留金额（不参与仓位计算）
}

// Sizer Kelly 仓位计算器
//
// size = baseKelly × compoundMultiplier × drawdownMultiplier，
// 截断到 [0, maxPositionPct × balance]。
// 所有乘数在每次调用时从台账快照重新计算，绝不跨调用缓存，
// 避免并发更新下的陈旧状态。
type Sizer struct {
	cfg Config
}

// New 创建仓位计算器
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size 为提案计算仓位
// 返回的 SizedProposal.Size = 0 表示“不交易”；退化价格返回 ErrDegeneratePrice。
func (s *Sizer) Size(p *domain.TradeProposal, acct domain.AccountState) (*domain.SizedProposal, error) {
	if p == nil || p.Market == nil {
		return nil, fmt.Errorf("proposal is nil")
	}
	price := p.Market.Price
	if price.Sign() <= 0 || price.GreaterThanOrEqual(one) {
		return nil, ErrDegeneratePrice
	}

	multiplier := s.compoundMultiplier(acct.Streak)
	if s.cfg.SqrtScaling && acct.BaselineBalance.Sign() > 0 && acct.Balance.Sign() > 0 {
		// sqrt 缩放：余额 4 倍增长只带来 2 倍仓位增长，限制复利失控
		multiplier = multiplier.Mul(sqrtDecimal(acct.Balance.Div(acct.BaselineBalance)))
	}
	multiplier = multiplier.Mul(drawdownMultiplier(acct))

	sp := &domain.SizedProposal{
		Proposal:   p,
		Size:       decimal.Zero,
		Multiplier: multiplier,
	}

	deployable := acct.Balance.Sub(s.cfg.MinBalanceReserve)
	if deployable.Sign() <= 0 {
		return sp, nil
	}

	var base decimal.Decimal
	if p.Source == domain.ProposalSourceCopy && p.RawNotional.Sign() > 0 {
		// 跟单提案携带原始下单金额，跳过 Kelly 边际项，
		// 但仍经过同一套乘数与上限管线
		base = p.RawNotional
	} else {
		// baseKelly = kellyFraction × |edge| / (price × (1 − price))
		variance := price.Mul(one.Sub(price))
		fraction := s.cfg.KellyFraction.Mul(p.EdgeMagnitude()).Div(variance)
		base = fraction.Mul(deployable)
	}

	size := base.Mul(multiplier)
	maxSize := s.cfg.MaxPositionPct.Mul(acct.Balance)
	if size.GreaterThan(maxSize) {
		size = maxSize
	}
	if size.Sign() < 0 {
		size = decimal.Zero
	}
	if size.LessThan(s.cfg.MinOrderSize) {
		size = decimal.Zero
	}

	sp.Size = size
	return sp, nil
}

// compoundMultiplier 连胜/连败复利乘数
// 起点 1.0，每次连胜 +step（上限 2.0），每次连败 -step（下限 0.5）。
// 连胜/连败方向翻转时计数在台账侧穿过中性重新开始。
func (s *Sizer) compoundMultiplier(streak int) decimal.Decimal {
	if !s.cfg.CompoundEnabled || streak == 0 {
		return one
	}
	m := one.Add(s.cfg.CompoundStep.Mul(decimal.NewFromInt(int64(streak))))
	if m.GreaterThan(two) {
		return two
	}
	if m.LessThan(half) {
		return half
	}
	return m
}

// drawdownMultiplier 回撤乘数
// 正常 1.0；余额 <= 90% 峰值时 0.5；余额 <= 80% 峰值时 0.0（停止新开仓）。
// 该规则不强制平掉已有持仓。
func drawdownMultiplier(acct domain.AccountState) decimal.Decimal {
	if acct.PeakBalance.Sign() <= 0 {
		return one
	}
	if acct.Balance.LessThanOrEqual(acct.PeakBalance.Mul(ddZeroThreshold)) {
		return decimal.Zero
	}
	if acct.Balance.LessThanOrEqual(acct.PeakBalance.Mul(ddHalfThreshold)) {
		return half
	}
	return one
}

// sqrtDecimal 十进制平方根（经由 float64，精度足够乘数用途）
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	f := d.InexactFloat64()
	if f <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(f))
}
