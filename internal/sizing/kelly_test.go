package sizing

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
)

func mkProposal(price, modelProb float64) *domain.TradeProposal {
	pr := decimal.NewFromFloat(price)
	mp := decimal.NewFromFloat(modelProb)
	dir := domain.DirectionTakeYes
	if mp.LessThan(pr) {
		dir = domain.DirectionTakeNo
	}
	return &domain.TradeProposal{
		Market:     &domain.Market{ID: "m1", Price: pr},
		Direction:  dir,
		ModelProb:  mp,
		Confidence: decimal.NewFromFloat(0.7),
		Edge:       mp.Sub(pr),
		Source:     domain.ProposalSourceScan,
		CreatedAt:  time.Now(),
	}
}

func mkAccount(balance float64) domain.AccountState {
	b := decimal.NewFromFloat(balance)
	return domain.AccountState{
		Balance:         b,
		PeakBalance:     b,
		BaselineBalance: b,
	}
}

func baseConfig() Config {
	return Config{
		KellyFraction:   decimal.NewFromFloat(0.35),
		CompoundEnabled: true,
		CompoundStep:    decimal.NewFromFloat(0.10),
		SqrtScaling:     true,
		MaxPositionPct:  decimal.NewFromFloat(0.08),
		MinOrderSize:    decimal.NewFromFloat(1),
	}
}

// 场景: balance=1000, price=0.40, modelProb=0.55, kellyFraction=0.35, maxPositionPct=0.08
// baseKelly = 0.35×0.15/(0.40×0.60) = 0.21875 → 原始仓位 218.75 → 截断到 80
func TestSize_ClampScenario(t *testing.T) {
	s := New(baseConfig())
	sp, err := s.Size(mkProposal(0.40, 0.55), mkAccount(1000))
	if err != nil {
		t.Fatalf("意外错误: %v", err)
	}
	if !sp.Size.Equal(decimal.NewFromInt(80)) {
		t.Errorf("仓位错误: got=%s want=80", sp.Size)
	}
	if !sp.Multiplier.Equal(decimal.NewFromInt(1)) {
		t.Errorf("乘数应为 1.0: got=%s", sp.Multiplier)
	}
}

func TestSize_DegeneratePrice(t *testing.T) {
	s := New(baseConfig())
	for _, price := range []float64{0, 1} {
		p := mkProposal(0.5, 0.6)
		p.Market.Price = decimal.NewFromFloat(price)
		if _, err := s.Size(p, mkAccount(1000)); err != ErrDegeneratePrice {
			t.Errorf("price=%v 应返回 ErrDegeneratePrice, got=%v", price, err)
		}
	}
}

// 三连败后的乘数: max(0.5, 1.0 − 3×step)
func TestCompoundMultiplier_ThreeLosses(t *testing.T) {
	s := New(baseConfig()) // step=0.10
	if m := s.compoundMultiplier(-3); !m.Equal(decimal.NewFromFloat(0.7)) {
		t.Errorf("三连败乘数错误: got=%s want=0.7", m)
	}

	// step=0.20 时 1-0.6=0.4 触发下限 0.5
	cfg := baseConfig()
	cfg.CompoundStep = decimal.NewFromFloat(0.20)
	s = New(cfg)
	if m := s.compoundMultiplier(-3); !m.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("下限未生效: got=%s want=0.5", m)
	}
}

// 属性: 复利乘数无论连胜/连败多长都在 [0.5, 2.0] 内
func TestProperty_CompoundMultiplierBounds(t *testing.T) {
	s := New(baseConfig())
	property := func(streak int16) bool {
		m := s.compoundMultiplier(int(streak))
		return !m.LessThan(decimal.NewFromFloat(0.5)) && !m.GreaterThan(decimal.NewFromInt(2))
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 300}); err != nil {
		t.Errorf("属性测试失败: %v", err)
	}
}

// 回撤乘数: >90% 峰值为 1.0；(80%, 90%] 为 0.5；<=80% 为 0.0
func TestDrawdownMultiplier_Tiers(t *testing.T) {
	peak := decimal.NewFromInt(1000)
	cases := []struct {
		balance float64
		want    float64
	}{
		{1000, 1.0},
		{950, 1.0},
		{901, 1.0},
		{900, 0.5}, // 恰好 90%：减半
		{850, 0.5},
		{801, 0.5},
		{800, 0.0}, // 恰好 80%：停止开仓
		{700, 0.0},
	}
	for _, c := range cases {
		acct := domain.AccountState{
			Balance:     decimal.NewFromFloat(c.balance),
			PeakBalance: peak,
		}
		if m := drawdownMultiplier(acct); !m.Equal(decimal.NewFromFloat(c.want)) {
			t.Errorf("balance=%v: got=%s want=%v", c.balance, m, c.want)
		}
	}
}

// 回撤 20% 时不再开新仓（size=0），即使边际很大
func TestSize_DrawdownBlocksNewPositions(t *testing.T) {
	cfg := baseConfig()
	cfg.CompoundEnabled = false
	cfg.SqrtScaling = false
	s := New(cfg)

	acct := domain.AccountState{
		Balance:         decimal.NewFromInt(750),
		PeakBalance:     decimal.NewFromInt(1000),
		BaselineBalance: decimal.NewFromInt(1000),
	}
	sp, err := s.Size(mkProposal(0.40, 0.70), acct)
	if err != nil {
		t.Fatalf("意外错误: %v", err)
	}
	if sp.Size.Sign() != 0 {
		t.Errorf("20%% 回撤时应停止开仓: got=%s", sp.Size)
	}
}

// 已占用敞口不是回撤：committed 15% 仓位、零亏损时乘数保持 1.0
func TestSize_CommittedExposureKeepsFullMultiplier(t *testing.T) {
	s := New(baseConfig())

	acct := domain.AccountState{
		Balance:         decimal.NewFromInt(1000),
		Exposure:        decimal.NewFromInt(150),
		PeakBalance:     decimal.NewFromInt(1000),
		BaselineBalance: decimal.NewFromInt(1000),
	}
	sp, err := s.Size(mkProposal(0.40, 0.55), acct)
	if err != nil {
		t.Fatalf("意外错误: %v", err)
	}
	if !sp.Multiplier.Equal(decimal.NewFromInt(1)) {
		t.Errorf("零亏损仅开仓不应触发回撤降档: multiplier=%s", sp.Multiplier)
	}
	if sp.Size.Sign() <= 0 {
		t.Errorf("仓位不应为零: got=%s", sp.Size)
	}
}

// sqrt 缩放: 余额 4 倍增长只带来 2 倍乘数
func TestSize_SqrtScaling(t *testing.T) {
	cfg := baseConfig()
	cfg.CompoundEnabled = false
	s := New(cfg)

	acct := domain.AccountState{
		Balance:         decimal.NewFromInt(4000),
		PeakBalance:     decimal.NewFromInt(4000),
		BaselineBalance: decimal.NewFromInt(1000),
	}
	sp, err := s.Size(mkProposal(0.40, 0.55), acct)
	if err != nil {
		t.Fatalf("意外错误: %v", err)
	}
	if !sp.Multiplier.Equal(decimal.NewFromInt(2)) {
		t.Errorf("sqrt 缩放乘数错误: got=%s want=2", sp.Multiplier)
	}
}

// 低于最小下单金额时视为不交易
func TestSize_BelowMinOrderSize(t *testing.T) {
	cfg := baseConfig()
	cfg.MinOrderSize = decimal.NewFromInt(5)
	s := New(cfg)

	// 很小的边际 × 很小的余额 → 原始仓位低于 5
	sp, err := s.Size(mkProposal(0.50, 0.51), mkAccount(100))
	if err != nil {
		t.Fatalf("意外错误: %v", err)
	}
	if sp.Size.Sign() != 0 {
		t.Errorf("低于最小下单金额应为 0: got=%s", sp.Size)
	}
}

// 跟单提案使用原始下单金额（跳过 Kelly 边际项），仍受上限约束
func TestSize_CopySourceUsesRawNotional(t *testing.T) {
	cfg := baseConfig()
	cfg.CompoundEnabled = false
	cfg.SqrtScaling = false
	s := New(cfg)

	p := mkProposal(0.40, 0.40) // 跟单来源无模型估计
	p.Source = domain.ProposalSourceCopy
	p.RawNotional = decimal.NewFromInt(20)

	sp, err := s.Size(p, mkAccount(1000))
	if err != nil {
		t.Fatalf("意外错误: %v", err)
	}
	if !sp.Size.Equal(decimal.NewFromInt(20)) {
		t.Errorf("跟单仓位错误: got=%s want=20", sp.Size)
	}

	// 超过单仓上限时截断
	p.RawNotional = decimal.NewFromInt(500)
	sp, err = s.Size(p, mkAccount(1000))
	if err != nil {
		t.Fatalf("意外错误: %v", err)
	}
	if !sp.Size.Equal(decimal.NewFromInt(80)) {
		t.Errorf("跟单仓位应被截断: got=%s want=80", sp.Size)
	}
}

// 属性: 仓位对边际单调不减，且始终在 [0, maxPositionPct × balance] 内
func TestProperty_SizeMonotoneAndBounded(t *testing.T) {
	cfg := baseConfig()
	cfg.MinOrderSize = decimal.Zero
	s := New(cfg)
	acct := mkAccount(1000)
	maxSize := decimal.NewFromInt(80)

	property := func(e1Mil, e2Mil uint16) bool {
		// 边际限制在 (0, 0.5]，价格固定 0.5
		edge1 := float64(e1Mil%500+1) / 1000.0
		edge2 := float64(e2Mil%500+1) / 1000.0
		if edge1 > edge2 {
			edge1, edge2 = edge2, edge1
		}

		sp1, err1 := s.Size(mkProposal(0.50, 0.50+edge1), acct)
		sp2, err2 := s.Size(mkProposal(0.50, 0.50+edge2), acct)
		if err1 != nil || err2 != nil {
			return false
		}
		if sp1.Size.GreaterThan(sp2.Size) {
			return false
		}
		for _, sp := range []*domain.SizedProposal{sp1, sp2} {
			if sp.Size.Sign() < 0 || sp.Size.GreaterThan(maxSize) {
				return false
			}
		}
		return true
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 300}); err != nil {
		t.Errorf("属性测试失败: %v", err)
	}
}
