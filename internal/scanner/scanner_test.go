package scanner

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/execution"
	"github.com/betbot/edgebot/internal/ledger"
	"github.com/betbot/edgebot/internal/risk"
	"github.com/betbot/edgebot/internal/signal"
	"github.com/betbot/edgebot/internal/sizing"
)

type fakeMarkets struct {
	markets []*domain.Market
	err     error
}

func (f *fakeMarkets) GetActiveMarkets(context.Context) ([]*domain.Market, error) {
	return f.markets, f.err
}

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (*domain.Market, error) {
	for _, m := range f.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

type fakeModel struct {
	prob decimal.Decimal
	conf decimal.Decimal
	ok   bool
}

func (f *fakeModel) Estimate(context.Context, *domain.Market) (decimal.Decimal, decimal.Decimal, bool, error) {
	return f.prob, f.conf, f.ok, nil
}

type fillingExchange struct{}

func (fillingExchange) Submit(_ context.Context, o *domain.Order, _ []byte) (string, error) {
	return "h-" + o.ID, nil
}

func (fillingExchange) PollFills(context.Context, string) ([]domain.Fill, error) {
	// 200 份 @0.40 = 80，立即全额覆盖测试订单
	return []domain.Fill{{
		Quantity:  decimal.NewFromInt(200),
		Price:     decimal.NewFromFloat(0.40),
		Timestamp: time.Now(),
	}}, nil
}

func (fillingExchange) Cancel(context.Context, string) (bool, error) { return true, nil }

type noopSigner struct{}

func (noopSigner) Sign(context.Context, *domain.Order) ([]byte, error) { return []byte("sig"), nil }

func newFixture(t *testing.T, markets *fakeMarkets, model *fakeModel) (*Scanner, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.Config{InitialBalance: decimal.NewFromInt(1000)})
	gate := risk.NewGate(risk.Config{
		MaxPositionPct:  decimal.NewFromFloat(0.08),
		MaxExposurePct:  decimal.NewFromFloat(0.50),
		MaxDailyLossPct: decimal.NewFromFloat(0.20),
	})
	eng := execution.New(execution.Config{
		FillPollInterval: 10 * time.Millisecond,
	}, execution.Deps{
		Ledger:   l,
		Gate:     gate,
		Breaker:  risk.NewCircuitBreaker(10),
		Signer:   noopSigner{},
		Exchange: fillingExchange{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Start(ctx)

	sizer := sizing.New(sizing.Config{
		KellyFraction:  decimal.NewFromFloat(0.35),
		MaxPositionPct: decimal.NewFromFloat(0.08),
	})
	s := New(Config{
		Interval: time.Hour,
		Thresholds: signal.Thresholds{
			MinEdge:       decimal.NewFromFloat(0.05),
			MinConfidence: decimal.NewFromFloat(0.60),
		},
	}, markets, model, sizer, eng, l, nil)
	return s, l
}

// 完整管线：市场 → 模型 → 信号 → 仓位 → 执行 → 台账
func TestScanner_PipelineProducesFill(t *testing.T) {
	markets := &fakeMarkets{markets: []*domain.Market{{
		ID:    "m1",
		Price: decimal.NewFromFloat(0.40),
	}}}
	model := &fakeModel{
		prob: decimal.NewFromFloat(0.55),
		conf: decimal.NewFromFloat(0.90),
		ok:   true,
	}
	s, l := newFixture(t, markets, model)

	s.scanOnce(context.Background())

	// edge=0.15, kelly=0.35 → 仓位截断到 8% = 80，立即成交
	deadline := time.After(3 * time.Second)
	for {
		snap := l.Snapshot()
		if snap.Exposure.Equal(decimal.NewFromInt(80)) && snap.Balance.Equal(decimal.NewFromInt(1000)) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("管线未产生成交: balance=%s exposure=%s", snap.Balance, snap.Exposure)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// 数据源失败降级：跳过本周期，不交易、不崩溃
func TestScanner_DegradesOnMarketDataFailure(t *testing.T) {
	markets := &fakeMarkets{err: fmt.Errorf("gateway unavailable")}
	model := &fakeModel{ok: true, prob: decimal.NewFromFloat(0.9), conf: decimal.NewFromInt(1)}
	s, l := newFixture(t, markets, model)

	s.scanOnce(context.Background())

	time.Sleep(50 * time.Millisecond)
	if snap := l.Snapshot(); snap.Exposure.Sign() != 0 {
		t.Errorf("数据源失败时不应交易: exposure=%s", snap.Exposure)
	}
}

// 模型无估计的市场被跳过
func TestScanner_SkipsMarketsWithoutEstimate(t *testing.T) {
	markets := &fakeMarkets{markets: []*domain.Market{{
		ID:    "m1",
		Price: decimal.NewFromFloat(0.40),
	}}}
	model := &fakeModel{ok: false}
	s, l := newFixture(t, markets, model)

	s.scanOnce(context.Background())

	time.Sleep(50 * time.Millisecond)
	if snap := l.Snapshot(); snap.Exposure.Sign() != 0 {
		t.Errorf("无估计的市场不应交易: exposure=%s", snap.Exposure)
	}
}
