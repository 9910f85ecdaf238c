package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/events"
	"github.com/betbot/edgebot/internal/execution"
	"github.com/betbot/edgebot/internal/ledger"
	"github.com/betbot/edgebot/internal/ports"
	"github.com/betbot/edgebot/internal/signal"
	"github.com/betbot/edgebot/internal/sizing"
	"github.com/betbot/edgebot/pkg/logger"
)

// Config 扫描器配置
type Config struct {
	Interval   time.Duration     // 扫描周期
	Thresholds signal.Thresholds // 信号门槛
}

// Scanner 市场扫描器：驱动 数据 → 模型 → 信号 → 仓位 → 执行 的主循环。
//
// 数据源或模型不可用时降级跳过本周期，绝不致命；
// 单个市场的失败不影响同周期内其余市场。
type Scanner struct {
	cfg      Config
	markets  ports.MarketDataProvider
	model    ports.ProbabilityModel
	sizer    *sizing.Sizer
	engine   *execution.Engine
	ledger   *ledger.Ledger
	notifier ports.Notifier

	mu           sync.Mutex
	lastDrawdown int // 上次观察到的回撤档位（0=正常 1=减半 2=停止开仓）
}

// New 创建扫描器
func New(cfg Config, markets ports.MarketDataProvider, model ports.ProbabilityModel,
	sizer *sizing.Sizer, engine *execution.Engine, l *ledger.Ledger, notifier ports.Notifier) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Scanner{
		cfg:      cfg,
		markets:  markets,
		model:    model,
		sizer:    sizer,
		engine:   engine,
		ledger:   l,
		notifier: notifier,
	}
}

// Run 扫描循环（阻塞直至 ctx 取消）
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.scanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	markets, err := s.markets.GetActiveMarkets(ctx)
	if err != nil {
		logger.Warnf("[scanner] 拉取市场失败，跳过本周期: %v", err)
		return
	}
	logger.Debugf("[scanner] 扫描 %d 个市场", len(markets))

	now := time.Now()
	for _, market := range markets {
		if ctx.Err() != nil {
			return
		}
		prob, confidence, ok, err := s.model.Estimate(ctx, market)
		if err != nil {
			logger.Warnf("[scanner] 模型估计失败: market=%s err=%v", market.ID, err)
			continue
		}
		if !ok {
			continue
		}

		proposal := signal.Generate(market, prob, confidence, s.cfg.Thresholds, now)
		if proposal == nil {
			continue
		}
		s.Dispatch(ctx, proposal)
	}
	s.checkDrawdown()
}

// Dispatch 对提案执行 仓位计算 → 提交 管线。
// 跟单监控器的出口也接到这里，两条来源共享同一套风控与执行路径。
func (s *Scanner) Dispatch(ctx context.Context, proposal *domain.TradeProposal) {
	sized, err := s.sizer.Size(proposal, s.ledger.Snapshot())
	if err != nil {
		logger.Warnf("[scanner] 仓位计算失败: market=%s err=%v", proposal.Market.ID, err)
		return
	}
	if sized.Size.Sign() <= 0 {
		logger.Debugf("[scanner] 仓位为零，不交易: market=%s multiplier=%s",
			proposal.Market.ID, sized.Multiplier)
		return
	}

	ticket, err := s.engine.Submit(ctx, sized)
	if err != nil {
		if err == execution.ErrMarketBusy || err == execution.ErrEngineClosed {
			logger.Debugf("[scanner] 提交被拒: market=%s err=%v", proposal.Market.ID, err)
		} else {
			logger.Warnf("[scanner] 提交失败: market=%s err=%v", proposal.Market.ID, err)
		}
		return
	}
	logger.Infof("[scanner] 已提交提案: market=%s dir=%s size=%s source=%s",
		proposal.Market.ID, proposal.Direction, sized.Size, proposal.Source)
	// 终态结果由引擎侧记录与通知，这里只排水结果通道
	go func() { <-ticket.ResultC }()
}

// checkDrawdown 回撤档位跨越时发出告警（只在档位变化时通知一次）
func (s *Scanner) checkDrawdown() {
	snap := s.ledger.Snapshot()
	tier := drawdownTier(snap)

	s.mu.Lock()
	changed := tier != s.lastDrawdown
	worsened := tier > s.lastDrawdown
	s.lastDrawdown = tier
	s.mu.Unlock()

	if changed && worsened && s.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.notifier.Notify(ctx, events.DrawdownEvent{
			DrawdownPct: snap.DrawdownPct(),
			Balance:     snap.Balance,
			Peak:        snap.PeakBalance,
			Timestamp:   time.Now(),
		})
		logger.Warnf("[scanner] 回撤档位恶化: tier=%d drawdown=%s balance=%s peak=%s",
			tier, snap.DrawdownPct(), snap.Balance, snap.PeakBalance)
	}
}

func drawdownTier(s domain.AccountState) int {
	if s.PeakBalance.Sign() <= 0 {
		return 0
	}
	ratio := s.Balance.Div(s.PeakBalance)
	switch {
	case ratio.LessThanOrEqual(decimal.NewFromFloat(0.8)):
		return 2
	case ratio.LessThanOrEqual(decimal.NewFromFloat(0.9)):
		return 1
	}
	return 0
}
