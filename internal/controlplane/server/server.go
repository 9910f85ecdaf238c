package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/execution"
	"github.com/betbot/edgebot/internal/ledger"
	"github.com/betbot/edgebot/internal/ports"
	"github.com/betbot/edgebot/internal/risk"
	"github.com/betbot/edgebot/internal/signal"
	"github.com/betbot/edgebot/pkg/logger"
)

// Server 控制面 API：账户快照、订单查询、手动熔断/恢复、外部信号接入
type Server struct {
	ledger  *ledger.Ledger
	engine  *execution.Engine
	breaker *risk.CircuitBreaker
	ingest  *IngestDeps

	httpServer *http.Server
}

// IngestDeps 外部信号接入依赖。
// 接入的信号与扫描/跟单共用同一条 仓位 → 风控 → 执行 管线。
type IngestDeps struct {
	Markets    ports.MarketDataProvider
	Thresholds signal.Thresholds
	Dispatch   func(*domain.TradeProposal)
}

// New 创建控制面服务
func New(l *ledger.Ledger, engine *execution.Engine, breaker *risk.CircuitBreaker) *Server {
	return &Server{ledger: l, engine: engine, breaker: breaker}
}

// EnableIngest 开启 /api/v1/signals 信号接入端点
func (s *Server) EnableIngest(deps IngestDeps) {
	s.ingest = &deps
}

// Router 构建路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api/v1")
	api.GET("/account", s.handleAccount)
	api.GET("/orders", s.handleOrders)
	api.POST("/halt", s.handleHalt)
	api.POST("/resume", s.handleResume)
	api.POST("/signals", s.handleSignal)

	return r
}

// Run 启动监听（阻塞直至 Shutdown）
func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Infof("[controlplane] 监听 %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleAccount(c *gin.Context) {
	snap := s.ledger.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"balance":            snap.Balance,
		"exposure":           snap.Exposure,
		"realized_pnl_today": snap.RealizedPnLToday,
		"peak_balance":       snap.PeakBalance,
		"baseline_balance":   snap.BaselineBalance,
		"drawdown_pct":       snap.DrawdownPct(),
		"streak":             snap.Streak,
		"open_positions":     snap.OpenPositions,
		"daily_trades":       snap.DailyTradeCount,
		"daily_wins":         snap.DailyWinCount,
		"daily_losses":       snap.DailyLossCount,
		"win_rate":           snap.WinRate(),
		"positions":          s.ledger.Positions(),
		"halted":             s.breaker.IsHalted(),
	})
}

func (s *Server) handleOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.engine.Orders()})
}

func (s *Server) handleHalt(c *gin.Context) {
	s.breaker.Halt()
	logger.Warnf("[controlplane] 手动熔断")
	c.JSON(http.StatusOK, gin.H{"halted": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.breaker.Resume()
	logger.Infof("[controlplane] 手动恢复交易")
	c.JSON(http.StatusOK, gin.H{"halted": false})
}

type signalRequest struct {
	MarketID    string  `json:"market_id" binding:"required"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
}

// handleSignal 接入外部信号（如社媒/群聊解析器产出的概率估计）。
// 门槛判断与方向规则和扫描路径完全一致，来源标记为 ingest。
func (s *Server) handleSignal(c *gin.Context) {
	if s.ingest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "信号接入未启用"})
		return
	}

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Probability <= 0 || req.Probability >= 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "probability 必须在 (0, 1) 之间"})
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confidence 必须在 [0, 1] 之间"})
		return
	}

	market, err := s.ingest.Markets.GetMarket(c.Request.Context(), req.MarketID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if market == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "市场不存在"})
		return
	}

	proposal := signal.Generate(market,
		decimal.NewFromFloat(req.Probability), decimal.NewFromFloat(req.Confidence),
		s.ingest.Thresholds, time.Now())
	if proposal == nil {
		c.JSON(http.StatusOK, gin.H{"accepted": false, "reason": "未达到边际/置信度门槛"})
		return
	}
	proposal.Source = domain.ProposalSourceIngest

	s.ingest.Dispatch(proposal)
	logger.Infof("[controlplane] 接入信号: market=%s dir=%s edge=%s", market.ID, proposal.Direction, proposal.Edge)
	c.JSON(http.StatusAccepted, gin.H{
		"accepted":  true,
		"market_id": market.ID,
		"direction": proposal.Direction,
		"edge":      proposal.Edge,
	})
}
