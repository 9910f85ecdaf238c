package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/controlplane/server"
	"github.com/betbot/edgebot/internal/copytrade"
	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/events"
	"github.com/betbot/edgebot/internal/execution"
	"github.com/betbot/edgebot/internal/history"
	"github.com/betbot/edgebot/internal/infrastructure/exchange"
	"github.com/betbot/edgebot/internal/infrastructure/feed"
	"github.com/betbot/edgebot/internal/infrastructure/gamma"
	"github.com/betbot/edgebot/internal/ledger"
	"github.com/betbot/edgebot/internal/model"
	"github.com/betbot/edgebot/internal/notify"
	"github.com/betbot/edgebot/internal/ports"
	"github.com/betbot/edgebot/internal/risk"
	"github.com/betbot/edgebot/internal/scanner"
	tradesignal "github.com/betbot/edgebot/internal/signal"
	"github.com/betbot/edgebot/internal/signing"
	"github.com/betbot/edgebot/internal/sizing"
	"github.com/betbot/edgebot/pkg/config"
	"github.com/betbot/edgebot/pkg/logger"
	"github.com/betbot/edgebot/pkg/persistence"
	"github.com/betbot/edgebot/pkg/shutdown"
)

// dryRunSigner dry-run 模式下的占位签名器（纸交易所不校验签名）
type dryRunSigner struct{}

func (dryRunSigner) Sign(context.Context, *domain.Order) ([]byte, error) {
	return []byte("dry-run"), nil
}

func main() {
	configPath := flag.String("config", "yml/config.yaml", "配置文件路径")
	flag.Parse()

	if _, err := os.Stat(*configPath); err != nil {
		*configPath = ""
	}
	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	logger.Infof("启动 edgebot: dry_run=%v data_dir=%s", cfg.DryRun, cfg.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	// 持久化：优先 Badger，打开失败降级为 JSON 文件存储
	var stores persistence.Service
	var badgerSvc *persistence.BadgerService
	if badgerSvc, err = persistence.OpenBadger(filepath.Join(cfg.DataDir, "badger")); err != nil {
		logger.Warnf("打开 Badger 失败，降级为 JSON 文件存储: %v", err)
		stores = persistence.NewJSONFileService(cfg.DataDir)
	} else {
		stores = badgerSvc
	}

	// 台账
	book := ledger.New(ledger.Config{
		InitialBalance:    decimal.NewFromFloat(cfg.InitBalance),
		DailyResetUTCHour: cfg.Risk.DailyResetUTCHour,
		Store:             stores.NewStore("state", "account", "ledger"),
	})

	// 通知
	tg := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	var notifier ports.Notifier
	if tg != nil {
		notifier = tg
		go tg.Start(runCtx)
	}

	// 历史归档
	var archiver ports.HistoryArchiver = history.Noop{}
	var historyStore *history.Store
	if cfg.HistoryDB != "" {
		if historyStore, err = history.Open(cfg.HistoryDB); err != nil {
			logger.Warnf("打开历史库失败，以非归档模式运行: %v", err)
		} else {
			archiver = historyStore
		}
	}

	// 执行协作者：dry-run 走纸交易所，实盘走签名 + 交易所客户端
	var exch ports.Exchange
	var signer ports.Signer
	if cfg.DryRun {
		exch = exchange.NewPaper()
		signer = dryRunSigner{}
	} else {
		exch = exchange.New(cfg.Endpoints.ExchangeURL)
		s, err := signing.NewFromHex(cfg.Wallet.PrivateKey, cfg.Wallet.ChainID)
		if err != nil {
			logger.Errorf("初始化签名器失败: %v", err)
			os.Exit(1)
		}
		signer = s
		logger.Infof("签名地址: %s", s.Address().Hex())
	}

	breaker := risk.NewCircuitBreaker(cfg.Risk.MaxConsecutiveErrors)
	gate := risk.NewGate(risk.Config{
		MaxPositionPct:    decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		MaxExposurePct:    decimal.NewFromFloat(cfg.Risk.MaxExposurePct),
		MaxDailyLossPct:   decimal.NewFromFloat(cfg.Risk.MaxDailyLossPct),
		MinSecondsToClose: cfg.Risk.MinSecondsToClose,
		MaxOpenPositions:  cfg.Risk.MaxOpenPositions,
	})

	engine := execution.New(execution.Config{
		InflightPolicy:   execution.InflightPolicy(cfg.Execution.InflightPolicy),
		RetryBudget:      cfg.Execution.RetryBudget,
		BackoffBase:      time.Duration(cfg.Execution.BackoffBaseMs) * time.Millisecond,
		BackoffMax:       time.Duration(cfg.Execution.BackoffMaxMs) * time.Millisecond,
		FillPollInterval: time.Duration(cfg.Execution.FillPollMs) * time.Millisecond,
	}, execution.Deps{
		Ledger:   book,
		Gate:     gate,
		Breaker:  breaker,
		Signer:   signer,
		Exchange: exch,
		Notifier: notifier,
		History:  archiver,
	})
	go engine.Start(runCtx)

	// 扫描管线
	markets := gamma.New(cfg.Endpoints.GammaURL)
	sizer := sizing.New(sizing.Config{
		KellyFraction:     decimal.NewFromFloat(cfg.Strategy.KellyFraction),
		CompoundEnabled:   cfg.Strategy.CompoundEnabled,
		CompoundStep:      decimal.NewFromFloat(cfg.Strategy.CompoundStep),
		SqrtScaling:       cfg.Strategy.CompoundSqrtScaling,
		MaxPositionPct:    decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		MinOrderSize:      decimal.NewFromFloat(cfg.Risk.MinOrderSize),
		MinBalanceReserve: decimal.NewFromFloat(cfg.Risk.MinBalanceReserve),
	})
	scan := scanner.New(scanner.Config{
		Interval: time.Duration(cfg.Execution.ScanIntervalSecs) * time.Second,
		Thresholds: tradesignal.Thresholds{
			MinEdge:       decimal.NewFromFloat(cfg.Strategy.MinEdge),
			MinConfidence: decimal.NewFromFloat(cfg.Strategy.MinConfidence),
		},
	}, markets, model.New(cfg.Endpoints.ModelURL), sizer, engine, book, notifier)
	go scan.Run(runCtx)

	// 跟单监控
	if len(cfg.Copy.FollowedTraders) > 0 && cfg.Endpoints.FeedURL != "" {
		profiles := make([]domain.CopiedTraderProfile, 0, len(cfg.Copy.FollowedTraders))
		for _, trader := range cfg.Copy.FollowedTraders {
			profiles = append(profiles, domain.CopiedTraderProfile{
				TraderID:  trader,
				CopyRatio: decimal.NewFromFloat(cfg.Copy.Ratio),
				DelaySecs: cfg.Copy.DelaySeconds,
			})
		}
		monitor := copytrade.NewMonitor(copytrade.Config{
			Profiles: profiles,
			Store:    stores.NewStore("state", "copytrade", "journal"),
			Markets:  markets,
			Sink: func(p *domain.TradeProposal) {
				scan.Dispatch(runCtx, p)
			},
		})
		feedClient := feed.New(cfg.Endpoints.FeedURL, cfg.Copy.FollowedTraders)
		go func() {
			if err := monitor.Run(runCtx, feedClient); err != nil && runCtx.Err() == nil {
				logger.Errorf("跟单监控退出: %v", err)
			}
		}()
		logger.Infof("跟单监控已启动: traders=%d ratio=%.2f delay=%ds",
			len(profiles), cfg.Copy.Ratio, cfg.Copy.DelaySeconds)
	}

	// 控制面
	var cp *server.Server
	if cfg.ListenAddr != "" {
		cp = server.New(book, engine, breaker)
		cp.EnableIngest(server.IngestDeps{
			Markets: markets,
			Thresholds: tradesignal.Thresholds{
				MinEdge:       decimal.NewFromFloat(cfg.Strategy.MinEdge),
				MinConfidence: decimal.NewFromFloat(cfg.Strategy.MinConfidence),
			},
			Dispatch: func(p *domain.TradeProposal) { scan.Dispatch(runCtx, p) },
		})
		go func() {
			if err := cp.Run(cfg.ListenAddr); err != nil {
				logger.Errorf("控制面退出: %v", err)
			}
		}()
	}

	// 日报 + 周期性快照归档
	go reportLoop(runCtx, book, archiver, notifier, cfg.Risk.DailyResetUTCHour)

	if notifier != nil {
		notifier.Notify(runCtx, events.StartupEvent{
			Balance:   book.Snapshot().Balance,
			DryRun:    cfg.DryRun,
			Timestamp: time.Now(),
		})
	}

	<-ctx.Done()
	logger.Info("收到退出信号，开始优雅关闭")
	if notifier != nil {
		notifier.Notify(context.Background(), events.ShutdownEvent{
			Balance:   book.Snapshot().Balance,
			Timestamp: time.Now(),
		})
	}

	// 1. 停止接收新提案并等待在途订单收敛
	graceCtx, cancelGrace := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelGrace()
	if err := engine.Shutdown(graceCtx); err != nil {
		logger.Warnf("执行引擎关闭超时，强制取消在途订单: %v", err)
	}
	// 2. 停止扫描/跟单/通知协程（未收敛的订单此时被取消）
	cancelRun()

	// 3. 其余组件并发关闭
	manager := shutdown.NewManager()
	manager.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
		if err := book.Flush(); err != nil {
			logger.Warnf("台账落盘失败: %v", err)
		}
	})
	if cp != nil {
		manager.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
			if err := cp.Shutdown(ctx); err != nil {
				logger.Warnf("控制面关闭失败: %v", err)
			}
		})
	}
	if historyStore != nil {
		manager.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
			if err := historyStore.Close(); err != nil {
				logger.Warnf("历史库关闭失败: %v", err)
			}
		})
	}
	if badgerSvc != nil {
		manager.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
			if err := badgerSvc.Close(); err != nil {
				logger.Warnf("Badger 关闭失败: %v", err)
			}
		})
	}
	manager.Shutdown(graceCtx)

	logger.Infof("最终余额: %s", book.Snapshot().Balance)
	logger.Info("edgebot 已退出")
}

// reportLoop 在每个日窗口重置时刻发出日报，并周期性归档账户快照
func reportLoop(ctx context.Context, book *ledger.Ledger, archiver ports.HistoryArchiver,
	notifier ports.Notifier, resetHour int) {
	snapshotTicker := time.NewTicker(time.Hour)
	defer snapshotTicker.Stop()

	next := nextReset(time.Now(), resetHour)
	for {
		// 日报在窗口滚动前 30 秒发出，读取的还是当日统计
		timer := time.NewTimer(time.Until(next.Add(-30 * time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-snapshotTicker.C:
			timer.Stop()
			if err := archiver.ArchiveSnapshot(ctx, book.Snapshot()); err != nil {
				logger.Warnf("快照归档失败: %v", err)
			}
		case <-timer.C:
			state := book.Snapshot()
			if notifier != nil {
				notifier.Notify(ctx, events.DailyReportEvent{State: state, Timestamp: time.Now()})
			}
			logger.Infof("日报: pnl=%s trades=%d", state.RealizedPnLToday, state.DailyTradeCount)
			next = next.Add(24 * time.Hour)
		}
	}
}

// nextReset 下一个日窗口重置时刻（UTC resetHour 整点）
func nextReset(now time.Time, resetHour int) time.Time {
	utc := now.UTC()
	next := time.Date(utc.Year(), utc.Month(), utc.Day(), resetHour, 0, 0, 0, time.UTC)
	if !next.After(utc) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
