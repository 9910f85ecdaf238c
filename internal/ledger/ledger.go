package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/pkg/logger"
	"github.com/betbot/edgebot/pkg/persistence"
)

// Ledger 账户台账：系统中唯一的共享可变状态。
//
// 所有变更（成交、结算、敞口调整、连胜/回撤更新）都在单一互斥临界区内
// 原子完成；Snapshot 在同一临界区内导出，读方不会观察到部分更新。
// 网络调用绝不持锁进行。
type Ledger struct {
	mu sync.Mutex

	balance       decimal.Decimal
	exposure      decimal.Decimal
	realizedToday decimal.Decimal
	peak          decimal.Decimal
	baseline      decimal.Decimal
	streak        int
	positions     map[string]*domain.Position

	// 日窗口统计
	dayKey          string
	dailyTradeCount int
	dailyWinCount   int
	dailyLossCount  int
	largestWin      decimal.Decimal
	largestLoss     decimal.Decimal

	resetHour int
	store     persistence.Store // 可为 nil：降级为非持久模式
	nowFn     func() time.Time
}

// Config 台账配置
type Config struct {
	InitialBalance    decimal.Decimal
	DailyResetUTCHour int
	Store             persistence.Store
}

// snapshotRecord 持久化格式
type snapshotRecord struct {
	State     domain.AccountState `json:"state"`
	Positions []domain.Position   `json:"positions"`
}

// New 创建台账；如持久化存储中存在快照则从快照恢复
func New(cfg Config) *Ledger {
	l := &Ledger{
		balance:   cfg.InitialBalance,
		peak:      cfg.InitialBalance,
		baseline:  cfg.InitialBalance,
		positions: make(map[string]*domain.Position),
		resetHour: cfg.DailyResetUTCHour,
		store:     cfg.Store,
		nowFn:     time.Now,
	}

	if cfg.Store != nil {
		var rec snapshotRecord
		err := cfg.Store.Load(&rec)
		switch err {
		case nil:
			l.balance = rec.State.Balance
			l.exposure = rec.State.Exposure
			l.realizedToday = rec.State.RealizedPnLToday
			l.peak = rec.State.PeakBalance
			l.baseline = rec.State.BaselineBalance
			l.streak = rec.State.Streak
			l.dayKey = rec.State.DayKey
			l.dailyTradeCount = rec.State.DailyTradeCount
			l.dailyWinCount = rec.State.DailyWinCount
			l.dailyLossCount = rec.State.DailyLossCount
			l.largestWin = rec.State.LargestWin
			l.largestLoss = rec.State.LargestLoss
			for i := range rec.Positions {
				p := rec.Positions[i]
				l.positions[p.MarketID] = &p
			}
			logger.Infof("[ledger] 从快照恢复: balance=%s exposure=%s positions=%d",
				l.balance, l.exposure, len(l.positions))
		case persistence.ErrNotExists:
			// 首次启动，使用初始余额
		default:
			logger.Warnf("[ledger] 加载快照失败，使用初始状态: %v", err)
		}
	}

	if l.dayKey == "" {
		l.dayKey = l.dayKeyFor(l.nowFn())
	}
	return l
}

// Snapshot 导出一致的账户状态快照
func (l *Ledger) Snapshot() domain.AccountState {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked(l.nowFn())
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() domain.AccountState {
	return domain.AccountState{
		Balance:          l.balance,
		Exposure:         l.exposure,
		RealizedPnLToday: l.realizedToday,
		PeakBalance:      l.peak,
		BaselineBalance:  l.baseline,
		Streak:           l.streak,
		OpenPositions:    len(l.positions),
		DailyTradeCount:  l.dailyTradeCount,
		DailyWinCount:    l.dailyWinCount,
		DailyLossCount:   l.dailyLossCount,
		LargestWin:       l.largestWin,
		LargestLoss:      l.largestLoss,
		DayKey:           l.dayKey,
	}
}

// Positions 返回当前持仓的副本
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// ApplyFill 应用一次入场成交：累加敞口、累加持仓。
// 开仓占用只记入敞口，不扣减余额——余额是回撤高水位的输入，
// 只能被已实现盈亏推动，否则零亏损的在途资金也会触发回撤降档。
// 由执行引擎在状态转换可见之前调用，保证成交与台账更新对外原子。
func (l *Ledger) ApplyFill(marketID string, dir domain.Direction, fill domain.Fill) {
	if l == nil || fill.Quantity.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.exposure = l.exposure.Add(fill.Notional())

	pos, ok := l.positions[marketID]
	if !ok {
		pos = &domain.Position{
			MarketID:  marketID,
			Direction: dir,
			OpenedAt:  fill.Timestamp,
		}
		l.positions[marketID] = pos
	}
	pos.AddFill(fill.Quantity, fill.Price)

	l.persistLocked()
}

// SettleTrade 结算一笔已关闭的交易：释放敞口、入账盈亏、
// 更新日窗口统计与连胜/连败计数、推进回撤高水位。
func (l *Ledger) SettleTrade(marketID string, pnl decimal.Decimal, at time.Time) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollDayLocked(at)

	if pos, ok := l.positions[marketID]; ok {
		l.exposure = l.exposure.Sub(pos.Notional())
		delete(l.positions, marketID)
	}
	// 余额只在结算时按已实现盈亏变动（开仓成本从未扣减）
	l.balance = l.balance.Add(pnl)

	l.realizedToday = l.realizedToday.Add(pnl)
	l.dailyTradeCount++

	switch pnl.Sign() {
	case 1:
		l.dailyWinCount++
		if pnl.GreaterThan(l.largestWin) {
			l.largestWin = pnl
		}
		// 方向翻转时连败计数穿过中性重新开始
		if l.streak < 0 {
			l.streak = 1
		} else {
			l.streak++
		}
	case -1:
		l.dailyLossCount++
		if pnl.LessThan(l.largestLoss) {
			l.largestLoss = pnl
		}
		if l.streak > 0 {
			l.streak = -1
		} else {
			l.streak--
		}
	}

	if l.balance.GreaterThan(l.peak) {
		l.peak = l.balance
	}

	l.persistLocked()
}

// Flush 立即持久化当前状态（进程退出前调用）
func (l *Ledger) Flush() error {
	if l == nil || l.store == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

// rollDayLocked 如日窗口已越过重置边界，清零当日统计
func (l *Ledger) rollDayLocked(at time.Time) {
	key := l.dayKeyFor(at)
	if key == l.dayKey {
		return
	}
	l.dayKey = key
	l.realizedToday = decimal.Zero
	l.dailyTradeCount = 0
	l.dailyWinCount = 0
	l.dailyLossCount = 0
	l.largestWin = decimal.Zero
	l.largestLoss = decimal.Zero
}

// dayKeyFor 按配置的 UTC 重置小时计算日窗口键
func (l *Ledger) dayKeyFor(at time.Time) string {
	return at.UTC().Add(-time.Duration(l.resetHour) * time.Hour).Format("2006-01-02")
}

// persistLocked 持久化（失败仅告警，不影响决策路径）
func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}
	if err := l.saveLocked(); err != nil {
		logger.Warnf("[ledger] 持久化失败（继续以非持久模式运行）: %v", err)
	}
}

func (l *Ledger) saveLocked() error {
	positions := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		positions = append(positions, *p)
	}
	return l.store.Save(snapshotRecord{
		State:     l.snapshotLocked(),
		Positions: positions,
	})
}
