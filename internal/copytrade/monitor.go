package copytrade

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/ports"
	"github.com/betbot/edgebot/pkg/logger"
	"github.com/betbot/edgebot/pkg/persistence"
)

// maxSeenPerTrader 每个 trader 保留的去重窗口大小
const maxSeenPerTrader = 512

// Sink 接收跟单提案的回调（通常指向执行管线的入口）
type Sink func(*domain.TradeProposal)

// Config 跟单监控配置
type Config struct {
	Profiles []domain.CopiedTraderProfile // 被跟踪的 trader 档案
	Store    persistence.Store            // 游标/待发任务的持久化（可为 nil：降级为非持久）
	Markets  ports.MarketDataProvider     // 调度时解析市场快照（可为 nil）
	Sink     Sink                         // 提案出口
}

// Monitor 跟单监控器。
//
// 观察被跟踪 trader 的成交流，按配置延迟与比例产生跟单提案。
// 不变式：
//   - (trader, externalTradeId) 至多产生一个提案（容忍乱序/重复投递）；
//   - 游标推进与“已调度”在同一次持久化写入中落盘，崩溃重启后
//     既不重复跟单，也不会静默跳过只处理了一半的条目；
//   - 延迟调度是 fire-later 任务，绝不阻塞观察循环。
type Monitor struct {
	mu       sync.Mutex
	profiles map[string]*profileState
	pending  []pendingCopy

	queue   *DelayQueue
	store   persistence.Store
	markets ports.MarketDataProvider
	sink    Sink
}

type profileState struct {
	profile domain.CopiedTraderProfile
	seen    map[string]struct{}
	order   []string // seen 的插入顺序，用于裁剪窗口
}

// pendingCopy 已去重、已调度但尚未派发的跟单条目（持久化格式）
type pendingCopy struct {
	TraderID  string           `json:"trader_id"`
	TradeID   string           `json:"trade_id"`
	MarketID  string           `json:"market_id"`
	Direction domain.Direction `json:"direction"`
	Notional  decimal.Decimal  `json:"notional"`
	Price     decimal.Decimal  `json:"price"`
	Due       int64            `json:"due"` // unix 纳秒
}

// journalRecord 持久化格式
type journalRecord struct {
	Cursors map[string]int64    `json:"cursors"`
	Seen    map[string][]string `json:"seen"`
	Pending []pendingCopy       `json:"pending"`
}

// NewMonitor 创建跟单监控器；存在持久化日志时从日志恢复
func NewMonitor(cfg Config) *Monitor {
	m := &Monitor{
		profiles: make(map[string]*profileState),
		queue:    NewDelayQueue(),
		store:    cfg.Store,
		markets:  cfg.Markets,
		sink:     cfg.Sink,
	}
	for _, p := range cfg.Profiles {
		m.profiles[p.TraderID] = &profileState{
			profile: p,
			seen:    make(map[string]struct{}),
		}
	}

	if cfg.Store != nil {
		var rec journalRecord
		err := cfg.Store.Load(&rec)
		switch err {
		case nil:
			for trader, cursor := range rec.Cursors {
				if st, ok := m.profiles[trader]; ok && cursor > st.profile.Cursor {
					st.profile.Cursor = cursor
				}
			}
			for trader, ids := range rec.Seen {
				if st, ok := m.profiles[trader]; ok {
					for _, id := range ids {
						st.seen[id] = struct{}{}
						st.order = append(st.order, id)
					}
				}
			}
			// 重新入队崩溃前未派发的条目
			m.pending = rec.Pending
			for i := range m.pending {
				m.enqueue(m.pending[i])
			}
			if len(m.pending) > 0 {
				logger.Infof("[copytrade] 恢复 %d 个待派发跟单条目", len(m.pending))
			}
		case persistence.ErrNotExists:
		default:
			logger.Warnf("[copytrade] 加载跟单日志失败，从空状态开始: %v", err)
		}
	}
	return m
}

// Run 消费成交流直至 ctx 取消（调度循环在内部协程运行）
func (m *Monitor) Run(ctx context.Context, feed ports.CopyFeed) error {
	go m.queue.Run(ctx)

	ch, err := feed.Stream(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.OnFill(ev)
		}
	}
}

// OnFill 处理一次观察到的成交（非阻塞；重复/乱序投递安全）
func (m *Monitor) OnFill(ev domain.CopiedFill) {
	if m == nil || ev.ExternalTradeID == "" {
		return
	}

	m.mu.Lock()
	st, ok := m.profiles[ev.TraderID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, dup := st.seen[ev.ExternalTradeID]; dup {
		m.mu.Unlock()
		logger.Debugf("[copytrade] 重复成交忽略: trader=%s trade=%s", ev.TraderID, ev.ExternalTradeID)
		return
	}

	notional := ev.Size.Mul(st.profile.CopyRatio)
	due := time.Unix(0, ev.Timestamp).Add(time.Duration(st.profile.DelaySecs) * time.Second)
	item := pendingCopy{
		TraderID:  ev.TraderID,
		TradeID:   ev.ExternalTradeID,
		MarketID:  ev.MarketID,
		Direction: ev.Direction,
		Notional:  notional,
		Price:     ev.Price,
		Due:       due.UnixNano(),
	}

	// 标记已见 + 登记待派发 + 推进游标，单次写入落盘；
	// 游标只有在条目已进入待派发日志后才会越过它
	st.markSeen(ev.ExternalTradeID)
	m.pending = append(m.pending, item)
	if ev.Timestamp > st.profile.Cursor {
		st.profile.Cursor = ev.Timestamp
	}
	m.persistLocked()
	m.mu.Unlock()

	m.enqueue(item)
	logger.Infof("[copytrade] 已调度跟单: trader=%s market=%s notional=%s due=%s",
		ev.TraderID, ev.MarketID, notional, due.Format(time.RFC3339))
}

// Cursor 返回 trader 的当前游标（测试/诊断用途）
func (m *Monitor) Cursor(traderID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.profiles[traderID]; ok {
		return st.profile.Cursor
	}
	return 0
}

// PendingCount 待派发条目数
func (m *Monitor) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Monitor) enqueue(item pendingCopy) {
	m.queue.Schedule(time.Unix(0, item.Due), func() {
		m.dispatch(item)
	})
}

// dispatch 派发一条跟单提案（延迟到期后由调度循环调用）
func (m *Monitor) dispatch(item pendingCopy) {
	market := m.resolveMarket(item)

	proposal := &domain.TradeProposal{
		Market:      market,
		Direction:   item.Direction,
		Source:      domain.ProposalSourceCopy,
		RawNotional: item.Notional,
		CreatedAt:   time.Now(),
	}
	if m.sink != nil {
		m.sink(proposal)
	}

	// 派发完成后从待发日志移除
	m.mu.Lock()
	for i := range m.pending {
		if m.pending[i].TraderID == item.TraderID && m.pending[i].TradeID == item.TradeID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	m.persistLocked()
	m.mu.Unlock()
}

// resolveMarket 派发时解析最新市场快照；数据源不可用时降级为观察到的价格
func (m *Monitor) resolveMarket(item pendingCopy) *domain.Market {
	if m.markets != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if mk, err := m.markets.GetMarket(ctx, item.MarketID); err == nil && mk != nil {
			return mk
		} else if err != nil {
			logger.Warnf("[copytrade] 解析市场失败，使用观察价格: market=%s err=%v", item.MarketID, err)
		}
	}
	return &domain.Market{
		ID:    item.MarketID,
		Price: item.Price,
	}
}

func (m *Monitor) persistLocked() {
	if m.store == nil {
		return
	}
	rec := journalRecord{
		Cursors: make(map[string]int64, len(m.profiles)),
		Seen:    make(map[string][]string, len(m.profiles)),
		Pending: append([]pendingCopy(nil), m.pending...),
	}
	for trader, st := range m.profiles {
		rec.Cursors[trader] = st.profile.Cursor
		rec.Seen[trader] = append([]string(nil), st.order...)
	}
	if err := m.store.Save(rec); err != nil {
		logger.Warnf("[copytrade] 持久化失败（继续以非持久模式运行）: %v", err)
	}
}

// markSeen 记录去重键并裁剪窗口
func (st *profileState) markSeen(tradeID string) {
	st.seen[tradeID] = struct{}{}
	st.order = append(st.order, tradeID)
	for len(st.order) > maxSeenPerTrader {
		oldest := st.order[0]
		st.order = st.order[1:]
		delete(st.seen, oldest)
	}
}
