package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/internal/events"
	"github.com/betbot/edgebot/internal/ledger"
	"github.com/betbot/edgebot/internal/ports"
	"github.com/betbot/edgebot/internal/risk"
	"github.com/betbot/edgebot/pkg/logger"
)

// ErrEngineClosed 引擎已停止接收新提案
var ErrEngineClosed = fmt.Errorf("execution engine closed")

// Config 执行引擎配置
type Config struct {
	InflightPolicy   InflightPolicy // 同市场在途冲突策略
	RetryBudget      int            // 瞬时错误的最大重试次数
	BackoffBase      time.Duration  // 重试退避基数
	BackoffMax       time.Duration  // 重试退避上限
	FillPollInterval time.Duration  // 成交轮询间隔
}

// Deps 执行引擎的协作者
type Deps struct {
	Ledger   *ledger.Ledger
	Gate     *risk.Gate
	Breaker  *risk.CircuitBreaker
	Signer   ports.Signer
	Exchange ports.Exchange
	Notifier ports.Notifier
	History  ports.HistoryArchiver
}

// Result 订单处理结果。
// 风控拒绝等业务性否决不走 Err，由 Order.Status / RejectReason 表达；
// Err 只用于提案根本没进入状态机的情形（引擎关闭、市场占用等）。
type Result struct {
	Order *domain.Order
	Err   error
}

// Ticket 提案受理凭据。
// ID 即订单 ID，可用于在 Orders() 列表或终态结果中定位同一笔订单。
type Ticket struct {
	ID      string
	ResultC <-chan Result
}

type request struct {
	orderID string
	sp      *domain.SizedProposal
	result  chan Result
}

// Engine 执行引擎：驱动订单从提案到终态的状态机。
//
// 提案经由单一入口通道进入，准入检查（市场槽位）串行执行；
// 通过准入后每个订单在独立协程中走完 风控 → 签名 → 提交（重试）→
// 成交跟踪 的生命周期。成交先入账再转移状态，保证外部观察到
// Filled 时台账已反映全部成交。
type Engine struct {
	cfg Config

	ledger   *ledger.Ledger
	gate     *risk.Gate
	breaker  *risk.CircuitBreaker
	signer   ports.Signer
	exchange ports.Exchange
	notifier ports.Notifier
	history  ports.HistoryArchiver

	registry *marketRegistry
	reqC     chan *request

	mu     sync.RWMutex
	orders map[string]domain.Order // 终态/在途订单的最新快照（按 ID）

	runCtx context.Context
	closed atomic.Bool
	wg     sync.WaitGroup
}

// New 创建执行引擎
func New(cfg Config, deps Deps) *Engine {
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 8 * time.Second
	}
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = time.Second
	}
	return &Engine{
		cfg:      cfg,
		ledger:   deps.Ledger,
		gate:     deps.Gate,
		breaker:  deps.Breaker,
		signer:   deps.Signer,
		exchange: deps.Exchange,
		notifier: deps.Notifier,
		history:  deps.History,
		registry: newMarketRegistry(cfg.InflightPolicy),
		reqC:     make(chan *request, 256),
		orders:   make(map[string]domain.Order),
	}
}

// Start 启动准入循环（阻塞，通常在独立协程中运行直到 ctx 取消）
func (e *Engine) Start(ctx context.Context) {
	e.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-e.reqC:
			e.admit(ctx, q)
		}
	}
}

// Submit 提交提案，返回可等待终态结果的凭据
func (e *Engine) Submit(ctx context.Context, sp *domain.SizedProposal) (*Ticket, error) {
	if e == nil || e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if sp == nil || sp.Proposal == nil || sp.Proposal.Market == nil {
		return nil, fmt.Errorf("proposal is incomplete")
	}
	if sp.Size.Sign() <= 0 {
		return nil, fmt.Errorf("proposal size must be positive: %s", sp.Size)
	}

	q := &request{orderID: uuid.NewString(), sp: sp, result: make(chan Result, 1)}
	select {
	case e.reqC <- q:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Ticket{ID: q.orderID, ResultC: q.result}, nil
}

// Shutdown 停止接收新提案并等待在途订单收敛。
// ctx 超时前未收敛的订单由调用方取消 runCtx 强制终止。
func (e *Engine) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.closed.Store(true)

	// 排队中尚未获得槽位的请求统一拒绝
	for _, q := range e.registry.DrainWaiting() {
		q.result <- Result{Err: ErrEngineClosed}
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout with orders in flight: %w", ctx.Err())
	}
}

// Orders 返回当前已知订单的快照（控制面用途）
func (e *Engine) Orders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, o)
	}
	return out
}

func (e *Engine) admit(ctx context.Context, q *request) {
	if e.closed.Load() {
		q.result <- Result{Err: ErrEngineClosed}
		return
	}
	marketID := q.sp.Proposal.Market.ID
	admitted, err := e.registry.Admit(marketID, q)
	if err != nil {
		q.result <- Result{Err: err}
		return
	}
	if !admitted {
		return // 已排队，待槽位释放时派发
	}
	e.wg.Add(1)
	go e.process(ctx, q)
}

// process 驱动单个订单走完生命周期（持有市场槽位）
func (e *Engine) process(ctx context.Context, q *request) {
	defer e.wg.Done()

	sp := q.sp
	now := time.Now()
	order := &domain.Order{
		ID:         q.orderID,
		MarketID:   sp.Proposal.Market.ID,
		Direction:  sp.Proposal.Direction,
		Size:       sp.Size,
		PriceLimit: sp.Proposal.Market.Price,
		Source:     sp.Proposal.Source,
		Status:     domain.OrderStatusProposed,
		CreatedAt:  now,
	}
	e.record(order)
	defer e.finish(order, q)

	// 熔断检查
	if err := e.breaker.AllowTrading(); err != nil {
		e.reject(order, "circuitBreaker")
		return
	}

	// 风控评估（基于单次一致快照）
	if rej := e.gate.Evaluate(sp, e.ledger.Snapshot(), now); rej != nil {
		e.reject(order, rej.String())
		e.notify(events.RiskRejectedEvent{
			MarketID:  order.MarketID,
			Reason:    rej.String(),
			Size:      order.Size,
			Timestamp: now,
		})
		logger.Infof("[execution] 风控拒绝: market=%s reason=%s size=%s", order.MarketID, rej, order.Size)
		return
	}
	e.transition(order, domain.OrderStatusValidated)

	// 幂等键在首次提交前固定，后续所有重试原样复用
	order.IdempotencyKey = domain.ComputeIdempotencyKey(
		order.MarketID, order.Direction, order.Size, order.PriceLimit, now)

	// 签名失败是永久性错误：重签同一内容没有意义
	signature, err := e.signer.Sign(ctx, order)
	if err != nil {
		e.reject(order, fmt.Sprintf("signing: %v", err))
		e.breaker.OnError()
		logger.Errorf("[execution] 签名失败: market=%s err=%v", order.MarketID, err)
		return
	}

	if !e.submitWithRetry(ctx, order, signature) {
		return
	}
	e.trackFills(ctx, order)
}

// submitWithRetry 带退避重试的提交；返回 true 表示已进入 Submitted
func (e *Engine) submitWithRetry(ctx context.Context, order *domain.Order, signature []byte) bool {
	backoff := e.cfg.BackoffBase
	for {
		handle, err := e.exchange.Submit(ctx, order, signature)
		if err == nil {
			now := time.Now()
			order.ExchangeHandle = handle
			order.SubmittedAt = &now
			e.transition(order, domain.OrderStatusSubmitted)
			logger.Infof("[execution] 已提交: market=%s size=%s handle=%s retries=%d",
				order.MarketID, order.Size, handle, order.RetryCount)
			return true
		}

		if ports.IsPermanent(err) {
			e.reject(order, fmt.Sprintf("exchange rejected: %v", err))
			e.breaker.OnError()
			return false
		}

		// 瞬时（或未分类）错误：退避后原键重试，交易所侧按幂等键去重
		if order.RetryCount >= e.cfg.RetryBudget {
			e.fail(order, fmt.Sprintf("retry budget exhausted: %v", err))
			e.breaker.OnError()
			logger.Errorf("[execution] 重试耗尽: market=%s retries=%d err=%v", order.MarketID, order.RetryCount, err)
			return false
		}
		order.RetryCount++
		e.record(order)
		logger.Warnf("[execution] 提交失败，退避重试: market=%s attempt=%d backoff=%v err=%v",
			order.MarketID, order.RetryCount, backoff, err)

		// 关闭中止：订单从未到达交易所，收敛到 Cancelled 而非 Failed
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			order.RejectReason = "cancelled before submission"
			e.transition(order, domain.OrderStatusCancelled)
			return false
		case <-timer.C:
		}
		if backoff *= 2; backoff > e.cfg.BackoffMax {
			backoff = e.cfg.BackoffMax
		}
	}
}

// trackFills 轮询成交直至订单收敛。
// 每笔新成交先写入台账、再推进订单状态：外部观察到 Filled 时
// 余额/敞口已反映全部成交。
func (e *Engine) trackFills(ctx context.Context, order *domain.Order) {
	applied := 0
	for {
		fills, err := e.exchange.PollFills(ctx, order.ExchangeHandle)
		if err != nil {
			if ctx.Err() != nil {
				e.cancelOrder(order)
				return
			}
			logger.Warnf("[execution] 成交轮询失败: market=%s err=%v", order.MarketID, err)
		}

		for ; applied < len(fills); applied++ {
			f := fills[applied]
			e.ledger.ApplyFill(order.MarketID, order.Direction, f)
			order.FilledSize = order.FilledSize.Add(f.Notional())
			e.record(order)
			if e.history != nil {
				if aerr := e.history.ArchiveFill(context.Background(), order.ID, f); aerr != nil {
					logger.Warnf("[execution] 成交归档失败: order=%s err=%v", order.ID, aerr)
				}
			}
		}

		if order.FilledSize.GreaterThanOrEqual(order.Size) {
			e.transition(order, domain.OrderStatusFilled)
			e.breaker.OnSuccess()
			return
		}
		if order.FilledSize.Sign() > 0 && order.Status == domain.OrderStatusSubmitted {
			e.transition(order, domain.OrderStatusPartiallyFilled)
		}

		timer := time.NewTimer(e.cfg.FillPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.cancelOrder(order)
			return
		case <-timer.C:
		}
	}
}

// cancelOrder 关闭路径：尽力撤单后将订单收敛到 Cancelled
func (e *Engine) cancelOrder(order *domain.Order) {
	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ok, err := e.exchange.Cancel(cctx, order.ExchangeHandle); err != nil {
		logger.Warnf("[execution] 撤单失败: market=%s handle=%s err=%v", order.MarketID, order.ExchangeHandle, err)
	} else if !ok {
		logger.Warnf("[execution] 撤单未确认: market=%s handle=%s", order.MarketID, order.ExchangeHandle)
	}
	order.RejectReason = "cancelled on shutdown"
	e.transition(order, domain.OrderStatusCancelled)
}

// finish 终态收尾：释放市场槽位、派发排队请求、归档、通知、交付结果
func (e *Engine) finish(order *domain.Order, q *request) {
	next := e.registry.Release(order.MarketID)
	for next != nil && e.closed.Load() {
		next.result <- Result{Err: ErrEngineClosed}
		next = e.registry.Release(order.MarketID)
	}
	if next != nil {
		e.wg.Add(1)
		go e.process(e.runCtx, next)
	}

	e.record(order)
	if e.history != nil {
		if err := e.history.ArchiveOrder(context.Background(), order); err != nil {
			logger.Warnf("[execution] 订单归档失败: order=%s err=%v", order.ID, err)
		}
	}

	now := time.Now()
	switch order.Status {
	case domain.OrderStatusFilled:
		e.notify(events.TradeExecutedEvent{Order: order, Timestamp: now})
	case domain.OrderStatusFailed, domain.OrderStatusCancelled:
		e.notify(events.OrderTerminalEvent{Order: order, Timestamp: now})
	}

	q.result <- Result{Order: order}
}

func (e *Engine) transition(order *domain.Order, next domain.OrderStatus) {
	if err := order.Transition(next, time.Now()); err != nil {
		logger.Errorf("[execution] %v", err)
		return
	}
	e.record(order)
}

func (e *Engine) reject(order *domain.Order, reason string) {
	order.RejectReason = reason
	e.transition(order, domain.OrderStatusRejected)
}

func (e *Engine) fail(order *domain.Order, reason string) {
	order.RejectReason = reason
	e.transition(order, domain.OrderStatusFailed)
}

// record 更新订单快照（供 Orders() 并发读取）
func (e *Engine) record(order *domain.Order) {
	e.mu.Lock()
	e.orders[order.ID] = *order
	e.mu.Unlock()
}

func (e *Engine) notify(ev events.Event) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.notifier.Notify(ctx, ev)
}
