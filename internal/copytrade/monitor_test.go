package copytrade

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/pkg/persistence"
)

type proposalCollector struct {
	mu        sync.Mutex
	proposals []*domain.TradeProposal
	notify    chan struct{}
}

func newCollector() *proposalCollector {
	return &proposalCollector{notify: make(chan struct{}, 64)}
}

func (c *proposalCollector) sink(p *domain.TradeProposal) {
	c.mu.Lock()
	c.proposals = append(c.proposals, p)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *proposalCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.proposals)
}

func (c *proposalCollector) waitOne(t *testing.T) *domain.TradeProposal {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(3 * time.Second):
		t.Fatal("等待提案超时")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proposals[len(c.proposals)-1]
}

func mkProfile(trader string, ratio float64, delaySecs int) domain.CopiedTraderProfile {
	return domain.CopiedTraderProfile{
		TraderID:  trader,
		CopyRatio: decimal.NewFromFloat(ratio),
		DelaySecs: delaySecs,
	}
}

func mkCopiedFill(trader, tradeID string, size float64, ts time.Time) domain.CopiedFill {
	return domain.CopiedFill{
		TraderID:        trader,
		ExternalTradeID: tradeID,
		MarketID:        "m1",
		Direction:       domain.DirectionTakeYes,
		Size:            decimal.NewFromFloat(size),
		Price:           decimal.NewFromFloat(0.45),
		Timestamp:       ts.UnixNano(),
	}
}

// 同一 externalTradeId 投递两次，恰好产生一个提案
func TestMonitor_DuplicateTradeIDProducesOneProposal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCollector()
	m := NewMonitor(Config{
		Profiles: []domain.CopiedTraderProfile{mkProfile("alice", 0.1, 0)},
		Sink:     c.sink,
	})
	go m.queue.Run(ctx)

	ev := mkCopiedFill("alice", "t-1", 200, time.Now())
	m.OnFill(ev)
	m.OnFill(ev) // 重复投递

	p := c.waitOne(t)
	// 给重复事件（如果错误地被调度了）一点时间
	time.Sleep(100 * time.Millisecond)
	if c.count() != 1 {
		t.Fatalf("重复 tradeID 应只产生一个提案: got=%d", c.count())
	}

	if p.Source != domain.ProposalSourceCopy {
		t.Errorf("来源错误: got=%s", p.Source)
	}
	// 原始金额 = observedSize × copyRatio = 200 × 0.1 = 20
	if !p.RawNotional.Equal(decimal.NewFromInt(20)) {
		t.Errorf("跟单金额错误: got=%s want=20", p.RawNotional)
	}
	if p.Direction != domain.DirectionTakeYes {
		t.Errorf("方向应镜像被跟单成交: got=%s", p.Direction)
	}
}

func TestMonitor_UnknownTraderIgnored(t *testing.T) {
	c := newCollector()
	m := NewMonitor(Config{
		Profiles: []domain.CopiedTraderProfile{mkProfile("alice", 0.1, 0)},
		Sink:     c.sink,
	})

	m.OnFill(mkCopiedFill("mallory", "t-1", 100, time.Now()))
	if m.PendingCount() != 0 {
		t.Error("未跟踪 trader 的成交不应被调度")
	}
}

// 游标单调不减，乱序投递不回退
func TestMonitor_CursorMonotonic(t *testing.T) {
	m := NewMonitor(Config{
		Profiles: []domain.CopiedTraderProfile{mkProfile("alice", 0.1, 3600)},
	})

	base := time.Now()
	m.OnFill(mkCopiedFill("alice", "t-2", 100, base))
	cursor := m.Cursor("alice")
	if cursor != base.UnixNano() {
		t.Fatalf("游标错误: got=%d", cursor)
	}

	// 乱序：更早的成交到达，游标不回退，但仍被调度
	m.OnFill(mkCopiedFill("alice", "t-1", 100, base.Add(-time.Minute)))
	if m.Cursor("alice") != cursor {
		t.Errorf("游标不应回退: got=%d want=%d", m.Cursor("alice"), cursor)
	}
	if m.PendingCount() != 2 {
		t.Errorf("乱序成交仍应被调度: pending=%d", m.PendingCount())
	}
}

// 崩溃重启：已调度未派发的条目恢复后重新入队；已派发的不重复
func TestMonitor_ResumeFromJournal(t *testing.T) {
	svc := persistence.NewMemoryService()
	store := svc.NewStore("state", "copytrade", "journal")

	c1 := newCollector()
	m1 := NewMonitor(Config{
		Profiles: []domain.CopiedTraderProfile{mkProfile("alice", 0.1, 3600)}, // 长延迟：不会在测试中派发
		Store:    store,
		Sink:     c1.sink,
	})
	ts := time.Now()
	m1.OnFill(mkCopiedFill("alice", "t-1", 100, ts))
	if m1.PendingCount() != 1 {
		t.Fatalf("条目应已登记待派发: got=%d", m1.PendingCount())
	}

	// “重启”：从同一个 store 恢复
	c2 := newCollector()
	m2 := NewMonitor(Config{
		Profiles: []domain.CopiedTraderProfile{mkProfile("alice", 0.1, 3600)},
		Store:    store,
		Sink:     c2.sink,
	})
	if m2.PendingCount() != 1 {
		t.Errorf("待派发条目应恢复: got=%d", m2.PendingCount())
	}
	if m2.Cursor("alice") != ts.UnixNano() {
		t.Errorf("游标应恢复: got=%d", m2.Cursor("alice"))
	}

	// 重启后同一成交再次投递：去重仍然生效
	m2.OnFill(mkCopiedFill("alice", "t-1", 100, ts))
	if m2.PendingCount() != 1 {
		t.Errorf("重启后重复成交应被去重: pending=%d", m2.PendingCount())
	}
}

// 延迟调度不阻塞观察循环
func TestMonitor_SchedulingIsNonBlocking(t *testing.T) {
	m := NewMonitor(Config{
		Profiles: []domain.CopiedTraderProfile{mkProfile("alice", 0.1, 3600)},
	})

	start := time.Now()
	for i := 0; i < 100; i++ {
		m.OnFill(mkCopiedFill("alice", fmt.Sprintf("t-%d", i), 10, time.Now()))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("OnFill 不应阻塞: elapsed=%v", elapsed)
	}
}

func TestDelayQueue_OrdersByDueTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewDelayQueue()
	go q.Run(ctx)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	now := time.Now()

	// 乱序入队，按到期时间派发
	q.Schedule(now.Add(120*time.Millisecond), func() {
		mu.Lock()
		got = append(got, 3)
		mu.Unlock()
		close(done)
	})
	q.Schedule(now.Add(40*time.Millisecond), func() {
		mu.Lock()
		got = append(got, 1)
		mu.Unlock()
	})
	q.Schedule(now.Add(80*time.Millisecond), func() {
		mu.Lock()
		got = append(got, 2)
		mu.Unlock()
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("等待派发超时")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("派发顺序错误: got=%v", got)
	}
}
