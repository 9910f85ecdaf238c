package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/edgebot/internal/domain"
	"github.com/betbot/edgebot/pkg/logger"
)

// Paper 纸面交易所（dry-run 模式）。
// 不触达任何外部系统：提交即按限价全额成交，用于策略演练与联调。
type Paper struct {
	mu     sync.Mutex
	seq    atomic.Int64
	orders map[string]domain.Fill
}

// NewPaper 创建纸面交易所
func NewPaper() *Paper {
	return &Paper{orders: make(map[string]domain.Fill)}
}

// Submit 记录订单并立即按限价构造全额成交
func (p *Paper) Submit(_ context.Context, order *domain.Order, _ []byte) (string, error) {
	handle := fmt.Sprintf("paper-%d", p.seq.Add(1))

	fill := domain.Fill{
		Quantity:  order.Size.Div(order.PriceLimit),
		Price:     order.PriceLimit,
		Timestamp: time.Now(),
	}
	p.mu.Lock()
	p.orders[handle] = fill
	p.mu.Unlock()

	logger.Infof("[paper] 模拟成交: market=%s dir=%s size=%s price=%s",
		order.MarketID, order.Direction, order.Size, order.PriceLimit)
	return handle, nil
}

// PollFills 返回模拟成交
func (p *Paper) PollFills(_ context.Context, handle string) ([]domain.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fill, ok := p.orders[handle]; ok {
		return []domain.Fill{fill}, nil
	}
	return nil, nil
}

// Cancel 纸面订单即时成交，取消永远无事可做
func (p *Paper) Cancel(_ context.Context, _ string) (bool, error) {
	return false, nil
}
